package internal

import (
	"fmt"
	"time"
)

// ChangeOperation identifies what a change event describes.
type ChangeOperation string

const (
	OpCreateTable ChangeOperation = "create-table"
	OpAlterTable  ChangeOperation = "alter-table"
	OpDropTable   ChangeOperation = "drop-table"
	OpInsert      ChangeOperation = "insert"
	OpUpdate      ChangeOperation = "update"
	OpDelete      ChangeOperation = "delete"
)

// ChangeEvent is emitted after a schema or data mutation commits. Consumers
// (admin UI, cache invalidators) subscribe by tenant and table.
type ChangeEvent struct {
	ID         string          `json:"id" msgpack:"id"`
	Operation  ChangeOperation `json:"operation" msgpack:"operation"`
	TenantID   int64           `json:"tenantId" msgpack:"tenantId"`
	Table      string          `json:"table" msgpack:"table"`
	RecordID   string          `json:"recordId,omitempty" msgpack:"recordId,omitempty"`
	SchemaHash string          `json:"schemaHash,omitempty" msgpack:"schemaHash,omitempty"`
	InstanceID string          `json:"instanceId,omitempty" msgpack:"instanceId,omitempty"`
	SoftDelete bool            `json:"softDelete,omitempty" msgpack:"softDelete,omitempty"`
	Timestamp  time.Time       `json:"timestamp" msgpack:"timestamp"`
}

func (e *ChangeEvent) String() string {
	return fmt.Sprintf("ChangeEvent[op=%s,tenant=%d,table=%s,id=%s]", e.Operation, e.TenantID, e.Table, e.RecordID)
}

// EventPublisher accepts change events for delivery. Implementations must not
// block the caller; dropping under backpressure is acceptable.
type EventPublisher interface {
	Publish(event ChangeEvent)
}

// Subject returns the NATS subject the event publishes on.
func (e *ChangeEvent) Subject() string {
	return fmt.Sprintf("gridbase.events.%d.%s.%s", e.TenantID, e.Table, e.Operation)
}
