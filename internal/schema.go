package internal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogicalType is a column type as declared by a tenant, independent of the
// physical SQL type it maps to.
type LogicalType string

const (
	TypeString    LogicalType = "string"
	TypeInteger   LogicalType = "integer"
	TypeNumber    LogicalType = "number"
	TypeBoolean   LogicalType = "boolean"
	TypeJSON      LogicalType = "json"
	TypeDate      LogicalType = "date"
	TypeReference LogicalType = "reference"
)

// Valid returns true if the logical type is one of the supported types.
func (t LogicalType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeJSON, TypeDate, TypeReference:
		return true
	}
	return false
}

// Reference points a column at another table's column for a foreign key.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ColumnSpec is the declaration of a single column at table-creation time.
// It exists only while DDL is being generated; afterwards the live catalog is
// the source of truth for the column's shape.
type ColumnSpec struct {
	Name         string      `json:"name"`
	Type         LogicalType `json:"type"`
	Nullable     bool        `json:"nullable"`
	Unique       bool        `json:"unique"`
	PrimaryKey   bool        `json:"primary"`
	DefaultValue *string     `json:"defaultValue,omitempty"`
	Reference    *Reference  `json:"reference,omitempty"`

	// Numeric marks a string column whose values must compare and sort as
	// numbers. Stored in the registration so the query engine can cast
	// without guessing from the column name.
	Numeric bool `json:"numeric,omitempty"`
}

// TableDefinition is a tenant's request to create a table.
type TableDefinition struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName,omitempty"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnSpec `json:"columns"`

	// Timestamps controls the injection of created_at/updated_at. Absent
	// means true.
	Timestamps  *bool `json:"timestamps,omitempty"`
	SoftDelete  bool  `json:"softDelete,omitempty"`
	GenerateAPI bool  `json:"generateApi,omitempty"`
}

// WantTimestamps reports whether created_at/updated_at should be injected.
func (d *TableDefinition) WantTimestamps() bool {
	return d.Timestamps == nil || *d.Timestamps
}

// TableRegistration is the registry's record tying a physical table to the
// tenant that owns it. One row per physical table.
type TableRegistration struct {
	ID                int64     `json:"id"`
	TenantID          int64     `json:"tenantId"`
	PhysicalTableName string    `json:"physicalTableName"`
	DisplayName       string    `json:"displayName"`
	Description       string    `json:"description,omitempty"`
	APIEnabled        bool      `json:"apiEnabled"`
	IsBuiltIn         bool      `json:"isBuiltIn"`
	NumericColumns    []string  `json:"numericColumns,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	// RowCount is filled in by listings, not stored.
	RowCount int64 `json:"rowCount"`
}

// ColumnInfo is one column as reported by the live database catalog.
type ColumnInfo struct {
	Name       string `json:"name"`
	DataType   string `json:"dataType"`
	Nullable   bool   `json:"nullable"`
	HasDefault bool   `json:"hasDefault"`
}

// TableSchema is the live shape of a physical table, rebuilt from the catalog
// at the start of every operation. Never cache one across requests.
type TableSchema struct {
	Table   string                `json:"table"`
	Columns map[string]ColumnInfo `json:"columns"`

	// Names preserves the catalog's ordinal column order.
	Names []string `json:"-"`
}

// HasColumn reports whether the table has a column with the given name.
func (s *TableSchema) HasColumn(name string) bool {
	_, ok := s.Columns[name]
	return ok
}

// SoftDelete reports whether the table carries a deleted_at column.
func (s *TableSchema) SoftDelete() bool {
	return s.HasColumn("deleted_at")
}

// Ownership is the result of an ownership check joining a table registration
// through to the tenant's owning user.
type Ownership struct {
	Allowed  bool  `json:"allowed"`
	TenantID int64 `json:"tenantId"`
}

// PhysicalTableName returns the namespaced physical name for a tenant's table.
func PhysicalTableName(tenantID int64, name string) string {
	return fmt.Sprintf("p%d_%s", tenantID, name)
}

// ResolvePhysicalName is the idempotent form of PhysicalTableName: a name
// already carrying this tenant's prefix is returned unchanged.
func ResolvePhysicalName(tenantID int64, name string) string {
	prefix := fmt.Sprintf("p%d_", tenantID)
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

// Tenant is a workspace owning a set of physical tables.
type Tenant struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"ownerUserId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableRegistry resolves tenant to table associations and backs every
// ownership check. Reads are cache-first; not-found is reported as a false
// boolean, never as an error, so callers decide the HTTP semantics.
type TableRegistry interface {

	// RegisterTable records a new physical table for a tenant and returns the
	// registration id. The caller is expected to run it inside the same
	// transaction that created the table.
	RegisterTable(ctx context.Context, tenantID int64, meta TableRegistration) (int64, error)

	// GetTenantForTable returns the owning tenant for a physical table name.
	GetTenantForTable(ctx context.Context, tableName string) (int64, bool, error)

	// ListTenantTables returns all registrations for a tenant with live row
	// counts.
	ListTenantTables(ctx context.Context, tenantID int64) ([]TableRegistration, error)

	// TableBelongsToTenant reports whether the physical table is registered
	// to the tenant.
	TableBelongsToTenant(ctx context.Context, tableName string, tenantID int64) (bool, error)

	// ResolveFullName returns the physical name for a tenant's table. It is
	// idempotent: a name already carrying the tenant prefix is returned
	// unchanged.
	ResolveFullName(tenantID int64, name string) string

	// ValidateOwnership joins the registration through the tenant's owning
	// user and reports whether the user may touch the table.
	ValidateOwnership(ctx context.Context, tableName string, userID string) (Ownership, error)

	// GetRegistration returns the registration row for a physical table.
	GetRegistration(ctx context.Context, tableName string) (*TableRegistration, bool, error)

	// UpdateTable mutates displayName, description or apiEnabled for a
	// registered table.
	UpdateTable(ctx context.Context, tableName string, displayName, description *string, apiEnabled *bool) error

	// SetJSONSchema attaches (or clears, with empty string) a JSON Schema
	// document enforced on insert and update.
	SetJSONSchema(ctx context.Context, tableName string, schema string) error

	// GetJSONSchema returns the JSON Schema document for a table, if any.
	GetJSONSchema(ctx context.Context, tableName string) (string, bool, error)

	// Unregister removes the registration row. The physical table is left in
	// place and can be registered again.
	Unregister(ctx context.Context, tableName string) error
}
