package ddl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/registry"
	"github.com/shopmonkeyus/go-common/logger"
)

// Manager executes schema changes. Every mutation runs the DDL and its
// registry bookkeeping inside one transaction so a failure on either side
// leaves nothing behind.
type Manager struct {
	logger     logger.Logger
	db         *sql.DB
	registry   *registry.DatabaseRegistry
	publisher  internal.EventPublisher
	instanceID string
}

// ManagerConfig carries the manager's dependencies. Publisher and InstanceID
// are optional.
type ManagerConfig struct {
	Logger     logger.Logger
	DB         *sql.DB
	Registry   *registry.DatabaseRegistry
	Publisher  internal.EventPublisher
	InstanceID string
}

func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		logger:     config.Logger.WithPrefix("[ddl]"),
		db:         config.DB,
		registry:   config.Registry,
		publisher:  config.Publisher,
		instanceID: config.InstanceID,
	}
}

// CreateTableResult is the outcome of a create, carrying the committed
// registration and the live schema as the catalog reports it.
type CreateTableResult struct {
	Registration internal.TableRegistration `json:"registration"`
	Schema       *internal.TableSchema      `json:"schema"`
}

func (m *Manager) publish(op internal.ChangeOperation, tenantID int64, table string, schemaHash string) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(internal.ChangeEvent{
		ID:         uuid.NewString(),
		Operation:  op,
		TenantID:   tenantID,
		Table:      table,
		SchemaHash: schemaHash,
		InstanceID: m.instanceID,
		Timestamp:  time.Now(),
	})
}

// CreateTable validates the definition, creates the physical table and
// records the registration, all in one transaction.
func (m *Manager) CreateTable(ctx context.Context, tenantID int64, def *internal.TableDefinition) (*CreateTableResult, error) {
	return m.createTable(ctx, tenantID, def, false)
}

// CreateBuiltInTable is CreateTable for system-provisioned tables. The
// registration is marked built in so listings can tell them apart from tables
// the tenant created.
func (m *Manager) CreateBuiltInTable(ctx context.Context, tenantID int64, def *internal.TableDefinition) (*CreateTableResult, error) {
	return m.createTable(ctx, tenantID, def, true)
}

func (m *Manager) createTable(ctx context.Context, tenantID int64, def *internal.TableDefinition, builtIn bool) (*CreateTableResult, error) {
	started := time.Now()
	if err := ValidateDefinition(def); err != nil {
		internal.ValidationFailures.Inc()
		return nil, err
	}
	table := internal.PhysicalTableName(tenantID, def.Name)

	// advisory only: two racing creates both pass and the loser is resolved
	// below by the unique constraint and duplicate relation mapping
	exists, err := catalog.TableExists(ctx, m.db, table)
	if err != nil {
		return nil, fmt.Errorf("error checking table existence: %w", err)
	}
	if exists {
		return nil, internal.NewConflictError("table %s already exists", def.Name)
	}

	createSQL := CreateTableSQL(tenantID, def)
	m.logger.Trace("sql: %s", createSQL)

	displayName := def.DisplayName
	if displayName == "" {
		displayName = def.Name
	}
	meta := internal.TableRegistration{
		TenantID:          tenantID,
		PhysicalTableName: table,
		DisplayName:       displayName,
		Description:       def.Description,
		APIEnabled:        def.GenerateAPI,
		IsBuiltIn:         builtIn,
		NumericColumns:    NumericColumns(def),
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to start transaction: %w", err)
	}
	var success bool
	defer func() {
		if !success {
			tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	if _, err := m.registry.RegisterTableTx(ctx, tx, tenantID, &meta); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("unable to commit transaction: %w", err)
	}
	success = true
	m.registry.CacheRegistration(meta)

	schema, err := catalog.LoadTableSchema(ctx, m.db, table)
	if err != nil {
		return nil, fmt.Errorf("error loading schema after create: %w", err)
	}
	internal.SchemaOperations.WithLabelValues("create-table").Inc()
	m.logger.Info("created table %s for tenant %d in %v", table, tenantID, time.Since(started))
	m.publish(internal.OpCreateTable, tenantID, table, catalog.Fingerprint(schema))
	return &CreateTableResult{Registration: meta, Schema: schema}, nil
}

// AlterTable applies a batch of shape changes to an existing table.
func (m *Manager) AlterTable(ctx context.Context, tenantID int64, name string, req *AlterRequest) (*internal.TableSchema, error) {
	if req.Empty() {
		return nil, internal.NewValidationError(internal.NewFieldError("", "no changes requested"))
	}
	if err := ValidateAlter(req); err != nil {
		internal.ValidationFailures.Inc()
		return nil, err
	}
	table := internal.ResolvePhysicalName(tenantID, name)
	exists, err := catalog.TableExists(ctx, m.db, table)
	if err != nil {
		return nil, fmt.Errorf("error checking table existence: %w", err)
	}
	if !exists {
		return nil, internal.NewNotFoundError("table", name)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to start transaction: %w", err)
	}
	var success bool
	defer func() {
		if !success {
			tx.Rollback()
		}
	}()
	for _, stmt := range AlterTableSQL(tenantID, table, req) {
		m.logger.Trace("sql: %s", stmt)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, internal.TranslateDatabaseError(err)
		}
	}
	if numeric := NumericColumns(&internal.TableDefinition{Columns: req.AddColumns}); len(numeric) > 0 {
		if err := m.registry.AddNumericColumnsTx(ctx, tx, table, numeric); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("unable to commit transaction: %w", err)
	}
	success = true
	m.registry.Invalidate(table)

	schema, err := catalog.LoadTableSchema(ctx, m.db, table)
	if err != nil {
		return nil, fmt.Errorf("error loading schema after alter: %w", err)
	}
	internal.SchemaOperations.WithLabelValues("alter-table").Inc()
	m.logger.Info("altered table %s for tenant %d", table, tenantID)
	m.publish(internal.OpAlterTable, tenantID, table, catalog.Fingerprint(schema))
	return schema, nil
}

// DropTable removes the physical table and its registration in one
// transaction.
func (m *Manager) DropTable(ctx context.Context, tenantID int64, name string) error {
	table := internal.ResolvePhysicalName(tenantID, name)
	exists, err := catalog.TableExists(ctx, m.db, table)
	if err != nil {
		return fmt.Errorf("error checking table existence: %w", err)
	}
	if !exists {
		return internal.NewNotFoundError("table", name)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	var success bool
	defer func() {
		if !success {
			tx.Rollback()
		}
	}()
	dropSQL := DropTableSQL(table)
	m.logger.Trace("sql: %s", dropSQL)
	if _, err := tx.ExecContext(ctx, dropSQL); err != nil {
		return internal.TranslateDatabaseError(err)
	}
	if err := m.registry.UnregisterTx(ctx, tx, table); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	success = true
	m.registry.Invalidate(table)
	internal.SchemaOperations.WithLabelValues("drop-table").Inc()
	m.logger.Info("dropped table %s for tenant %d", table, tenantID)
	m.publish(internal.OpDropTable, tenantID, table, "")
	return nil
}

// RenameTable renames the physical table and repoints its registration.
func (m *Manager) RenameTable(ctx context.Context, tenantID int64, from, to string, displayName *string) error {
	if !ValidIdentifier(to) {
		return internal.NewValidationError(internal.NewFieldError("name", fmt.Sprintf("invalid table name %q", to)))
	}
	oldTable := internal.ResolvePhysicalName(tenantID, from)
	newTable := internal.PhysicalTableName(tenantID, to)
	exists, err := catalog.TableExists(ctx, m.db, oldTable)
	if err != nil {
		return fmt.Errorf("error checking table existence: %w", err)
	}
	if !exists {
		return internal.NewNotFoundError("table", from)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	var success bool
	defer func() {
		if !success {
			tx.Rollback()
		}
	}()
	renameSQL := RenameTableSQL(oldTable, newTable)
	m.logger.Trace("sql: %s", renameSQL)
	if _, err := tx.ExecContext(ctx, renameSQL); err != nil {
		return internal.TranslateDatabaseError(err)
	}
	if err := m.registry.RenameTx(ctx, tx, oldTable, newTable, displayName); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	success = true
	m.registry.Invalidate(oldTable)
	internal.SchemaOperations.WithLabelValues("rename-table").Inc()
	m.logger.Info("renamed table %s to %s for tenant %d", oldTable, newTable, tenantID)
	m.publish(internal.OpAlterTable, tenantID, newTable, "")
	return nil
}

// CreateIndex adds an index named idx_{tenant}_{table}_{columns} on the
// table.
func (m *Manager) CreateIndex(ctx context.Context, tenantID int64, name string, columns []string, unique bool) (string, error) {
	table := internal.ResolvePhysicalName(tenantID, name)
	schema, err := catalog.LoadTableSchema(ctx, m.db, table)
	if err != nil {
		return "", err
	}
	var fields []internal.FieldError
	for i, column := range columns {
		if !schema.HasColumn(column) {
			fields = append(fields, internal.NewFieldError(fmt.Sprintf("columns[%d]", i), fmt.Sprintf("column %q does not exist", column)))
		}
	}
	if len(fields) > 0 {
		internal.ValidationFailures.Inc()
		return "", internal.NewValidationError(fields...)
	}
	base := strings.TrimPrefix(name, fmt.Sprintf("p%d_", tenantID))
	indexSQL, indexName, err := CreateIndexSQL(tenantID, base, columns, unique)
	if err != nil {
		return "", err
	}
	m.logger.Trace("sql: %s", indexSQL)
	if _, err := m.db.ExecContext(ctx, indexSQL); err != nil {
		return "", internal.TranslateDatabaseError(err)
	}
	internal.SchemaOperations.WithLabelValues("create-index").Inc()
	m.logger.Info("created index %s on %s", indexName, table)
	return indexName, nil
}

// DropIndex removes an index previously created for the tenant. Index names
// carry the owning tenant's prefix and foreign prefixes are refused.
func (m *Manager) DropIndex(ctx context.Context, tenantID int64, name string, indexName string) error {
	prefix := fmt.Sprintf("idx_%d_", tenantID)
	if !strings.HasPrefix(indexName, prefix) {
		return internal.NewAuthorizationError(fmt.Sprintf("index %s does not belong to tenant %d", indexName, tenantID))
	}
	table := internal.ResolvePhysicalName(tenantID, name)
	indexes, err := catalog.ListIndexes(ctx, m.db, table)
	if err != nil {
		return err
	}
	var found bool
	for _, idx := range indexes {
		if idx.Name == indexName {
			found = true
			break
		}
	}
	if !found {
		return internal.NewNotFoundError("index", indexName)
	}
	dropSQL := DropIndexSQL(indexName)
	m.logger.Trace("sql: %s", dropSQL)
	if _, err := m.db.ExecContext(ctx, dropSQL); err != nil {
		return internal.TranslateDatabaseError(err)
	}
	internal.SchemaOperations.WithLabelValues("drop-index").Inc()
	m.logger.Info("dropped index %s on %s", indexName, table)
	return nil
}
