package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/tracker"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/lib/pq"
	"github.com/shopmonkeyus/go-common/logger"
)

const (
	tenantKeyPrefix       = "tenant:"
	registrationKeyPrefix = "registration:"
	jsonSchemaKeyPrefix   = "jsonschema:"
	defaultCacheDuration  = time.Hour
)

// the registry's metadata tables live in the same database as the tenant
// tables they describe. created on startup, idempotent.
const migrateSQL = `CREATE TABLE IF NOT EXISTS gridbase_tenants (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	owner_user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT now(),
	updated_at TIMESTAMP NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS gridbase_tables (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT NOT NULL REFERENCES gridbase_tenants (id),
	physical_table_name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	api_enabled BOOLEAN NOT NULL DEFAULT false,
	is_builtin BOOLEAN NOT NULL DEFAULT false,
	numeric_columns TEXT[] NOT NULL DEFAULT '{}',
	json_schema TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT now(),
	updated_at TIMESTAMP NOT NULL DEFAULT now()
);`

// DatabaseRegistry maps tenants to their physical tables and backs every
// ownership check. Reads go cache first, then the tracker, then the
// database; writes land in the database and then prime both.
type DatabaseRegistry struct {
	logger  logger.Logger
	db      *sql.DB
	tracker *tracker.Tracker
	cache   util.Cache
	once    sync.Once
}

var _ internal.TableRegistry = (*DatabaseRegistry)(nil)

// NewDatabaseRegistry creates a registry backed by the shared database. The
// tracker is optional and only adds restart persistence for lookups.
func NewDatabaseRegistry(ctx context.Context, logger logger.Logger, db *sql.DB, tracker *tracker.Tracker) *DatabaseRegistry {
	return &DatabaseRegistry{
		logger:  logger.WithPrefix("[registry]"),
		db:      db,
		tracker: tracker,
		cache:   util.NewCache(ctx, time.Minute),
	}
}

// Migrate creates the registry's metadata tables if they do not exist.
func (r *DatabaseRegistry) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, migrateSQL); err != nil {
		return fmt.Errorf("error creating registry tables: %w", err)
	}
	return nil
}

func (r *DatabaseRegistry) Close() error {
	r.logger.Trace("closing")
	r.once.Do(func() {
		if err := r.cache.Close(); err != nil {
			r.logger.Error("error closing cache: %s", err)
		}
	})
	r.logger.Trace("closed")
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertTableSQL = `INSERT INTO gridbase_tables (tenant_id, physical_table_name, display_name, description, api_enabled, is_builtin, numeric_columns) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`

func registerTable(ctx context.Context, q rowQuerier, tenantID int64, meta *internal.TableRegistration) (int64, error) {
	row := q.QueryRowContext(ctx, insertTableSQL,
		tenantID,
		meta.PhysicalTableName,
		meta.DisplayName,
		meta.Description,
		meta.APIEnabled,
		meta.IsBuiltIn,
		pq.Array(meta.NumericColumns),
	)
	if err := row.Scan(&meta.ID, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
		return 0, internal.TranslateDatabaseError(err)
	}
	meta.TenantID = tenantID
	return meta.ID, nil
}

// RegisterTable records a new physical table for a tenant.
func (r *DatabaseRegistry) RegisterTable(ctx context.Context, tenantID int64, meta internal.TableRegistration) (int64, error) {
	id, err := registerTable(ctx, r.db, tenantID, &meta)
	if err != nil {
		return 0, err
	}
	r.CacheRegistration(meta)
	return id, nil
}

// RegisterTableTx records a registration inside the caller's transaction so
// DDL and registration stay atomic. The caller must invoke CacheRegistration
// after a successful commit since a cache primed before commit would survive
// a rollback.
func (r *DatabaseRegistry) RegisterTableTx(ctx context.Context, tx *sql.Tx, tenantID int64, meta *internal.TableRegistration) (int64, error) {
	return registerTable(ctx, tx, tenantID, meta)
}

// CacheRegistration primes the cache and tracker for a committed
// registration.
func (r *DatabaseRegistry) CacheRegistration(meta internal.TableRegistration) {
	tenantKey := tenantKeyPrefix + meta.PhysicalTableName
	regKey := registrationKeyPrefix + meta.PhysicalTableName
	if err := r.cache.Set(tenantKey, meta.TenantID, defaultCacheDuration); err != nil {
		r.logger.Error("error setting key %s in cache: %s", tenantKey, err)
	}
	if err := r.cache.Set(regKey, &meta, defaultCacheDuration); err != nil {
		r.logger.Error("error setting key %s in cache: %s", regKey, err)
	}
	if r.tracker != nil {
		if err := r.tracker.SetKey(tenantKey, strconv.FormatInt(meta.TenantID, 10), 0); err != nil {
			r.logger.Error("error setting key %s in tracker: %s", tenantKey, err)
		}
		if err := r.tracker.SetKey(regKey, util.JSONStringify(meta), 0); err != nil {
			r.logger.Error("error setting key %s in tracker: %s", regKey, err)
		}
	}
}

// Invalidate drops every cached entry for a table. Safe to call for keys
// that were never cached.
func (r *DatabaseRegistry) Invalidate(tableName string) {
	keys := []string{
		tenantKeyPrefix + tableName,
		registrationKeyPrefix + tableName,
		jsonSchemaKeyPrefix + tableName,
	}
	for _, key := range keys {
		if err := r.cache.Delete(key); err != nil {
			r.logger.Error("error deleting key %s from cache: %s", key, err)
		}
	}
	if r.tracker != nil {
		if err := r.tracker.DeleteKey(keys...); err != nil {
			r.logger.Error("error deleting keys from tracker: %s", err)
		}
	}
}

// GetTenantForTable returns the owning tenant for a physical table name.
func (r *DatabaseRegistry) GetTenantForTable(ctx context.Context, tableName string) (int64, bool, error) {
	key := tenantKeyPrefix + tableName

	// fast path is to check the in memory cache first
	found, val, err := r.cache.Get(key)
	if err != nil {
		return 0, false, fmt.Errorf("error fetching tenant from cache: %s", err)
	}
	if found {
		internal.CacheHits.Inc()
		return val.(int64), true, nil
	}
	internal.CacheMisses.Inc()

	if r.tracker != nil {
		found, valstr, err := r.tracker.GetKey(key)
		if err != nil {
			return 0, false, fmt.Errorf("error fetching tenant from tracker: %s", err)
		}
		if found {
			tenantID, err := strconv.ParseInt(valstr, 10, 64)
			if err != nil {
				return 0, false, fmt.Errorf("error decoding tenant for table %s: %s", tableName, err)
			}
			if err := r.cache.Set(key, tenantID, defaultCacheDuration); err != nil {
				return 0, false, fmt.Errorf("error setting key %s in cache: %s", key, err)
			}
			return tenantID, true, nil
		}
	}

	var tenantID int64
	if err := r.db.QueryRowContext(ctx, "SELECT tenant_id FROM gridbase_tables WHERE physical_table_name = $1", tableName).Scan(&tenantID); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("error fetching tenant for table %s: %w", tableName, err)
	}
	if err := r.cache.Set(key, tenantID, defaultCacheDuration); err != nil {
		return 0, false, fmt.Errorf("error setting key %s in cache: %s", key, err)
	}
	if r.tracker != nil {
		if err := r.tracker.SetKey(key, strconv.FormatInt(tenantID, 10), 0); err != nil {
			return 0, false, fmt.Errorf("error setting key %s in tracker: %s", key, err)
		}
	}
	return tenantID, true, nil
}

const selectRegistrationSQL = `SELECT id, tenant_id, physical_table_name, display_name, description, api_enabled, is_builtin, numeric_columns, created_at, updated_at FROM gridbase_tables`

func scanRegistration(row interface{ Scan(...any) error }) (*internal.TableRegistration, error) {
	var reg internal.TableRegistration
	if err := row.Scan(
		&reg.ID,
		&reg.TenantID,
		&reg.PhysicalTableName,
		&reg.DisplayName,
		&reg.Description,
		&reg.APIEnabled,
		&reg.IsBuiltIn,
		pq.Array(&reg.NumericColumns),
		&reg.CreatedAt,
		&reg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetRegistration returns the registration row for a physical table.
func (r *DatabaseRegistry) GetRegistration(ctx context.Context, tableName string) (*internal.TableRegistration, bool, error) {
	key := registrationKeyPrefix + tableName
	found, val, err := r.cache.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("error fetching registration from cache: %s", err)
	}
	if found {
		internal.CacheHits.Inc()
		return val.(*internal.TableRegistration), true, nil
	}
	internal.CacheMisses.Inc()

	if r.tracker != nil {
		found, valstr, err := r.tracker.GetKey(key)
		if err != nil {
			return nil, false, fmt.Errorf("error fetching registration from tracker: %s", err)
		}
		if found {
			var reg internal.TableRegistration
			if err := json.Unmarshal([]byte(valstr), &reg); err != nil {
				return nil, false, fmt.Errorf("error decoding registration for table %s: %s", tableName, err)
			}
			if err := r.cache.Set(key, &reg, defaultCacheDuration); err != nil {
				return nil, false, fmt.Errorf("error setting key %s in cache: %s", key, err)
			}
			return &reg, true, nil
		}
	}

	reg, err := scanRegistration(r.db.QueryRowContext(ctx, selectRegistrationSQL+" WHERE physical_table_name = $1", tableName))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error fetching registration for table %s: %w", tableName, err)
	}
	r.CacheRegistration(*reg)
	return reg, true, nil
}

// ListTenantTables returns all registrations for a tenant with live row
// counts.
func (r *DatabaseRegistry) ListTenantTables(ctx context.Context, tenantID int64) ([]internal.TableRegistration, error) {
	rows, err := r.db.QueryContext(ctx, selectRegistrationSQL+" WHERE tenant_id = $1 ORDER BY physical_table_name", tenantID)
	if err != nil {
		return nil, fmt.Errorf("error listing tables for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()
	var res []internal.TableRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning table registration: %w", err)
		}
		res = append(res, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		count, err := catalog.RowCount(ctx, r.db, res[i].PhysicalTableName)
		if err != nil {
			// a registration can outlive its physical table after a manual drop
			r.logger.Warn("error counting rows for %s: %s", res[i].PhysicalTableName, err)
			continue
		}
		res[i].RowCount = count
	}
	return res, nil
}

// TableBelongsToTenant reports whether the physical table is registered to
// the tenant.
func (r *DatabaseRegistry) TableBelongsToTenant(ctx context.Context, tableName string, tenantID int64) (bool, error) {
	owner, found, err := r.GetTenantForTable(ctx, tableName)
	if err != nil {
		return false, err
	}
	return found && owner == tenantID, nil
}

// ResolveFullName returns the physical name for a tenant's table. Idempotent
// when the name already carries this tenant's prefix.
func (r *DatabaseRegistry) ResolveFullName(tenantID int64, name string) string {
	return internal.ResolvePhysicalName(tenantID, name)
}

// ValidateOwnership joins the registration through the tenant's owning user.
func (r *DatabaseRegistry) ValidateOwnership(ctx context.Context, tableName string, userID string) (internal.Ownership, error) {
	var res internal.Ownership
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT t.tenant_id, ten.owner_user_id FROM gridbase_tables t JOIN gridbase_tenants ten ON ten.id = t.tenant_id WHERE t.physical_table_name = $1`, tableName).Scan(&res.TenantID, &owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return internal.Ownership{}, nil
		}
		return internal.Ownership{}, fmt.Errorf("error validating ownership of %s: %w", tableName, err)
	}
	res.Allowed = owner == userID
	return res, nil
}

// UpdateTable mutates displayName, description or apiEnabled for a
// registered table. Nil fields are left unchanged.
func (r *DatabaseRegistry) UpdateTable(ctx context.Context, tableName string, displayName, description *string, apiEnabled *bool) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	argIdx := 1
	if displayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", argIdx))
		args = append(args, *displayName)
		argIdx++
	}
	if description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *description)
		argIdx++
	}
	if apiEnabled != nil {
		sets = append(sets, fmt.Sprintf("api_enabled = $%d", argIdx))
		args = append(args, *apiEnabled)
		argIdx++
	}
	args = append(args, tableName)
	query := fmt.Sprintf("UPDATE gridbase_tables SET %s WHERE physical_table_name = $%d", strings.Join(sets, ", "), argIdx)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return internal.TranslateDatabaseError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking update of %s: %w", tableName, err)
	}
	if affected == 0 {
		return internal.NewNotFoundError("table", tableName)
	}
	r.Invalidate(tableName)
	return nil
}

// SetJSONSchema attaches (or clears) a JSON Schema document for a table.
func (r *DatabaseRegistry) SetJSONSchema(ctx context.Context, tableName string, schema string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE gridbase_tables SET json_schema = $1, updated_at = now() WHERE physical_table_name = $2", schema, tableName)
	if err != nil {
		return internal.TranslateDatabaseError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking schema update of %s: %w", tableName, err)
	}
	if affected == 0 {
		return internal.NewNotFoundError("table", tableName)
	}
	key := jsonSchemaKeyPrefix + tableName
	if err := r.cache.Set(key, schema, defaultCacheDuration); err != nil {
		r.logger.Error("error setting key %s in cache: %s", key, err)
	}
	if r.tracker != nil {
		if err := r.tracker.SetKey(key, schema, 0); err != nil {
			r.logger.Error("error setting key %s in tracker: %s", key, err)
		}
	}
	return nil
}

// GetJSONSchema returns the JSON Schema document for a table, if any.
func (r *DatabaseRegistry) GetJSONSchema(ctx context.Context, tableName string) (string, bool, error) {
	key := jsonSchemaKeyPrefix + tableName
	found, val, err := r.cache.Get(key)
	if err != nil {
		return "", false, fmt.Errorf("error fetching schema from cache: %s", err)
	}
	if found {
		internal.CacheHits.Inc()
		schema := val.(string)
		return schema, schema != "", nil
	}
	internal.CacheMisses.Inc()

	var schema string
	if err := r.db.QueryRowContext(ctx, "SELECT json_schema FROM gridbase_tables WHERE physical_table_name = $1", tableName).Scan(&schema); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("error fetching schema for table %s: %w", tableName, err)
	}
	if err := r.cache.Set(key, schema, defaultCacheDuration); err != nil {
		return "", false, fmt.Errorf("error setting key %s in cache: %s", key, err)
	}
	return schema, schema != "", nil
}

// Unregister removes the registration row. The physical table is left in
// place, dropping it is the schema manager's job.
func (r *DatabaseRegistry) Unregister(ctx context.Context, tableName string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM gridbase_tables WHERE physical_table_name = $1", tableName)
	if err != nil {
		return internal.TranslateDatabaseError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking unregister of %s: %w", tableName, err)
	}
	if affected == 0 {
		return internal.NewNotFoundError("table", tableName)
	}
	r.Invalidate(tableName)
	return nil
}

// UnregisterTx removes the registration row inside the caller's transaction.
// Used when the physical table is dropped in the same transaction. The caller
// must Invalidate after commit.
func (r *DatabaseRegistry) UnregisterTx(ctx context.Context, tx *sql.Tx, tableName string) error {
	result, err := tx.ExecContext(ctx, "DELETE FROM gridbase_tables WHERE physical_table_name = $1", tableName)
	if err != nil {
		return internal.TranslateDatabaseError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking unregister of %s: %w", tableName, err)
	}
	if affected == 0 {
		return internal.NewNotFoundError("table", tableName)
	}
	return nil
}

// RenameTx repoints a registration at a renamed physical table inside the
// caller's transaction. The caller must Invalidate the old name after commit.
func (r *DatabaseRegistry) RenameTx(ctx context.Context, tx *sql.Tx, oldName, newName string, displayName *string) error {
	query := "UPDATE gridbase_tables SET physical_table_name = $1, updated_at = now() WHERE physical_table_name = $2"
	args := []any{newName, oldName}
	if displayName != nil {
		query = "UPDATE gridbase_tables SET physical_table_name = $1, display_name = $2, updated_at = now() WHERE physical_table_name = $3"
		args = []any{newName, *displayName, oldName}
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return internal.TranslateDatabaseError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking rename of %s: %w", oldName, err)
	}
	if affected == 0 {
		return internal.NewNotFoundError("table", oldName)
	}
	return nil
}

// AddNumericColumnsTx merges newly added declared-numeric columns into the
// registration inside the caller's transaction.
func (r *DatabaseRegistry) AddNumericColumnsTx(ctx context.Context, tx *sql.Tx, tableName string, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	var current []string
	if err := tx.QueryRowContext(ctx, "SELECT numeric_columns FROM gridbase_tables WHERE physical_table_name = $1 FOR UPDATE", tableName).Scan(pq.Array(&current)); err != nil {
		if err == sql.ErrNoRows {
			return internal.NewNotFoundError("table", tableName)
		}
		return fmt.Errorf("error fetching numeric columns for %s: %w", tableName, err)
	}
	for _, column := range columns {
		if !util.SliceContains(current, column) {
			current = append(current, column)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE gridbase_tables SET numeric_columns = $1, updated_at = now() WHERE physical_table_name = $2", pq.Array(current), tableName); err != nil {
		return internal.TranslateDatabaseError(err)
	}
	return nil
}

// CreateTenant records a new tenant workspace and returns its id.
func (r *DatabaseRegistry) CreateTenant(ctx context.Context, name string, ownerUserID string) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, "INSERT INTO gridbase_tenants (name, owner_user_id) VALUES ($1, $2) RETURNING id", name, ownerUserID).Scan(&id); err != nil {
		return 0, internal.TranslateDatabaseError(err)
	}
	return id, nil
}

// GetTenant returns a tenant row by id.
func (r *DatabaseRegistry) GetTenant(ctx context.Context, tenantID int64) (*internal.Tenant, bool, error) {
	var t internal.Tenant
	if err := r.db.QueryRowContext(ctx, "SELECT id, name, owner_user_id, created_at, updated_at FROM gridbase_tenants WHERE id = $1", tenantID).Scan(&t.ID, &t.Name, &t.OwnerUserID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error fetching tenant %d: %w", tenantID, err)
	}
	return &t, true, nil
}
