package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gridbase/gridbase/internal"
)

// MemoryRegistry is an in-memory TableRegistry for tests and dry run
// provisioning. Same semantics as the database registry without the
// persistence or cache layers.
type MemoryRegistry struct {
	mu      sync.RWMutex
	nextID  int64
	tables  map[string]*internal.TableRegistration
	schemas map[string]string
	owners  map[int64]string
}

var _ internal.TableRegistry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tables:  make(map[string]*internal.TableRegistration),
		schemas: make(map[string]string),
		owners:  make(map[int64]string),
	}
}

// SetTenantOwner records the owning user for a tenant.
func (r *MemoryRegistry) SetTenantOwner(tenantID int64, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[tenantID] = userID
}

// GetTenant returns the tenant if an owner has been recorded for it.
func (r *MemoryRegistry) GetTenant(_ context.Context, tenantID int64) (*internal.Tenant, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[tenantID]
	if !ok {
		return nil, false, nil
	}
	return &internal.Tenant{ID: tenantID, OwnerUserID: owner}, true, nil
}

func (r *MemoryRegistry) RegisterTable(_ context.Context, tenantID int64, meta internal.TableRegistration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[meta.PhysicalTableName]; ok {
		return 0, internal.NewConflictError("table %s already registered", meta.PhysicalTableName)
	}
	r.nextID++
	meta.ID = r.nextID
	meta.TenantID = tenantID
	meta.CreatedAt = time.Now()
	meta.UpdatedAt = meta.CreatedAt
	r.tables[meta.PhysicalTableName] = &meta
	return meta.ID, nil
}

func (r *MemoryRegistry) GetTenantForTable(_ context.Context, tableName string) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tables[tableName]
	if !ok {
		return 0, false, nil
	}
	return reg.TenantID, true, nil
}

func (r *MemoryRegistry) ListTenantTables(_ context.Context, tenantID int64) ([]internal.TableRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []internal.TableRegistration
	for _, reg := range r.tables {
		if reg.TenantID == tenantID {
			res = append(res, *reg)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PhysicalTableName < res[j].PhysicalTableName })
	return res, nil
}

func (r *MemoryRegistry) TableBelongsToTenant(ctx context.Context, tableName string, tenantID int64) (bool, error) {
	owner, found, err := r.GetTenantForTable(ctx, tableName)
	if err != nil {
		return false, err
	}
	return found && owner == tenantID, nil
}

func (r *MemoryRegistry) ResolveFullName(tenantID int64, name string) string {
	return internal.ResolvePhysicalName(tenantID, name)
}

func (r *MemoryRegistry) ValidateOwnership(_ context.Context, tableName string, userID string) (internal.Ownership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tables[tableName]
	if !ok {
		return internal.Ownership{}, nil
	}
	return internal.Ownership{
		Allowed:  r.owners[reg.TenantID] == userID,
		TenantID: reg.TenantID,
	}, nil
}

func (r *MemoryRegistry) GetRegistration(_ context.Context, tableName string) (*internal.TableRegistration, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tables[tableName]
	if !ok {
		return nil, false, nil
	}
	copied := *reg
	return &copied, true, nil
}

func (r *MemoryRegistry) UpdateTable(_ context.Context, tableName string, displayName, description *string, apiEnabled *bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.tables[tableName]
	if !ok {
		return internal.NewNotFoundError("table", tableName)
	}
	if displayName != nil {
		reg.DisplayName = *displayName
	}
	if description != nil {
		reg.Description = *description
	}
	if apiEnabled != nil {
		reg.APIEnabled = *apiEnabled
	}
	reg.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRegistry) SetJSONSchema(_ context.Context, tableName string, schema string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[tableName]; !ok {
		return internal.NewNotFoundError("table", tableName)
	}
	r.schemas[tableName] = schema
	return nil
}

func (r *MemoryRegistry) GetJSONSchema(_ context.Context, tableName string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[tableName]
	return schema, ok && schema != "", nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, tableName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[tableName]; !ok {
		return internal.NewNotFoundError("table", tableName)
	}
	delete(r.tables, tableName)
	delete(r.schemas, tableName)
	return nil
}
