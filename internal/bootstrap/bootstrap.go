package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopmonkeyus/go-common/logger"
	"golang.org/x/sync/semaphore"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/ddl"
	"github.com/gridbase/gridbase/internal/util"
)

// maxParallelCreates bounds how many tables provision at once so a large
// manifest cannot exhaust the connection pool.
const maxParallelCreates = 4

// Manifest is a parsed built-in tables file.
type Manifest struct {
	Tables []ManifestTable `toml:"tables"`
}

// ManifestTable declares one built-in table.
type ManifestTable struct {
	Name        string           `toml:"name"`
	DisplayName string           `toml:"display_name"`
	Description string           `toml:"description"`
	SoftDelete  bool             `toml:"soft_delete"`
	GenerateAPI bool             `toml:"generate_api"`
	Timestamps  *bool            `toml:"timestamps"`
	Columns     []ManifestColumn `toml:"columns"`
}

// ManifestColumn declares one column of a built-in table. References use the
// form "table.column".
type ManifestColumn struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	Nullable   bool   `toml:"nullable"`
	Unique     bool   `toml:"unique"`
	Default    string `toml:"default"`
	Numeric    bool   `toml:"numeric"`
	References string `toml:"references"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	var manifest Manifest
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", path, err)
	}
	if len(manifest.Tables) == 0 {
		return nil, fmt.Errorf("manifest %s declares no tables", path)
	}
	seen := make(map[string]bool)
	for _, table := range manifest.Tables {
		if seen[table.Name] {
			return nil, fmt.Errorf("manifest %s declares table %s twice", path, table.Name)
		}
		seen[table.Name] = true
	}
	return &manifest, nil
}

// Definition converts the manifest entry into a table definition.
func (t *ManifestTable) Definition() (*internal.TableDefinition, error) {
	def := internal.TableDefinition{
		Name:        t.Name,
		DisplayName: t.DisplayName,
		Description: t.Description,
		Timestamps:  t.Timestamps,
		SoftDelete:  t.SoftDelete,
		GenerateAPI: t.GenerateAPI,
		Columns:     make([]internal.ColumnSpec, 0, len(t.Columns)),
	}
	for _, column := range t.Columns {
		spec := internal.ColumnSpec{
			Name:     column.Name,
			Type:     internal.LogicalType(column.Type),
			Nullable: column.Nullable,
			Unique:   column.Unique,
			Numeric:  column.Numeric,
		}
		if !spec.Type.Valid() {
			return nil, fmt.Errorf("table %s column %s: unknown type %q", t.Name, column.Name, column.Type)
		}
		if column.Default != "" {
			spec.DefaultValue = &column.Default
		}
		if column.References != "" {
			refTable, refColumn, ok := strings.Cut(column.References, ".")
			if !ok {
				return nil, fmt.Errorf("table %s column %s: references must look like table.column", t.Name, column.Name)
			}
			spec.Reference = &internal.Reference{Table: refTable, Column: refColumn}
		}
		if spec.Type == internal.TypeReference && spec.Reference == nil {
			return nil, fmt.Errorf("table %s column %s: reference columns need a references entry", t.Name, column.Name)
		}
		if spec.Reference != nil && spec.Type != internal.TypeReference {
			return nil, fmt.Errorf("table %s column %s: references requires type reference", t.Name, column.Name)
		}
		def.Columns = append(def.Columns, spec)
	}
	return &def, nil
}

// Provisioner creates the built-in tables for a tenant.
type Provisioner struct {
	logger  logger.Logger
	db      *sql.DB
	manager *ddl.Manager
}

// Config carries the provisioner's dependencies.
type Config struct {
	Logger  logger.Logger
	DB      *sql.DB
	Manager *ddl.Manager
}

func New(config Config) *Provisioner {
	return &Provisioner{
		logger:  config.Logger.WithPrefix("[bootstrap]"),
		db:      config.DB,
		manager: config.Manager,
	}
}

// Result reports which tables a provisioning run created and which already
// existed.
type Result struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// provisionWaves groups the definitions so a table is created after every
// manifest table it references. Tables inside one wave are independent and
// safe to create in parallel.
func provisionWaves(defs []*internal.TableDefinition) [][]*internal.TableDefinition {
	inManifest := make(map[string]bool, len(defs))
	for _, def := range defs {
		inManifest[def.Name] = true
	}
	done := make(map[string]bool)
	remaining := defs
	var waves [][]*internal.TableDefinition
	for len(remaining) > 0 {
		var wave, blocked []*internal.TableDefinition
		for _, def := range remaining {
			ready := true
			for _, column := range def.Columns {
				if column.Reference != nil && inManifest[column.Reference.Table] && !done[column.Reference.Table] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, def)
			} else {
				blocked = append(blocked, def)
			}
		}
		if len(wave) == 0 {
			// reference cycle: create in declaration order and let the
			// database report the broken reference
			return append(waves, remaining)
		}
		for _, def := range wave {
			done[def.Name] = true
		}
		waves = append(waves, wave)
		remaining = blocked
	}
	return waves
}

// Provision creates every table in the manifest for the tenant, skipping
// tables that already exist so the command can run repeatedly.
func (p *Provisioner) Provision(ctx context.Context, tenantID int64, manifest *Manifest) (*Result, error) {
	started := time.Now()

	// resolve the whole manifest before touching the database so a bad entry
	// fails the run without provisioning half the tables
	defs := make([]*internal.TableDefinition, 0, len(manifest.Tables))
	for _, table := range manifest.Tables {
		def, err := table.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	var result Result
	var lock sync.Mutex
	errorChannel := make(chan error, len(defs))
	sem := semaphore.NewWeighted(int64(maxParallelCreates))

	for _, wave := range provisionWaves(defs) {
		var wg sync.WaitGroup
		for _, def := range wave {
			wg.Add(1)
			go func(def *internal.TableDefinition) {
				defer util.RecoverPanic(p.logger)
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					errorChannel <- err
					return
				}
				defer sem.Release(1)
				table := internal.PhysicalTableName(tenantID, def.Name)
				exists, err := catalog.TableExists(ctx, p.db, table)
				if err != nil {
					errorChannel <- fmt.Errorf("error checking table %s: %w", def.Name, err)
					return
				}
				if exists {
					p.logger.Debug("table %s already provisioned, skipping", table)
					lock.Lock()
					result.Skipped = append(result.Skipped, def.Name)
					lock.Unlock()
					return
				}
				if _, err := p.manager.CreateBuiltInTable(ctx, tenantID, def); err != nil {
					if internal.IsConflict(err) {
						// another instance won the race, same outcome as skipped
						lock.Lock()
						result.Skipped = append(result.Skipped, def.Name)
						lock.Unlock()
						return
					}
					errorChannel <- fmt.Errorf("error creating table %s: %w", def.Name, err)
					return
				}
				lock.Lock()
				result.Created = append(result.Created, def.Name)
				lock.Unlock()
			}(def)
		}
		wg.Wait()
		if len(errorChannel) > 0 {
			// later waves reference tables from this one, no point continuing
			break
		}
	}

	errs := make([]error, 0)
done:
	for {
		select {
		case err := <-errorChannel:
			p.logger.Error("%s", err)
			errs = append(errs, err)
		default:
			break done
		}
	}
	close(errorChannel)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Strings(result.Created)
	sort.Strings(result.Skipped)
	p.logger.Info("provisioned %d tables for tenant %d (%d skipped) in %v", len(result.Created), tenantID, len(result.Skipped), time.Since(started))
	return &result, nil
}
