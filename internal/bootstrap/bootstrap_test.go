package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/ddl"
	"github.com/gridbase/gridbase/internal/registry"
)

const sampleManifest = `
[[tables]]
name = "products"
display_name = "Products"
description = "Catalog products"
generate_api = true

  [[tables.columns]]
  name = "title"
  type = "string"

  [[tables.columns]]
  name = "price"
  type = "string"
  numeric = true

[[tables]]
name = "orders"
soft_delete = true

  [[tables.columns]]
  name = "product_id"
  type = "reference"
  references = "products.id"

  [[tables.columns]]
  name = "total"
  type = "number"
  nullable = true
`

func writeManifest(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "builtins.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadManifest(t *testing.T) {
	manifest, err := LoadManifest(writeManifest(t, sampleManifest))
	require.NoError(t, err)
	require.Len(t, manifest.Tables, 2)
	assert.Equal(t, "products", manifest.Tables[0].Name)
	assert.Equal(t, "Products", manifest.Tables[0].DisplayName)
	assert.True(t, manifest.Tables[0].GenerateAPI)
	assert.True(t, manifest.Tables[1].SoftDelete)

	def, err := manifest.Tables[1].Definition()
	require.NoError(t, err)
	require.Len(t, def.Columns, 2)
	assert.Equal(t, internal.TypeReference, def.Columns[0].Type)
	require.NotNil(t, def.Columns[0].Reference)
	assert.Equal(t, "products", def.Columns[0].Reference.Table)
	assert.Equal(t, "id", def.Columns[0].Reference.Column)
	assert.True(t, def.Columns[1].Nullable)
}

func TestLoadManifestDuplicateTable(t *testing.T) {
	_, err := LoadManifest(writeManifest(t, `
[[tables]]
name = "products"
[[tables]]
name = "products"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
}

func TestLoadManifestEmpty(t *testing.T) {
	_, err := LoadManifest(writeManifest(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares no tables")
}

func TestDefinitionRejectsBadColumns(t *testing.T) {
	table := ManifestTable{Name: "products", Columns: []ManifestColumn{{Name: "title", Type: "varchar"}}}
	_, err := table.Definition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "varchar"`)

	table = ManifestTable{Name: "orders", Columns: []ManifestColumn{{Name: "product_id", Type: "reference"}}}
	_, err = table.Definition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references entry")

	table = ManifestTable{Name: "orders", Columns: []ManifestColumn{{Name: "product_id", Type: "integer", References: "products.id"}}}
	_, err = table.Definition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires type reference")
}

func waveNames(wave []*internal.TableDefinition) []string {
	names := make([]string, 0, len(wave))
	for _, def := range wave {
		names = append(names, def.Name)
	}
	return names
}

func TestProvisionWavesOrderReferences(t *testing.T) {
	defs := []*internal.TableDefinition{
		{Name: "orders", Columns: []internal.ColumnSpec{{
			Name: "product_id", Type: internal.TypeReference,
			Reference: &internal.Reference{Table: "products", Column: "id"},
		}}},
		{Name: "products"},
		{Name: "customers"},
	}
	waves := provisionWaves(defs)
	require.Len(t, waves, 2)
	assert.ElementsMatch(t, []string{"products", "customers"}, waveNames(waves[0]))
	assert.Equal(t, []string{"orders"}, waveNames(waves[1]))
}

func TestProvisionWavesIgnoreExternalReferences(t *testing.T) {
	defs := []*internal.TableDefinition{
		{Name: "orders", Columns: []internal.ColumnSpec{{
			Name: "customer_id", Type: internal.TypeReference,
			Reference: &internal.Reference{Table: "customers", Column: "id"},
		}}},
	}
	// customers is not in the manifest, so orders is not blocked on it
	waves := provisionWaves(defs)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"orders"}, waveNames(waves[0]))
}

func TestProvisionWavesBreakCycles(t *testing.T) {
	defs := []*internal.TableDefinition{
		{Name: "a", Columns: []internal.ColumnSpec{{
			Name: "b_id", Type: internal.TypeReference,
			Reference: &internal.Reference{Table: "b", Column: "id"},
		}}},
		{Name: "b", Columns: []internal.ColumnSpec{{
			Name: "a_id", Type: internal.TypeReference,
			Reference: &internal.Reference{Table: "a", Column: "id"},
		}}},
	}
	waves := provisionWaves(defs)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"a", "b"}, waveNames(waves[0]))
}

func newTestProvisioner(t *testing.T) (*Provisioner, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	log := logger.NewTestLogger()
	reg := registry.NewDatabaseRegistry(context.Background(), log, db, nil)
	mgr := ddl.NewManager(ddl.ManagerConfig{Logger: log, DB: db, Registry: reg})
	t.Cleanup(func() {
		reg.Close()
		db.Close()
	})
	return New(Config{Logger: log, DB: db, Manager: mgr}), mock
}

func TestProvisionCreatesTable(t *testing.T) {
	p, mock := newTestProvisioner(t)
	now := time.Now()
	// the provisioner probes existence, then the manager checks again
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p7_products").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p7_products").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO gridbase_tables").
		WithArgs(int64(7), "p7_products", "Products", "", true, true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("p7_products").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}).
			AddRow("id", "bigint", "NO", "nextval('p7_products_id_seq'::regclass)").
			AddRow("title", "text", "NO", nil).
			AddRow("price", "text", "NO", nil).
			AddRow("created_at", "timestamp without time zone", "NO", "now()").
			AddRow("updated_at", "timestamp without time zone", "NO", "now()"))

	manifest := &Manifest{Tables: []ManifestTable{{
		Name:        "products",
		DisplayName: "Products",
		GenerateAPI: true,
		Columns: []ManifestColumn{
			{Name: "title", Type: "string"},
			{Name: "price", Type: "string", Numeric: true},
		},
	}}}
	res, err := p.Provision(context.Background(), 7, manifest)
	require.NoError(t, err)
	assert.Equal(t, []string{"products"}, res.Created)
	assert.Empty(t, res.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionSkipsExisting(t *testing.T) {
	p, mock := newTestProvisioner(t)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p7_products").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	manifest := &Manifest{Tables: []ManifestTable{{
		Name:    "products",
		Columns: []ManifestColumn{{Name: "title", Type: "string"}},
	}}}
	res, err := p.Provision(context.Background(), 7, manifest)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, []string{"products"}, res.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionBadManifestFailsBeforeDatabase(t *testing.T) {
	p, mock := newTestProvisioner(t)

	manifest := &Manifest{Tables: []ManifestTable{{
		Name:    "products",
		Columns: []ManifestColumn{{Name: "title", Type: "varchar"}},
	}}}
	_, err := p.Provision(context.Background(), 7, manifest)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
