package importer

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/engine"
	"github.com/gridbase/gridbase/internal/registry"
)

func newTestImporter(t *testing.T, batchSize int) (*Importer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := registry.NewMemoryRegistry()
	_, err = reg.RegisterTable(context.Background(), 7, internal.TableRegistration{
		PhysicalTableName: "p7_orders",
		DisplayName:       "p7_orders",
	})
	require.NoError(t, err)
	e := engine.New(engine.Config{
		Logger:     logger.NewTestLogger(),
		DB:         db,
		Registry:   reg,
		InstanceID: "test-instance",
	})
	imp := New(Config{
		Logger:    logger.NewTestLogger(),
		Engine:    e,
		TenantID:  7,
		Table:     "orders",
		BatchSize: batchSize,
	})
	return imp, mock
}

func expectCatalog(mock sqlmock.Sqlmock, table string) {
	rows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}).
		AddRow("id", "bigint", "NO", "nextval('p7_orders_id_seq'::regclass)").
		AddRow("name", "text", "NO", nil).
		AddRow("qty", "integer", "YES", nil).
		AddRow("created_at", "timestamp without time zone", "NO", "now()").
		AddRow("updated_at", "timestamp without time zone", "NO", "now()").
		AddRow("deleted_at", "timestamp without time zone", "YES", nil)
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable, column_default FROM information_schema.columns").
		WithArgs(table).
		WillReturnRows(rows)
}

func insertedRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "qty", "created_at", "updated_at", "deleted_at"})
	now := time.Now()
	for _, id := range ids {
		rows.AddRow(id, "x", 1, now, now, nil)
	}
	return rows
}

func writeNDJSON(t *testing.T, lines string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "orders.ndjson")
	require.NoError(t, os.WriteFile(name, []byte(lines), 0600))
	return name
}

func TestImporterBatches(t *testing.T) {
	imp, mock := newTestImporter(t, 2)
	file := writeNDJSON(t, `{"name":"a","qty":1}
{"name":"b","qty":2}
{"name":"c","qty":3}
`)

	expectCatalog(mock, "p7_orders")
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "p7_orders" ("name", "qty", "created_at", "updated_at") VALUES ($1, $2, $3, $4), ($5, $6, $7, $8) RETURNING "id", "name", "qty", "created_at", "updated_at", "deleted_at"`)).
		WillReturnRows(insertedRows(1, 2))
	expectCatalog(mock, "p7_orders")
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "p7_orders" ("name", "qty", "created_at", "updated_at") VALUES ($1, $2, $3, $4) RETURNING "id", "name", "qty", "created_at", "updated_at", "deleted_at"`)).
		WillReturnRows(insertedRows(3))

	res, err := imp.Run(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 2, res.Batches)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImporterInvalidRecord(t *testing.T) {
	imp, mock := newTestImporter(t, 10)
	file := writeNDJSON(t, `{"name":"a","qty":"not a number"}
`)

	expectCatalog(mock, "p7_orders")

	_, err := imp.Run(context.Background(), file)
	require.Error(t, err)
	verr, ok := internal.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "records[0].qty", verr.Fields[0].Field)
}

func TestImporterMissingFile(t *testing.T) {
	imp, _ := newTestImporter(t, 10)
	_, err := imp.Run(context.Background(), filepath.Join(t.TempDir(), "nope.ndjson"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to create JSON decoder")
}

func TestImporterCancelled(t *testing.T) {
	imp, _ := newTestImporter(t, 10)
	file := writeNDJSON(t, `{"name":"a","qty":1}
`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := imp.Run(ctx, file)
	require.ErrorIs(t, err, context.Canceled)
}
