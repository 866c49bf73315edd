package ddl

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/registry"
	"github.com/lib/pq"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	log := logger.NewTestLogger()
	reg := registry.NewDatabaseRegistry(context.Background(), log, db, nil)
	mgr := NewManager(ManagerConfig{Logger: log, DB: db, Registry: reg})
	t.Cleanup(func() {
		reg.Close()
		db.Close()
	})
	return mgr, mock
}

func expectTableExists(mock sqlmock.Sqlmock, table string, exists bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func productColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}).
		AddRow("id", "bigint", "NO", "nextval('p7_products_id_seq'::regclass)").
		AddRow("name", "text", "NO", nil).
		AddRow("price", "text", "NO", nil).
		AddRow("created_at", "timestamp without time zone", "NO", "now()").
		AddRow("updated_at", "timestamp without time zone", "NO", "now()")
}

func TestCreateTable(t *testing.T) {
	mgr, mock := newTestManager(t)
	now := time.Now()
	expectTableExists(mock, "p7_products", false)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO gridbase_tables").
		WithArgs(int64(7), "p7_products", "Products", "", true, false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(9), now, now))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("p7_products").
		WillReturnRows(productColumns())

	res, err := mgr.CreateTable(context.Background(), 7, &internal.TableDefinition{
		Name:        "products",
		DisplayName: "Products",
		GenerateAPI: true,
		Columns: []internal.ColumnSpec{
			{Name: "name", Type: internal.TypeString},
			{Name: "price", Type: internal.TypeString, Numeric: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Registration.ID)
	assert.Equal(t, "p7_products", res.Registration.PhysicalTableName)
	assert.Equal(t, []string{"price"}, res.Registration.NumericColumns)
	assert.True(t, res.Schema.HasColumn("price"))
	assert.False(t, res.Schema.SoftDelete())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableAlreadyExists(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_products", true)

	_, err := mgr.CreateTable(context.Background(), 7, &internal.TableDefinition{
		Name:    "products",
		Columns: []internal.ColumnSpec{{Name: "name", Type: internal.TypeString}},
	})
	require.Error(t, err)
	assert.True(t, internal.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableRollsBackWhenRegistrationRaces(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_products", false)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO gridbase_tables").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "gridbase_tables_physical_table_name_key"})
	mock.ExpectRollback()

	_, err := mgr.CreateTable(context.Background(), 7, &internal.TableDefinition{
		Name:    "products",
		Columns: []internal.ColumnSpec{{Name: "name", Type: internal.TypeString}},
	})
	require.Error(t, err)
	assert.True(t, internal.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableInvalidDefinition(t *testing.T) {
	mgr, mock := newTestManager(t)

	_, err := mgr.CreateTable(context.Background(), 7, &internal.TableDefinition{Name: "drop table;"})
	require.Error(t, err)
	_, ok := internal.AsValidation(err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterTable(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_products", true)
	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE "p7_products" ADD COLUMN "sku" TEXT`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("p7_products").
		WillReturnRows(productColumns().AddRow("sku", "text", "YES", nil))

	schema, err := mgr.AlterTable(context.Background(), 7, "products", &AlterRequest{
		AddColumns: []internal.ColumnSpec{{Name: "sku", Type: internal.TypeString, Nullable: true}},
	})
	require.NoError(t, err)
	assert.True(t, schema.HasColumn("sku"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterTableRecordsNumericColumns(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_products", true)
	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE "p7_products" ADD COLUMN "weight" TEXT`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT numeric_columns FROM gridbase_tables").
		WithArgs("p7_products").
		WillReturnRows(sqlmock.NewRows([]string{"numeric_columns"}).AddRow("{price}"))
	mock.ExpectExec("UPDATE gridbase_tables SET numeric_columns").
		WithArgs(sqlmock.AnyArg(), "p7_products").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("p7_products").
		WillReturnRows(productColumns().AddRow("weight", "text", "YES", nil))

	_, err := mgr.AlterTable(context.Background(), 7, "products", &AlterRequest{
		AddColumns: []internal.ColumnSpec{{Name: "weight", Type: internal.TypeString, Nullable: true, Numeric: true}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterTableMissing(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_ghost", false)

	_, err := mgr.AlterTable(context.Background(), 7, "ghost", &AlterRequest{DropColumns: []string{"legacy"}})
	require.Error(t, err)
	assert.True(t, internal.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropTable(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_products", true)
	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE "p7_products"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM gridbase_tables").
		WithArgs("p7_products").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, mgr.DropTable(context.Background(), 7, "products"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameTable(t *testing.T) {
	mgr, mock := newTestManager(t)
	expectTableExists(mock, "p7_products", true)
	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE "p7_products" RENAME TO "p7_catalog"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE gridbase_tables SET physical_table_name").
		WithArgs("p7_catalog", "p7_products").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, mgr.RenameTable(context.Background(), 7, "products", "catalog", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIndex(t *testing.T) {
	mgr, mock := newTestManager(t)
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("p7_products").
		WillReturnRows(productColumns())
	mock.ExpectExec(`CREATE UNIQUE INDEX "idx_7_products_name"`).WillReturnResult(sqlmock.NewResult(0, 0))

	name, err := mgr.CreateIndex(context.Background(), 7, "products", []string{"name"}, true)
	require.NoError(t, err)
	assert.Equal(t, "idx_7_products_name", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIndexUnknownColumn(t *testing.T) {
	mgr, mock := newTestManager(t)
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("p7_products").
		WillReturnRows(productColumns())

	_, err := mgr.CreateIndex(context.Background(), 7, "products", []string{"ghost"}, false)
	require.Error(t, err)
	_, ok := internal.AsValidation(err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropIndexForeignPrefix(t *testing.T) {
	mgr, mock := newTestManager(t)

	err := mgr.DropIndex(context.Background(), 7, "products", "idx_9_products_name")
	require.Error(t, err)
	assert.Equal(t, 403, internal.ErrorStatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropIndex(t *testing.T) {
	mgr, mock := newTestManager(t)
	mock.ExpectQuery("SELECT indexname, indexdef FROM pg_indexes").
		WithArgs("p7_products").
		WillReturnRows(sqlmock.NewRows([]string{"indexname", "indexdef"}).
			AddRow("p7_products_pkey", "CREATE UNIQUE INDEX p7_products_pkey ON public.p7_products USING btree (id)").
			AddRow("idx_7_products_name", "CREATE INDEX idx_7_products_name ON public.p7_products USING btree (name)"))
	mock.ExpectExec(`DROP INDEX "idx_7_products_name"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, mgr.DropIndex(context.Background(), 7, "products", "idx_7_products_name"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
