package ddl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/lib/pq"
)

// identifierRegex is the only shape a tenant supplied table or column name may
// take. Everything that passes is still quoted with pq.QuoteIdentifier before
// it reaches a statement, so keywords and case survive without a second,
// weaker quoting path.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// columns the engine injects and manages itself
var managedColumns = []string{"id", "created_at", "updated_at", "deleted_at"}

// ValidIdentifier reports whether a tenant supplied name is usable as a table
// or column identifier.
func ValidIdentifier(name string) bool {
	return identifierRegex.MatchString(name)
}

// IsManagedColumn reports whether the column is one the engine injects and
// refuses to drop or rename.
func IsManagedColumn(name string) bool {
	return util.SliceContains(managedColumns, name)
}

func logicalTypeToSQLType(t internal.LogicalType) string {
	switch t {
	case internal.TypeString:
		return "TEXT"
	case internal.TypeInteger:
		return "INTEGER"
	case internal.TypeNumber:
		return "NUMERIC"
	case internal.TypeBoolean:
		return "BOOLEAN"
	case internal.TypeJSON:
		return "JSONB"
	case internal.TypeDate:
		return "TIMESTAMP"
	case internal.TypeReference:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// defaultLiteral renders a column default as a SQL literal appropriate for
// the column's type. The literal itself was validated by validateColumn.
func defaultLiteral(c internal.ColumnSpec) string {
	val := *c.DefaultValue
	switch c.Type {
	case internal.TypeInteger, internal.TypeNumber, internal.TypeReference:
		return val
	case internal.TypeBoolean:
		b, _ := strconv.ParseBool(val)
		return strconv.FormatBool(b)
	case internal.TypeDate:
		if val == "now()" {
			return val
		}
		return pq.QuoteLiteral(val)
	default:
		return pq.QuoteLiteral(val)
	}
}

func validateColumn(path string, c internal.ColumnSpec) []internal.FieldError {
	var fields []internal.FieldError
	if !ValidIdentifier(c.Name) {
		fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("invalid column name %q: must start with a letter and contain only letters, digits and underscores", c.Name)))
	}
	if !c.Type.Valid() {
		fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("unsupported column type %q", c.Type)))
	}
	if c.Type == internal.TypeReference {
		if c.Reference == nil {
			fields = append(fields, internal.NewFieldError(path, "reference columns require a reference target"))
		} else {
			if !ValidIdentifier(c.Reference.Table) {
				fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("invalid reference table %q", c.Reference.Table)))
			}
			if c.Reference.Column != "" && !ValidIdentifier(c.Reference.Column) {
				fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("invalid reference column %q", c.Reference.Column)))
			}
		}
	} else if c.Reference != nil {
		fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("reference target is only valid on reference columns, not %s", c.Type)))
	}
	if c.Numeric && c.Type != internal.TypeString {
		fields = append(fields, internal.NewFieldError(path, "the numeric flag only applies to string columns"))
	}
	if c.DefaultValue != nil {
		val := *c.DefaultValue
		switch c.Type {
		case internal.TypeInteger, internal.TypeReference:
			if _, err := strconv.ParseInt(val, 10, 64); err != nil {
				fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("default %q is not a valid integer", val)))
			}
		case internal.TypeNumber:
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("default %q is not a valid number", val)))
			}
		case internal.TypeBoolean:
			if _, err := strconv.ParseBool(val); err != nil {
				fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("default %q is not a valid boolean", val)))
			}
		}
	}
	return fields
}

// ValidateDefinition checks a table definition and collects every problem
// instead of stopping at the first.
func ValidateDefinition(def *internal.TableDefinition) error {
	var fields []internal.FieldError
	if !ValidIdentifier(def.Name) {
		fields = append(fields, internal.NewFieldError("name", fmt.Sprintf("invalid table name %q: must start with a letter and contain only letters, digits and underscores", def.Name)))
	}
	seen := make(map[string]bool)
	for i, c := range def.Columns {
		path := fmt.Sprintf("columns[%d]", i)
		fields = append(fields, validateColumn(path, c)...)
		if seen[c.Name] {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("duplicate column %q", c.Name)))
		}
		seen[c.Name] = true
		switch c.Name {
		case "created_at", "updated_at":
			if def.WantTimestamps() {
				fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("%s is managed automatically, set timestamps to false to declare your own", c.Name)))
			}
		case "deleted_at":
			if def.SoftDelete {
				fields = append(fields, internal.NewFieldError(path, "deleted_at is managed automatically when softDelete is set"))
			}
		}
	}
	if len(fields) > 0 {
		return internal.NewValidationError(fields...)
	}
	return nil
}

// injectID reports whether an id column should be generated: only when the
// caller did not declare one and named no other column primary.
func injectID(def *internal.TableDefinition) bool {
	for _, c := range def.Columns {
		if c.Name == "id" || c.PrimaryKey {
			return false
		}
	}
	return true
}

func columnSQL(tenantID int64, c internal.ColumnSpec) string {
	var sql strings.Builder
	sql.WriteString(pq.QuoteIdentifier(c.Name))
	sql.WriteString(" ")
	sql.WriteString(logicalTypeToSQLType(c.Type))
	if c.PrimaryKey {
		sql.WriteString(" PRIMARY KEY")
	} else {
		if !c.Nullable {
			sql.WriteString(" NOT NULL")
		}
		if c.Unique {
			sql.WriteString(" UNIQUE")
		}
	}
	if c.DefaultValue != nil {
		sql.WriteString(" DEFAULT ")
		sql.WriteString(defaultLiteral(c))
	}
	if c.Type == internal.TypeReference && c.Reference != nil {
		column := c.Reference.Column
		if column == "" {
			column = "id"
		}
		sql.WriteString(" REFERENCES ")
		sql.WriteString(pq.QuoteIdentifier(internal.ResolvePhysicalName(tenantID, c.Reference.Table)))
		sql.WriteString(" (")
		sql.WriteString(pq.QuoteIdentifier(column))
		sql.WriteString(")")
	}
	return sql.String()
}

// CreateTableSQL renders the CREATE TABLE statement for a validated
// definition. The definition must have passed ValidateDefinition.
func CreateTableSQL(tenantID int64, def *internal.TableDefinition) string {
	var sql strings.Builder
	sql.WriteString("CREATE TABLE ")
	sql.WriteString(pq.QuoteIdentifier(internal.PhysicalTableName(tenantID, def.Name)))
	sql.WriteString(" (\n")
	var lines []string
	if injectID(def) {
		lines = append(lines, "\t\"id\" BIGSERIAL PRIMARY KEY")
	}
	for _, c := range def.Columns {
		lines = append(lines, "\t"+columnSQL(tenantID, c))
	}
	if def.WantTimestamps() {
		lines = append(lines, "\t\"created_at\" TIMESTAMP NOT NULL DEFAULT now()")
		lines = append(lines, "\t\"updated_at\" TIMESTAMP NOT NULL DEFAULT now()")
	}
	if def.SoftDelete {
		lines = append(lines, "\t\"deleted_at\" TIMESTAMP")
	}
	sql.WriteString(strings.Join(lines, ",\n"))
	sql.WriteString("\n)")
	return sql.String()
}

// NumericColumns returns the names of string columns flagged as declared
// numeric, recorded in the registration for the query engine.
func NumericColumns(def *internal.TableDefinition) []string {
	var res []string
	for _, c := range def.Columns {
		if c.Numeric && c.Type == internal.TypeString {
			res = append(res, c.Name)
		}
	}
	return res
}

// RetypeColumn changes a column's type, casting existing values.
type RetypeColumn struct {
	Name string               `json:"name"`
	Type internal.LogicalType `json:"type"`
}

// RenameColumn renames a column in place.
type RenameColumn struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AlterRequest is a batch of table shape changes applied in one transaction.
type AlterRequest struct {
	AddColumns    []internal.ColumnSpec `json:"addColumns,omitempty"`
	DropColumns   []string              `json:"dropColumns,omitempty"`
	RetypeColumns []RetypeColumn        `json:"retypeColumns,omitempty"`
	RenameColumns []RenameColumn        `json:"renameColumns,omitempty"`
}

// Empty reports whether the request contains no changes.
func (r *AlterRequest) Empty() bool {
	return len(r.AddColumns) == 0 && len(r.DropColumns) == 0 && len(r.RetypeColumns) == 0 && len(r.RenameColumns) == 0
}

// ValidateAlter checks an alter request, collecting every problem. Dropping
// or renaming id, created_at or updated_at is always refused.
func ValidateAlter(req *AlterRequest) error {
	var fields []internal.FieldError
	for i, c := range req.AddColumns {
		path := fmt.Sprintf("addColumns[%d]", i)
		fields = append(fields, validateColumn(path, c)...)
		if IsManagedColumn(c.Name) {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("%s is managed automatically", c.Name)))
		}
		if !c.Nullable && c.DefaultValue == nil {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("added column %q must be nullable or carry a default", c.Name)))
		}
	}
	for i, name := range req.DropColumns {
		path := fmt.Sprintf("dropColumns[%d]", i)
		if !ValidIdentifier(name) {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("invalid column name %q", name)))
		} else if name != "deleted_at" && IsManagedColumn(name) {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("cannot drop managed column %s", name)))
		}
	}
	for i, rc := range req.RetypeColumns {
		path := fmt.Sprintf("retypeColumns[%d]", i)
		if !ValidIdentifier(rc.Name) {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("invalid column name %q", rc.Name)))
		} else if IsManagedColumn(rc.Name) {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("cannot retype managed column %s", rc.Name)))
		}
		if !rc.Type.Valid() || rc.Type == internal.TypeReference {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("unsupported target type %q", rc.Type)))
		}
	}
	for i, rn := range req.RenameColumns {
		path := fmt.Sprintf("renameColumns[%d]", i)
		if !ValidIdentifier(rn.From) || !ValidIdentifier(rn.To) {
			fields = append(fields, internal.NewFieldError(path, fmt.Sprintf("invalid rename %q to %q", rn.From, rn.To)))
		} else if IsManagedColumn(rn.From) || IsManagedColumn(rn.To) {
			fields = append(fields, internal.NewFieldError(path, "cannot rename managed columns"))
		}
	}
	if len(fields) > 0 {
		return internal.NewValidationError(fields...)
	}
	return nil
}

// AlterTableSQL renders one ALTER statement per change for a validated
// request, in add, drop, retype, rename order.
func AlterTableSQL(tenantID int64, table string, req *AlterRequest) []string {
	quoted := pq.QuoteIdentifier(table)
	var res []string
	for _, c := range req.AddColumns {
		res = append(res, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoted, columnSQL(tenantID, c)))
	}
	for _, name := range req.DropColumns {
		res = append(res, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoted, pq.QuoteIdentifier(name)))
	}
	for _, rc := range req.RetypeColumns {
		sqlType := logicalTypeToSQLType(rc.Type)
		res = append(res, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", quoted, pq.QuoteIdentifier(rc.Name), sqlType, pq.QuoteIdentifier(rc.Name), sqlType))
	}
	for _, rn := range req.RenameColumns {
		res = append(res, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quoted, pq.QuoteIdentifier(rn.From), pq.QuoteIdentifier(rn.To)))
	}
	return res
}

// DropTableSQL renders the DROP TABLE statement.
func DropTableSQL(table string) string {
	return "DROP TABLE " + pq.QuoteIdentifier(table)
}

// RenameTableSQL renders the physical rename statement.
func RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", pq.QuoteIdentifier(from), pq.QuoteIdentifier(to))
}

// IndexName builds the canonical index name for a tenant's table columns.
func IndexName(tenantID int64, table string, columns []string) string {
	return fmt.Sprintf("idx_%d_%s_%s", tenantID, table, strings.Join(columns, "_"))
}

// CreateIndexSQL renders the CREATE INDEX statement and returns it with the
// generated index name.
func CreateIndexSQL(tenantID int64, table string, columns []string, unique bool) (string, string, error) {
	if len(columns) == 0 {
		return "", "", internal.NewValidationError(internal.NewFieldError("columns", "at least one column is required"))
	}
	var fields []internal.FieldError
	for i, column := range columns {
		if !ValidIdentifier(column) {
			fields = append(fields, internal.NewFieldError(fmt.Sprintf("columns[%d]", i), fmt.Sprintf("invalid column name %q", column)))
		}
	}
	if len(fields) > 0 {
		return "", "", internal.NewValidationError(fields...)
	}
	name := IndexName(tenantID, table, columns)
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted = append(quoted, pq.QuoteIdentifier(column))
	}
	var sql strings.Builder
	sql.WriteString("CREATE ")
	if unique {
		sql.WriteString("UNIQUE ")
	}
	sql.WriteString("INDEX ")
	sql.WriteString(pq.QuoteIdentifier(name))
	sql.WriteString(" ON ")
	sql.WriteString(pq.QuoteIdentifier(internal.ResolvePhysicalName(tenantID, table)))
	sql.WriteString(" (")
	sql.WriteString(strings.Join(quoted, ", "))
	sql.WriteString(")")
	return sql.String(), name, nil
}

// DropIndexSQL renders the DROP INDEX statement.
func DropIndexSQL(name string) string {
	return "DROP INDEX " + pq.QuoteIdentifier(name)
}
