// Package mssql implements storage.Repository on SQL Server.
//
// SQL Server has no ON CONFLICT clause; both conflict policies are expressed
// as MERGE over a VALUES table source:
//   - insert_ignore: WHEN NOT MATCHED THEN INSERT
//   - upsert_merge:  additionally WHEN MATCHED THEN UPDATE for the mutable
//     columns
//
// MERGE rejects a source that hits the same target row twice, so callers
// must deliver at most one row per identity key per batch. The dedup stage
// guarantees that for every table.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"playmart/internal/storage"
)

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", t.Name, sqlIdent(t.Name))
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

// maxBindParams stays under SQL Server's 2100-parameter statement limit.
const maxBindParams = 2000

func (r *Repo) Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: upsert %s: no columns", table)
	}

	chunk := maxBindParams / len(columns)
	if chunk < 1 {
		chunk = 1
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		n, err := r.upsertChunk(ctx, table, columns, rows[start:end], policy)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Repo) upsertChunk(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	q, args, err := buildUpsertSQL(table, columns, rows, policy)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("mssql: upsert %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildUpsertSQL(table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (string, []any, error) {
	args := make([]any, 0, len(rows)*len(columns))

	var values strings.Builder
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mssql: upsert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("(")
		for j := range row {
			if j > 0 {
				values.WriteString(", ")
			}
			values.WriteString("@p")
			values.WriteString(strconv.Itoa(len(args) + j + 1))
		}
		values.WriteString(")")
		args = append(args, row...)
	}

	var q string
	switch policy.Kind {
	case storage.Append:
		q = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES %s;",
			sqlIdent(table), joinIdentList(columns), values.String(),
		)

	case storage.InsertIgnore, storage.UpsertMerge:
		if len(policy.KeyColumns) == 0 {
			return "", nil, fmt.Errorf("mssql: upsert %s: policy %q needs key columns", table, policy.Kind)
		}

		var on []string
		for _, k := range policy.KeyColumns {
			on = append(on, fmt.Sprintf("t.%s = s.%s", sqlIdent(k), sqlIdent(k)))
		}

		var srcCols []string
		for _, c := range columns {
			srcCols = append(srcCols, "s."+sqlIdent(c))
		}

		var b strings.Builder
		fmt.Fprintf(&b, "MERGE INTO %s AS t USING (VALUES %s) AS s (%s) ON %s",
			sqlIdent(table), values.String(), joinIdentList(columns), strings.Join(on, " AND "))

		if policy.Kind == storage.UpsertMerge {
			if len(policy.UpdateColumns) == 0 {
				return "", nil, fmt.Errorf("mssql: upsert %s: merge policy needs update columns", table)
			}
			var set []string
			for _, c := range policy.UpdateColumns {
				set = append(set, fmt.Sprintf("t.%s = s.%s", sqlIdent(c), sqlIdent(c)))
			}
			fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(set, ", "))
		}

		fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
			joinIdentList(columns), strings.Join(srcCols, ", "))
		q = b.String()

	default:
		return "", nil, fmt.Errorf("mssql: upsert %s: unsupported policy kind %q", table, policy.Kind)
	}

	return q, args, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("mssql: count %s: %w", table, err)
	}
	return n, nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	keyCols := map[string]bool{}
	for _, con := range t.Constraints {
		for _, c := range con.Columns {
			keyCols[c] = true
		}
	}

	var parts []string

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", sqlIdent(t.PrimaryKey.Name)))
	}

	for _, c := range t.Columns {
		parts = append(parts, columnDDL(c, keyCols[c.Name]))
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("mssql: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n  %s\n);",
		t.Name, sqlIdent(t.Name), strings.Join(parts, ",\n  "),
	), nil
}

func columnDDL(c storage.ColumnSpec, isKey bool) string {
	col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqlType(c.Type, isKey))
	if !c.Nullable {
		col += " NOT NULL"
	}
	return col
}

// sqlType maps the portable column types onto SQL Server types. Text columns
// that participate in a unique constraint must stay under the 900-byte index
// key cap, so they become NVARCHAR(450); other text is NVARCHAR(MAX).
func sqlType(portable string, isKey bool) string {
	switch portable {
	case "text":
		if isKey {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	case "integer":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "double":
		return "FLOAT"
	case "timestamp":
		return "DATETIME2"
	default:
		return portable
	}
}

func sqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}
