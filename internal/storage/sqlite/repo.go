// Package sqlite implements storage.Repository on modernc.org/sqlite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type; "timestamp" columns get TEXT
//     affinity and values are stored as RFC3339Nano UTC strings for reliable
//     round-trip behavior and easy debugging.
//   - INSERT OR IGNORE implements the insert-ignore policy and relies on the
//     UNIQUE constraints declared in the table spec.
//   - The merge policy uses the native upsert clause
//     (ON CONFLICT(...) DO UPDATE SET col = excluded.col).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"playmart/internal/storage"
)

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// The pipeline serializes writes; a single connection avoids SQLITE_BUSY
	// on in-memory databases where each connection is its own database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates the tables with IF NOT EXISTS semantics, so ETL
// startup stays idempotent.
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
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(t.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

// maxBindVars stays conservative: older SQLite builds cap host parameters at
// 999 per statement.
const maxBindVars = 999

// Upsert writes rows under the table's conflict policy.
//
// Returned count is rows actually written; OR IGNOREd conflicts do not
// count. Statements are chunked to respect the bind-variable cap.
func (r *Repo) Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: upsert %s: no columns", table)
	}

	chunk := maxBindVars / len(columns)
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
	var b strings.Builder

	switch policy.Kind {
	case storage.InsertIgnore:
		b.WriteString("INSERT OR IGNORE INTO ")
	case storage.UpsertMerge, storage.Append:
		b.WriteString("INSERT INTO ")
	default:
		return 0, fmt.Errorf("sqlite: upsert %s: unsupported policy kind %q", table, policy.Kind)
	}

	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("sqlite: upsert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}

	if policy.Kind == storage.UpsertMerge {
		if len(policy.KeyColumns) == 0 || len(policy.UpdateColumns) == 0 {
			return 0, fmt.Errorf("sqlite: upsert %s: merge policy needs key and update columns", table)
		}
		b.WriteString(" ON CONFLICT(")
		b.WriteString(joinIdentList(policy.KeyColumns))
		b.WriteString(") DO UPDATE SET ")
		for i, c := range policy.UpdateColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sqlIdent(c))
			b.WriteString(" = excluded.")
			b.WriteString(sqlIdent(c))
		}
	}

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid
		// and auto-generates values, which is exactly what a serial
		// surrogate key needs.
		parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey.Name)))
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqlType(c.Type))
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("sqlite: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// sqlType maps the portable column types from the warehouse schema onto
// SQLite affinities.
func sqlType(portable string) string {
	switch portable {
	case "text":
		return "TEXT"
	case "integer", "bigint":
		return "INTEGER"
	case "double":
		return "REAL"
	case "timestamp":
		// TEXT affinity; values are bound as RFC3339Nano strings.
		return "TEXT"
	default:
		return portable
	}
}

// bindValue converts Go values to their SQLite storage form.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}
