// Package postgres implements storage.Repository on jackc/pgx.
//
// Conflict policies translate directly:
//   - insert_ignore: INSERT ... ON CONFLICT (<key>) DO NOTHING
//   - upsert_merge:  INSERT ... ON CONFLICT (<key>) DO UPDATE SET
//     <col> = EXCLUDED.<col> for each mutable column
//   - append:        plain INSERT
//
// Both rely on the UNIQUE constraints declared in the table spec.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"playmart/internal/storage"
)

type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New builds a pooled connection and pings it, so an unreachable sink fails
// at run start rather than on the first write.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+sqlIdent(t.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

// maxBindParams is the Postgres wire-protocol limit on bind parameters per
// statement.
const maxBindParams = 65535

func (r *Repo) Upsert(ctx context.Context, table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: upsert %s: no columns", table)
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
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func buildUpsertSQL(table string, columns []string, rows [][]any, policy storage.ConflictPolicy) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("postgres: upsert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$")
			b.WriteString(strconv.Itoa(len(args) + j + 1))
		}
		b.WriteString(")")
		args = append(args, row...)
	}

	switch policy.Kind {
	case storage.InsertIgnore:
		if len(policy.KeyColumns) == 0 {
			return "", nil, fmt.Errorf("postgres: upsert %s: insert_ignore policy needs key columns", table)
		}
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdentList(policy.KeyColumns))
		b.WriteString(") DO NOTHING")

	case storage.UpsertMerge:
		if len(policy.KeyColumns) == 0 || len(policy.UpdateColumns) == 0 {
			return "", nil, fmt.Errorf("postgres: upsert %s: merge policy needs key and update columns", table)
		}
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdentList(policy.KeyColumns))
		b.WriteString(") DO UPDATE SET ")
		for i, c := range policy.UpdateColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sqlIdent(c))
			b.WriteString(" = EXCLUDED.")
			b.WriteString(sqlIdent(c))
		}

	case storage.Append:
		// plain insert

	default:
		return "", nil, fmt.Errorf("postgres: upsert %s: unsupported policy kind %q", table, policy.Kind)
	}

	return b.String(), args, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", sqlIdent(t.PrimaryKey.Name)))
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
			return "", fmt.Errorf("postgres: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func sqlType(portable string) string {
	switch portable {
	case "text":
		return "TEXT"
	case "integer":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "double":
		return "DOUBLE PRECISION"
	case "timestamp":
		return "TIMESTAMPTZ"
	default:
		return portable
	}
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
