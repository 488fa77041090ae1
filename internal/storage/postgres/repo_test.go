package postgres

import (
	"strings"
	"testing"

	"playmart/internal/storage"
	"playmart/internal/warehouse"
)

func TestBuildUpsertSQL_InsertIgnore(t *testing.T) {
	t.Parallel()

	spec := warehouse.Songs()
	rows := [][]any{
		{"S1", "a", "A1", 2018, 1.0},
		{"S2", "b", "A2", 2019, 2.0},
	}
	q, args, err := buildUpsertSQL(spec.Name, spec.ColumnNames(), rows, spec.Policy)
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}

	want := `INSERT INTO "songs" ("song_id", "title", "artist_id", "year", "duration") VALUES ` +
		`($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10) ON CONFLICT ("song_id") DO NOTHING`
	if q != want {
		t.Fatalf("sql:\n got %s\nwant %s", q, want)
	}
	if len(args) != 10 || args[0] != "S1" || args[9] != 2.0 {
		t.Fatalf("args=%v", args)
	}
}

func TestBuildUpsertSQL_Merge(t *testing.T) {
	t.Parallel()

	spec := warehouse.Users()
	rows := [][]any{{int64(9), "f", "l", "M", "paid"}}
	q, _, err := buildUpsertSQL(spec.Name, spec.ColumnNames(), rows, spec.Policy)
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}
	if !strings.HasSuffix(q, `ON CONFLICT ("user_id") DO UPDATE SET "level" = EXCLUDED."level"`) {
		t.Fatalf("sql=%s", q)
	}
	if strings.Contains(q, `"first_name" = EXCLUDED`) {
		t.Fatalf("identity column in update set: %s", q)
	}
}

func TestBuildUpsertSQL_Append(t *testing.T) {
	t.Parallel()

	q, args, err := buildUpsertSQL("events", []string{"a", "b"}, [][]any{{1, 2}}, storage.ConflictPolicy{Kind: storage.Append})
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}
	if q != `INSERT INTO "events" ("a", "b") VALUES ($1, $2)` {
		t.Fatalf("sql=%s", q)
	}
	if len(args) != 2 {
		t.Fatalf("args=%v", args)
	}
}

func TestBuildUpsertSQL_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		cols   []string
		rows   [][]any
		policy storage.ConflictPolicy
	}{
		{"ragged_row", []string{"a", "b"}, [][]any{{1}}, storage.ConflictPolicy{Kind: storage.Append}},
		{"ignore_without_keys", []string{"a"}, [][]any{{1}}, storage.ConflictPolicy{Kind: storage.InsertIgnore}},
		{"merge_without_updates", []string{"a"}, [][]any{{1}}, storage.ConflictPolicy{Kind: storage.UpsertMerge, KeyColumns: []string{"a"}}},
		{"unknown_policy", []string{"a"}, [][]any{{1}}, storage.ConflictPolicy{Kind: "bogus"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := buildUpsertSQL("t", tc.cols, tc.rows, tc.policy); err == nil {
				t.Fatalf("buildUpsertSQL() succeeded")
			}
		})
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateTableSQL(warehouse.Songplays())
	if err != nil {
		t.Fatalf("buildCreateTableSQL() err=%v", err)
	}
	for _, frag := range []string{
		`CREATE TABLE IF NOT EXISTS "songplays"`,
		`"songplay_id" BIGSERIAL PRIMARY KEY`,
		`"start_time" TIMESTAMPTZ NOT NULL`,
		`"user_id" BIGINT NOT NULL`,
		`"song_id" TEXT`,
		`UNIQUE ("start_time", "user_id", "session_id")`,
	} {
		if !strings.Contains(ddl, frag) {
			t.Errorf("ddl missing %q:\n%s", frag, ddl)
		}
	}
	if strings.Contains(ddl, `"song_id" TEXT NOT NULL`) {
		t.Errorf("nullable column declared NOT NULL:\n%s", ddl)
	}

	if _, err := buildCreateTableSQL(storage.TableSpec{Name: " "}); err == nil {
		t.Fatalf("blank table name accepted")
	}
	bad := warehouse.Songs()
	bad.Constraints = []storage.ConstraintSpec{{Kind: "check", Columns: []string{"year"}}}
	if _, err := buildCreateTableSQL(bad); err == nil {
		t.Fatalf("unsupported constraint kind accepted")
	}
}

func TestSQLType(t *testing.T) {
	t.Parallel()

	got := map[string]string{
		"text":      sqlType("text"),
		"integer":   sqlType("integer"),
		"bigint":    sqlType("bigint"),
		"double":    sqlType("double"),
		"timestamp": sqlType("timestamp"),
	}
	want := map[string]string{
		"text":      "TEXT",
		"integer":   "INTEGER",
		"bigint":    "BIGINT",
		"double":    "DOUBLE PRECISION",
		"timestamp": "TIMESTAMPTZ",
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("sqlType(%s)=%s, want %s", k, got[k], w)
		}
	}
}

func TestSQLIdent(t *testing.T) {
	t.Parallel()

	if got := sqlIdent(`us"ers`); got != `"us""ers"` {
		t.Fatalf("sqlIdent()=%s", got)
	}
}
