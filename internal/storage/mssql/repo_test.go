package mssql

import (
	"strings"
	"testing"

	"playmart/internal/storage"
	"playmart/internal/warehouse"
)

func TestBuildUpsertSQL_MergeNotMatched(t *testing.T) {
	t.Parallel()

	spec := warehouse.Artists()
	rows := [][]any{
		{"A1", "n1", nil, nil, nil},
		{"A2", "n2", "loc", 1.0, 2.0},
	}
	q, args, err := buildUpsertSQL(spec.Name, spec.ColumnNames(), rows, spec.Policy)
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}

	for _, frag := range []string{
		"MERGE INTO [artists] AS t USING (VALUES (@p1, @p2, @p3, @p4, @p5), (@p6, @p7, @p8, @p9, @p10)) AS s",
		"([artist_id], [name], [location], [latitude], [longitude])",
		"ON t.[artist_id] = s.[artist_id]",
		"WHEN NOT MATCHED THEN INSERT ([artist_id], [name], [location], [latitude], [longitude]) VALUES (s.[artist_id], s.[name], s.[location], s.[latitude], s.[longitude]);",
	} {
		if !strings.Contains(q, frag) {
			t.Errorf("sql missing %q:\n%s", frag, q)
		}
	}
	// insert_ignore never updates matched rows.
	if strings.Contains(q, "WHEN MATCHED") {
		t.Fatalf("insert_ignore produced an update branch:\n%s", q)
	}
	if len(args) != 10 || args[0] != "A1" || args[2] != nil {
		t.Fatalf("args=%v", args)
	}
}

func TestBuildUpsertSQL_MergeMatched(t *testing.T) {
	t.Parallel()

	spec := warehouse.Users()
	rows := [][]any{{int64(9), "f", "l", "M", "paid"}}
	q, _, err := buildUpsertSQL(spec.Name, spec.ColumnNames(), rows, spec.Policy)
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}
	if !strings.Contains(q, "WHEN MATCHED THEN UPDATE SET t.[level] = s.[level]") {
		t.Fatalf("sql=%s", q)
	}
	if strings.Contains(q, "t.[first_name] = s.[first_name]") {
		t.Fatalf("identity column in update set: %s", q)
	}
}

func TestBuildUpsertSQL_CompositeKey(t *testing.T) {
	t.Parallel()

	spec := warehouse.Songplays()
	rows := [][]any{{nil, int64(1), "free", nil, nil, int64(2), nil, nil}}
	q, _, err := buildUpsertSQL(spec.Name, spec.ColumnNames(), rows, spec.Policy)
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}
	want := "ON t.[start_time] = s.[start_time] AND t.[user_id] = s.[user_id] AND t.[session_id] = s.[session_id]"
	if !strings.Contains(q, want) {
		t.Fatalf("sql missing %q:\n%s", want, q)
	}
}

func TestBuildUpsertSQL_Append(t *testing.T) {
	t.Parallel()

	q, args, err := buildUpsertSQL("events", []string{"a", "b"}, [][]any{{1, 2}, {3, 4}}, storage.ConflictPolicy{Kind: storage.Append})
	if err != nil {
		t.Fatalf("buildUpsertSQL() err=%v", err)
	}
	if q != "INSERT INTO [events] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4);" {
		t.Fatalf("sql=%s", q)
	}
	if len(args) != 4 {
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
		{"ragged_row", []string{"a", "b"}, [][]any{{1, 2, 3}}, storage.ConflictPolicy{Kind: storage.Append}},
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
		"IF OBJECT_ID(N'songplays', N'U') IS NULL CREATE TABLE [songplays]",
		"[songplay_id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[start_time] DATETIME2 NOT NULL",
		"UNIQUE ([start_time], [user_id], [session_id])",
	} {
		if !strings.Contains(ddl, frag) {
			t.Errorf("ddl missing %q:\n%s", frag, ddl)
		}
	}
}

func TestBuildCreateTableSQL_KeyTextWidth(t *testing.T) {
	t.Parallel()

	// song_id backs a unique index so it must be indexable; title stays MAX.
	ddl, err := buildCreateTableSQL(warehouse.Songs())
	if err != nil {
		t.Fatalf("buildCreateTableSQL() err=%v", err)
	}
	if !strings.Contains(ddl, "[song_id] NVARCHAR(450) NOT NULL") {
		t.Fatalf("key text column not width-capped:\n%s", ddl)
	}
	if !strings.Contains(ddl, "[title] NVARCHAR(MAX) NOT NULL") {
		t.Fatalf("non-key text column not MAX:\n%s", ddl)
	}
}

func TestSQLIdent(t *testing.T) {
	t.Parallel()

	if got := sqlIdent("us]ers"); got != "[us]]ers]" {
		t.Fatalf("sqlIdent()=%s", got)
	}
}
