// TableSpec and friends live here so backends and the warehouse schema can
// share them without circular imports.
package storage

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
	// Policy is the conflict rule every Upsert into this table uses. The
	// unique constraint backing Policy.KeyColumns is declared through
	// Constraints.
	Policy ConflictPolicy `json:"policy"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // e.g. "serial"; backends translate to their identity type
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ColumnNames returns the declared column names in order, excluding the
// surrogate primary key.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}
