package dataset

import "fmt"

// AttrKind is the value type of an attribute.
type AttrKind uint8

const (
	AttrStrings AttrKind = iota + 1
	AttrFloats
	AttrTable
)

func (k AttrKind) String() string {
	switch k {
	case AttrStrings:
		return "strings"
	case AttrFloats:
		return "floats"
	case AttrTable:
		return "table"
	default:
		return fmt.Sprintf("attrkind(%d)", uint8(k))
	}
}

// Attr is a row or column attribute. Tables hold named float columns of the
// same length, e.g. one AUC column per regulon.
type Attr struct {
	Kind    AttrKind    `json:"kind"`
	Strings []string    `json:"strings,omitempty"`
	Floats  []float32   `json:"floats,omitempty"`
	Columns []string    `json:"columns,omitempty"`
	Table   [][]float32 `json:"table,omitempty"`
}

// Strings builds a string attribute.
func Strings(v []string) *Attr { return &Attr{Kind: AttrStrings, Strings: v} }

// Floats builds a numeric attribute.
func Floats(v []float32) *Attr { return &Attr{Kind: AttrFloats, Floats: v} }

// Table builds a table attribute; values[i] is the column named columns[i].
func Table(columns []string, values [][]float32) *Attr {
	return &Attr{Kind: AttrTable, Columns: columns, Table: values}
}

// Len returns the number of entries (rows of a table).
func (a *Attr) Len() int {
	switch a.Kind {
	case AttrStrings:
		return len(a.Strings)
	case AttrFloats:
		return len(a.Floats)
	case AttrTable:
		if len(a.Table) == 0 {
			return 0
		}
		return len(a.Table[0])
	default:
		return 0
	}
}

// Column returns the table column named name.
func (a *Attr) Column(name string) ([]float32, bool) {
	if a == nil || a.Kind != AttrTable {
		return nil, false
	}
	for i, c := range a.Columns {
		if c == name {
			return a.Table[i], true
		}
	}
	return nil, false
}

func (a *Attr) validate(n int) error {
	switch a.Kind {
	case AttrStrings, AttrFloats:
		if a.Len() != n {
			return fmt.Errorf("length %d, want %d", a.Len(), n)
		}
	case AttrTable:
		if len(a.Columns) != len(a.Table) {
			return fmt.Errorf("%d column names for %d columns", len(a.Columns), len(a.Table))
		}
		for i, col := range a.Table {
			if len(col) != n {
				return fmt.Errorf("column %q length %d, want %d", a.Columns[i], len(col), n)
			}
		}
	default:
		return fmt.Errorf("unknown kind %d", a.Kind)
	}
	return nil
}
