// Package species holds reference gene synonym tables and ortholog tables
// and infers the species of a dataset from its gene symbols.
package species

import (
	"slices"
	"sync"
)

// Unknown is the species of a dataset no reference table covers.
const Unknown = "Unknown"

// Table maps the gene symbols of one species to their synonyms.
type Table struct {
	Name     string
	Code     string
	Synonyms map[string][]string
}

// Covers reports whether symbol has an entry in the table.
func (t *Table) Covers(symbol string) bool {
	_, ok := t.Synonyms[symbol]
	return ok
}

// Ortholog is one target-species gene and its percent identity.
type Ortholog struct {
	Gene     string
	Identity float64
}

// Orthologs maps source-species genes to target-species genes. Code is the
// two-character prefix selecting the table in a query ("hs" in "hs:TP53").
type Orthologs struct {
	Code  string
	From  string
	To    string
	Pairs map[string][]Ortholog
}

// Targets returns the target-species genes a source gene maps to.
func (o *Orthologs) Targets(gene string) []Ortholog {
	return o.Pairs[gene]
}

// Registry is the set of reference tables known to the server.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tables    []*Table
	orthologs map[string]*Orthologs
}

// NewRegistry returns a registry holding tables.
func NewRegistry(tables ...*Table) *Registry {
	r := &Registry{orthologs: make(map[string]*Orthologs)}
	for _, t := range tables {
		r.Add(t)
	}
	return r
}

// Add registers a synonym table, replacing one with the same name.
func (r *Registry) Add(t *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.IndexFunc(r.tables, func(x *Table) bool { return x.Name == t.Name }); i >= 0 {
		r.tables[i] = t
		return
	}
	r.tables = append(r.tables, t)
}

// AddOrthologs registers an ortholog table under its code.
func (r *Registry) AddOrthologs(o *Orthologs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orthologs[o.Code] = o
}

// Table returns the synonym table of a species.
func (r *Registry) Table(name string) (*Table, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Orthologs returns the ortholog table selected by code.
func (r *Registry) Orthologs(code string) (*Orthologs, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orthologs[code]
	return o, ok
}

// Infer returns the species whose table covers the largest fraction of genes,
// provided the fraction exceeds one half, and the fraction itself. Otherwise
// it returns Unknown. Ties go to the table registered first.
func (r *Registry) Infer(genes []string) (string, float64) {
	if r == nil || len(genes) == 0 {
		return Unknown, 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, bestFrac := Unknown, 0.0
	for _, t := range r.tables {
		n := 0
		for _, g := range genes {
			if t.Covers(g) {
				n++
			}
		}
		frac := float64(n) / float64(len(genes))
		if frac > 0.5 && frac > bestFrac {
			best, bestFrac = t.Name, frac
		}
	}
	return best, bestFrac
}
