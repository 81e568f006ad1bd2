package search

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"golang.org/x/text/cases"
)

var (
	// ErrUnsupportedCategory is returned by Update for categories that can
	// only change through a full rebuild.
	ErrUnsupportedCategory = errors.New("search: category cannot be updated incrementally")
	// ErrUnavailable is returned for cross-species queries without a matching
	// ortholog table.
	ErrUnavailable = errors.New("search: ortholog table unavailable")
)

// AllClusters is the cluster id of the "All Clusters" pseudo-cluster.
const AllClusters = -1

// AllClustersLabel is the indexed label of the AllClusters pseudo-cluster.
const AllClustersLabel = "All Clusters"

// Key identifies an indexed term. Clustering scopes cluster-derived terms so
// that equal labels in different clusterings stay distinct; it is -1 for
// other kinds.
type Key struct {
	Folded     string `json:"f"`
	Term       string `json:"t"`
	Kind       Kind   `json:"k"`
	Clustering int    `json:"c"`
}

// Result is what a term resolves to. Name is set for features addressed by
// name (genes, regulons, annotations, metrics); cluster-derived results use
// the id pair instead.
type Result struct {
	Name         string `json:"n,omitempty"`
	ClusteringID int    `json:"g"`
	ClusterID    int    `json:"i"`
}

func named(name string) Result { return Result{Name: name, ClusteringID: -1, ClusterID: -1} }

func cluster(clusteringID, clusterID int) Result {
	return Result{ClusteringID: clusteringID, ClusterID: clusterID}
}

// Entry is one indexed term and every result it maps to.
type Entry struct {
	Key     Key      `json:"k"`
	Results []Result `json:"r"`
}

// Index is the searchable feature index of one dataset.
// It is safe for concurrent use; Update may run concurrently with Search.
type Index struct {
	mu      sync.RWMutex
	species string
	genes   []string
	entries []Entry
}

// Species returns the species the index was built for.
func (idx *Index) Species() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.species
}

// NumGenes returns the number of dataset genes at build time.
func (idx *Index) NumGenes() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.genes)
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Lookup returns the results of an exact key.
func (idx *Index) Lookup(k Key) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	i, ok := slices.BinarySearchFunc(idx.entries, k, func(e Entry, k Key) int { return compareKeys(e.Key, k) })
	if !ok {
		return nil
	}
	return slices.Clone(idx.entries[i].Results)
}

func compareKeys(a, b Key) int {
	return cmp.Or(
		cmp.Compare(a.Folded, b.Folded),
		cmp.Compare(a.Term, b.Term),
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Clustering, b.Clustering),
	)
}

// shard collects the entries of one pass.
type shard struct {
	fold    cases.Caser
	byKey   map[Key]int
	entries []Entry
}

func newShard() *shard {
	return &shard{fold: cases.Fold(), byKey: make(map[Key]int)}
}

func (s *shard) add(term string, kind Kind, clustering int, r Result) {
	if term == "" {
		return
	}
	k := Key{Folded: s.fold.String(term), Term: term, Kind: kind, Clustering: clustering}
	if i, ok := s.byKey[k]; ok {
		if !slices.Contains(s.entries[i].Results, r) {
			s.entries[i].Results = append(s.entries[i].Results, r)
		}
		return
	}
	s.byKey[k] = len(s.entries)
	s.entries = append(s.entries, Entry{Key: k, Results: []Result{r}})
}

// merge combines shards, in order, into a sorted entry list.
func merge(shards ...[]Entry) []Entry {
	byKey := make(map[Key]int)
	var out []Entry
	for _, entries := range shards {
		for _, e := range entries {
			if i, ok := byKey[e.Key]; ok {
				for _, r := range e.Results {
					if !slices.Contains(out[i].Results, r) {
						out[i].Results = append(out[i].Results, r)
					}
				}
				continue
			}
			byKey[e.Key] = len(out)
			out = append(out, Entry{Key: e.Key, Results: slices.Clone(e.Results)})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return compareKeys(a.Key, b.Key) })
	return out
}
