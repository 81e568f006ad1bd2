package search

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/hupe1980/scopeserve/species"
)

// FilterAll is the category filter returning every group.
const FilterAll = "all"

// Separator splits a cross-species query into ortholog code and term.
const Separator = ":"

// Resolver maps cluster-derived results to their current display labels.
type Resolver interface {
	ClusteringName(clusteringID int) (string, bool)
	ClusterName(clusteringID, clusterID int) (string, bool)
}

// Options configures a query.
type Options struct {
	// Filter restricts the returned groups to one category; "" or FilterAll
	// returns every group.
	Filter string
	// Registry supplies ortholog tables for cross-species queries.
	Registry *species.Registry
	// Resolver resolves cluster-derived results. Without one, such results
	// are dropped.
	Resolver Resolver
	// MaxResults caps the matches per category. Zero is unlimited.
	MaxResults int
}

// Match is one aggregated search hit.
type Match struct {
	Feature     string  `json:"feature"`
	Description string  `json:"description,omitempty"`
	Kind        Kind    `json:"kind"`
	Clustering  int     `json:"clusteringId"`
	Cluster     int     `json:"clusterId"`
	Identity    float64 `json:"identity,omitempty"`
}

// CategoryResults groups the matches of one display category.
type CategoryResults struct {
	Category string  `json:"category"`
	Matches  []Match `json:"matches"`
}

// rank orders matches: type bucket, then cost, then surface term.
type rank struct {
	bucket int
	cost   int
	term   string
}

func (r rank) compare(o rank) int {
	return cmp.Or(cmp.Compare(r.bucket, o.bucket), cmp.Compare(r.cost, o.cost), cmp.Compare(r.term, o.term))
}

// cost of a matching term: 0 exact, 1 casefold-equal, 2 prefix/suffix,
// 3 casefold prefix/suffix, 4 substring, 5 casefold substring.
func cost(term, folded, q, fq string) int {
	switch {
	case term == q:
		return 0
	case folded == fq:
		return 1
	case strings.HasPrefix(term, q) || strings.HasSuffix(term, q):
		return 2
	case strings.HasPrefix(folded, fq) || strings.HasSuffix(folded, fq):
		return 3
	case strings.Contains(term, q):
		return 4
	default:
		return 5
	}
}

func matches(folded, fq string, single bool) bool {
	if single {
		return folded == fq
	}
	return strings.Contains(folded, fq)
}

type groupKey struct {
	kind   Kind
	result Result
}

type group struct {
	key      groupKey
	best     rank
	terms    []string
	ortholog bool
	identity float64
}

func (g *group) add(term string, r rank) {
	if !slices.Contains(g.terms, term) {
		g.terms = append(g.terms, term)
	}
	if g.best.term == "" || r.compare(g.best) < 0 {
		g.best = r
	}
}

// Search matches query against idx and returns the aggregated results grouped
// by category, categories in lexicographic order.
func Search(idx *Index, query string, opts Options) ([]CategoryResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if code, term, ok := crossSpecies(query); ok {
		o, found := opts.Registry.Orthologs(code)
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnavailable, code)
		}
		return collect(searchOrthologs(idx, o, term), opts), nil
	}

	fq := cases.Fold().String(query)
	single := utf8.RuneCountInString(fq) == 1

	groups := make(map[groupKey]*group)
	idx.mu.RLock()
	for _, e := range idx.entries {
		if !matches(e.Key.Folded, fq, single) {
			continue
		}
		r := rank{bucket: e.Key.Kind.bucket(), cost: cost(e.Key.Term, e.Key.Folded, query, fq), term: e.Key.Term}
		kind := e.Key.Kind
		if kind == KindClustering {
			kind = KindCluster
		}
		for _, res := range e.Results {
			gk := groupKey{kind: kind, result: res}
			g, ok := groups[gk]
			if !ok {
				g = &group{key: gk}
				groups[gk] = g
			}
			g.add(e.Key.Term, r)
		}
	}
	idx.mu.RUnlock()

	return collect(groups, opts), nil
}

// crossSpecies splits "hs:TP53" into ("hs", "TP53"). The code is two ASCII
// letters and the term must start with a letter, so ontology ids such as
// "CL:0000540" stay ordinary queries.
func crossSpecies(q string) (string, string, bool) {
	code, term, ok := strings.Cut(q, Separator)
	term = strings.TrimSpace(term)
	if !ok || len(code) != 2 || term == "" {
		return "", "", false
	}
	if !isLetter(rune(code[0])) || !isLetter(rune(code[1])) {
		return "", "", false
	}
	if r, _ := utf8.DecodeRuneInString(term); !unicode.IsLetter(r) {
		return "", "", false
	}
	return strings.ToLower(code), term, true
}

func isLetter(r rune) bool { return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') }

// searchOrthologs matches term against the source genes of o and groups hits
// by the target gene present in the dataset.
func searchOrthologs(idx *Index, o *species.Orthologs, term string) map[groupKey]*group {
	fold := cases.Fold()
	fq := fold.String(term)
	single := utf8.RuneCountInString(fq) == 1

	idx.mu.RLock()
	present := make(map[string]struct{}, len(idx.genes))
	for _, g := range idx.genes {
		present[g] = struct{}{}
	}
	idx.mu.RUnlock()

	groups := make(map[groupKey]*group)
	for src, targets := range o.Pairs {
		folded := fold.String(src)
		if !matches(folded, fq, single) {
			continue
		}
		r := rank{bucket: KindGene.bucket(), cost: cost(src, folded, term, fq), term: src}
		for _, t := range targets {
			if _, ok := present[t.Gene]; !ok {
				continue
			}
			gk := groupKey{kind: KindGene, result: named(t.Gene)}
			g, ok := groups[gk]
			if !ok {
				g = &group{key: gk}
				groups[gk] = g
			}
			g.add(src, r)
			g.ortholog = true
			g.identity = max(g.identity, t.Identity)
		}
	}
	return groups
}

func collect(groups map[groupKey]*group, opts Options) []CategoryResults {
	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		slices.Sort(g.terms)
		ordered = append(ordered, g)
	}
	slices.SortFunc(ordered, func(a, b *group) int {
		return cmp.Or(
			a.best.compare(b.best),
			cmp.Compare(a.key.kind, b.key.kind),
			cmp.Compare(a.key.result.Name, b.key.result.Name),
			cmp.Compare(a.key.result.ClusteringID, b.key.result.ClusteringID),
			cmp.Compare(a.key.result.ClusterID, b.key.result.ClusterID),
		)
	})

	byCategory := make(map[string]*CategoryResults)
	for _, g := range ordered {
		category, m, ok := resolve(g, opts.Resolver)
		if !ok {
			continue
		}
		if opts.Filter != "" && opts.Filter != FilterAll && opts.Filter != category {
			continue
		}
		cr, ok := byCategory[category]
		if !ok {
			cr = &CategoryResults{Category: category}
			byCategory[category] = cr
		}
		if opts.MaxResults > 0 && len(cr.Matches) >= opts.MaxResults {
			continue
		}
		cr.Matches = append(cr.Matches, m)
	}

	out := make([]CategoryResults, 0, len(byCategory))
	for _, cr := range byCategory {
		out = append(out, *cr)
	}
	slices.SortFunc(out, func(a, b CategoryResults) int { return cmp.Compare(a.Category, b.Category) })
	return out
}

// ClusteringCategory is the display category of a clustering's results.
func ClusteringCategory(name string) string { return "Clustering: " + name }

func resolve(g *group, res Resolver) (string, Match, bool) {
	k, r := g.key.kind, g.key.result
	m := Match{Kind: k, Feature: r.Name, Clustering: r.ClusteringID, Cluster: r.ClusterID}
	category := k.String()

	if r.Name == "" {
		if res == nil {
			return "", m, false
		}
		clustering, ok := res.ClusteringName(r.ClusteringID)
		if !ok {
			return "", m, false
		}
		label := AllClustersLabel
		if r.ClusterID != AllClusters {
			if label, ok = res.ClusterName(r.ClusteringID, r.ClusterID); !ok {
				return "", m, false
			}
		}
		m.Feature = label
		if k == KindCluster {
			category = ClusteringCategory(clustering)
		}
	}

	if g.ortholog {
		m.Identity = g.identity
		m.Description = orthologDescription(g.terms, m.Identity)
		return category, m, true
	}
	m.Description = describe(k, g.terms, m.Feature)
	return category, m, true
}
