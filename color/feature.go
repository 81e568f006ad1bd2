package color

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/scopeserve/dataset"
)

var (
	// ErrTooManyFeatures is returned when more than three features are pushed.
	ErrTooManyFeatures = errors.New("color: at most 3 features")
	// ErrUnknownFeature is returned for clusterings or clusters the metadata
	// does not name.
	ErrUnknownFeature = errors.New("color: unknown feature")
	// ErrInvalidRequest is returned for malformed feature lists and filters.
	ErrInvalidRequest = errors.New("color: invalid request")
)

// MaxChannels is the number of colour channels.
const MaxChannels = 3

// Kind is the type of a feature.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindGene
	KindRegulon
	KindMetric
	KindAnnotation
	KindClustering
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindGene:       "gene",
	KindRegulon:    "regulon",
	KindMetric:     "metric",
	KindAnnotation: "annotation",
	KindClustering: "clustering",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Categorical reports whether the kind short-circuits the pipeline.
func (k Kind) Categorical() bool { return k == KindAnnotation || k == KindClustering }

// ParseKind maps a feature type name to its kind. Unrecognised names are
// KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k)
		}
	}
	return KindUnknown
}

// AllClusters selects every cluster of a clustering feature.
const AllClusters = -1

// AllClustersLabel is the feature name selecting every cluster.
const AllClustersLabel = "All Clusters"

// clusteringPrefix is the type of a feature chosen from a clustering's search
// category, e.g. "Clustering: Leiden".
const clusteringPrefix = "Clustering: "

// Feature is one pushed feature.
type Feature struct {
	Kind Kind
	Name string
	// Clustering is the resolved id of a clustering feature.
	Clustering int
	// Cluster restricts a clustering feature to one cluster.
	Cluster int
}

// Set reports whether the feature fills its channel.
func (f Feature) Set() bool { return f.Kind != KindUnknown && f.Name != "" }

// Decode pairs feature types with names and resolves clustering references
// against md. Empty names leave their channel unset. Types may be kind names
// or a clustering category ("Clustering: <name>") whose feature name is a
// cluster description or "All Clusters".
func Decode(types, names []string, md *dataset.Metadata) ([]Feature, error) {
	if len(types) != len(names) {
		return nil, fmt.Errorf("%w: %d types for %d features", ErrInvalidRequest, len(types), len(names))
	}
	if len(names) > MaxChannels {
		return nil, ErrTooManyFeatures
	}

	out := make([]Feature, len(names))
	for i, name := range names {
		f := Feature{Name: strings.TrimSpace(name), Cluster: AllClusters}
		if f.Name == "" {
			out[i] = f
			continue
		}
		typ := strings.TrimSpace(types[i])

		if clustering, ok := strings.CutPrefix(typ, clusteringPrefix); ok {
			c, err := lookupClustering(md, clustering)
			if err != nil {
				return nil, err
			}
			f.Kind, f.Clustering = KindClustering, c.ID
			if f.Name != AllClustersLabel {
				cl, ok := c.ClusterByDescription(f.Name)
				if !ok {
					return nil, fmt.Errorf("%w: cluster %q of %q", ErrUnknownFeature, f.Name, c.Name)
				}
				f.Cluster = cl.ID
			}
			out[i] = f
			continue
		}

		f.Kind = ParseKind(typ)
		if f.Kind == KindClustering {
			c, err := lookupClustering(md, f.Name)
			if err != nil {
				return nil, err
			}
			f.Clustering = c.ID
		}
		out[i] = f
	}
	return out, nil
}

func lookupClustering(md *dataset.Metadata, name string) (*dataset.Clustering, error) {
	if md != nil {
		if c, ok := md.ClusteringByName(name); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: clustering %q", ErrUnknownFeature, name)
}
