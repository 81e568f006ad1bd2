package search

import "fmt"

// Kind is the element type of an indexed term.
type Kind uint8

const (
	KindGene Kind = iota + 1
	KindRegulon
	KindClustering
	KindCluster
	KindRegulonTarget
	KindMarkerGene
	KindAnnotation
	KindAnnotationCategory
	KindMetric
	KindRegionGeneLink
	KindClusterAnnotation
)

var kindNames = [...]string{
	KindGene:               "gene",
	KindRegulon:            "regulon",
	KindClustering:         "clustering",
	KindCluster:            "cluster",
	KindRegulonTarget:      "regulon_target",
	KindMarkerGene:         "marker_gene",
	KindAnnotation:         "annotation",
	KindAnnotationCategory: "annotation_category",
	KindMetric:             "metric",
	KindRegionGeneLink:     "region_gene_link",
	KindClusterAnnotation:  "cluster_annotation",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) || kindNames[k] == "" {
		return nil, fmt.Errorf("search: invalid kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name != "" && name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("search: unknown kind %q", b)
}

// bucket ranks gene, regulon and clustering-derived kinds before the rest.
func (k Kind) bucket() int {
	switch k {
	case KindGene, KindRegulon, KindClustering, KindCluster:
		return 0
	default:
		return 1
	}
}

// oneToMany reports whether matches of k aggregate under an owning feature.
func (k Kind) oneToMany() bool {
	switch k {
	case KindRegulonTarget, KindMarkerGene, KindAnnotationCategory, KindRegionGeneLink, KindClusterAnnotation:
		return true
	default:
		return false
	}
}

// Category is a build pass. Each pass owns a fixed set of kinds.
type Category uint8

const (
	CategoryGenes Category = iota + 1
	CategoryClusterings
	CategoryRegulons
	CategoryRegulonTargets
	CategoryMarkerGenes
	CategoryAnnotations
	CategoryMetrics
	CategoryRegionGeneLinks
	CategoryClusterAnnotations
)

// categories lists every pass in merge order.
var categories = []Category{
	CategoryGenes,
	CategoryClusterings,
	CategoryRegulons,
	CategoryRegulonTargets,
	CategoryMarkerGenes,
	CategoryAnnotations,
	CategoryMetrics,
	CategoryRegionGeneLinks,
	CategoryClusterAnnotations,
}

func (c Category) String() string {
	switch c {
	case CategoryGenes:
		return "genes"
	case CategoryClusterings:
		return "clusterings"
	case CategoryRegulons:
		return "regulons"
	case CategoryRegulonTargets:
		return "regulon_targets"
	case CategoryMarkerGenes:
		return "marker_genes"
	case CategoryAnnotations:
		return "annotations"
	case CategoryMetrics:
		return "metrics"
	case CategoryRegionGeneLinks:
		return "region_gene_links"
	case CategoryClusterAnnotations:
		return "cluster_annotations"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

func (c Category) owns(k Kind) bool {
	switch c {
	case CategoryGenes:
		return k == KindGene
	case CategoryClusterings:
		return k == KindClustering || k == KindCluster
	case CategoryRegulons:
		return k == KindRegulon
	case CategoryRegulonTargets:
		return k == KindRegulonTarget
	case CategoryMarkerGenes:
		return k == KindMarkerGene
	case CategoryAnnotations:
		return k == KindAnnotation || k == KindAnnotationCategory
	case CategoryMetrics:
		return k == KindMetric
	case CategoryRegionGeneLinks:
		return k == KindRegionGeneLink
	case CategoryClusterAnnotations:
		return k == KindClusterAnnotation
	default:
		return false
	}
}
