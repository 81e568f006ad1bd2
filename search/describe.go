package search

import (
	"fmt"
	"strings"
)

type relation struct {
	singular, plural, phrase string
}

var relations = map[Kind]relation{
	KindRegulonTarget:      {"Target gene", "Target genes", "of regulon"},
	KindMarkerGene:         {"Marker gene", "Marker genes", "of cluster"},
	KindClusterAnnotation:  {"Annotation", "Annotations", "of cluster"},
	KindAnnotationCategory: {"Category", "Categories", "of annotation"},
	KindRegionGeneLink:     {"Region", "Regions", "linked to gene"},
}

// describe renders the description of an aggregated match. terms are the
// distinct surface strings that matched, sorted.
func describe(k Kind, terms []string, feature string) string {
	if k.oneToMany() {
		rel := relations[k]
		noun := rel.singular
		if len(terms) > 1 {
			noun = rel.plural
		}
		return fmt.Sprintf("%s %s %s %s", noun, strings.Join(terms, ", "), rel.phrase, feature)
	}
	if k != KindGene {
		return ""
	}
	switch {
	case len(terms) > 1:
		return "Synonyms: " + strings.Join(terms, ", ")
	case len(terms) == 1 && terms[0] != feature:
		return "Synonym of: " + feature
	default:
		return ""
	}
}

func orthologDescription(terms []string, identity float64) string {
	return fmt.Sprintf("Orthologue of %s, %.2f%% identity", strings.Join(terms, ", "), identity)
}
