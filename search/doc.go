// Package search builds, persists and queries the per-dataset feature index.
//
// The index maps casefolded surface terms (gene symbols and their synonyms,
// regulon names, clustering and cluster labels, annotation names and values,
// metrics, linked regions, curated cluster labels) to the features a client
// can colour cells by. Build runs one pass per Category concurrently; Update
// reruns the clustering and cluster-annotation passes after interactive
// metadata edits.
//
// Search matches a query by substring (exact key for single-character
// queries), ranks matches by a type bucket and a match cost, aggregates them
// per resolved feature and returns them grouped by display category.
package search
