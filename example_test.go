package scopeserve_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/scopeserve"
	"github.com/hupe1980/scopeserve/color"
	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/testutil"
)

// exampleRoot creates a data root holding one synthetic dataset.
func exampleRoot() string {
	root, err := os.MkdirTemp("", "scopeserve-example")
	if err != nil {
		log.Fatal(err)
	}
	dir := filepath.Join(root, scopeserve.DatasetsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal(err)
	}
	b := testutil.NewDataset(testutil.DatasetSpec{
		Genes: []string{"TP53", "SOX2", "SOX9", "GAPDH"},
		Cells: 12,
		Title: "example",
		Seed:  1,
	})
	if err := dataset.Create(filepath.Join(dir, "example.loom"), b); err != nil {
		log.Fatal(err)
	}
	return root
}

// Example_search lists the datasets of a session and searches one of them.
func Example_search() {
	root := exampleRoot()
	defer os.RemoveAll(root)

	ctx := context.Background()
	srv, err := scopeserve.New(root)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	id, err := srv.IssueSession(ctx)
	if err != nil {
		log.Fatal(err)
	}

	datasets, err := srv.ListDatasets(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	for _, d := range datasets {
		fmt.Printf("%s %q genes=%d cells=%d\n", d.Path, d.Title, d.Genes, d.Cells)
	}

	res, err := srv.Search(ctx, scopeserve.SearchRequest{
		SessionID: id,
		Path:      "example.loom",
		Query:     "sox",
		Filter:    "gene",
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, cr := range res {
		for _, m := range cr.Matches {
			fmt.Println(cr.Category, m.Feature)
		}
	}
	// Output:
	// example.loom "example" genes=4 cells=12
	// gene SOX2
	// gene SOX9
}

// Example_cellColors colours the cells of a dataset by clustering.
func Example_cellColors() {
	root := exampleRoot()
	defer os.RemoveAll(root)

	ctx := context.Background()
	srv, err := scopeserve.New(root)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	id, err := srv.IssueSession(ctx)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := srv.CellColors(ctx, scopeserve.ColorRequest{
		SessionID: id,
		Path:      "example.loom",
		Types:     []string{"Clustering: Leiden resolution 0.4"},
		Features:  []string{color.AllClustersLabel},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(resp.HexVec), "cells")
	for _, e := range resp.Legend {
		fmt.Println(e.Label, e.Color)
	}
	// Output:
	// 12 cells
	// Cluster 0 e6194b
	// Cluster 1 3cb44b
	// Cluster 2 ffe119
}
