// Package testutil provides testing utilities for scopeserve.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	auc := make([]float32, 128)
//	rng.FillUniform(auc)        // uniform [0, 1)
//	counts := rng.Counts(128, 0.3, 20)
//
// # Synthetic Datasets
//
//	path := testutil.WriteDataset(t, root, "a/b.loom", testutil.DatasetSpec{Cells: 100})
package testutil
