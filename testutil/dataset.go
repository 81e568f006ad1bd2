package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/hupe1980/scopeserve/dataset"
)

// DatasetSpec parameterises a synthetic dataset.
type DatasetSpec struct {
	// Genes are the row names. Defaults to Gene0..Gene19.
	Genes []string
	// Cells is the number of cells. Defaults to 50.
	Cells int
	// Clusters is the number of clusters in clustering 0. Defaults to 3.
	Clusters int
	// Density is the fraction of nonzero matrix cells. Defaults to 0.4.
	Density float64
	// Regulons are named regulons. Regulon i targets every (i+2)th gene.
	// Defaults to two regulons.
	Regulons []string
	Title    string
	Seed     int64
}

func (s DatasetSpec) withDefaults() DatasetSpec {
	if len(s.Genes) == 0 {
		s.Genes = make([]string, 20)
		for i := range s.Genes {
			s.Genes[i] = "Gene" + strconv.Itoa(i)
		}
	}
	if s.Cells <= 0 {
		s.Cells = 50
	}
	if s.Clusters <= 0 {
		s.Clusters = 3
	}
	if s.Density <= 0 {
		s.Density = 0.4
	}
	if s.Regulons == nil {
		s.Regulons = []string{"RegA_(+)", "RegB_(+)"}
	}
	if s.Title == "" {
		s.Title = "synthetic"
	}
	return s
}

// ClusterName is the description given to cluster id in synthetic datasets.
func ClusterName(id int) string { return "Cluster " + strconv.Itoa(id) }

// SampleValues are the values of the synthetic Sample annotation.
var SampleValues = []string{"s1", "s2"}

// NewDataset builds a synthetic dataset following the attribute conventions
// the server reads: a count matrix, one clustering with markers, regulons with
// AUC values and thresholds, a default and a named embedding, one annotation
// and one metric.
func NewDataset(spec DatasetSpec) *dataset.Builder {
	spec = spec.withDefaults()
	rng := NewRNG(spec.Seed)
	nGenes, nCells, k := len(spec.Genes), spec.Cells, spec.Clusters

	cells := make([]string, nCells)
	for c := range cells {
		cells[c] = fmt.Sprintf("cell_%04d", c)
	}

	matrix := make([][]float32, nGenes)
	for g := range matrix {
		matrix[g] = rng.Counts(nCells, spec.Density, 20)
	}

	assign := make([]float32, nCells)
	sample := make([]string, nCells)
	for c := range assign {
		assign[c] = float32(c % k)
		sample[c] = SampleValues[c%len(SampleValues)]
	}

	nUMI := make([]float32, nCells)
	for _, row := range matrix {
		for c, v := range row {
			nUMI[c] += v
		}
	}

	clusters := make([]dataset.Cluster, k)
	markerCols := make([]string, k)
	markers := make([][]float32, k)
	for i := range clusters {
		clusters[i] = dataset.Cluster{ID: i, Description: ClusterName(i)}
		markerCols[i] = strconv.Itoa(i)
		markers[i] = make([]float32, nGenes)
	}
	// Gene g is a marker of cluster g%k for the first 2k genes.
	for g := 0; g < nGenes && g < 2*k; g++ {
		markers[g%k][g] = 1
	}

	regTargets := make([][]float32, len(spec.Regulons))
	regAUC := make([][]float32, len(spec.Regulons))
	thresholds := make([]dataset.RegulonThreshold, len(spec.Regulons))
	for i, name := range spec.Regulons {
		regTargets[i] = make([]float32, nGenes)
		for g := 0; g < nGenes; g += i + 2 {
			regTargets[i][g] = 1
		}
		regAUC[i] = make([]float32, nCells)
		rng.FillUniform(regAUC[i])
		thresholds[i] = dataset.RegulonThreshold{
			Regulon:               name,
			DefaultThresholdValue: 0.5,
			MotifData:             name + ".png",
		}
	}

	ex, ey := make([]float32, nCells), make([]float32, nCells)
	ux, uy := make([]float32, nCells), make([]float32, nCells)
	rng.FillGaussian(ex)
	rng.FillGaussian(ey)
	rng.FillGaussian(ux)
	rng.FillGaussian(uy)

	return &dataset.Builder{
		Genes:  spec.Genes,
		Cells:  cells,
		Matrix: matrix,
		RowAttrs: map[string]*dataset.Attr{
			dataset.AttrRegulons:  dataset.Table(spec.Regulons, regTargets),
			dataset.MarkerAttr(0): dataset.Table(markerCols, markers),
		},
		ColAttrs: map[string]*dataset.Attr{
			dataset.AttrClusterings: dataset.Table([]string{"0"}, [][]float32{assign}),
			dataset.AttrRegulonsAUC: dataset.Table(spec.Regulons, regAUC),
			dataset.AttrEmbedding:   dataset.Table([]string{"_X", "_Y"}, [][]float32{ex, ey}),
			dataset.AttrEmbeddingsX: dataset.Table([]string{"1"}, [][]float32{ux}),
			dataset.AttrEmbeddingsY: dataset.Table([]string{"1"}, [][]float32{uy}),
			"Sample":                dataset.Strings(sample),
			"nUMI":                  dataset.Floats(nUMI),
		},
		Globals: map[string]string{dataset.AttrTitle: spec.Title},
		Metadata: &dataset.Metadata{
			Embeddings: []dataset.Embedding{
				{ID: -1, Name: "Default"},
				{ID: 1, Name: "UMAP"},
			},
			Clusterings: []dataset.Clustering{{
				ID:       0,
				Group:    "Leiden",
				Name:     "Leiden resolution 0.4",
				Clusters: clusters,
			}},
			Annotations:       []dataset.Annotation{{Name: "Sample", Values: SampleValues}},
			Metrics:           []dataset.Metric{{Name: "nUMI"}},
			RegulonThresholds: thresholds,
		},
	}
}

// WriteDataset creates the synthetic dataset described by spec at root/rel
// and returns its absolute path.
func WriteDataset(tb testing.TB, root, rel string, spec DatasetSpec) string {
	tb.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("testutil: mkdir: %v", err)
	}
	if err := dataset.Create(path, NewDataset(spec)); err != nil {
		tb.Fatalf("testutil: create dataset: %v", err)
	}
	return path
}
