package search

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/scopeserve/blobstore"
	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/internal/resource"
	"github.com/hupe1980/scopeserve/persistence"
	"github.com/hupe1980/scopeserve/species"
)

type fakeSource struct {
	genes   []string
	species string
	md      *dataset.Metadata
	rows    map[string]*dataset.Attr
}

func (s *fakeSource) Genes() []string                      { return s.genes }
func (s *fakeSource) Species() string                      { return s.species }
func (s *fakeSource) Metadata() (*dataset.Metadata, error) { return s.md, nil }
func (s *fakeSource) RowAttr(name string) (*dataset.Attr, bool) {
	a, ok := s.rows[name]
	return a, ok
}

func newFixture() (*fakeSource, *species.Registry) {
	human := &species.Table{Name: "hsap", Code: "hs", Synonyms: map[string][]string{
		"TP53": {"P53", "LFS1"},
		"SOX2": {"ANOP3"},
		"MYC":  {"bHLHe39"},
	}}
	reg := species.NewRegistry(human)
	reg.AddOrthologs(&species.Orthologs{Code: "mm", From: "mmus", To: "hsap", Pairs: map[string][]species.Ortholog{
		"Trp53": {{Gene: "TP53", Identity: 77.5}},
		"Myc":   {{Gene: "MYC", Identity: 90}, {Gene: "MYCN", Identity: 40}, {Gene: "NOTHERE", Identity: 99}},
	}})

	src := &fakeSource{
		genes:   []string{"TP53", "SOX2", "SOX9", "GAPDH", "MYC", "MYCN", "AMYC"},
		species: "hsap",
		rows: map[string]*dataset.Attr{
			dataset.AttrRegulons: dataset.Table(
				[]string{"SOX2_(+)", "MYC_(+)"},
				[][]float32{{0, 1, 1, 0, 0, 0, 0}, {1, 0, 0, 1, 1, 0, 0}},
			),
			dataset.MarkerAttr(0): dataset.Table(
				[]string{"0", "1"},
				[][]float32{{0, 1, 1, 0, 0, 0, 0}, {0, 0, 0, 1, 0, 0, 0}},
			),
		},
		md: &dataset.Metadata{
			Clusterings: []dataset.Clustering{
				{ID: 0, Name: "Leiden", Clusters: []dataset.Cluster{
					{ID: 0, Description: "Neurons", CellTypeAnnotation: []dataset.CellTypeAnnotation{
						{Data: dataset.AnnotationData{OntologyLabel: "neuron", OBOID: "CL:0000540"}},
					}},
					{ID: 1, Description: "Glia"},
				}},
				{ID: 1, Name: "Louvain", Clusters: []dataset.Cluster{{ID: 0, Description: "Neurons"}}},
			},
			Annotations: []dataset.Annotation{
				{Name: "Sample", Values: []string{"ctrl", "treated"}},
				{Name: "Phase", Values: []string{"G1", "S", "G2M"}},
			},
			Metrics: []dataset.Metric{{Name: "nGene"}},
			RegionGeneLinks: []dataset.RegionGeneLink{
				{Region: "chr1:100-200", Gene: "SOX2"},
				{Region: "chr1:300-400", Gene: "SOX2"},
			},
		},
	}
	return src, reg
}

func build(t *testing.T) (*Index, *fakeSource, Options) {
	t.Helper()
	src, reg := newFixture()
	idx, err := Build(context.Background(), src, BuildOptions{Registry: reg})
	require.NoError(t, err)
	return idx, src, Options{Registry: reg, Resolver: MetadataResolver{Metadata: src.md}}
}

func search(t *testing.T, idx *Index, q string, opts Options) map[string][]Match {
	t.Helper()
	res, err := Search(idx, q, opts)
	require.NoError(t, err)
	out := make(map[string][]Match)
	var order []string
	for _, cr := range res {
		out[cr.Category] = cr.Matches
		order = append(order, cr.Category)
	}
	assert.IsNonDecreasing(t, order, "categories must be sorted")
	return out
}

func features(ms []Match) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Feature)
	}
	return out
}

func TestBuild(t *testing.T) {
	idx, _, _ := build(t)

	assert.Equal(t, "hsap", idx.Species())
	assert.Equal(t, 7, idx.NumGenes())
	assert.Equal(t, []Result{named("TP53")}, idx.Lookup(Key{Folded: "p53", Term: "P53", Kind: KindGene, Clustering: -1}))
	assert.Equal(t, []Result{named("MYC_(+)")}, idx.Lookup(Key{Folded: "tp53", Term: "TP53", Kind: KindRegulonTarget, Clustering: -1}))
	assert.Equal(t, []Result{cluster(0, AllClusters)}, idx.Lookup(Key{Folded: "all clusters", Term: AllClustersLabel, Kind: KindCluster, Clustering: 0}))
}

func TestBuild_UnknownSpeciesSkipsSynonyms(t *testing.T) {
	src, reg := newFixture()
	src.species = species.Unknown
	idx, err := Build(context.Background(), src, BuildOptions{Registry: reg})
	require.NoError(t, err)

	assert.Nil(t, idx.Lookup(Key{Folded: "p53", Term: "P53", Kind: KindGene, Clustering: -1}))
	assert.NotNil(t, idx.Lookup(Key{Folded: "tp53", Term: "TP53", Kind: KindGene, Clustering: -1}))
}

func TestBuild_Cancelled(t *testing.T) {
	src, reg := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, src, BuildOptions{Registry: reg})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_Synonyms(t *testing.T) {
	idx, _, opts := build(t)
	got := search(t, idx, "p53", opts)

	require.Len(t, got["gene"], 1)
	assert.Equal(t, Match{Feature: "TP53", Description: "Synonyms: P53, TP53", Kind: KindGene, Clustering: -1, Cluster: -1}, got["gene"][0])

	require.Len(t, got["regulon_target"], 1)
	assert.Equal(t, "MYC_(+)", got["regulon_target"][0].Feature)
	assert.Equal(t, "Target gene TP53 of regulon MYC_(+)", got["regulon_target"][0].Description)
	assert.Len(t, got, 2)

	got = search(t, idx, "LFS1", opts)
	assert.Equal(t, "Synonym of: TP53", got["gene"][0].Description)
}

func TestSearch_Aggregation(t *testing.T) {
	idx, _, opts := build(t)
	got := search(t, idx, "sox", opts)

	assert.Equal(t, []string{"SOX2", "SOX9"}, features(got["gene"]))
	assert.Equal(t, []string{"SOX2_(+)"}, features(got["regulon"]))

	require.Len(t, got["regulon_target"], 1)
	assert.Equal(t, "Target genes SOX2, SOX9 of regulon SOX2_(+)", got["regulon_target"][0].Description)

	require.Len(t, got["marker_gene"], 1)
	mg := got["marker_gene"][0]
	assert.Equal(t, "Neurons", mg.Feature)
	assert.Equal(t, 0, mg.Clustering)
	assert.Equal(t, 0, mg.Cluster)
	assert.Equal(t, "Marker genes SOX2, SOX9 of cluster Neurons", mg.Description)
}

func TestSearch_CostOrdering(t *testing.T) {
	idx, _, opts := build(t)

	// Cost takes precedence over the surface string: AMYC sorts before MYC
	// but is only a suffix match.
	assert.Equal(t, []string{"MYC", "AMYC", "MYCN"}, features(search(t, idx, "MYC", opts)["gene"]))
	assert.Equal(t, []string{"MYC", "AMYC", "MYCN"}, features(search(t, idx, "myc", opts)["gene"]))
	assert.Equal(t, []string{"MYC", "MYCN", "AMYC"}, features(search(t, idx, "MY", opts)["gene"]))
}

func TestCost(t *testing.T) {
	tests := []struct {
		term, q string
		want    int
	}{
		{"SOX2", "SOX2", 0},
		{"SOX2", "sox2", 1},
		{"SOX2", "SOX", 2},
		{"SOX2", "OX2", 2},
		{"SOX2", "sox", 3},
		{"ASOX2B", "SOX", 4},
		{"ASOX2B", "sox", 5},
	}
	for _, tt := range tests {
		t.Run(tt.term+"/"+tt.q, func(t *testing.T) {
			f := newShard().fold
			assert.Equal(t, tt.want, cost(tt.term, f.String(tt.term), tt.q, f.String(tt.q)))
		})
	}
}

func TestSearch_SingleCharacterIsExact(t *testing.T) {
	idx, _, opts := build(t)
	got := search(t, idx, "s", opts)

	require.Len(t, got, 1)
	require.Len(t, got["annotation_category"], 1)
	assert.Equal(t, "Phase", got["annotation_category"][0].Feature)
	assert.Equal(t, "Category S of annotation Phase", got["annotation_category"][0].Description)

	assert.Empty(t, search(t, idx, "n", opts))
}

func TestSearch_Clusterings(t *testing.T) {
	idx, _, opts := build(t)

	got := search(t, idx, "leiden", opts)
	require.Len(t, got, 1)
	assert.Equal(t, []string{AllClustersLabel}, features(got[ClusteringCategory("Leiden")]))

	got = search(t, idx, "all clusters", opts)
	assert.Equal(t, []string{AllClustersLabel}, features(got["Clustering: Leiden"]))
	assert.Equal(t, []string{AllClustersLabel}, features(got["Clustering: Louvain"]))

	got = search(t, idx, "neuron", opts)
	assert.Equal(t, []string{"Neurons"}, features(got["Clustering: Leiden"]))
	assert.Equal(t, []string{"Neurons"}, features(got["Clustering: Louvain"]))
	require.Len(t, got["cluster_annotation"], 1)
	assert.Equal(t, "Annotation neuron of cluster Neurons", got["cluster_annotation"][0].Description)

	got = search(t, idx, "CL:0000540", opts)
	require.Len(t, got["cluster_annotation"], 1)
	assert.Equal(t, "Neurons", got["cluster_annotation"][0].Feature)
}

func TestSearch_RegionLinks(t *testing.T) {
	idx, _, opts := build(t)
	got := search(t, idx, "chr1", opts)

	require.Len(t, got["region_gene_link"], 1)
	assert.Equal(t, "SOX2", got["region_gene_link"][0].Feature)
	assert.Equal(t, "Regions chr1:100-200, chr1:300-400 linked to gene SOX2", got["region_gene_link"][0].Description)
}

func TestSearch_FilterAndLimit(t *testing.T) {
	idx, _, opts := build(t)

	opts.Filter = "regulon"
	got := search(t, idx, "sox", opts)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "regulon")

	opts.Filter = FilterAll
	assert.Len(t, search(t, idx, "sox", opts), 4)

	opts.Filter = "nope"
	assert.Empty(t, search(t, idx, "sox", opts))

	opts.Filter = ""
	opts.MaxResults = 1
	assert.Equal(t, []string{"SOX2"}, features(search(t, idx, "sox", opts)["gene"]))
}

func TestSearch_WithoutResolverDropsClusters(t *testing.T) {
	idx, _, opts := build(t)
	opts.Resolver = nil
	assert.Empty(t, search(t, idx, "leiden", opts))
}

func TestSearch_Empty(t *testing.T) {
	idx, _, opts := build(t)
	assert.Empty(t, search(t, idx, "   ", opts))
	assert.Empty(t, search(t, idx, "zzzz", opts))
}

func TestSearch_CrossSpecies(t *testing.T) {
	idx, _, opts := build(t)

	got := search(t, idx, "mm:trp53", opts)
	require.Len(t, got["gene"], 1)
	m := got["gene"][0]
	assert.Equal(t, "TP53", m.Feature)
	assert.InDelta(t, 77.5, m.Identity, 1e-9)
	assert.Equal(t, "Orthologue of Trp53, 77.50% identity", m.Description)

	// Targets missing from the dataset are dropped.
	got = search(t, idx, "MM:Myc", opts)
	assert.Equal(t, []string{"MYC", "MYCN"}, features(got["gene"]))

	_, err := Search(idx, "zz:Foo", opts)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCrossSpecies(t *testing.T) {
	tests := []struct {
		q          string
		code, term string
		ok         bool
	}{
		{"hs:TP53", "hs", "TP53", true},
		{"HS: TP53", "hs", "TP53", true},
		{"CL:0000540", "", "", false},
		{"chr1:100", "", "", false},
		{"h1:TP53", "", "", false},
		{"hs:", "", "", false},
		{"TP53", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			code, term, ok := crossSpecies(tt.q)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.term, term)
		})
	}
}

func TestUpdate(t *testing.T) {
	idx, src, opts := build(t)
	ctx := context.Background()
	before := idx.Len()

	src.md.Clusterings[0].Name = "Leiden v2"
	src.md.Clusterings[0].Clusters[1].CellTypeAnnotation = []dataset.CellTypeAnnotation{
		{Data: dataset.AnnotationData{OntologyLabel: "astrocyte"}},
	}

	require.NoError(t, Update(ctx, idx, src, CategoryClusterings, BuildOptions{}))
	assert.Empty(t, search(t, idx, "leiden", opts)["Clustering: Leiden"])
	assert.Equal(t, []string{AllClustersLabel}, features(search(t, idx, "leiden v2", opts)["Clustering: Leiden v2"]))
	assert.Equal(t, before, idx.Len())

	assert.Empty(t, search(t, idx, "astrocyte", opts))
	require.NoError(t, Update(ctx, idx, src, CategoryClusterAnnotations, BuildOptions{}))
	got := search(t, idx, "astrocyte", opts)
	require.Len(t, got["cluster_annotation"], 1)
	assert.Equal(t, "Glia", got["cluster_annotation"][0].Feature)

	// Other categories survive the partial rebuild.
	assert.NotEmpty(t, search(t, idx, "sox", opts)["marker_gene"])

	err := Update(ctx, idx, src, CategoryGenes, BuildOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedCategory)
}

func snapshotEntries(idx *Index) (other []Entry, clusters map[Key][]Result) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	clusters = make(map[Key][]Result)
	for _, e := range idx.entries {
		switch e.Key.Kind {
		case KindClustering, KindCluster:
			clusters[e.Key] = slices.Clone(e.Results)
		default:
			other = append(other, Entry{Key: e.Key, Results: slices.Clone(e.Results)})
		}
	}
	return other, clusters
}

func TestUpdate_ClusterRename(t *testing.T) {
	idx, src, opts := build(t)
	otherBefore, clustersBefore := snapshotEntries(idx)

	src.md.Clusterings[0].Clusters[1].Description = "Astroglia"
	require.NoError(t, Update(context.Background(), idx, src, CategoryClusterings, BuildOptions{}))
	otherAfter, clustersAfter := snapshotEntries(idx)

	assert.Equal(t, otherBefore, otherAfter)

	var changed []Key
	for k, r := range clustersBefore {
		if got, ok := clustersAfter[k]; !ok || !slices.Equal(got, r) {
			changed = append(changed, k)
		}
	}
	for k := range clustersAfter {
		if _, ok := clustersBefore[k]; !ok {
			changed = append(changed, k)
		}
	}
	require.Len(t, changed, 2)
	var terms []string
	for _, k := range changed {
		assert.Equal(t, KindCluster, k.Kind)
		assert.Equal(t, 0, k.Clustering)
		terms = append(terms, k.Term)
	}
	assert.ElementsMatch(t, []string{"Glia", "Astroglia"}, terms)
	assert.Equal(t, []Result{cluster(0, 1)}, clustersAfter[Key{Folded: "astroglia", Term: "Astroglia", Kind: KindCluster, Clustering: 0}])

	assert.Equal(t, []string{"Astroglia"}, features(search(t, idx, "astroglia", opts)["Clustering: Leiden"]))
}

func TestStore_IOLimit(t *testing.T) {
	idx, _, _ := build(t)
	blobs := blobstore.NewMemoryStore()
	name := Name("my-looms/sample.loom")

	store := NewStore(blobs, nil, persistence.CompressionNone).
		WithIOLimit(resource.NewController(resource.Config{IOLimitBytesPerSec: 16}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, store.Save(ctx, name, idx))
	_, err := store.Load(context.Background(), name)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	store = NewStore(blobs, nil, persistence.CompressionNone).
		WithIOLimit(resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 30}))
	require.NoError(t, store.Save(context.Background(), name, idx))
	loaded, err := store.Load(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
}

func TestStore(t *testing.T) {
	idx, _, opts := build(t)
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	store := NewStore(blobs, nil, persistence.CompressionZSTD)

	name := Name("my-looms/abc/sample.loom")
	assert.Equal(t, "my-looms/abc/sample.ssidx", name)

	_, err := store.Load(ctx, name)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Save(ctx, name, idx))
	loaded, err := store.Load(ctx, name)
	require.NoError(t, err)

	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Species(), loaded.Species())
	for _, q := range []string{"p53", "sox", "neuron", "mm:Myc"} {
		want, err := Search(idx, q, opts)
		require.NoError(t, err)
		got, err := Search(loaded, q, opts)
		require.NoError(t, err)
		assert.Equal(t, want, got, q)
	}

	data, err := blobstore.ReadAll(ctx, blobs, name)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, blobs.Put(ctx, name, data))
	_, err = store.Load(ctx, name)
	assert.ErrorIs(t, err, ErrCorruptIndex)

	require.NoError(t, store.Delete(ctx, name))
	_, err = store.Load(ctx, name)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestKindText(t *testing.T) {
	for k := KindGene; k <= KindClusterAnnotation; k++ {
		b, err := k.MarshalText()
		require.NoError(t, err)

		var got Kind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("nope")))
	_, err := Kind(0).MarshalText()
	assert.Error(t, err)
}
