package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/internal/resource"
	"github.com/hupe1980/scopeserve/species"
)

// Source is the dataset view the builder reads.
type Source interface {
	// Genes returns the gene symbols in row order.
	Genes() []string
	// Species returns the inferred species, or species.Unknown.
	Species() string
	Metadata() (*dataset.Metadata, error)
	RowAttr(name string) (*dataset.Attr, bool)
}

// BuildOptions configures Build and Update.
type BuildOptions struct {
	// Registry supplies synonym tables for the gene pass.
	Registry *species.Registry
	Logger   *slog.Logger
	// Resources bounds the number of concurrent builds. Nil is unlimited.
	Resources *resource.Controller
}

func (o *BuildOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Build runs every category pass concurrently and merges the results in a
// fixed category order.
func Build(ctx context.Context, src Source, opts BuildOptions) (*Index, error) {
	if err := opts.Resources.AcquireBuild(ctx); err != nil {
		return nil, err
	}
	defer opts.Resources.ReleaseBuild()

	md, err := src.Metadata()
	if err != nil {
		return nil, err
	}

	b := &builder{src: src, md: md, reg: opts.Registry, species: src.Species()}
	log := opts.logger()
	start := time.Now()

	shards := make([][]Entry, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range categories {
		g.Go(func() error {
			t := time.Now()
			entries, err := b.pass(gctx, c)
			if err != nil {
				return fmt.Errorf("search: %s pass: %w", c, err)
			}
			shards[i] = entries
			log.Debug("index pass", "category", c.String(), "terms", len(entries), "elapsed", time.Since(t))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := &Index{
		species: b.species,
		genes:   slices.Clone(src.Genes()),
		entries: merge(shards...),
	}
	log.Debug("index built", "terms", len(idx.entries), "species", idx.species, "elapsed", time.Since(start))
	return idx, nil
}

// Update reruns a single category pass and replaces its entries in idx.
// Only CategoryClusterings and CategoryClusterAnnotations are supported.
func Update(ctx context.Context, idx *Index, src Source, c Category, opts BuildOptions) error {
	if c != CategoryClusterings && c != CategoryClusterAnnotations {
		return fmt.Errorf("%w: %s", ErrUnsupportedCategory, c)
	}
	md, err := src.Metadata()
	if err != nil {
		return err
	}

	b := &builder{src: src, md: md, reg: opts.Registry, species: src.Species()}
	fresh, err := b.pass(ctx, c)
	if err != nil {
		return fmt.Errorf("search: %s pass: %w", c, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	kept := slices.DeleteFunc(slices.Clone(idx.entries), func(e Entry) bool { return c.owns(e.Key.Kind) })
	idx.entries = merge(kept, fresh)

	opts.logger().Debug("index updated", "category", c.String(), "terms", len(fresh))
	return nil
}

type builder struct {
	src     Source
	md      *dataset.Metadata
	reg     *species.Registry
	species string
}

func (b *builder) pass(ctx context.Context, c Category) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := newShard()
	var err error
	switch c {
	case CategoryGenes:
		err = b.genes(ctx, s)
	case CategoryClusterings:
		b.clusterings(s)
	case CategoryRegulons:
		b.regulons(s)
	case CategoryRegulonTargets:
		err = b.regulonTargets(ctx, s)
	case CategoryMarkerGenes:
		err = b.markerGenes(ctx, s)
	case CategoryAnnotations:
		b.annotations(s)
	case CategoryMetrics:
		for _, m := range b.md.Metrics {
			s.add(m.Name, KindMetric, -1, named(m.Name))
		}
	case CategoryRegionGeneLinks:
		for _, l := range b.md.RegionGeneLinks {
			s.add(l.Region, KindRegionGeneLink, -1, named(l.Gene))
		}
	case CategoryClusterAnnotations:
		b.clusterAnnotations(s)
	default:
		return nil, fmt.Errorf("unknown category %d", c)
	}
	if err != nil {
		return nil, err
	}
	return s.entries, nil
}

const checkEvery = 4096

func (b *builder) genes(ctx context.Context, s *shard) error {
	var tbl *species.Table
	if b.species != species.Unknown {
		tbl, _ = b.reg.Table(b.species)
	}
	for i, g := range b.src.Genes() {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		s.add(g, KindGene, -1, named(g))
		if tbl == nil {
			continue
		}
		for _, syn := range tbl.Synonyms[g] {
			s.add(syn, KindGene, -1, named(g))
		}
	}
	return nil
}

func (b *builder) clusterings(s *shard) {
	for _, c := range b.md.Clusterings {
		s.add(c.Name, KindClustering, c.ID, cluster(c.ID, AllClusters))
		s.add(AllClustersLabel, KindCluster, c.ID, cluster(c.ID, AllClusters))
		for _, cl := range c.Clusters {
			s.add(cl.Description, KindCluster, c.ID, cluster(c.ID, cl.ID))
		}
	}
}

func (b *builder) regulons(s *shard) {
	attr, ok := b.src.RowAttr(dataset.AttrRegulons)
	if !ok {
		return
	}
	for _, r := range attr.Columns {
		s.add(r, KindRegulon, -1, named(r))
	}
}

func (b *builder) regulonTargets(ctx context.Context, s *shard) error {
	attr, ok := b.src.RowAttr(dataset.AttrRegulons)
	if !ok || attr.Kind != dataset.AttrTable {
		return nil
	}
	genes := b.src.Genes()
	for j, r := range attr.Columns {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, v := range attr.Table[j] {
			if v != 0 {
				s.add(genes[i], KindRegulonTarget, -1, named(r))
			}
		}
	}
	return nil
}

func (b *builder) markerGenes(ctx context.Context, s *shard) error {
	genes := b.src.Genes()
	for _, c := range b.md.Clusterings {
		attr, ok := b.src.RowAttr(dataset.MarkerAttr(c.ID))
		if !ok || attr.Kind != dataset.AttrTable {
			continue
		}
		for j, col := range attr.Columns {
			if err := ctx.Err(); err != nil {
				return err
			}
			clusterID, err := strconv.Atoi(col)
			if err != nil {
				return fmt.Errorf("clustering %d: marker column %q is not a cluster id", c.ID, col)
			}
			for i, v := range attr.Table[j] {
				if v != 0 {
					s.add(genes[i], KindMarkerGene, c.ID, cluster(c.ID, clusterID))
				}
			}
		}
	}
	return nil
}

func (b *builder) annotations(s *shard) {
	for _, a := range b.md.Annotations {
		s.add(a.Name, KindAnnotation, -1, named(a.Name))
		for _, v := range a.Values {
			s.add(v, KindAnnotationCategory, -1, named(a.Name))
		}
	}
}

func (b *builder) clusterAnnotations(s *shard) {
	for _, c := range b.md.Clusterings {
		for _, cl := range c.Clusters {
			for _, a := range cl.CellTypeAnnotation {
				s.add(a.Data.OntologyLabel, KindClusterAnnotation, c.ID, cluster(c.ID, cl.ID))
				s.add(a.Data.OBOID, KindClusterAnnotation, c.ID, cluster(c.ID, cl.ID))
			}
		}
	}
}
