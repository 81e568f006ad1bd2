package color

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/persistence"
)

// Source supplies per-cell vectors. connection.Handle implements it.
type Source interface {
	NumCells() int
	Metadata() (*dataset.Metadata, error)
	Expression(ctx context.Context, gene string) ([]float32, error)
	CellTotals() ([]float64, error)
	RegulonAUC(regulon string) ([]float32, error)
	Metric(name string) ([]float32, error)
	Annotation(name string) ([]string, error)
	Clustering(id int) ([]int, error)
}

// Options configures one pipeline run. Per-channel arrays are indexed in
// push order.
type Options struct {
	// VMax is the scaling ceiling; zero selects DefaultVMax.
	VMax [MaxChannels]float64
	VMin [MaxChannels]float64
	// CPM divides gene and metric values by the cell total and scales by 1e6.
	CPM bool
	// Log2 applies log2(x+1) to gene and metric values, after CPM.
	Log2 bool
	// Thresholds zero regulon values below them. Zero disables the threshold
	// unless DefaultThresholds is set.
	Thresholds [MaxChannels]float64
	// DefaultThresholds takes unset regulon thresholds from the metadata.
	DefaultThresholds bool
	// ScaleThresholded normalises thresholded regulons; otherwise they are
	// encoded as pass/fail at UpperBound.
	ScaleThresholded bool

	Filters []Filter
	Logic   Logic

	// Compression of CompressedHexVec. CompressionNone selects zstd.
	Compression persistence.Compression
	Logger      *slog.Logger
}

// Pipeline is the per-request colour accumulator. It is not safe for
// concurrent use.
type Pipeline struct {
	src  Source
	opts Options
	log  *slog.Logger

	// cells are the selected cell indices; nil selects every cell.
	cells []uint32
	n     int

	pushed   int
	channels [MaxChannels][]uint8
	vmax     [MaxChannels]float64

	short  bool
	hex    []string
	legend []LegendEntry
}

// New returns a pipeline over src, evaluating the cell filters of opts.
func New(ctx context.Context, src Source, opts Options) (*Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{src: src, opts: opts, log: log, n: src.NumCells()}

	bm, err := selectCells(src, opts.Filters, opts.Logic)
	if err != nil {
		return nil, err
	}
	if bm != nil {
		p.cells = bm.ToArray()
		if p.cells == nil {
			p.cells = []uint32{}
		}
		p.n = len(p.cells)
	}
	return p, nil
}

// Run pushes features into a new pipeline.
func Run(ctx context.Context, src Source, features []Feature, opts Options) (*Pipeline, error) {
	p, err := New(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		if err := p.Push(ctx, f); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Push resolves the next channel. A categorical feature completes the
// pipeline; features pushed after it are ignored.
func (p *Pipeline) Push(ctx context.Context, f Feature) error {
	if p.short {
		return nil
	}
	if p.pushed == MaxChannels {
		return ErrTooManyFeatures
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := p.pushed
	p.pushed++
	if !f.Set() {
		if f.Name != "" {
			p.log.Debug("feature of unknown kind left unset", "channel", ch, "feature", f.Name)
		}
		return nil
	}

	switch f.Kind {
	case KindGene:
		row, err := p.src.Expression(ctx, f.Name)
		if err != nil {
			return err
		}
		return p.numeric(ch, row, true)
	case KindMetric:
		v, err := p.src.Metric(f.Name)
		if err != nil {
			return err
		}
		return p.numeric(ch, v, true)
	case KindRegulon:
		return p.regulon(ch, f.Name)
	case KindAnnotation:
		return p.annotation(f.Name)
	case KindClustering:
		return p.clustering(f)
	}
	return nil
}

// pick copies the selected cells of v.
func pick[T any](v []T, cells []uint32) []T {
	if cells == nil {
		return slices.Clone(v)
	}
	out := make([]T, len(cells))
	for i, c := range cells {
		out[i] = v[c]
	}
	return out
}

func (p *Pipeline) checkLen(n int) error {
	if n != p.src.NumCells() {
		return fmt.Errorf("%w: vector of %d values for %d cells", ErrInvalidRequest, n, p.src.NumCells())
	}
	return nil
}

func (p *Pipeline) numeric(ch int, v []float32, transform bool) error {
	if err := p.checkLen(len(v)); err != nil {
		return err
	}
	vals := slices.Clone(v)
	if transform && p.opts.CPM {
		totals, err := p.src.CellTotals()
		if err != nil {
			return err
		}
		for i, x := range vals {
			if totals[i] > 0 {
				vals[i] = float32(float64(x) / totals[i] * 1e6)
			} else {
				vals[i] = 0
			}
		}
	}
	if transform && p.opts.Log2 {
		for i, x := range vals {
			vals[i] = float32(math.Log2(float64(x) + 1))
		}
	}

	vals = pick(vals, p.cells)
	vmax := p.opts.VMax[ch]
	if vmax <= 0 {
		vmax = DefaultVMax(vals)
	}
	p.vmax[ch] = vmax
	p.channels[ch] = Normalise(vals, vmax, p.opts.VMin[ch])
	return nil
}

func (p *Pipeline) regulon(ch int, name string) error {
	auc, err := p.src.RegulonAUC(name)
	if err != nil {
		return err
	}
	if err := p.checkLen(len(auc)); err != nil {
		return err
	}

	threshold := p.opts.Thresholds[ch]
	if threshold <= 0 && p.opts.DefaultThresholds {
		if md, err := p.src.Metadata(); err == nil {
			if t, ok := md.RegulonThreshold(name); ok {
				threshold = t.DefaultThresholdValue
			}
		}
	}
	if threshold <= 0 {
		return p.numeric(ch, auc, false)
	}

	if p.opts.ScaleThresholded {
		vals := slices.Clone(auc)
		for i, x := range vals {
			if float64(x) < threshold {
				vals[i] = 0
			}
		}
		return p.numeric(ch, vals, false)
	}

	vals := pick(auc, p.cells)
	out := make([]uint8, len(vals))
	for i, x := range vals {
		if float64(x) >= threshold {
			out[i] = UpperBound
		}
	}
	p.vmax[ch] = threshold
	p.channels[ch] = out
	return nil
}

// finish stores a categorical result and short-circuits the pipeline.
func (p *Pipeline) finish(hex []string, legend []LegendEntry) {
	p.short = true
	p.hex = hex
	p.legend = legend
	p.channels = [MaxChannels][]uint8{}
	p.vmax = [MaxChannels]float64{}
}

func (p *Pipeline) annotation(name string) error {
	values, err := p.src.Annotation(name)
	if err != nil {
		return err
	}
	if err := p.checkLen(len(values)); err != nil {
		return err
	}

	// Category order follows the metadata, then first appearance.
	var order []string
	index := make(map[string]int)
	add := func(v string) {
		if _, ok := index[v]; !ok && v != "" {
			index[v] = len(order)
			order = append(order, v)
		}
	}
	if md, err := p.src.Metadata(); err == nil {
		if a, ok := md.Annotation(name); ok {
			for _, v := range a.Values {
				add(v)
			}
		}
	}
	for _, v := range values {
		add(v)
	}
	colors := Palette(len(order))

	selected := pick(values, p.cells)
	hex := make([]string, len(selected))
	seen := make([]bool, len(order))
	for i, v := range selected {
		j, ok := index[v]
		if !ok {
			hex[i] = Sentinel
			continue
		}
		hex[i] = colors[j]
		seen[j] = true
	}

	var legend []LegendEntry
	for j, v := range order {
		if seen[j] {
			legend = append(legend, LegendEntry{Label: v, Color: colors[j]})
		}
	}
	p.finish(hex, legend)
	return nil
}

func (p *Pipeline) clustering(f Feature) error {
	md, err := p.src.Metadata()
	if err != nil {
		return err
	}
	c, ok := md.Clustering(f.Clustering)
	if !ok {
		return fmt.Errorf("%w: clustering %d", ErrUnknownFeature, f.Clustering)
	}
	assign, err := p.src.Clustering(f.Clustering)
	if err != nil {
		return err
	}
	if err := p.checkLen(len(assign)); err != nil {
		return err
	}

	clusters := slices.Clone(c.Clusters)
	slices.SortFunc(clusters, func(a, b dataset.Cluster) int { return a.ID - b.ID })
	colors := Palette(len(clusters))
	index := make(map[int]int, len(clusters))
	for i, cl := range clusters {
		index[cl.ID] = i
	}

	selected := pick(assign, p.cells)
	hex := make([]string, len(selected))
	seen := make([]bool, len(clusters))
	for i, id := range selected {
		j, ok := index[id]
		if !ok || (f.Cluster != AllClusters && id != f.Cluster) {
			hex[i] = Sentinel
			continue
		}
		hex[i] = colors[j]
		seen[j] = true
	}

	var legend []LegendEntry
	for j, cl := range clusters {
		if !seen[j] {
			continue
		}
		label := cl.Description
		if label == "" {
			label = strconv.Itoa(cl.ID)
		}
		legend = append(legend, LegendEntry{Label: label, Color: colors[j]})
	}
	p.finish(hex, legend)
	return nil
}

// ShortCircuited reports whether a categorical feature completed the
// pipeline.
func (p *Pipeline) ShortCircuited() bool { return p.short }

// HexVec returns one colour per selected cell.
func (p *Pipeline) HexVec() []string {
	if p.short {
		return slices.Clone(p.hex)
	}
	out := make([]string, p.n)
	var rgb [MaxChannels]uint8
	for i := range out {
		for ch := range rgb {
			rgb[ch] = 0
			if p.channels[ch] != nil {
				rgb[ch] = p.channels[ch][i]
			}
		}
		out[i] = Hex(rgb[0], rgb[1], rgb[2])
	}
	return out
}

// CompressedHexVec returns the concatenated hex colours as a compressed
// block; persistence.DecompressBlock reverses it.
func (p *Pipeline) CompressedHexVec() ([]byte, error) {
	c := p.opts.Compression
	if c == persistence.CompressionNone {
		c = persistence.CompressionZSTD
	}
	block, err := persistence.CompressBlock([]byte(strings.Join(p.HexVec(), "")), c)
	if err != nil {
		return nil, fmt.Errorf("color: compress: %w", err)
	}
	return block, nil
}

// VMax returns the scaling ceiling used per channel; zero for unset and
// categorical channels.
func (p *Pipeline) VMax() [MaxChannels]float64 { return p.vmax }

// CellIndices returns the selected cells, or nil when no filter applies.
func (p *Pipeline) CellIndices() []uint32 { return slices.Clone(p.cells) }

// Legend returns the categories and colours of a short-circuited pipeline.
func (p *Pipeline) Legend() []LegendEntry { return slices.Clone(p.legend) }
