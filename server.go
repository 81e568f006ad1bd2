package scopeserve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/scopeserve/blobstore"
	"github.com/hupe1980/scopeserve/color"
	"github.com/hupe1980/scopeserve/connection"
	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/enrichment"
	"github.com/hupe1980/scopeserve/internal/cache"
	"github.com/hupe1980/scopeserve/internal/resource"
	"github.com/hupe1980/scopeserve/search"
	"github.com/hupe1980/scopeserve/session"
)

// Directories under the data root. Each holds global entries at its top level
// and one private subdirectory per session.
const (
	DatasetsDir = "my-looms"
	GeneSetsDir = "my-gene-sets"
)

// Server serves datasets below one data root.
type Server struct {
	root    string
	opts    options
	log     *Logger
	metrics MetricsCollector

	sessions  *session.Store
	conns     *connection.Cache
	rowCache  cache.BlockCache
	resources *resource.Controller

	closed atomic.Bool
}

var (
	_ color.Source  = (*connection.Handle)(nil)
	_ search.Source = (*connection.Handle)(nil)
)

// New opens the server rooted at root. The session store lives in root, and
// datasets in root/my-looms.
func New(root string, optFns ...Option) (*Server, error) {
	o := applyOptions(optFns)
	log := o.logger.WithComponent("scopeserve")

	datasets := filepath.Join(root, DatasetsDir)
	for _, dir := range []string{datasets, filepath.Join(root, GeneSetsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("scopeserve: %w", err)
		}
	}

	resources := resource.NewController(resource.Config{
		MemoryLimitBytes:    o.rowCacheBytes,
		MaxConcurrentBuilds: o.indexBuilds,
		IOLimitBytesPerSec:  o.indexIOLimit,
	})
	var rowCache cache.BlockCache
	if o.rowCacheBytes > 0 {
		rowCache = cache.NewShardedLRUBlockCache(o.rowCacheBytes, resources)
	}

	blobs := o.indexStore
	if blobs == nil {
		blobs = blobstore.NewLocalStore(datasets)
	}

	var observer connection.Observer
	if obs, ok := o.metricsCollector.(connection.Observer); ok {
		observer = obs
	}

	so := o.session
	so.DataRoot = root
	so.Logger = o.logger.Logger
	so.Now = o.now
	sessions, err := session.Open(root, so)
	if err != nil {
		if rowCache != nil {
			_ = rowCache.Close()
		}
		return nil, err
	}

	s := &Server{
		root:      root,
		opts:      o,
		log:       log,
		metrics:   o.metricsCollector,
		sessions:  sessions,
		rowCache:  rowCache,
		resources: resources,
		conns: connection.New(connection.Options{
			Root:       datasets,
			Logger:     o.logger.Logger,
			Registry:   o.registry,
			RowCache:   rowCache,
			IndexStore: search.NewStore(blobs, o.codec, o.compression).WithIOLimit(resources),
			Resources:  resources,
			Observer:   observer,
		}),
	}
	log.Info("server opened", "root", root, "permanent_sessions", len(sessions.Permanent()))
	return s, nil
}

// Close closes every open dataset and flushes the session store.
func (s *Server) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	errs := []error{s.conns.Close(), s.sessions.Close()}
	if s.rowCache != nil {
		errs = append(errs, s.rowCache.Close())
	}
	return errors.Join(errs...)
}

// Sessions exposes the session store.
func (s *Server) Sessions() *session.Store { return s.sessions }

// Connections exposes the dataset connection cache.
func (s *Server) Connections() *connection.Cache { return s.conns }

func (s *Server) authorize(sessionID string, write bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return translateError(s.sessions.Authorize(sessionID, write))
}

// visible checks that p is a global entry or a private entry of sessionID.
func visible(sessionID, p string) error {
	dir, _ := path.Split(path.Clean(filepath.ToSlash(p)))
	dir = strings.TrimSuffix(dir, "/")
	if dir != "" && dir != sessionID {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, sessionID, p string) (*connection.Handle, error) {
	if err := s.authorize(sessionID, false); err != nil {
		return nil, err
	}
	if err := visible(sessionID, p); err != nil {
		return nil, err
	}
	h, err := s.conns.Get(ctx, p, dataset.ModeRead)
	return h, translateError(err)
}

// withHandle runs fn on the read handle of p. A write window or eviction can
// close the handle under fn, which then sees ErrClosed or blank accessors;
// fn runs once more on a fresh handle.
func (s *Server) withHandle(ctx context.Context, p string, fn func(h *connection.Handle) error) error {
	for attempt := 0; ; attempt++ {
		h, err := s.conns.Get(ctx, p, dataset.ModeRead)
		if err != nil {
			return translateError(err)
		}
		err = fn(h)
		retry := errors.Is(err, connection.ErrClosed) || (err == nil && h.Closed())
		if !retry || attempt > 0 {
			return err
		}
		s.log.Debug("handle closed during read, reopening", "path", p)
	}
}

// read authorizes a read of p by sessionID and runs fn via withHandle.
func (s *Server) read(ctx context.Context, sessionID, p string, fn func(h *connection.Handle) error) error {
	if err := s.authorize(sessionID, false); err != nil {
		return err
	}
	if err := visible(sessionID, p); err != nil {
		return err
	}
	return s.withHandle(ctx, p, fn)
}

// IssueSession mints a fresh read-write session.
func (s *Server) IssueSession(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	id, err := s.sessions.Issue(ctx)
	s.metrics.RecordSession(err == nil, false)
	s.log.LogSession(ctx, id, true, false, err)
	return id, err
}

// ResolveSession validates a client-supplied session id; see session.Store.Resolve.
func (s *Server) ResolveSession(ctx context.Context, candidate, clientIP string, interactions int) (session.Info, error) {
	if s.closed.Load() {
		return session.Info{}, ErrClosed
	}
	info, err := s.sessions.Resolve(ctx, candidate, clientIP, interactions)
	s.metrics.RecordSession(info.Created, info.SessionsLimitReached)
	s.log.LogSession(ctx, info.ID, info.Created, info.SessionsLimitReached, err)
	return info, err
}

// SweepSessions removes expired sessions and their private directories.
func (s *Server) SweepSessions(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	removed, err := s.sessions.Sweep(ctx)
	for _, id := range removed {
		// Private datasets of the session are gone from disk.
		s.dropPrivate(id)
	}
	s.metrics.RecordSweep(len(removed), time.Since(start))
	s.log.LogSweep(ctx, len(removed), err)
	return removed, err
}

func (s *Server) dropPrivate(sessionID string) {
	for _, p := range s.openPrivate(sessionID) {
		if err := s.conns.Drop(p); err != nil {
			s.log.Warn("closing expired dataset failed", "path", p, "error", err)
		}
	}
}

func (s *Server) openPrivate(sessionID string) []string {
	var out []string
	for _, p := range s.conns.Paths() {
		if dir, _ := path.Split(p); strings.TrimSuffix(dir, "/") == sessionID {
			out = append(out, p)
		}
	}
	return out
}

// DatasetInfo describes one listed dataset.
type DatasetInfo struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Private bool   `json:"private"`
	Genes   int    `json:"genes"`
	Cells   int    `json:"cells"`
	Size    int64  `json:"size"`
	Species string `json:"species"`
	Created string `json:"created,omitempty"`
}

func listDir(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && dataset.IsDatasetFile(e.Name()) {
			out = append(out, path.Join(prefix, e.Name()))
		}
	}
	return out, nil
}

// ListDatasets returns the global datasets and the private datasets of
// sessionID. Datasets that cannot be opened are skipped and logged.
func (s *Server) ListDatasets(ctx context.Context, sessionID string) ([]DatasetInfo, error) {
	if err := s.authorize(sessionID, false); err != nil {
		return nil, err
	}
	root := filepath.Join(s.root, DatasetsDir)
	paths, err := listDir(root, "")
	if err != nil {
		return nil, err
	}
	private, err := listDir(filepath.Join(root, sessionID), sessionID)
	if err != nil {
		return nil, err
	}
	paths = append(paths, private...)

	infos := make([]*DatasetInfo, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.maxParallelOpens)
	for i, p := range paths {
		g.Go(func() error {
			var info *DatasetInfo
			err := s.withHandle(gctx, p, func(h *connection.Handle) error {
				info = &DatasetInfo{
					Path:    p,
					Private: strings.Contains(p, "/"),
					Genes:   h.NumGenes(),
					Cells:   h.NumCells(),
					Size:    h.Size(),
					Species: h.Species(),
				}
				info.Title, _ = h.GlobalAttr(dataset.AttrTitle)
				if info.Title == "" {
					info.Title = strings.TrimSuffix(path.Base(p), dataset.Ext)
				}
				info.Created, _ = h.GlobalAttr(dataset.AttrCreation)
				return nil
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.log.LogOpen(gctx, p, 0, err)
				return nil
			}
			s.log.LogOpen(gctx, p, info.Size, nil)
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]DatasetInfo, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			out = append(out, *info)
		}
	}
	return out, nil
}

// Reindex loads or builds the search index of every dataset, global and
// private. It returns the number of indexed datasets.
func (s *Server) Reindex(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	root := filepath.Join(s.root, DatasetsDir)
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && dataset.IsDatasetFile(d.Name()) {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var indexed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.maxParallelOpens)
	for _, p := range paths {
		g.Go(func() error {
			err := s.withHandle(gctx, p, func(h *connection.Handle) error {
				_, err := h.Index(gctx)
				return err
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.log.Warn("indexing failed", "path", p, "error", err)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(indexed.Load()), err
}

// SearchRequest is one search query against a dataset.
type SearchRequest struct {
	SessionID string
	Path      string
	Query     string
	// Filter restricts results to one category; empty or "all" returns all.
	Filter     string
	MaxResults int
}

// Search matches a query against the dataset's index, building the index
// first if the dataset has none yet.
func (s *Server) Search(ctx context.Context, req SearchRequest) ([]search.CategoryResults, error) {
	start := time.Now()
	res, err := s.search(ctx, req)
	s.metrics.RecordSearch(len(res), time.Since(start), err)
	s.log.LogSearch(ctx, req.Path, req.Query, len(res), time.Since(start), err)
	return res, err
}

func (s *Server) search(ctx context.Context, req SearchRequest) ([]search.CategoryResults, error) {
	var res []search.CategoryResults
	err := s.read(ctx, req.SessionID, req.Path, func(h *connection.Handle) error {
		idx, err := h.Index(ctx)
		if err != nil {
			return translateError(err)
		}
		resolver, err := h.Resolver()
		if err != nil {
			return translateError(err)
		}
		res, err = search.Search(idx, req.Query, search.Options{
			Filter:     req.Filter,
			Registry:   s.opts.registry,
			Resolver:   resolver,
			MaxResults: req.MaxResults,
		})
		return translateError(err)
	})
	return res, err
}

// ColorRequest selects up to three features to colour the cells of a
// dataset by.
type ColorRequest struct {
	SessionID string
	Path      string
	// Types and Features are parallel; see color.Decode.
	Types    []string
	Features []string

	VMax              [color.MaxChannels]float64
	VMin              [color.MaxChannels]float64
	CPM               bool
	Log2              bool
	Thresholds        [color.MaxChannels]float64
	DefaultThresholds bool
	ScaleThresholded  bool

	Filters []color.Filter
	Logic   color.Logic
	// Compress returns the colours as a compressed block instead of HexVec.
	Compress bool
}

// ColorResponse carries one colour per selected cell.
type ColorResponse struct {
	HexVec      []string            `json:"hexVec,omitempty"`
	Compressed  []byte              `json:"compressed,omitempty"`
	VMax        []float64           `json:"vmax"`
	CellIndices []uint32            `json:"cellIndices,omitempty"`
	Legend      []color.LegendEntry `json:"legend,omitempty"`
}

// CellColors runs the feature-to-colour pipeline.
func (s *Server) CellColors(ctx context.Context, req ColorRequest) (*ColorResponse, error) {
	start := time.Now()
	resp, err := s.cellColors(ctx, req)
	s.metrics.RecordColor(len(req.Features), time.Since(start), err)
	cells := 0
	if resp != nil {
		cells = max(len(resp.HexVec), len(resp.CellIndices))
	}
	s.log.LogColor(ctx, req.Path, len(req.Features), cells, err)
	return resp, err
}

func (s *Server) cellColors(ctx context.Context, req ColorRequest) (*ColorResponse, error) {
	var p *color.Pipeline
	err := s.read(ctx, req.SessionID, req.Path, func(h *connection.Handle) error {
		md, err := h.Metadata()
		if err != nil {
			return translateError(err)
		}
		features, err := color.Decode(req.Types, req.Features, md)
		if err != nil {
			return translateError(err)
		}
		p, err = color.Run(ctx, h, features, s.colorOptions(req))
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}

	vmax := p.VMax()
	resp := &ColorResponse{
		VMax:        vmax[:],
		CellIndices: p.CellIndices(),
		Legend:      p.Legend(),
	}
	if req.Compress {
		if resp.Compressed, err = p.CompressedHexVec(); err != nil {
			return nil, err
		}
	} else {
		resp.HexVec = p.HexVec()
	}
	return resp, nil
}

func (s *Server) colorOptions(req ColorRequest) color.Options {
	return color.Options{
		VMax:              req.VMax,
		VMin:              req.VMin,
		CPM:               req.CPM,
		Log2:              req.Log2,
		Thresholds:        req.Thresholds,
		DefaultThresholds: req.DefaultThresholds,
		ScaleThresholded:  req.ScaleThresholded,
		Filters:           req.Filters,
		Logic:             req.Logic,
		Compression:       s.opts.compression,
		Logger:            s.log.Logger,
	}
}

// Coordinates returns the layout of an embedding; connection.DefaultEmbedding
// selects the default one. The vertical axis is negated.
func (s *Server) Coordinates(ctx context.Context, sessionID, p string, embeddingID int) ([]float32, []float32, error) {
	var x, y []float32
	err := s.read(ctx, sessionID, p, func(h *connection.Handle) (err error) {
		x, y, err = h.Coordinates(embeddingID)
		return translateError(err)
	})
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// DeleteDataset removes a dataset and its persisted index. Global datasets
// can only be deleted by permanent read-write sessions.
func (s *Server) DeleteDataset(ctx context.Context, sessionID, p string) error {
	if err := s.authorize(sessionID, true); err != nil {
		return err
	}
	if err := visible(sessionID, p); err != nil {
		return err
	}
	if !strings.Contains(path.Clean(filepath.ToSlash(p)), "/") && !s.sessions.IsPermanent(sessionID) {
		return fmt.Errorf("%w: global dataset %s", ErrUnauthorized, p)
	}
	return translateError(s.conns.Delete(ctx, p))
}

// Enrich runs an enrichment routine over a gene set and relays its progress.
// geneSet is relative to the gene set directory and, like dataset paths, is
// either global or private to sessionID.
func (s *Server) Enrich(ctx context.Context, sessionID, p, geneSet string, routine enrichment.Routine, opts enrichment.Options) (<-chan enrichment.Update, error) {
	h, err := s.handle(ctx, sessionID, p)
	if err != nil {
		return nil, err
	}
	if err := visible(sessionID, geneSet); err != nil {
		return nil, err
	}
	clean := filepath.Clean(filepath.FromSlash(geneSet))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("%w: gene set %q", ErrMalformed, geneSet)
	}
	abs := filepath.Join(s.root, GeneSetsDir, clean)
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("%w: gene set %s", ErrNotFound, geneSet)
	}
	if opts.Logger == nil {
		opts.Logger = s.log.Logger
	}
	if opts.Compression == 0 {
		opts.Compression = s.opts.compression
	}
	return enrichment.Relay(ctx, routine, abs, h, opts), nil
}

// edit runs fn on a private copy of the metadata inside a write window and
// refreshes the index category the edit affects.
func (s *Server) edit(ctx context.Context, op, sessionID, p string, c search.Category, fn func(md *dataset.Metadata) error) error {
	start := time.Now()
	err := s.doEdit(ctx, sessionID, p, c, fn)
	s.metrics.RecordEdit(op, time.Since(start), err)
	s.log.LogEdit(ctx, op, p, err)
	return err
}

func (s *Server) doEdit(ctx context.Context, sessionID, p string, c search.Category, fn func(md *dataset.Metadata) error) error {
	if err := s.authorize(sessionID, true); err != nil {
		return err
	}
	if err := visible(sessionID, p); err != nil {
		return err
	}
	err := s.conns.WithWrite(ctx, p, func(h *connection.Handle) error {
		md, err := h.Metadata()
		if err != nil {
			return err
		}
		md = md.Clone()
		if err := fn(md); err != nil {
			return err
		}
		if err := h.SetMetadata(md); err != nil {
			return err
		}
		return h.UpdateIndex(ctx, c)
	})
	return translateError(err)
}

func findCluster(md *dataset.Metadata, clusteringID, clusterID int) (*dataset.Clustering, *dataset.Cluster, error) {
	c, ok := md.Clustering(clusteringID)
	if !ok {
		return nil, nil, &ErrUnknownCluster{Clustering: clusteringID, Cluster: color.AllClusters}
	}
	if clusterID == color.AllClusters {
		return c, nil, nil
	}
	cl, ok := c.Cluster(clusterID)
	if !ok {
		return nil, nil, &ErrUnknownCluster{Clustering: clusteringID, Cluster: clusterID}
	}
	return c, cl, nil
}

// RenameClustering renames a clustering. Names are unique per dataset.
func (s *Server) RenameClustering(ctx context.Context, sessionID, p string, clusteringID int, name string) error {
	name = strings.TrimSpace(name)
	return s.edit(ctx, "rename_clustering", sessionID, p, search.CategoryClusterings, func(md *dataset.Metadata) error {
		if name == "" {
			return fmt.Errorf("%w: empty clustering name", ErrMalformed)
		}
		c, _, err := findCluster(md, clusteringID, color.AllClusters)
		if err != nil {
			return err
		}
		if other, ok := md.ClusteringByName(name); ok && other.ID != clusteringID {
			return fmt.Errorf("%w: clustering %q exists", ErrConflict, name)
		}
		c.Name = name
		return nil
	})
}

// RenameCluster sets the description of a cluster. Descriptions are unique
// within a clustering.
func (s *Server) RenameCluster(ctx context.Context, sessionID, p string, clusteringID, clusterID int, description string) error {
	description = strings.TrimSpace(description)
	return s.edit(ctx, "rename_cluster", sessionID, p, search.CategoryClusterings, func(md *dataset.Metadata) error {
		if description == "" {
			return fmt.Errorf("%w: empty cluster description", ErrMalformed)
		}
		c, cl, err := findCluster(md, clusteringID, clusterID)
		if err != nil {
			return err
		}
		if other, ok := c.ClusterByDescription(description); ok && other.ID != clusterID {
			return fmt.Errorf("%w: cluster %q exists in %q", ErrConflict, description, c.Name)
		}
		cl.Description = description
		return nil
	})
}

// curator returns the voter record of an ORCID bound to sessionID.
func (s *Server) curator(sessionID, orcid string) (dataset.Voter, error) {
	b, ok := s.sessions.ORCID(orcid)
	if !ok || !slices.Contains(b.Sessions, sessionID) {
		return dataset.Voter{}, fmt.Errorf("%w: orcid %q is not bound to the session", ErrUnauthorized, orcid)
	}
	now := s.opts.now().UTC()
	return dataset.Voter{
		VoterID:      b.ORCID,
		VoterName:    b.Name,
		VoterHash:    annotationHash(b.ORCID, strconv.FormatInt(now.Unix(), 10)),
		VoterTimeStr: now.Format(time.RFC3339),
	}, nil
}

func annotationHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// AddClusterAnnotation attaches a curated cell type annotation to a cluster.
// The curator is the ORCID in data.CuratorID, which must be bound to the
// session; the curator's vote counts for the annotation.
func (s *Server) AddClusterAnnotation(ctx context.Context, sessionID, p string, clusteringID, clusterID int, data dataset.AnnotationData) error {
	voter, err := s.curator(sessionID, data.CuratorID)
	if err != nil {
		s.log.LogEdit(ctx, "add_annotation", p, err)
		return err
	}
	if strings.TrimSpace(data.OntologyID) == "" && strings.TrimSpace(data.OntologyLabel) == "" {
		return fmt.Errorf("%w: annotation without ontology term", ErrMalformed)
	}
	data.CuratorName = voter.VoterName
	data.Timestamp = s.opts.now().Unix()

	return s.edit(ctx, "add_annotation", sessionID, p, search.CategoryClusterAnnotations, func(md *dataset.Metadata) error {
		_, cl, err := findCluster(md, clusteringID, clusterID)
		if err != nil {
			return err
		}
		for _, a := range cl.CellTypeAnnotation {
			if a.Data.OntologyID == data.OntologyID && a.Data.OntologyLabel == data.OntologyLabel {
				return fmt.Errorf("%w: annotation %q exists", ErrConflict, data.OntologyLabel)
			}
		}
		cl.CellTypeAnnotation = append(cl.CellTypeAnnotation, dataset.CellTypeAnnotation{
			Data:         data,
			ValidateHash: annotationHash(data.CuratorID, data.OntologyID, data.OntologyLabel, strconv.FormatInt(data.Timestamp, 10)),
			Votes: dataset.Votes{
				For: dataset.Tally{Total: 1, Voters: []dataset.Voter{voter}},
			},
		})
		return nil
	})
}

// Vote is one vote on a cluster annotation.
type Vote struct {
	ORCID string
	// OntologyLabel and OntologyID identify the annotation.
	OntologyLabel string
	OntologyID    string
	// For votes for the annotation, otherwise against it.
	For bool
}

// VoteClusterAnnotation records a vote. Voting again in the same direction is
// a conflict; voting in the other direction moves the vote.
func (s *Server) VoteClusterAnnotation(ctx context.Context, sessionID, p string, clusteringID, clusterID int, v Vote) error {
	voter, err := s.curator(sessionID, v.ORCID)
	if err != nil {
		s.log.LogEdit(ctx, "vote_annotation", p, err)
		return err
	}
	return s.edit(ctx, "vote_annotation", sessionID, p, search.CategoryClusterAnnotations, func(md *dataset.Metadata) error {
		_, cl, err := findCluster(md, clusteringID, clusterID)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(cl.CellTypeAnnotation, func(a dataset.CellTypeAnnotation) bool {
			return a.Data.OntologyID == v.OntologyID && a.Data.OntologyLabel == v.OntologyLabel
		})
		if i < 0 {
			return fmt.Errorf("%w: annotation %q", ErrNotFound, v.OntologyLabel)
		}
		a := &cl.CellTypeAnnotation[i]
		same, other := &a.Votes.Against, &a.Votes.For
		if v.For {
			same, other = other, same
		}
		byVoter := func(x dataset.Voter) bool { return x.VoterID == voter.VoterID }
		if slices.ContainsFunc(same.Voters, byVoter) {
			return fmt.Errorf("%w: %s already voted", ErrConflict, voter.VoterID)
		}
		if n := len(other.Voters); n > 0 {
			other.Voters = slices.DeleteFunc(other.Voters, byVoter)
			other.Total -= n - len(other.Voters)
		}
		same.Voters = append(same.Voters, voter)
		same.Total++
		return nil
	})
}
