package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docchat/internal/chunk"
	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// Embedder is the subset of embed.Embedder the index needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// unreadableVersion stands for a CURRENT file that exists but cannot be read.
const unreadableVersion = math.MaxUint64

// DefaultExactThreshold is the corpus size up to which search ranks every
// chunk exactly instead of querying the graph.
const DefaultExactThreshold = 2048

// IndexConfig configures a VectorIndex.
type IndexConfig struct {
	Dir            string
	Embedder       Embedder
	BatchSize      int
	Workers        int
	ExactThreshold int
	M              int
	EfSearch       int
	Logger         *slog.Logger
}

// VectorIndex owns the active corpus for one document.
//
// Writers (Rebuild, Cleanup and loading) serialize on a mutex and a
// cross-process file lock. Readers load the published corpus through an
// atomic pointer, so a search sees either the corpus before a rebuild or
// the one after it.
type VectorIndex struct {
	dir      string
	embedder Embedder
	config   IndexConfig
	logger   *slog.Logger

	writeMu     sync.Mutex
	lock        *IndexLock
	lastVersion uint64

	current atomic.Pointer[corpus]
	probed  atomic.Bool // disk has been checked for a corpus
	// synced is the CURRENT version the handle was last reconciled with;
	// 0 means no CURRENT file.
	synced atomic.Uint64

	// beforePublish runs after persistence and before the swap. Tests use it
	// to observe the index mid-rebuild.
	beforePublish func()
}

// NewVectorIndex creates an index rooted at cfg.Dir. Nothing is loaded
// until Load or the first Search.
func NewVectorIndex(cfg IndexConfig) (*VectorIndex, error) {
	if cfg.Dir == "" {
		return nil, dcerrors.ValidationError("index directory is required", nil)
	}
	if cfg.Embedder == nil {
		return nil, dcerrors.ValidationError("embedder is required", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ExactThreshold < 0 {
		cfg.ExactThreshold = 0
	} else if cfg.ExactThreshold == 0 {
		cfg.ExactThreshold = DefaultExactThreshold
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, dcerrors.Wrap(dcerrors.ErrCodeIndexSave, fmt.Errorf("create index directory: %w", err))
	}

	return &VectorIndex{
		dir:      cfg.Dir,
		embedder: cfg.Embedder,
		config:   cfg,
		logger:   cfg.Logger,
		lock:     NewIndexLock(cfg.Dir),
	}, nil
}

// RebuildOption customizes a Rebuild.
type RebuildOption func(*rebuildOptions)

type rebuildOptions struct {
	progress func(done, total int)
}

// WithProgress reports embedded chunk counts as batches finish.
func WithProgress(fn func(done, total int)) RebuildOption {
	return func(o *rebuildOptions) {
		o.progress = fn
	}
}

// Rebuild embeds chunks, persists a new corpus version and publishes it.
// On failure the previously active corpus, if any, stays active.
func (x *VectorIndex) Rebuild(ctx context.Context, chunks []chunk.Chunk, opts ...RebuildOption) (Corpus, error) {
	if len(chunks) == 0 {
		return Corpus{}, dcerrors.EmptyInput("no chunks to index")
	}

	var o rebuildOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock, err := x.acquire()
	if err != nil {
		return Corpus{}, err
	}
	defer unlock()

	start := time.Now()
	vectors, err := x.embedAll(ctx, chunks, o.progress)
	if err != nil {
		return Corpus{}, err
	}

	dims := len(vectors[0])
	for i, vec := range vectors {
		if len(vec) == 0 || len(vec) != dims {
			return Corpus{}, dcerrors.EmbeddingError(
				fmt.Sprintf("chunk %d embedded with %d dimensions, want %d", i, len(vec), dims), nil)
		}
		normalizeVectorInPlace(vec)
	}

	version, err := x.nextVersion()
	if err != nil {
		return Corpus{}, dcerrors.Wrap(dcerrors.ErrCodeIndexSave, err)
	}

	c := &corpus{
		meta: Corpus{
			Version:    version,
			ChunkCount: len(chunks),
			Model:      x.embedder.ModelName(),
			Dimensions: dims,
			CreatedAt:  time.Now().UTC(),
		},
		chunks:  slices.Clone(chunks),
		vectors: vectors,
	}
	if len(chunks) > x.config.ExactThreshold {
		g, err := buildGraph(vectors, x.graphConfig(dims))
		if err != nil {
			return Corpus{}, dcerrors.InternalError("build graph", err)
		}
		c.graph = g
	}

	if err := saveCorpus(x.dir, c); err != nil {
		_ = os.RemoveAll(filepath.Join(x.dir, versionDirName(version)))
		return Corpus{}, dcerrors.Wrap(dcerrors.ErrCodeIndexSave, err)
	}
	if err := writeCurrent(x.dir, version); err != nil {
		_ = os.RemoveAll(filepath.Join(x.dir, versionDirName(version)))
		return Corpus{}, dcerrors.Wrap(dcerrors.ErrCodeIndexSave, err)
	}
	x.lastVersion = version

	if x.beforePublish != nil {
		x.beforePublish()
	}
	x.current.Store(c)
	x.synced.Store(version)
	x.probed.Store(true)

	x.removeSuperseded(version)

	x.logger.Info("index_rebuilt",
		slog.Uint64("version", version),
		slog.Int("chunks", len(chunks)),
		slog.Int("dimensions", dims),
		slog.Bool("graph", c.graph != nil),
		slog.Duration("duration", time.Since(start)))

	return c.meta, nil
}

// embedAll embeds chunk texts in batches on a bounded errgroup.
func (x *VectorIndex) embedAll(ctx context.Context, chunks []chunk.Chunk, progress func(done, total int)) ([][]float32, error) {
	total := len(chunks)
	vectors := make([][]float32, total)

	var (
		progressMu sync.Mutex
		done       int
	)
	report := func(n int) {
		if progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		done += n
		progress(done, total)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.config.Workers)

	for start := 0; start < total; start += x.config.BatchSize {
		end := min(start+x.config.BatchSize, total)
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}
			batch, err := x.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			report(len(batch))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, dcerrors.ErrEmbedding) {
			return nil, err
		}
		return nil, dcerrors.EmbeddingError("failed to embed chunks", err)
	}
	return vectors, nil
}

// Search returns up to k chunks most similar to query, best first. Equal
// scores are ordered by chunk position. With no corpus the result is empty.
func (x *VectorIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, dcerrors.ValidationError(fmt.Sprintf("k must be positive, got %d", k), nil)
	}

	c, err := x.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return []Hit{}, nil
	}

	q, err := x.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, dcerrors.ErrEmbedding) {
			return nil, err
		}
		return nil, dcerrors.EmbeddingError("failed to embed query", err)
	}
	if len(q) != c.meta.Dimensions {
		return nil, dcerrors.EmbeddingError(
			fmt.Sprintf("query embedded with %d dimensions, corpus has %d", len(q), c.meta.Dimensions), nil)
	}
	q = slices.Clone(q)
	normalizeVectorInPlace(q)

	return c.rank(q, k, x.config.EfSearch)
}

// rank scores candidates exactly and orders them by score, then position.
func (c *corpus) rank(q []float32, k, efSearch int) ([]Hit, error) {
	var candidates []int
	if c.graph == nil {
		candidates = make([]int, len(c.chunks))
		for i := range candidates {
			candidates[i] = i
		}
	} else {
		neighbors, err := c.graph.Search(q, max(4*k, efSearch))
		if err != nil {
			return nil, dcerrors.Wrap(dcerrors.ErrCodeSearchFailed, err)
		}
		candidates = make([]int, 0, len(neighbors))
		for _, n := range neighbors {
			if n.Key < uint64(len(c.chunks)) {
				candidates = append(candidates, int(n.Key))
			}
		}
	}

	hits := make([]Hit, 0, len(candidates))
	for _, i := range candidates {
		hits = append(hits, Hit{Chunk: c.chunks[i], Score: dot(q, c.vectors[i])})
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Chunk.Order, b.Chunk.Order)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Load warms the index from disk. A corrupt stored corpus is logged and
// treated as absent; only lock failures are returned.
func (x *VectorIndex) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := x.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	x.loadLocked()
	return nil
}

// ensureLoaded returns the active corpus. It loads from disk on first use
// and again whenever CURRENT names a different version than the handle,
// which happens when another process rebuilds or cleans the directory.
func (x *VectorIndex) ensureLoaded(ctx context.Context) (*corpus, error) {
	if x.probed.Load() && x.synced.Load() == diskVersion(x.dir) {
		return x.current.Load(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := x.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !x.probed.Load() || x.synced.Load() != diskVersion(x.dir) {
		x.loadLocked()
	}
	return x.current.Load(), nil
}

// diskVersion reads CURRENT: 0 when absent, unreadableVersion on error.
func diskVersion(dir string) uint64 {
	v, ok, err := readCurrent(dir)
	switch {
	case err != nil:
		return unreadableVersion
	case !ok:
		return 0
	default:
		return v
	}
}

// loadLocked must be called with the writer lock held.
func (x *VectorIndex) loadLocked() {
	defer x.probed.Store(true)

	v, ok, err := readCurrent(x.dir)
	if err != nil {
		x.logLoadFailure(filepath.Join(x.dir, currentFile), err)
		x.current.Store(nil)
		x.synced.Store(unreadableVersion)
		return
	}
	if !ok {
		x.current.Store(nil)
		x.synced.Store(0)
		return
	}
	// A version that fails to load is not retried until CURRENT changes.
	x.synced.Store(v)

	c, err := loadCorpus(x.dir, v, x.graphConfig(0), x.config.ExactThreshold)
	if err != nil {
		x.logLoadFailure(filepath.Join(x.dir, versionDirName(v)), err)
		x.current.Store(nil)
		return
	}

	x.lastVersion = max(x.lastVersion, v)
	x.current.Store(c)
	x.logger.Info("index_loaded",
		slog.Uint64("version", v),
		slog.Int("chunks", c.meta.ChunkCount),
		slog.String("model", c.meta.Model))
}

func (x *VectorIndex) logLoadFailure(path string, err error) {
	loadErr := dcerrors.IndexLoadError(path, err)
	x.logger.Warn("index_load_failed", dcerrors.FormatForLog(loadErr)...)
}

// Cleanup drops the active corpus and leaves an empty index directory.
// It is idempotent.
func (x *VectorIndex) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := x.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	x.current.Store(nil)
	x.synced.Store(0)
	x.probed.Store(true)

	if err := os.RemoveAll(x.dir); err != nil {
		return dcerrors.Wrap(dcerrors.ErrCodeIndexSave, fmt.Errorf("remove index directory: %w", err))
	}
	if err := os.MkdirAll(x.dir, 0755); err != nil {
		return dcerrors.Wrap(dcerrors.ErrCodeIndexSave, fmt.Errorf("recreate index directory: %w", err))
	}

	x.logger.Info("index_cleaned", slog.String("dir", x.dir))
	return nil
}

// Stats reports the active corpus. It does not trigger a load.
func (x *VectorIndex) Stats() (Corpus, bool) {
	c := x.current.Load()
	if c == nil {
		return Corpus{}, false
	}
	return c.meta, true
}

// Dir returns the index directory.
func (x *VectorIndex) Dir() string {
	return x.dir
}

func (x *VectorIndex) graphConfig(dims int) GraphConfig {
	return GraphConfig{Dimensions: dims, M: x.config.M, EfSearch: x.config.EfSearch}
}

// acquire takes the in-process and cross-process writer locks.
func (x *VectorIndex) acquire() (func(), error) {
	x.writeMu.Lock()
	if err := x.lock.Lock(); err != nil {
		x.writeMu.Unlock()
		return nil, dcerrors.InternalError("lock index", err)
	}
	return func() {
		if err := x.lock.Unlock(); err != nil {
			x.logger.Warn("index_unlock_failed", slog.String("error", err.Error()))
		}
		x.writeMu.Unlock()
	}, nil
}

// nextVersion must be called with the writer lock held.
func (x *VectorIndex) nextVersion() (uint64, error) {
	versions, err := listVersions(x.dir)
	if err != nil {
		return 0, err
	}
	next := x.lastVersion
	if v, ok, err := readCurrent(x.dir); err == nil && ok {
		next = max(next, v)
	}
	for _, v := range versions {
		next = max(next, v)
	}
	return next + 1, nil
}

func (x *VectorIndex) removeSuperseded(keep uint64) {
	versions, err := listVersions(x.dir)
	if err != nil {
		x.logger.Warn("index_prune_failed", slog.String("error", err.Error()))
		return
	}
	for _, v := range versions {
		if v == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(x.dir, versionDirName(v))); err != nil {
			x.logger.Warn("index_prune_failed",
				slog.Uint64("version", v),
				slog.String("error", err.Error()))
		}
	}
}
