package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/docchat/internal/chunk"
)

const (
	currentFile = "CURRENT"
	corpusFile  = "corpus.gob"
	graphFile   = "graph.hnsw"
)

// Corpus describes the active, fully built index of one document.
type Corpus struct {
	Version    uint64    `json:"version"`
	ChunkCount int       `json:"chunks"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// Hit is a ranked search result.
type Hit struct {
	Chunk chunk.Chunk `json:"chunk"`
	Score float32     `json:"score"`
}

// corpus is an immutable published snapshot. Readers obtain it through an
// atomic pointer and never observe it while it is being built.
type corpus struct {
	meta    Corpus
	chunks  []chunk.Chunk
	vectors [][]float32 // unit length, parallel to chunks
	graph   *HNSWStore  // nil when ranked exactly
}

// corpusRecord is the gob encoding of a corpus.
type corpusRecord struct {
	Meta     Corpus
	Chunks   []chunk.Chunk
	Vectors  [][]float32
	HasGraph bool
}

func versionDirName(v uint64) string {
	return fmt.Sprintf("v%06d", v)
}

func parseVersionDir(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, "v")
	if !ok || digits == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// saveCorpus writes c into dir/vNNNNNN. The version is not visible until
// writeCurrent points at it.
func saveCorpus(dir string, c *corpus) error {
	vdir := filepath.Join(dir, versionDirName(c.meta.Version))
	if err := os.MkdirAll(vdir, 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}

	if c.graph != nil {
		if err := c.graph.Save(filepath.Join(vdir, graphFile)); err != nil {
			return err
		}
	}

	rec := corpusRecord{
		Meta:     c.meta,
		Chunks:   c.chunks,
		Vectors:  c.vectors,
		HasGraph: c.graph != nil,
	}

	path := filepath.Join(vdir, corpusFile)
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create corpus file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(rec); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode corpus: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync corpus file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close corpus file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// loadCorpus reads version v from dir. A graph is rebuilt from the stored
// vectors when the corpus needs one and the graph file is absent.
func loadCorpus(dir string, v uint64, graphCfg GraphConfig, exactThreshold int) (*corpus, error) {
	vdir := filepath.Join(dir, versionDirName(v))

	file, err := os.Open(filepath.Join(vdir, corpusFile))
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var rec corpusRecord
	if err := gob.NewDecoder(file).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	if err := rec.validate(v); err != nil {
		return nil, err
	}

	c := &corpus{meta: rec.Meta, chunks: rec.Chunks, vectors: rec.Vectors}
	if len(c.chunks) <= exactThreshold {
		return c, nil
	}

	graphCfg.Dimensions = rec.Meta.Dimensions
	if rec.HasGraph {
		g, err := LoadHNSWStore(filepath.Join(vdir, graphFile), graphCfg)
		if err != nil {
			return nil, err
		}
		if g.Len() != len(c.chunks) {
			return nil, fmt.Errorf("graph has %d nodes, corpus has %d chunks", g.Len(), len(c.chunks))
		}
		c.graph = g
		return c, nil
	}

	g, err := buildGraph(c.vectors, graphCfg)
	if err != nil {
		return nil, err
	}
	c.graph = g
	return c, nil
}

func (r *corpusRecord) validate(v uint64) error {
	switch {
	case r.Meta.Version != v:
		return fmt.Errorf("corpus version %d does not match directory %d", r.Meta.Version, v)
	case len(r.Chunks) == 0:
		return errors.New("corpus has no chunks")
	case len(r.Chunks) != len(r.Vectors) || r.Meta.ChunkCount != len(r.Chunks):
		return fmt.Errorf("corpus has %d chunks and %d vectors", len(r.Chunks), len(r.Vectors))
	}
	for i, vec := range r.Vectors {
		if len(vec) != r.Meta.Dimensions {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(vec), r.Meta.Dimensions)
		}
	}
	return nil
}

func buildGraph(vectors [][]float32, cfg GraphConfig) (*HNSWStore, error) {
	g, err := NewHNSWStore(cfg)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if err := g.Add(uint64(i), vec); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// readCurrent returns the version named by CURRENT, or false when there is
// no CURRENT file.
func readCurrent(dir string) (uint64, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, ok := parseVersionDir(strings.TrimSpace(string(data)))
	if !ok {
		return 0, false, fmt.Errorf("malformed CURRENT pointer %q", strings.TrimSpace(string(data)))
	}
	return v, true, nil
}

// writeCurrent atomically points CURRENT at version v.
func writeCurrent(dir string, v uint64) error {
	path := filepath.Join(dir, currentFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(versionDirName(v)+"\n"), 0644); err != nil {
		return fmt.Errorf("write CURRENT: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace CURRENT: %w", err)
	}
	return nil
}

// listVersions returns every version directory under dir.
func listVersions(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, ok := parseVersionDir(e.Name()); ok {
			versions = append(versions, v)
		}
	}
	return versions, nil
}
