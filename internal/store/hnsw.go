package store

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// GraphConfig configures an HNSW graph.
type GraphConfig struct {
	Dimensions int
	M          int // max connections per node
	EfSearch   int // candidate list size during search
}

// Neighbor is an approximate nearest neighbor.
type Neighbor struct {
	Key   uint64
	Score float32
}

// HNSWStore wraps a coder/hnsw graph keyed by chunk position.
// A store is filled once and then only searched; Add must not run
// concurrently with Search.
type HNSWStore struct {
	graph  *hnsw.Graph[uint64]
	config GraphConfig
}

// NewHNSWStore creates an empty cosine-distance graph.
func NewHNSWStore(cfg GraphConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, dcerrors.ValidationError(
			fmt.Sprintf("graph dimensions must be positive, got %d", cfg.Dimensions), nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &HNSWStore{graph: newGraph(cfg), config: cfg}, nil
}

func newGraph(cfg GraphConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts a vector under key. The vector is copied and normalized.
func (s *HNSWStore) Add(key uint64, vector []float32) error {
	if len(vector) != s.config.Dimensions {
		return dimensionMismatch(s.config.Dimensions, len(vector))
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeVectorInPlace(vec)

	s.graph.Add(hnsw.MakeNode(key, vec))
	return nil
}

// Search returns up to k approximate neighbors of query, closest first.
func (s *HNSWStore) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != s.config.Dimensions {
		return nil, dimensionMismatch(s.config.Dimensions, len(query))
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []Neighbor{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	nodes := s.graph.Search(q, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, node := range nodes {
		distance := s.graph.Distance(q, node.Value)
		out = append(out, Neighbor{Key: node.Key, Score: 1.0 - distance/2.0})
	}
	return out, nil
}

// Len returns the number of nodes in the graph.
func (s *HNSWStore) Len() int {
	return s.graph.Len()
}

// Save writes the graph to path via a temp file and rename.
func (s *HNSWStore) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := s.graph.Export(w); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to flush graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close graph file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}
	return nil
}

// LoadHNSWStore reads a graph written by Save.
func LoadHNSWStore(path string, cfg GraphConfig) (*HNSWStore, error) {
	s, err := NewHNSWStore(cfg)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	return s, nil
}

func dimensionMismatch(expected, got int) error {
	return dcerrors.New(dcerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil)
}

// normalizeVectorInPlace scales v to unit length. Zero vectors are left alone.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// dot assumes equal lengths.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
