package preflight

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
)

// DefaultMinFreeBytes is the free space needed for a small corpus, the
// previous version kept until publication, and the history database.
const DefaultMinFreeBytes = 100 << 20

// maxConcurrentProbes bounds how many probes run at once.
const maxConcurrentProbes = 4

// Checker runs the system probes followed by any backend probes.
type Checker struct {
	probes  []Probe
	minFree uint64
}

// Option configures a Checker.
type Option func(*Checker)

// WithProbes adds backend probes, reported after the system probes.
func WithProbes(probes ...Probe) Option {
	return func(c *Checker) {
		c.probes = append(c.probes, probes...)
	}
}

// WithMinFreeBytes raises the free space the disk_space probe demands.
// Values below DefaultMinFreeBytes are ignored.
func WithMinFreeBytes(n uint64) Option {
	return func(c *Checker) {
		c.minFree = max(c.minFree, n)
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{minFree: DefaultMinFreeBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run creates dataDir if needed and runs every probe. When the directory
// cannot be created its probes are replaced by one critical data_dir result.
func (c *Checker) Run(ctx context.Context, dataDir string) Report {
	var probes []Probe
	var results []Result

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		results = append(results, Result{
			Name:     "data_dir",
			Status:   StatusFail,
			Message:  fmt.Sprintf("cannot create %s: %v", dataDir, err),
			Hint:     "Set DOCCHAT_DATA_DIR to a writable directory",
			Required: true,
		})
	} else {
		probes = append(probes, DiskSpaceProbe(dataDir, c.minFree), WritableProbe(dataDir))
	}
	probes = append(probes, FileLimitProbe(MinFileDescriptors))
	probes = append(probes, c.probes...)

	ran := make([]Result, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for i, p := range probes {
		g.Go(func() error {
			ran[i] = RunProbe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return newReport(append(results, ran...))
}
