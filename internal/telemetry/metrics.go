// Package telemetry keeps in-process statistics about answered questions.
// Nothing leaves the process.
package telemetry

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Outcome is how a question ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// LatencyBucket is a histogram bucket for time to a full answer.
type LatencyBucket string

const (
	BucketUnder1s  LatencyBucket = "lt_1s"
	BucketUnder5s  LatencyBucket = "lt_5s"
	BucketUnder15s LatencyBucket = "lt_15s"
	BucketUnder60s LatencyBucket = "lt_60s"
	BucketOver60s  LatencyBucket = "ge_60s"
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Second:
		return BucketUnder1s
	case d < 5*time.Second:
		return BucketUnder5s
	case d < 15*time.Second:
		return BucketUnder15s
	case d < time.Minute:
		return BucketUnder60s
	default:
		return BucketOver60s
	}
}

// QuestionEvent is one question, recorded when its answer ends.
type QuestionEvent struct {
	Question string
	// NoContext is set when retrieval found no passage.
	NoContext bool
	Outcome   Outcome
	Latency   time.Duration
	Timestamp time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < len(b.items) {
		copy(result, b.items[:b.size])
	} else {
		n := copy(result, b.items[b.head:])
		copy(result[n:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and keeps words of three or more letters,
// trimmed of surrounding punctuation.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was asked about.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Since          time.Time               `json:"since"`
	TotalQuestions int64                   `json:"total_questions"`
	Outcomes       map[Outcome]int64       `json:"outcomes"`
	Latencies      map[LatencyBucket]int64 `json:"latencies"`
	NoContextCount int64                   `json:"no_context_count"`
	// RecentNoContext lists the latest questions nothing matched, oldest first.
	RecentNoContext []string    `json:"recent_no_context"`
	RepeatCount     int64       `json:"repeat_count"`
	TopTerms        []TermCount `json:"top_terms"`
}

// Config sizes the bounded collections.
type Config struct {
	TopTermsCapacity  int
	NoContextCapacity int
	RecentCapacity    int
	// TopTermsReported caps Snapshot.TopTerms.
	TopTermsReported int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:  200,
		NoContextCapacity: 20,
		RecentCapacity:    500,
		TopTermsReported:  10,
	}
}

// Metrics collects question statistics. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	cfg       Config
	start     time.Time
	total     int64
	outcomes  map[Outcome]int64
	latencies map[LatencyBucket]int64
	noContext int64
	repeats   int64

	topTerms  *lru.Cache[string, int64]
	recent    *lru.Cache[string, struct{}]
	unmatched *CircularBuffer[string]
}

// New creates a collector with cfg; zero fields take defaults.
func New(cfg Config) *Metrics {
	def := DefaultConfig()
	cfg.TopTermsCapacity = cmp.Or(max(cfg.TopTermsCapacity, 0), def.TopTermsCapacity)
	cfg.NoContextCapacity = cmp.Or(max(cfg.NoContextCapacity, 0), def.NoContextCapacity)
	cfg.RecentCapacity = cmp.Or(max(cfg.RecentCapacity, 0), def.RecentCapacity)
	cfg.TopTermsReported = cmp.Or(max(cfg.TopTermsReported, 0), def.TopTermsReported)

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentCapacity)

	return &Metrics{
		cfg:       cfg,
		start:     time.Now(),
		outcomes:  make(map[Outcome]int64),
		latencies: make(map[LatencyBucket]int64),
		topTerms:  topTerms,
		recent:    recent,
		unmatched: NewCircularBuffer[string](cfg.NoContextCapacity),
	}
}

// Record adds one finished question.
func (m *Metrics) Record(e QuestionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.outcomes[e.Outcome]++
	if e.Outcome == OutcomeCompleted {
		m.latencies[LatencyToBucket(e.Latency)]++
	}
	if e.NoContext {
		m.noContext++
		m.unmatched.Add(e.Question)
	}

	for _, term := range ExtractTerms(e.Question) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	key := hashQuestion(e.Question)
	if m.recent.Contains(key) {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

// Snapshot returns the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var terms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})
	if len(terms) > m.cfg.TopTermsReported {
		terms = terms[:m.cfg.TopTermsReported]
	}

	return Snapshot{
		Since:           m.start,
		TotalQuestions:  m.total,
		Outcomes:        maps.Clone(m.outcomes),
		Latencies:       maps.Clone(m.latencies),
		NoContextCount:  m.noContext,
		RecentNoContext: m.unmatched.Items(),
		RepeatCount:     m.repeats,
		TopTerms:        terms,
	}
}

// hashQuestion normalizes case and spacing before hashing.
func hashQuestion(q string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(q)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
