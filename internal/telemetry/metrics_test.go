package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{0, BucketUnder1s},
		{999 * time.Millisecond, BucketUnder1s},
		{time.Second, BucketUnder5s},
		{14 * time.Second, BucketUnder15s},
		{59 * time.Second, BucketUnder60s},
		{2 * time.Minute, BucketOver60s},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.d))
		})
	}
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	// Given: a buffer of three
	b := NewCircularBuffer[int](3)
	assert.Empty(t, b.Items())

	// When: adding five items
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	// Then: the last three remain, oldest first
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{3, 4, 5}, b.Items())
}

func TestCircularBuffer_PartiallyFilled(t *testing.T) {
	b := NewCircularBuffer[string](4)
	b.Add("a")
	b.Add("b")
	assert.Equal(t, []string{"a", "b"}, b.Items())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"what", "the", "refund", "policy"},
		ExtractTerms("What is the refund policy?"))
	assert.Nil(t, ExtractTerms("  "))
}

func TestMetrics_Record(t *testing.T) {
	// Given: a collector
	m := New(Config{})

	// When: recording a mix of outcomes
	m.Record(QuestionEvent{Question: "What is the refund policy?", Outcome: OutcomeCompleted, Latency: 2 * time.Second})
	m.Record(QuestionEvent{Question: "what is the  REFUND policy?", Outcome: OutcomeCompleted, Latency: 300 * time.Millisecond})
	m.Record(QuestionEvent{Question: "Who wrote it?", Outcome: OutcomeCancelled})
	m.Record(QuestionEvent{Question: "Unrelated thing", Outcome: OutcomeFailed, NoContext: true})

	// Then: the snapshot aggregates them
	s := m.Snapshot()
	assert.Equal(t, int64(4), s.TotalQuestions)
	assert.Equal(t, int64(2), s.Outcomes[OutcomeCompleted])
	assert.Equal(t, int64(1), s.Outcomes[OutcomeCancelled])
	assert.Equal(t, int64(1), s.Outcomes[OutcomeFailed])
	assert.Equal(t, int64(1), s.Latencies[BucketUnder1s])
	assert.Equal(t, int64(1), s.Latencies[BucketUnder5s])
	assert.Equal(t, int64(1), s.NoContextCount)
	assert.Equal(t, []string{"Unrelated thing"}, s.RecentNoContext)
	assert.Equal(t, int64(1), s.RepeatCount, "case and spacing are normalized")

	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, int64(2), s.TopTerms[0].Count)
	assert.False(t, s.Since.IsZero())
}

func TestMetrics_TopTermsCapped(t *testing.T) {
	// Given: a collector reporting three terms
	m := New(Config{TopTermsReported: 3})

	// When: recording many distinct terms
	for i := range 10 {
		m.Record(QuestionEvent{Question: fmt.Sprintf("term%02d", i), Outcome: OutcomeCompleted})
	}

	// Then: only three are reported
	assert.Len(t, m.Snapshot().TopTerms, 3)
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := New(Config{})
	m.Record(QuestionEvent{Question: "one", Outcome: OutcomeCompleted})

	s := m.Snapshot()
	s.Outcomes[OutcomeCompleted] = 99

	assert.Equal(t, int64(1), m.Snapshot().Outcomes[OutcomeCompleted])
}

func TestMetrics_ConcurrentRecord(t *testing.T) {
	m := New(Config{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				m.Record(QuestionEvent{Question: fmt.Sprintf("q%d-%d", i, j), Outcome: OutcomeCompleted})
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), m.Snapshot().TotalQuestions)
}
