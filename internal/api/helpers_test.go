package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docchat/internal/async"
	"github.com/Aman-CERP/docchat/internal/chat"
	"github.com/Aman-CERP/docchat/internal/embed"
	"github.com/Aman-CERP/docchat/internal/history"
	"github.com/Aman-CERP/docchat/internal/index"
	"github.com/Aman-CERP/docchat/internal/logging"
	"github.com/Aman-CERP/docchat/internal/search"
	"github.com/Aman-CERP/docchat/internal/store"
	"github.com/Aman-CERP/docchat/internal/telemetry"
)

const testDocument = "The sky is blue on a clear day.\n\nGrass is green in the spring.\n\nSnow is white in the winter."

// scriptGenerator streams frags, then err if set. With hold it keeps the
// stream open after the last fragment until the context ends.
type scriptGenerator struct {
	frags   []string
	err     error
	hold    bool
	stopped chan struct{}
}

func newScriptGenerator(frags ...string) *scriptGenerator {
	return &scriptGenerator{frags: frags, stopped: make(chan struct{}, 1)}
}

func (g *scriptGenerator) Model() string { return "script" }

func (g *scriptGenerator) Generate(context.Context, string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return strings.Join(g.frags, ""), nil
}

func (g *scriptGenerator) GenerateStream(ctx context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range g.frags {
			if !yield(f, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
			return
		}
		if g.hold {
			<-ctx.Done()
			g.stopped <- struct{}{}
		}
	}
}

// fakeIngester records uploads and reports progress like the pipeline.
type fakeIngester struct {
	mu      sync.Mutex
	names   []string
	sizes   []int
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeIngester) IngestDocument(_ context.Context, name string, data []byte, progress *async.IngestProgress) (store.Corpus, error) {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.sizes = append(f.sizes, len(data))
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		progress.SetError(f.err.Error())
		return store.Corpus{}, f.err
	}
	progress.SetChunksTotal(2)
	progress.UpdateEmbedded(2)
	progress.SetReady(3)
	return store.Corpus{Version: 3, ChunkCount: 2, Model: "static"}, nil
}

type testEnv struct {
	server   *Server
	chat     *chat.Service
	index    *store.VectorIndex
	history  *history.Store
	pipeline *index.Pipeline
	ingester *fakeIngester
}

func newTestEnv(t *testing.T, gen *scriptGenerator, mutate ...func(*Config)) *testEnv {
	t.Helper()
	logger := logging.Discard()

	vi, err := store.NewVectorIndex(store.IndexConfig{
		Dir:      t.TempDir(),
		Embedder: embed.NewStaticEmbedder(),
		Logger:   logger,
	})
	require.NoError(t, err)

	h, err := history.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	metrics := telemetry.New(telemetry.Config{})
	svc, err := chat.New(chat.Config{
		Retriever: search.NewRetriever(vi, 2),
		Generator: gen,
		History:   h,
		Metrics:   metrics,
		Logger:    logger,
	})
	require.NoError(t, err)

	p, err := index.NewPipeline(index.PipelineConfig{
		Index:        vi,
		History:      h,
		ChunkSize:    60,
		ChunkOverlap: 10,
		ClearHistory: true,
		Logger:       logger,
	})
	require.NoError(t, err)

	ing := &fakeIngester{}
	cfg := Config{
		Chat:          svc,
		Ingester:      ing,
		Index:         vi,
		EmbedderModel: "static",
		Metrics:       metrics,
		Logger:        logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	return &testEnv{server: srv, chat: svc, index: vi, history: h, pipeline: p, ingester: ing}
}

// seed ingests the test document.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	_, err := e.pipeline.Ingest(context.Background(), testDocument, nil)
	require.NoError(t, err)
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses a server-sent event stream until EOF.
func readEvents(r io.Reader) []sseEvent {
	var events []sseEvent
	sc := bufio.NewScanner(r)
	var cur sseEvent
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.name != "" || len(data) > 0 {
				cur.data = strings.Join(data, "\n")
				events = append(events, cur)
			}
			cur, data = sseEvent{}, nil
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	return events
}

// nextEvent reads one event from a live stream.
func nextEvent(r *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimSuffix(line, "\n")
		switch {
		case line == "":
			ev.data = strings.Join(data, "\n")
			return ev, nil
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func messageText(events []sseEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.name == eventMessage {
			b.WriteString(ev.data)
		}
	}
	return b.String()
}

var errBackendDown = errors.New("backend down")
