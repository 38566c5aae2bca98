package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunProbe_Pass(t *testing.T) {
	// Given: a probe that succeeds
	p := StaticProbe("generator", "extractive (offline)")

	// When: running it
	result := RunProbe(context.Background(), p)

	// Then: it passes with the probe's message
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "generator", result.Name)
	assert.Equal(t, "extractive (offline)", result.Message)
}

func TestRunProbe_FailureSeverity(t *testing.T) {
	failing := func(context.Context) (string, error) { return "", errors.New("connection refused") }

	tests := []struct {
		name     string
		required bool
		want     Status
	}{
		{"required probe fails", true, StatusFail},
		{"optional probe warns", false, StatusWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RunProbe(context.Background(), Probe{Name: "llm", Required: tt.required, Run: failing})
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "connection refused", result.Message)
			assert.Equal(t, tt.required, result.IsCritical())
		})
	}
}

func TestRunProbe_AppliesTimeout(t *testing.T) {
	// Given: a probe that waits for its context
	p := Probe{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	// When: running it
	start := time.Now()
	result := RunProbe(context.Background(), p)

	// Then: it gives up at the timeout
	assert.Equal(t, StatusWarn, result.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPProbe_Reachable(t *testing.T) {
	// Given: a server answering 200
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	// When: probing it
	result := RunProbe(context.Background(), HTTPProbe("ollama", srv.URL+"/api/tags", true, srv.Client()))

	// Then: it passes
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "reachable")
}

func TestHTTPProbe_ErrorStatus(t *testing.T) {
	// Given: a server answering 503
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// When: probing it
	result := RunProbe(context.Background(), HTTPProbe("ollama", srv.URL, true, srv.Client()))

	// Then: it fails with the status
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "503")
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	// Given: a closed server
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	// When: probing it as optional
	result := RunProbe(context.Background(), HTTPProbe("ollama", url, false, nil))

	// Then: it only warns
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "unreachable")
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "localhost:11434", hostOf("http://localhost:11434/api/tags"))
	assert.Equal(t, "example.com", hostOf("example.com"))
}
