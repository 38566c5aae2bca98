package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a probe that sets no timeout of its own.
const DefaultProbeTimeout = 5 * time.Second

// Probe checks one external dependency, such as a model server.
type Probe struct {
	Name string
	// Required probes fail the check; others only warn.
	Required bool
	Timeout  time.Duration
	// Hint suggests a fix when the probe does not pass.
	Hint string
	// Run returns a short description on success.
	Run func(ctx context.Context) (string, error)
}

// RunProbe runs p under its timeout.
func RunProbe(ctx context.Context, p Probe) Result {
	result := Result{Name: p.Name, Required: p.Required, Hint: p.Hint}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	msg, err := p.Run(ctx)
	result.Elapsed = time.Since(start)
	if err != nil {
		result.Status = StatusWarn
		if p.Required {
			result.Status = StatusFail
		}
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = msg
	return result
}

// StaticProbe always passes with msg.
func StaticProbe(name, msg string) Probe {
	return Probe{
		Name: name,
		Run:  func(context.Context) (string, error) { return msg, nil },
	}
}

// HTTPProbe passes when GET url answers with a 2xx status. A nil client
// uses http.DefaultClient.
func HTTPProbe(name, url string, required bool, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return Probe{
		Name:     name,
		Required: required,
		Run: func(ctx context.Context) (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", fmt.Errorf("invalid url %s: %w", url, err)
			}
			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("%s unreachable: %w", hostOf(url), err)
			}
			defer func() { _ = resp.Body.Close() }()
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return "", fmt.Errorf("%s returned %s", hostOf(url), resp.Status)
			}
			return fmt.Sprintf("%s reachable (%s)", hostOf(url), time.Since(start).Round(time.Millisecond)), nil
		},
	}
}

func hostOf(url string) string {
	s := url
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
