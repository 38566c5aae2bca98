package preflight

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Status is the outcome of one probe.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

// String returns the label used in printed reports.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status in lower case for JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText decodes a status written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusPass, StatusWarn, StatusFail} {
		if strings.EqualFold(string(text), st.String()) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Result is the outcome of running one probe.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Hint     string        `json:"hint,omitempty"`
	Required bool          `json:"required"`
	Elapsed  time.Duration `json:"-"`
}

// IsCritical reports whether a required probe failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Summary values of Report.Status.
const (
	SummaryReady        = "ready"
	SummaryWithWarnings = "ready_with_warnings"
	SummaryFailed       = "failed"
)

// Report collects the results of one run.
type Report struct {
	Status  string   `json:"status"`
	Results []Result `json:"checks"`
}

func newReport(results []Result) Report {
	return Report{Status: summarize(results), Results: results}
}

// Failed reports whether any required probe failed.
func (r Report) Failed() bool {
	return r.Status == SummaryFailed
}

// Result returns the result named name.
func (r Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

func summarize(results []Result) string {
	status := SummaryReady
	for _, r := range results {
		if r.IsCritical() {
			return SummaryFailed
		}
		if r.Status != StatusPass {
			status = SummaryWithWarnings
		}
	}
	return status
}

// Print writes the report for humans. Verbose output adds timings and
// shows hints for passing probes too.
func (r Report) Print(w io.Writer, verbose bool) {
	_, _ = fmt.Fprintln(w, "docchat system check")
	_, _ = fmt.Fprintln(w)

	for _, res := range r.Results {
		line := fmt.Sprintf("[%s] %s: %s", res.Status, res.Name, res.Message)
		if verbose {
			line += fmt.Sprintf(" (%s)", res.Elapsed.Round(time.Millisecond))
		}
		_, _ = fmt.Fprintln(w, line)
		if res.Hint != "" && (verbose || res.Status != StatusPass) {
			_, _ = fmt.Fprintf(w, "       %s\n", res.Hint)
		}
	}

	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(r.Status))

	var failed, warned []Result
	for _, res := range r.Results {
		switch {
		case res.IsCritical():
			failed = append(failed, res)
		case res.Status != StatusPass:
			warned = append(warned, res)
		}
	}
	printGroup(w, "error(s)", failed)
	printGroup(w, "warning(s)", warned)
}

func printGroup(w io.Writer, label string, results []Result) {
	if len(results) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d %s:\n", len(results), label)
	for _, res := range results {
		_, _ = fmt.Fprintf(w, "  - %s: %s\n", res.Name, res.Message)
	}
}
