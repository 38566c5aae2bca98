package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo describes the active corpus and the configured backends.
type StatusInfo struct {
	Ready bool `json:"ready"`

	// Corpus stats (zero when no document is ingested)
	Version     uint64    `json:"version,omitempty"`
	TotalChunks int       `json:"total_chunks"`
	Dimensions  int       `json:"dimensions,omitempty"`
	IndexedWith string    `json:"indexed_with,omitempty"`
	LastIndexed time.Time `json:"last_indexed,omitzero"`

	// Storage sizes (in bytes)
	IndexSize   int64 `json:"index_size"`
	HistorySize int64 `json:"history_size"`

	HistoryCount int `json:"history_count"`

	// Component status
	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	GeneratorModel   string `json:"generator_model"`
	Offline          bool   `json:"offline"`

	// IngestMarker is set when an ingestion is running in another process
	// or died before finishing.
	IngestMarker bool `json:"ingest_marker,omitempty"`
}

// StatusRenderer displays corpus status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("docchat status"))

	if !info.Ready {
		_, _ = fmt.Fprintf(r.out, "  Corpus:       %s\n", r.renderStatus("empty"))
	} else {
		_, _ = fmt.Fprintf(r.out, "  Corpus:       v%d (%s)\n", info.Version, r.renderStatus("ready"))
		_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.TotalChunks)
		if !info.LastIndexed.IsZero() {
			_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
		}
		if info.IndexedWith != "" {
			_, _ = fmt.Fprintf(r.out, "  Indexed with: %s (%d dims)\n", info.IndexedWith, info.Dimensions)
		}
	}
	if info.IngestMarker {
		_, _ = fmt.Fprintf(r.out, "  Ingest:       %s\n", r.renderStatus("incomplete"))
	}
	_, _ = fmt.Fprintf(r.out, "  History:      %d exchanges\n", info.HistoryCount)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Index:      %s\n", humanize.IBytes(uint64(max(info.IndexSize, 0))))
	_, _ = fmt.Fprintf(r.out, "    History:    %s\n", humanize.IBytes(uint64(max(info.HistorySize, 0))))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Backends:")
	_, _ = fmt.Fprintf(r.out, "    Embedder:   %s (%s)\n", info.EmbedderModel, info.EmbedderProvider)
	_, _ = fmt.Fprintf(r.out, "    Generator:  %s\n", info.GeneratorModel)
	if info.Offline {
		_, _ = fmt.Fprintf(r.out, "    Mode:       %s\n", r.renderStatus("offline"))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline", "empty", "incomplete":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
