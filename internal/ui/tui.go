package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/docchat/internal/async"
)

// TUIRenderer shows ingestion progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *ingestModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newIngestModel(cfg.Title)
	model.onInterrupt = cfg.OnInterrupt
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(snap async.IngestSnapshot) {
	r.send(snapshotMsg(snap))
}

// Complete implements Renderer. It returns once the summary is drawn.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	if r.send(completeMsg(stats)) {
		<-r.done
	}
}

// Fail implements Renderer. It returns once the error is drawn.
func (r *TUIRenderer) Fail(err error) {
	if r.send(failMsg{err: err}) {
		<-r.done
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	r.program.Quit()
	<-r.done
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return false
	}
	r.program.Send(msg)
	return true
}

// Messages
type (
	snapshotMsg async.IngestSnapshot
	completeMsg CompletionStats
	failMsg     struct{ err error }
)

// ingestModel is the bubbletea model for ingestion progress.
type ingestModel struct {
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	title       string
	onInterrupt func()

	snap     async.IngestSnapshot
	stats    *CompletionStats
	err      error
	width    int
	quitting bool
}

func newIngestModel(title string) *ingestModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &ingestModel{
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		title:       title,
		width:       80,
	}
}

// Init implements tea.Model.
func (m *ingestModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-20, 20)

	case snapshotMsg:
		m.snap = async.IngestSnapshot(msg)

	case completeMsg:
		stats := CompletionStats(msg)
		m.stats = &stats
		return m, tea.Quit

	case failMsg:
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *ingestModel) View() string {
	switch {
	case m.stats != nil:
		return m.renderComplete()
	case m.err != nil:
		return m.styles.Error.Render("✗ "+m.err.Error()) + "\n"
	case m.quitting:
		return "Cancelled.\n"
	}

	contentWidth := max(m.width-4, 40)

	sections := []string{
		m.renderStages(),
		m.styles.Border.Render(strings.Repeat("─", contentWidth)),
		m.renderProgress(),
	}
	if m.snap.Document != "" {
		sections = append(sections, m.styles.Dim.Render(m.snap.Document))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(contentWidth)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(m.title),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.styles.Dim.Render("ctrl+c to cancel")
}

// renderStages renders the pipeline stage indicators.
func (m *ingestModel) renderStages() string {
	current := stageOrder(m.snap.Stage)

	var parts []string
	for _, s := range stages[:len(stages)-1] {
		var icon string
		var style lipgloss.Style

		switch {
		case s.order < current:
			icon = "●"
			style = m.styles.Success
		case s.order == current:
			icon = m.spinner.View()
			style = m.styles.Active
		default:
			icon = "○"
			style = m.styles.Dim
		}

		parts = append(parts, style.Render(icon+" "+s.name))
	}

	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

// renderProgress renders the embedding bar, or a spinner while the total is
// unknown.
func (m *ingestModel) renderProgress() string {
	elapsed := formatDuration(time.Duration(m.snap.ElapsedSeconds) * time.Second)

	if m.snap.ChunksTotal == 0 {
		return fmt.Sprintf("%s %s  %s",
			m.spinner.View(),
			stageVerb(m.snap.Stage),
			m.styles.Label.Render(elapsed))
	}

	bar := m.progressBar.ViewAs(m.snap.ProgressPct / 100)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", m.snap.ProgressPct))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d chunks  •  %s",
		m.snap.ChunksEmbedded, m.snap.ChunksTotal, elapsed))

	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

// renderComplete renders the completion summary.
func (m *ingestModel) renderComplete() string {
	label := m.styles.Label.Render
	value := m.styles.Active.Render

	lines := []string{
		m.styles.Success.Render("✓ Ingestion Complete"),
		"",
		fmt.Sprintf("%s %s", label("Document:"), value(m.stats.Document)),
		fmt.Sprintf("%s   %s", label("Chunks:"), value(fmt.Sprintf("%d", m.stats.Chunks))),
		fmt.Sprintf("%s   %s", label("Corpus:"), value(fmt.Sprintf("v%d", m.stats.Version))),
		fmt.Sprintf("%s %s", label("Duration:"), value(formatDuration(m.stats.Duration))),
	}
	if m.stats.Embedder.Model != "" {
		lines = append(lines, fmt.Sprintf("%s %s", label("Embedder:"),
			value(fmt.Sprintf("%s (%d dims)", m.stats.Embedder.Model, m.stats.Embedder.Dimensions))))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40))

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}

var _ Renderer = (*TUIRenderer)(nil)
