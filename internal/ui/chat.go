package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
	"github.com/Aman-CERP/docchat/internal/session"
)

// pumpBuffer is how many stream events may queue ahead of the model.
const pumpBuffer = 64

// Streamer starts and cancels streamed answers.
type Streamer interface {
	Stream(ctx context.Context, id, question string) (*session.Stream, error)
	Cancel(id string) bool
}

// ChatConfig configures the interactive chat.
type ChatConfig struct {
	Streamer Streamer
	Title    string
	NoColor  bool
	Input    io.Reader
	Output   io.Writer
}

// turn is one question and its (possibly partial) answer.
type turn struct {
	question string
	answer   strings.Builder
	state    session.State
	errText  string
}

// ChatModel is the bubbletea model of the interactive chat.
type ChatModel struct {
	ctx      context.Context
	streamer Streamer
	newID    func() string

	styles  Styles
	title   string
	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model

	turns []*turn

	// Streaming session, empty when idle.
	active  string
	events  <-chan tea.Msg
	waiting bool // no token received yet

	width    int
	quitting bool
}

// Stream messages
type (
	streamStartedMsg struct {
		id     string
		events <-chan tea.Msg
	}
	streamFailedMsg struct {
		id  string
		err error
	}
	tokenMsg struct {
		id   string
		text string
	}
	heartbeatMsg struct{ id string }
	streamErrorMsg struct {
		id   string
		text string
	}
	streamDoneMsg struct {
		id    string
		state session.State
	}
)

// NewChatModel creates the chat model. Streams run under ctx.
func NewChatModel(ctx context.Context, cfg ChatConfig) *ChatModel {
	in := textinput.New()
	in.Placeholder = "Ask about the document…"
	in.Prompt = "› "
	in.CharLimit = 2000
	in.Width = 76
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	title := cfg.Title
	if title == "" {
		title = "docchat"
	}

	return &ChatModel{
		ctx:      ctx,
		streamer: cfg.Streamer,
		newID:    uuid.NewString,
		styles:   GetStyles(cfg.NoColor || DetectNoColor()),
		title:    title,
		input:    in,
		view:     viewport.New(80, 20),
		spinner:  s,
		width:    80,
	}
}

// RunChat runs the interactive chat until the user quits or ctx is done.
func RunChat(ctx context.Context, cfg ChatConfig) error {
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if cfg.Input != nil {
		opts = append(opts, tea.WithInput(cfg.Input))
	}
	if cfg.Output != nil {
		opts = append(opts, tea.WithOutput(cfg.Output))
	}

	m := NewChatModel(ctx, cfg)
	_, err := tea.NewProgram(m, opts...).Run()
	if err != nil && (ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update implements tea.Model.
func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		m.view.Width = msg.Width
		// title, status line, input
		m.view.Height = max(msg.Height-4, 3)
		m.refresh()
		return m, nil

	case streamStartedMsg:
		if msg.id != m.active {
			return m, nil
		}
		m.events = msg.events
		return m, waitForEvent(m.events)

	case streamFailedMsg:
		if msg.id != m.active {
			return m, nil
		}
		t := m.current()
		t.state = session.StateFailed
		t.errText = userMessage(msg.err)
		m.idle()
		return m, nil

	case tokenMsg:
		if msg.id != m.active {
			return m, nil
		}
		m.waiting = false
		m.current().answer.WriteString(msg.text)
		m.refresh()
		return m, waitForEvent(m.events)

	case heartbeatMsg:
		if msg.id != m.active {
			return m, nil
		}
		return m, waitForEvent(m.events)

	case streamErrorMsg:
		if msg.id != m.active {
			return m, nil
		}
		m.current().errText = msg.text
		m.refresh()
		return m, waitForEvent(m.events)

	case streamDoneMsg:
		if msg.id != m.active {
			return m, nil
		}
		m.current().state = msg.state
		m.idle()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.active != "" {
			m.streamer.Cancel(m.active)
		}
		m.quitting = true
		return m, tea.Quit

	case "esc":
		if m.active != "" {
			m.streamer.Cancel(m.active)
		}
		return m, nil

	case "enter":
		question := strings.TrimSpace(m.input.Value())
		if question == "" || m.active != "" {
			return m, nil
		}
		m.input.Reset()
		m.turns = append(m.turns, &turn{question: question, state: session.StatePending})
		m.active = m.newID()
		m.waiting = true
		m.refresh()
		return m, startStream(m.ctx, m.streamer, m.active, question)

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *ChatModel) View() string {
	if m.quitting {
		return ""
	}

	var status string
	switch {
	case m.active != "" && m.waiting:
		status = m.spinner.View() + m.styles.Label.Render(" thinking…  esc to cancel")
	case m.active != "":
		status = m.styles.Label.Render("streaming…  esc to cancel")
	default:
		status = m.styles.Dim.Render("enter to ask  •  pgup/pgdown to scroll  •  ctrl+c to quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(m.title),
		m.view.View(),
		status,
		m.input.View(),
	)
}

// Transcript renders all turns as text.
func (m *ChatModel) Transcript() string {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 20))

	var blocks []string
	for _, t := range m.turns {
		var sb strings.Builder
		sb.WriteString(m.styles.User.Render("You: "))
		sb.WriteString(t.question)
		sb.WriteString("\n")
		sb.WriteString(m.styles.Assistant.Render("docchat: "))
		sb.WriteString(m.styles.Answer.Render(t.answer.String()))

		switch {
		case t.state == session.StateCancelled:
			sb.WriteString(" " + m.styles.Warning.Render("[cancelled]"))
		case t.errText != "":
			sb.WriteString("\n" + m.styles.Error.Render("✗ "+t.errText))
		}
		blocks = append(blocks, wrap.Render(sb.String()))
	}
	return strings.Join(blocks, "\n\n")
}

// Streaming reports whether an answer is being streamed.
func (m *ChatModel) Streaming() bool {
	return m.active != ""
}

func (m *ChatModel) current() *turn {
	return m.turns[len(m.turns)-1]
}

func (m *ChatModel) idle() {
	m.active = ""
	m.events = nil
	m.waiting = false
	m.refresh()
}

func (m *ChatModel) refresh() {
	m.view.SetContent(m.Transcript())
	m.view.GotoBottom()
}

// startStream opens a session and pumps its events into a channel that the
// model drains one message at a time.
func startStream(ctx context.Context, streamer Streamer, id, question string) tea.Cmd {
	return func() tea.Msg {
		stream, err := streamer.Stream(ctx, id, question)
		if err != nil {
			return streamFailedMsg{id: id, err: err}
		}
		ch := make(chan tea.Msg, pumpBuffer)
		go pump(ctx, stream, ch)
		return streamStartedMsg{id: id, events: ch}
	}
}

func pump(ctx context.Context, stream *session.Stream, ch chan<- tea.Msg) {
	defer close(ch)
	defer stream.Close()

	id := stream.ID()
	send := func(msg tea.Msg) bool {
		select {
		case ch <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range stream.Events() {
		var msg tea.Msg
		switch ev.Type {
		case session.EventToken:
			msg = tokenMsg{id: id, text: ev.Data}
		case session.EventHeartbeat:
			msg = heartbeatMsg{id: id}
		default:
			msg = streamErrorMsg{id: id, text: ev.Data}
		}
		if !send(msg) {
			return
		}
	}
	send(streamDoneMsg{id: id, state: stream.State()})
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func userMessage(err error) string {
	if de, ok := dcerrors.As(err); ok {
		if de.Suggestion != "" {
			return fmt.Sprintf("%s (%s)", de.Message, de.Suggestion)
		}
		return de.Message
	}
	return err.Error()
}
