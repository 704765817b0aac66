// Package panel is the interactive chat surface for the assistant. It shows
// a transcript, a prompt line, and a status bar fed by bridge events, and
// offers quick actions for the common document commands.
package panel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quill-assist/quill/internal/channel"
	"github.com/quill-assist/quill/internal/events"
)

// QuickAction is a canned command bound to a function key.
type QuickAction struct {
	Key     string
	Label   string
	Command string
}

// QuickActions are the built-in document commands, in display order.
var QuickActions = []QuickAction{
	{Key: "f1", Label: "Summarize", Command: "Summarize this document"},
	{Key: "f2", Label: "Rewrite", Command: "Rewrite the selected text to be clearer"},
	{Key: "f3", Label: "Fix Grammar", Command: "Fix grammar and spelling in the selected text"},
	{Key: "f4", Label: "Expand", Command: "Expand on the selected text"},
}

const (
	defaultWidth       = 80
	defaultHeight      = 24
	defaultSendTimeout = 30 * time.Second
	statusBuffer       = 16
)

// Assistant is the slice of the bridge the panel talks to.
type Assistant interface {
	SendCommand(ctx context.Context, text string) (channel.Response, error)
	Status() string
	IsAgentRunning() bool
}

// StatusSource delivers status line events. The bridge's in-memory bus
// satisfies this.
type StatusSource interface {
	Subscribe(eventType string, handler events.Handler)
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleError
)

type entry struct {
	role role
	text string
}

type responseMsg struct {
	command string
	text    string
	err     error
}

type statusMsg string

// Model is the bubbletea model for the assistant panel.
type Model struct {
	assistant Assistant

	input    textinput.Model
	viewport viewport.Model
	entries  []entry

	status      string
	statusCh    chan string
	sendTimeout time.Duration
	busy        bool
	width       int
	height      int
	quitting    bool
}

// Option configures the panel model.
type Option func(*Model)

// WithSendTimeout bounds each command exchange.
func WithSendTimeout(timeout time.Duration) Option {
	return func(m *Model) {
		if timeout > 0 {
			m.sendTimeout = timeout
		}
	}
}

// New builds the panel model. When source is non-nil the panel subscribes to
// status line events and mirrors them in the status bar.
func New(assistant Assistant, source StatusSource, options ...Option) (*Model, error) {
	if assistant == nil {
		return nil, fmt.Errorf("assistant is required")
	}

	input := textinput.New()
	input.Placeholder = "Ask the assistant about this document..."
	input.Prompt = "> "
	input.CharLimit = 2048
	input.Focus()

	vp := viewport.New(defaultWidth-2, defaultHeight-6)

	m := &Model{
		assistant:   assistant,
		input:       input,
		viewport:    vp,
		status:      assistant.Status(),
		statusCh:    make(chan string, statusBuffer),
		sendTimeout: defaultSendTimeout,
		width:       defaultWidth,
		height:      defaultHeight,
	}
	for _, option := range options {
		option(m)
	}

	if source != nil {
		source.Subscribe(events.EventTypeStatusMessage, func(event events.Event) {
			text, ok := event.Payload.(string)
			if !ok {
				return
			}
			select {
			case m.statusCh <- text:
			default:
			}
		})
	}

	return m, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForStatus())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 6
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			return m, m.submit(strings.TrimSpace(m.input.Value()))
		default:
			for _, action := range QuickActions {
				if msg.String() == action.Key {
					return m, m.submit(action.Command)
				}
			}
		}

	case responseMsg:
		m.busy = false
		if msg.err != nil {
			m.entries = append(m.entries, entry{role: roleError, text: msg.err.Error()})
		} else {
			m.entries = append(m.entries, entry{role: roleAssistant, text: msg.text})
		}
		m.refreshTranscript()
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, m.waitForStatus()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit records the command in the transcript and dispatches it. Empty
// commands and overlapping sends are ignored.
func (m *Model) submit(command string) tea.Cmd {
	if command == "" || m.busy {
		return nil
	}
	m.busy = true
	m.input.Reset()
	m.entries = append(m.entries, entry{role: roleUser, text: command})
	m.refreshTranscript()
	return m.send(command)
}

func (m *Model) send(command string) tea.Cmd {
	assistant := m.assistant
	timeout := m.sendTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		response, err := assistant.SendCommand(ctx, command)
		if err != nil {
			return responseMsg{command: command, err: err}
		}
		return responseMsg{command: command, text: response.Text()}
	}
}

func (m *Model) waitForStatus() tea.Cmd {
	ch := m.statusCh
	return func() tea.Msg {
		return statusMsg(<-ch)
	}
}

func (m *Model) refreshTranscript() {
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		switch e.role {
		case roleUser:
			lines = append(lines, userStyle.Render("you  ")+e.text)
		case roleAssistant:
			lines = append(lines, assistantStyle.Render("quill")+" "+e.text)
		case roleError:
			lines = append(lines, errorStyle.Render("error")+" "+e.text)
		}
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	title := titleStyle.Render("Quill Assistant")

	status := m.status
	if m.busy {
		status = "waiting for assistant..."
	}
	if status == "" {
		status = "idle"
	}

	actions := make([]string, 0, len(QuickActions))
	for _, action := range QuickActions {
		actions = append(actions, fmt.Sprintf("%s %s", strings.ToUpper(action.Key), action.Label))
	}
	hints := hintStyle.Render(strings.Join(actions, "  ") + "  ESC quit")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render(status),
		hints,
	)
}
