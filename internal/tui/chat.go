// Package tui hosts the full-screen assistant chat used by the ask command.
package tui

import (
	"context"
	"strings"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	chromeHeight  = 4 // Input, spinner and help lines below the transcript
)

// replyMsg carries the outcome of one assistant turn.
type replyMsg struct {
	err  error
	text string
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
)

type entry struct {
	text string
	kind entryKind
}

// ChatModel is a bubbletea model for one conversation about a decision.
type ChatModel struct {
	ctx      context.Context
	turn     cli.TurnFunc
	keys     KeyMap
	header   string
	entries  []entry
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	result   cli.ChatResult
	width    int
	height   int
	waiting  bool
}

// NewChatModel creates a chat about d. turn runs with ctx.
func NewChatModel(ctx context.Context, d model.Decision, turn cli.TurnFunc) ChatModel {
	input := textinput.New()
	input.Placeholder = "Why do you want it? (/buy, /skip or /quit)"
	input.Prompt = cli.FormatPrompt("You")
	input.CharLimit = 2000
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(cli.PrimaryColor)

	m := ChatModel{
		ctx:      ctx,
		turn:     turn,
		keys:     DefaultKeyMap(),
		header:   cli.RenderDecision(d),
		input:    input,
		viewport: viewport.New(defaultWidth, defaultHeight),
		spinner:  s,
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

// Init starts the cursor blinking.
func (m ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			return m.submit()
		case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.append(entry{kind: entryError, text: "The assistant could not answer: " + msg.err.Error()})
		} else {
			m.result.Turns++
			m.append(entry{kind: entryAssistant, text: msg.text})
		}
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.waiting {
		return m, nil
	}
	m.input.SetValue("")

	if outcome, done := cli.ParseCommand(line); done {
		m.result.Outcome = outcome
		return m, tea.Quit
	}

	m.append(entry{kind: entryUser, text: line})
	m.waiting = true
	return m, tea.Batch(m.spinner.Tick, m.send(line))
}

func (m ChatModel) send(line string) tea.Cmd {
	ctx, turn := m.ctx, m.turn
	return func() tea.Msg {
		text, err := turn(ctx, line)
		return replyMsg{text: text, err: err}
	}
}

func (m *ChatModel) append(e entry) {
	m.entries = append(m.entries, e)
	m.refresh()
}

func (m *ChatModel) resize(width, height int) {
	m.width, m.height = width, height
	m.input.Width = max(width-lipgloss.Width(m.input.Prompt)-2, 10)
	m.viewport.Width = width
	m.viewport.Height = max(height-lipgloss.Height(m.header)-chromeHeight, 3)
	m.refresh()
}

// refresh re-renders the transcript at the current width and scrolls to the
// newest message.
func (m *ChatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 10))
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			lines = append(lines, wrap.Render(cli.FormatPrompt("You")+e.text))
		case entryAssistant:
			lines = append(lines, wrap.Render(cli.AssistantStyle.Render(cli.RobotIcon+" "+e.text)))
		case entryError:
			lines = append(lines, wrap.Render(cli.FormatError(e.text)))
		}
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// View renders the chat.
func (m ChatModel) View() string {
	status := ""
	if m.waiting {
		status = m.spinner.View() + cli.SubtleStyle.Render(" thinking...")
	}

	sections := []string{
		m.header,
		m.viewport.View(),
		status,
		m.input.View(),
		m.renderHelp(),
	}
	return strings.Join(sections, "\n")
}

func (m ChatModel) renderHelp() string {
	parts := make([]string, 0, len(m.keys.ShortHelp()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return cli.SubtleStyle.Render(strings.Join(parts, " • "))
}

// Result reports how the chat ended.
func (m ChatModel) Result() cli.ChatResult {
	return m.result
}
