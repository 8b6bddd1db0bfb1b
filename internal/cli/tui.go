package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/livechat/internal/chat"
	"github.com/raphaelgruber/livechat/internal/connection"
	"github.com/raphaelgruber/livechat/internal/models"
)

// Theme holds the color scheme for the chat screen.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Status    lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#D7AF5F"), // amber
	Assistant: lipgloss.Color("#5FAFD7"), // light blue
	Status:    lipgloss.Color("#5FAFD7"), // light blue
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) roleStyle(r models.Role) lipgloss.Style {
	if r == models.RoleUser {
		return lipgloss.NewStyle().Foreground(t.User).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) connectionStyle(s connection.State) lipgloss.Style {
	switch s {
	case connection.Connected:
		return lipgloss.NewStyle().Foreground(t.Success)
	case connection.Disconnected:
		return lipgloss.NewStyle().Foreground(t.Error)
	default:
		return lipgloss.NewStyle().Foreground(t.Status)
	}
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries a controller event into the program.
type eventMsg chat.Event

// commandDoneMsg reports the result of a send or slash command.
type commandDoneMsg struct {
	output string
	err    error
}

// chatModel is the bubbletea model for an interactive session.
type chatModel struct {
	ctrl   *chat.Controller
	server string
	theme  Theme

	input   textinput.Model
	spinner spinner.Model

	snap   chat.Snapshot
	notice *chat.Notice
	output string

	width, height int
	quitting      bool
}

func newChatModel(ctrl *chat.Controller, server string) chatModel {
	input := textinput.New()
	input.Placeholder = "Type a message, or /new /list /open <id> /delete <id> /quit"
	input.Prompt = "> "
	input.Focus()

	return chatModel{
		ctrl:    ctrl,
		server:  server,
		theme:   defaultTheme,
		input:   input,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		snap:    ctrl.Snapshot(),
	}
}

// Init starts the cursor blink and the spinner.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(max(msg.Width-4, 10))
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.Reset()
			m.output = ""
			return m, m.submit(line)
		}

	case eventMsg:
		m.snap = msg.Snapshot
		if msg.Kind == chat.EventNotice {
			m.notice = msg.Notice
		}
		if msg.Kind == chat.EventConversation {
			m.output = ""
		}
		return m, nil

	case commandDoneMsg:
		if errors.Is(msg.err, errQuit) {
			m.quitting = true
			return m, tea.Quit
		}
		m.output = msg.output
		if msg.err != nil && !errors.Is(msg.err, chat.ErrNotConnected) {
			m.notice = &chat.Notice{Level: chat.NoticeError, Text: msg.err.Error()}
		}
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

// submit runs the controller call off the event loop; the controller
// publishes events back into the program while it works.
func (m chatModel) submit(line string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx := context.Background()
		if strings.HasPrefix(line, "/") {
			var out bytes.Buffer
			err := runCommand(ctx, ctrl, line, &out)
			return commandDoneMsg{output: strings.TrimRight(out.String(), "\n"), err: err}
		}
		return commandDoneMsg{err: ctrl.SendMessage(ctx, line)}
	}
}

// View renders the chat screen.
func (m chatModel) View() tea.View {
	v := tea.NewView(m.renderContent())
	v.AltScreen = true
	v.WindowTitle = "livechat"
	return v
}

func (m chatModel) renderContent() string {
	if m.quitting {
		return ""
	}

	header := fmt.Sprintf("livechat %s %s",
		m.theme.connectionStyle(m.snap.Connection).Render("● "+m.snap.Connection.String()),
		m.theme.hintStyle().Render(m.server))
	if m.snap.ConversationID != "" {
		header += m.theme.hintStyle().Render("  " + m.snap.ConversationID)
	}

	var footer []string
	if m.snap.Loading {
		footer = append(footer, m.spinner.View()+" typing...")
	}
	if m.output != "" {
		footer = append(footer, m.output)
	}
	if m.notice != nil {
		if m.notice.Level == chat.NoticeError {
			footer = append(footer, m.theme.errorStyle().Render("! "+m.notice.Text))
		} else {
			footer = append(footer, m.theme.hintStyle().Render(m.notice.Text))
		}
	}
	footer = append(footer, m.input.View())
	bottom := strings.Join(footer, "\n")

	body := m.renderTranscript()
	if m.height > 0 {
		room := m.height - 2 - lipgloss.Height(bottom)
		body = lastLines(body, room)
	}

	return header + "\n\n" + body + "\n" + bottom
}

func (m chatModel) renderTranscript() string {
	if len(m.snap.Messages) == 0 {
		return m.theme.hintStyle().Render("No messages yet.")
	}

	wrap := lipgloss.NewStyle()
	if m.width > 0 {
		wrap = wrap.Width(m.width)
	}

	var b strings.Builder
	for _, msg := range m.snap.Messages {
		label := "You"
		if msg.Role == models.RoleAssistant {
			label = "Assistant"
		}
		content := msg.Content
		if msg.Open() {
			content += "▍"
		}
		b.WriteString(m.theme.roleStyle(msg.Role).Render(label))
		b.WriteString("\n")
		b.WriteString(wrap.Render(content))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// lastLines keeps the final n lines of s.
func lastLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// runTUI runs the interactive chat screen until the user quits.
func runTUI(ctrl *chat.Controller, server string) error {
	p := tea.NewProgram(newChatModel(ctrl, server))
	unsubscribe := ctrl.Subscribe(func(ev chat.Event) {
		p.Send(eventMsg(ev))
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
