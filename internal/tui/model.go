package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/RashikaKarki/learnforge-cli/internal/chat"
	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	systemStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("241"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	badgeOpenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	badgeRetryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	badgeClosedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// chromeHeight is the number of non-viewport rows in the layout: header,
// separator, activity line, input, status bar.
const chromeHeight = 5

// Model is the chat screen. It owns no connection state of its own; the
// manager remains the source of truth and the model mirrors what the feed
// delivers.
type Model struct {
	ctx    context.Context
	ch     Channel
	feed   *feed
	target chat.Target
	title  string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	msgs     []domain.ChatMessage
	state    chat.ConnState
	typing   bool
	progress *domain.CheckpointProgress

	ready    bool
	quitting bool
	width    int
}

func newModel(ctx context.Context, ch Channel, f *feed, target chat.Target, title string, initial []domain.ChatMessage) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 1000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		ctx:     ctx,
		ch:      ch,
		feed:    f,
		target:  target,
		title:   title,
		input:   ti,
		spinner: sp,
		msgs:    append([]domain.ChatMessage(nil), initial...),
		state:   chat.StateIdle,
	}
}

// Init opens the channel and starts draining the feed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.connectCmd(), m.feed.wait())
}

func (m Model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		return connectDoneMsg{err: m.ch.Connect(m.ctx, m.target)}
	}
}

func (m Model) reconnectCmd() tea.Cmd {
	return func() tea.Msg {
		return reconnectDoneMsg{err: m.ch.Reconnect(m.ctx)}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return sendDoneMsg{err: m.ch.Send(m.ctx, text)}
	}
}

// Update handles one program message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			m.ch.Close()
			return m, tea.Quit
		case tea.KeyCtrlR:
			return m, m.reconnectCmd()
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.SetValue("")
			return m, m.sendCmd(text)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		vpHeight := msg.Height - chromeHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case stateMsg:
		m.state = msg.state
		if line, ok := stateLine(msg.state, msg.err); ok {
			m.appendSystem(line)
		}
		return m, m.feed.wait()

	case inboundMsg:
		m.msgs = append(m.msgs, domain.ChatMessage(msg))
		m.refresh()
		return m, m.feed.wait()

	case historyMsg:
		m.msgs = append(m.msgs[:0:0], msg...)
		m.refresh()
		return m, m.feed.wait()

	case typingMsg:
		m.typing = bool(msg)
		if m.typing {
			return m, tea.Batch(m.spinner.Tick, m.feed.wait())
		}
		return m, m.feed.wait()

	case checkpointMsg:
		progress := domain.CheckpointProgress(msg)
		m.progress = &progress
		m.appendSystem(fmt.Sprintf("checkpoint progress: %.0f%% (%d completed)", progress.Progress, len(progress.Completed)))
		return m, m.feed.wait()

	case handoverMsg:
		m.appendSystem("a mentor has joined the conversation")
		return m, m.feed.wait()

	case sessionClosedMsg:
		m.appendSystem("the server ended this conversation")
		return m, m.feed.wait()

	case connectDoneMsg:
		if apperrors.IsKind(msg.err, apperrors.KindRateLimited) {
			m.appendSystem(userMessage(msg.err))
		}
		return m, nil

	case reconnectDoneMsg:
		if apperrors.IsKind(msg.err, apperrors.KindRateLimited) {
			m.appendSystem(userMessage(msg.err))
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.appendSystem(userMessage(msg.err))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.typing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)
	m.input, tiCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// View renders header, transcript, activity line, input, and status bar.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "\n  Connecting..."
	}

	header := titleStyle.Render(m.title) + "  " + m.stateBadge()
	separator := separatorStyle.Render(strings.Repeat("─", max(m.viewport.Width, 1)))

	activity := ""
	if m.typing {
		activity = m.spinner.View() + systemStyle.Render("agent is typing...")
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		separator+"\n"+activity,
		m.input.View(),
		m.statusBar(),
	)
}

func (m *Model) appendSystem(text string) {
	m.msgs = append(m.msgs, domain.ChatMessage{
		Origin:    domain.OriginSystem,
		Text:      text,
		Timestamp: time.Now(),
	})
	m.refresh()
}

// refresh re-renders the transcript into the viewport and follows the tail.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript() string {
	if len(m.msgs) == 0 {
		return systemStyle.Render("No messages yet. Say hello!")
	}
	lines := make([]string, 0, len(m.msgs))
	for _, msg := range m.msgs {
		lines = append(lines, formatMessage(msg, m.viewport.Width))
	}
	return strings.Join(lines, "\n")
}

func formatMessage(msg domain.ChatMessage, width int) string {
	stamp := timeStyle.Render(msg.Timestamp.Format("15:04"))

	var label, text string
	switch msg.Origin {
	case domain.OriginUser:
		label = userStyle.Render("you  ")
		text = msg.Text
	case domain.OriginAgent:
		label = agentStyle.Render("agent")
		text = msg.Text
	default:
		label = systemStyle.Render("  ·  ")
		text = systemStyle.Render(msg.Text)
	}

	line := fmt.Sprintf("%s %s %s", stamp, label, text)
	if width > 20 {
		line = lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}

func (m Model) stateBadge() string {
	switch m.state {
	case chat.StateOpen:
		return badgeOpenStyle.Render("● connected")
	case chat.StateConnecting, chat.StateIdle:
		return systemStyle.Render("○ connecting")
	case chat.StateReconnecting:
		return badgeRetryStyle.Render("◌ reconnecting")
	default:
		return badgeClosedStyle.Render("○ disconnected")
	}
}

func (m Model) statusBar() string {
	parts := []string{m.target.Key()}
	if m.progress != nil {
		parts = append(parts, fmt.Sprintf("progress %.0f%%", m.progress.Progress))
	}
	parts = append(parts, "ctrl+r reconnect", "esc quit")
	return statusStyle.Render(strings.Join(parts, " · "))
}

// stateLine maps a lifecycle transition to the system line shown for it.
// Quiet transitions return false.
func stateLine(state chat.ConnState, err error) (string, bool) {
	switch state {
	case chat.StateOpen:
		return "connected", true
	case chat.StateReconnecting:
		return "connection lost - retrying...", true
	case chat.StateClosed:
		if err != nil {
			return userMessage(err), true
		}
		return "conversation closed", true
	default:
		return "", false
	}
}

// userMessage strips the taxonomy prefix so the transcript reads plainly.
func userMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
