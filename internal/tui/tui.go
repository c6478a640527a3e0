// Package tui provides the interactive chat surface: a bubbletea model
// fed by channel events from the conversation manager.
package tui

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/RashikaKarki/learnforge-cli/internal/chat"
	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	"github.com/RashikaKarki/learnforge-cli/internal/wire"
)

// Channel is the slice of the conversation manager the model drives.
type Channel interface {
	Connect(ctx context.Context, target chat.Target) error
	Reconnect(ctx context.Context) error
	Send(ctx context.Context, text string) error
	Close()
}

var _ Channel = (*chat.Manager)(nil)

// Messages delivered into the program loop.
type (
	stateMsg struct {
		state chat.ConnState
		err   error
	}
	inboundMsg       domain.ChatMessage
	historyMsg       []domain.ChatMessage
	typingMsg        bool
	checkpointMsg    domain.CheckpointProgress
	handoverMsg      struct{}
	sessionClosedMsg struct{}

	connectDoneMsg   struct{ err error }
	reconnectDoneMsg struct{ err error }
	sendDoneMsg      struct{ err error }
)

// feed bridges manager callbacks onto the program loop. Callbacks run on
// the manager's reader goroutine and must not block, so delivery is a
// buffered non-blocking push drained by the wait command.
type feed struct {
	events chan tea.Msg
}

func newFeed() *feed {
	return &feed{events: make(chan tea.Msg, 128)}
}

// wait blocks until the next channel event arrives. Every handled event
// must re-issue it or the pump stops.
func (f *feed) wait() tea.Cmd {
	return func() tea.Msg {
		return <-f.events
	}
}

func (f *feed) push(msg tea.Msg) {
	select {
	case f.events <- msg:
	default:
		slog.Debug("chat event dropped, display queue full")
	}
}

func (f *feed) handlers() chat.Handlers {
	return chat.Handlers{
		OnState: func(state chat.ConnState, err error) {
			f.push(stateMsg{state: state, err: err})
		},
		OnMessage: func(msg domain.ChatMessage) {
			f.push(inboundMsg(msg))
		},
		OnHistory: func(msgs []domain.ChatMessage) {
			f.push(historyMsg(msgs))
		},
		OnTyping: func(active bool) {
			f.push(typingMsg(active))
		},
		OnCheckpoint: func(progress domain.CheckpointProgress) {
			f.push(checkpointMsg(progress))
		},
		OnHandover: func() {
			f.push(handoverMsg{})
		},
		OnSessionClosed: func() {
			f.push(sessionClosedMsg{})
		},
		OnUnknown: func(env wire.Envelope) {
			slog.Debug("ignoring unknown frame", "type", env.Type)
		},
	}
}

// Run wires the manager to a fresh model and blocks until the user quits
// or ctx ends. initial seeds the transcript from the local cache; the
// server's history frame replaces it once the channel opens.
func Run(ctx context.Context, mgr *chat.Manager, target chat.Target, title string, initial []domain.ChatMessage) error {
	f := newFeed()
	mgr.SetHandlers(f.handlers())

	m := newModel(ctx, mgr, f, target, title, initial)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
