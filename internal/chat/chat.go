// Package chat maintains the realtime conversation channel to Learnforge
// agents: authenticated connect, heartbeat, bounded reconnect, and typed
// dispatch of inbound frames.
package chat

import (
	"net/url"
	"strings"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	"github.com/RashikaKarki/learnforge-cli/internal/wire"
)

// ConnState is a phase of the channel lifecycle.
type ConnState string

const (
	// StateIdle means no conversation has been opened yet.
	StateIdle ConnState = "idle"

	// StateConnecting covers the handshake of an explicit connect.
	StateConnecting ConnState = "connecting"

	// StateOpen means frames flow and the heartbeat is running.
	StateOpen ConnState = "open"

	// StateReconnecting means the channel dropped abnormally and a
	// bounded retry is pending.
	StateReconnecting ConnState = "reconnecting"

	// StateClosing marks an in-progress deliberate shutdown.
	StateClosing ConnState = "closing"

	// StateClosed means the channel ended: normally, by server request,
	// or terminally after an auth rejection or exhausted retries.
	StateClosed ConnState = "closed"
)

// Handlers receives channel events. Callbacks run on the manager's
// reader goroutine and must not block or call back into the manager.
type Handlers struct {
	// OnState fires on every lifecycle transition. err is non-nil for
	// terminal failures (auth rejection, exhausted retries).
	OnState func(state ConnState, err error)

	// OnMessage delivers one chat message: agent replies and server
	// error notices.
	OnMessage func(msg domain.ChatMessage)

	// OnHistory delivers a full conversation snapshot that replaces any
	// locally displayed sequence.
	OnHistory func(msgs []domain.ChatMessage)

	// OnTyping reports agent processing activity.
	OnTyping func(active bool)

	// OnCheckpoint delivers mission progress updates.
	OnCheckpoint func(progress domain.CheckpointProgress)

	// OnHandover fires when the conversation moves to a human mentor.
	OnHandover func()

	// OnSessionClosed fires when the server ends the conversation.
	OnSessionClosed func()

	// OnUnknown receives frames outside the known enum.
	OnUnknown func(env wire.Envelope)
}

// Options tunes the channel. Zero values take the production defaults.
type Options struct {
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int

	SendLimit       int
	SendWindow      time.Duration
	ReconnectLimit  int
	ReconnectWindow time.Duration

	// Dial replaces the WebSocket dialer, used by tests.
	Dial DialFunc

	// Clock replaces the rate limiter time source, used by tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.ReconnectMaxAttempts == 0 {
		o.ReconnectMaxAttempts = 3
	}
	if o.SendLimit == 0 {
		o.SendLimit = 10
	}
	if o.SendWindow == 0 {
		o.SendWindow = time.Minute
	}
	if o.ReconnectLimit == 0 {
		o.ReconnectLimit = 4
	}
	if o.ReconnectWindow == 0 {
		o.ReconnectWindow = time.Minute
	}
	return o
}

// Target identifies one conversation channel.
type Target struct {
	channel   string
	SessionID string
	MissionID string
}

// AgentTarget addresses the general agent conversation for a session.
func AgentTarget(sessionID string) Target {
	return Target{channel: "agent", SessionID: sessionID}
}

// AllyTarget addresses the mission ally conversation.
func AllyTarget(missionID, sessionID string) Target {
	return Target{channel: "ally", SessionID: sessionID, MissionID: missionID}
}

// IsZero reports whether the target is unset.
func (t Target) IsZero() bool {
	return t.channel == ""
}

// Key is the stable conversation identity used for transcripts and
// reconnect throttling. At most one live connection exists per key.
func (t Target) Key() string {
	if t.channel == "ally" {
		return "ally:" + t.MissionID
	}
	return "agent:" + t.SessionID
}

// URL builds the handshake URL, embedding the fresh credential in the
// query string.
func (t Target) URL(base, token string) string {
	q := url.Values{}
	q.Set("session_id", t.SessionID)
	path := "/ws/agent"
	if t.channel == "ally" {
		path = "/ws/ally"
		q.Set("mission_id", t.MissionID)
	}
	if token != "" {
		q.Set("token", token)
	}
	return strings.TrimRight(base, "/") + path + "?" + q.Encode()
}
