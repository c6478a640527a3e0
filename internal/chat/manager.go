package chat

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/RashikaKarki/learnforge-cli/internal/api"
	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
	"github.com/RashikaKarki/learnforge-cli/internal/ratelimit"
	"github.com/RashikaKarki/learnforge-cli/internal/sched"
	"github.com/RashikaKarki/learnforge-cli/internal/store"
	"github.com/RashikaKarki/learnforge-cli/internal/validate"
	"github.com/RashikaKarki/learnforge-cli/internal/wire"
)

const (
	dialTimeout    = 15 * time.Second
	writeTimeout   = 10 * time.Second
	persistTimeout = 5 * time.Second
)

// DialFunc opens a WebSocket connection to url. Implementations return
// classified errors: KindConnectionFatal when the handshake was rejected
// for authentication reasons, KindNetwork otherwise.
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, u string) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, apperrors.Wrap(apperrors.KindConnectionFatal, "connection rejected - please sign in again", err).WithStatus(resp.StatusCode)
		}
		return nil, apperrors.Wrap(apperrors.KindNetwork, "connection failed", err)
	}
	return conn, nil
}

// Manager owns at most one live conversation channel. Opening a channel
// for a different conversation closes the current one first. All inbound
// frames are validated before dispatch, and abnormal closes trigger a
// bounded automatic reconnect.
type Manager struct {
	wsBaseURL string
	creds     api.CredentialSource
	repo      store.Repository
	sched     sched.Scheduler
	dial      DialFunc

	heartbeatEvery time.Duration
	reconnectDelay time.Duration
	reconnectMax   int

	sendLimiter      *ratelimit.Limiter
	reconnectLimiter *ratelimit.Limiter

	mu         sync.Mutex
	state      ConnState
	conn       *websocket.Conn
	target     Target
	uid        string
	generation int
	attempts   int
	handlers   Handlers
	heartbeat  sched.Timer
	retry      sched.Timer

	// writeMu serializes writes; Send and the heartbeat share the socket.
	writeMu sync.Mutex
}

// NewManager creates a channel manager for the given WebSocket base URL.
func NewManager(wsBaseURL string, creds api.CredentialSource, repo store.Repository, scheduler sched.Scheduler, opts Options) *Manager {
	opts = opts.withDefaults()

	dial := opts.Dial
	if dial == nil {
		dial = defaultDial
	}

	m := &Manager{
		wsBaseURL:        strings.TrimRight(wsBaseURL, "/"),
		creds:            creds,
		repo:             repo,
		sched:            scheduler,
		dial:             dial,
		heartbeatEvery:   opts.HeartbeatInterval,
		reconnectDelay:   opts.ReconnectDelay,
		reconnectMax:     opts.ReconnectMaxAttempts,
		sendLimiter:      ratelimit.New(opts.SendLimit, opts.SendWindow),
		reconnectLimiter: ratelimit.New(opts.ReconnectLimit, opts.ReconnectWindow),
		state:            StateIdle,
	}
	if opts.Clock != nil {
		m.sendLimiter.SetClock(opts.Clock)
		m.reconnectLimiter.SetClock(opts.Clock)
	}
	return m
}

// SetHandlers registers the event sinks. Call before Connect.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

// SetUser binds the identity used for send throttling.
func (m *Manager) SetUser(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uid = uid
}

// State returns the current channel phase.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the conversation the manager is bound to.
func (m *Manager) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Connect opens the channel for target, closing any channel to a
// different conversation first. Connecting to the already-open target is
// a no-op.
func (m *Manager) Connect(ctx context.Context, target Target) error {
	m.mu.Lock()
	if m.state == StateOpen && m.target.Key() == target.Key() {
		m.mu.Unlock()
		return nil
	}
	m.closeConnLocked(websocket.StatusNormalClosure, "switching conversations")
	m.generation++
	gen := m.generation
	m.target = target
	m.attempts = 0
	m.state = StateConnecting
	onState := m.handlers.OnState
	m.mu.Unlock()

	if onState != nil {
		onState(StateConnecting, nil)
	}
	return m.establish(ctx, gen)
}

// Reconnect forces a fresh dial to the current conversation, resetting
// the automatic retry budget. Manual reconnects are throttled per
// conversation.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	target := m.target
	m.mu.Unlock()
	if target.IsZero() {
		return apperrors.New(apperrors.KindClient, "no conversation to reconnect")
	}

	key := "reconnect:" + target.Key()
	if !m.reconnectLimiter.Allow(key) {
		wait := m.reconnectLimiter.RemainingTime(key)
		return apperrors.New(apperrors.KindRateLimited,
			fmt.Sprintf("reconnecting too often - try again in %s", wait.Round(time.Second)))
	}

	m.mu.Lock()
	m.closeConnLocked(websocket.StatusNormalClosure, "reconnecting")
	m.generation++
	gen := m.generation
	m.attempts = 0
	m.state = StateConnecting
	onState := m.handlers.OnState
	m.mu.Unlock()

	if onState != nil {
		onState(StateConnecting, nil)
	}
	return m.establish(ctx, gen)
}

// Send validates, throttles, and transmits one user message. It fails
// fast when the channel is not open; nothing is queued.
func (m *Manager) Send(ctx context.Context, text string) error {
	if err := validate.ValidateChatMessage(text); err != nil {
		return err
	}
	sanitized := validate.SanitizeText(text)

	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindNetwork, "not connected - message not sent")
	}
	conn := m.conn
	target := m.target
	uid := m.uid
	m.mu.Unlock()

	key := "chat:" + uid
	if !m.sendLimiter.Allow(key) {
		wait := m.sendLimiter.RemainingTime(key)
		return apperrors.New(apperrors.KindRateLimited,
			fmt.Sprintf("sending too fast - try again in %s", wait.Round(time.Second)))
	}

	data, err := wire.UserMessage(sanitized).Encode()
	if err != nil {
		return apperrors.Wrap(apperrors.KindClient, "failed to encode message", err)
	}

	m.writeMu.Lock()
	err = conn.Write(ctx, websocket.MessageText, data)
	m.writeMu.Unlock()
	if err != nil {
		return apperrors.Wrap(apperrors.KindNetwork, "failed to send message", err)
	}

	m.persist(target, domain.ChatMessage{Origin: domain.OriginUser, Text: sanitized, Timestamp: m.sched.Now()})
	return nil
}

// Close ends the channel deliberately: timers cancelled, socket closed
// with the normal code so no reconnect fires.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.state = StateClosing
	m.closeConnLocked(websocket.StatusNormalClosure, "client closing")
	m.state = StateClosed
	onState := m.handlers.OnState
	m.mu.Unlock()

	if onState != nil {
		onState(StateClosed, nil)
	}
}

// establish performs one dial for the current target and starts the
// session loops on success. gen guards against superseded attempts.
func (m *Manager) establish(ctx context.Context, gen int) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindClient, "connection superseded")
	}
	target := m.target
	m.mu.Unlock()

	credential := ""
	if m.creds != nil {
		var err error
		credential, err = m.creds.Credential(ctx)
		if err != nil {
			fatal := apperrors.Wrap(apperrors.KindConnectionFatal, "no valid credential", err)
			m.terminate(gen, fatal)
			return fatal
		}
	}

	conn, err := m.dial(ctx, target.URL(m.wsBaseURL, credential))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindConnectionFatal) {
			m.terminate(gen, err)
			return err
		}
		m.scheduleRetry(gen, err)
		return err
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		closeAsync(conn, websocket.StatusNormalClosure, "superseded")
		return apperrors.New(apperrors.KindClient, "connection superseded")
	}
	m.conn = conn
	m.attempts = 0
	m.state = StateOpen
	m.startHeartbeatLocked(gen)
	onState := m.handlers.OnState
	key := target.Key()
	m.mu.Unlock()

	m.reconnectLimiter.Reset("reconnect:" + key)
	slog.Info("channel open", "conversation", key)
	if onState != nil {
		onState(StateOpen, nil)
	}

	go m.readLoop(conn, gen, target)
	return nil
}

// readLoop drains inbound frames until the connection ends. Closing the
// connection is what unblocks the pending Read.
func (m *Manager) readLoop(conn *websocket.Conn, gen int, target Target) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		m.dispatch(gen, data, target)
	}
}

// handleReadError classifies the end of a connection. Normal closure
// ends the channel; an auth rejection ends it terminally; anything else
// goes through the bounded retry schedule.
func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure:
		slog.Info("channel closed by server")
		m.terminate(gen, nil)
	case websocket.StatusPolicyViolation:
		m.terminate(gen, apperrors.Wrap(apperrors.KindConnectionFatal, "connection rejected - please sign in again", err))
	default:
		m.scheduleRetry(gen, apperrors.Wrap(apperrors.KindNetwork, "connection lost", err))
	}
}

// terminate closes the channel until the next explicit Connect or
// Reconnect.
func (m *Manager) terminate(gen int, cause error) {
	m.mu.Lock()
	if gen != m.generation || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.closeConnLocked(websocket.StatusNormalClosure, "closing")
	m.state = StateClosed
	onState := m.handlers.OnState
	m.mu.Unlock()

	if cause != nil {
		slog.Warn("channel closed", "error", cause)
	}
	if onState != nil {
		onState(StateClosed, cause)
	}
}

// scheduleRetry books one reconnect attempt, or gives up terminally once
// the ceiling is reached.
func (m *Manager) scheduleRetry(gen int, cause error) {
	m.mu.Lock()
	if gen != m.generation || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.reconnectMax {
		m.mu.Unlock()
		m.terminate(gen, apperrors.Wrap(apperrors.KindConnectionFatal,
			"connection lost and retries exhausted - reconnect manually", cause))
		return
	}
	m.attempts++
	attempt := m.attempts
	m.state = StateReconnecting
	m.stopHeartbeatLocked()
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = m.sched.After(m.reconnectDelay, func() { m.redial(gen) })
	onState := m.handlers.OnState
	m.mu.Unlock()

	slog.Warn("connection lost, retrying", "attempt", attempt, "delay", m.reconnectDelay, "error", cause)
	if onState != nil {
		onState(StateReconnecting, nil)
	}
}

func (m *Manager) redial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := m.establish(ctx, gen); err != nil {
		slog.Debug("redial failed", "error", err)
	}
}

// dispatch validates one inbound frame and routes it to the registered
// handler. Unknown frame types are forwarded, not dropped. Frames read
// off a superseded connection are discarded.
func (m *Manager) dispatch(gen int, data []byte, target Target) {
	env, err := wire.ParseEnvelope(data)
	if err != nil {
		slog.Warn("dropping malformed frame", "error", err)
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	h := m.handlers
	m.mu.Unlock()

	if err := validate.ValidateInboundEnvelope(env); err != nil {
		if stderrors.Is(err, validate.ErrUnknownType) {
			slog.Debug("forwarding unknown frame", "type", env.Type)
			if h.OnUnknown != nil {
				h.OnUnknown(env)
			}
			return
		}
		slog.Warn("dropping invalid frame", "type", env.Type, "error", err)
		return
	}

	switch env.Type {
	case wire.TypeConnectionAck:
		slog.Debug("connection acknowledged", "session_id", env.SessionID)

	case wire.TypeHistory:
		msgs := make([]domain.ChatMessage, 0, len(env.Messages))
		for _, hm := range env.Messages {
			msgs = append(msgs, domain.ChatMessage{
				Origin:    domain.Origin(hm.Origin),
				Text:      hm.Text,
				Timestamp: hm.Timestamp,
			})
		}
		m.persistHistory(target, msgs)
		if h.OnHistory != nil {
			h.OnHistory(msgs)
		}

	case wire.TypeProcessingStart:
		if h.OnTyping != nil {
			h.OnTyping(true)
		}

	case wire.TypeProcessingEnd:
		if h.OnTyping != nil {
			h.OnTyping(false)
		}

	case wire.TypeMessage:
		msg := domain.ChatMessage{Origin: domain.OriginAgent, Text: env.Message, Timestamp: m.sched.Now()}
		m.persist(target, msg)
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}

	case wire.TypeHandover:
		slog.Info("conversation handed over to a mentor")
		if h.OnHandover != nil {
			h.OnHandover()
		}

	case wire.TypeCheckpointUpdate:
		progress := domain.CheckpointProgress{Completed: env.CompletedCheckpoints, Progress: *env.Progress}
		missionID := env.MissionID
		if missionID == "" {
			missionID = target.MissionID
		}
		if missionID != "" && m.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := m.repo.SaveCheckpointState(ctx, missionID, &progress); err != nil {
				slog.Warn("failed to persist checkpoint state", "mission_id", missionID, "error", err)
			}
			cancel()
		}
		if h.OnCheckpoint != nil {
			h.OnCheckpoint(progress)
		}

	case wire.TypeSessionClosed:
		slog.Info("session closed by server")
		if h.OnSessionClosed != nil {
			h.OnSessionClosed()
		}
		m.terminate(gen, nil)

	case wire.TypePong:
		slog.Debug("pong received")

	case wire.TypeError:
		slog.Warn("server reported an error", "message", env.Message)
		msg := domain.ChatMessage{Origin: domain.OriginSystem, Text: env.Message, Timestamp: m.sched.Now()}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

func (m *Manager) persist(target Target, msg domain.ChatMessage) {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.AppendTranscript(ctx, target.Key(), msg); err != nil {
		slog.Warn("failed to persist message", "conversation", target.Key(), "error", err)
	}
}

// persistHistory overwrites the stored transcript with the server's replay.
func (m *Manager) persistHistory(target Target, msgs []domain.ChatMessage) {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.ReplaceTranscript(ctx, target.Key(), msgs); err != nil {
		slog.Warn("failed to persist history", "conversation", target.Key(), "error", err)
	}
}

func (m *Manager) startHeartbeatLocked(gen int) {
	m.stopHeartbeatLocked()
	if m.heartbeatEvery <= 0 {
		return
	}
	m.heartbeat = m.sched.Every(m.heartbeatEvery, func() { m.heartbeatTick(gen) })
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

// heartbeatTick sends one ping while the channel is open. A write
// failure is left for the read loop to classify.
func (m *Manager) heartbeatTick(gen int) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	data, err := wire.Ping().Encode()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	m.writeMu.Lock()
	err = conn.Write(ctx, websocket.MessageText, data)
	m.writeMu.Unlock()
	if err != nil {
		slog.Debug("heartbeat write failed", "error", err)
	}
}

func (m *Manager) closeConnLocked(code websocket.StatusCode, reason string) {
	m.stopHeartbeatLocked()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.conn != nil {
		closeAsync(m.conn, code, reason)
		m.conn = nil
	}
}

// closeAsync writes the close frame without making the caller wait out
// the close handshake; a peer that is slow to echo must not stall the
// manager lock.
func closeAsync(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	go func() {
		if err := conn.Close(code, reason); err != nil {
			slog.Debug("connection close", "error", err)
		}
	}()
}
