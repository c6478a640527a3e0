package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/api"
	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
	"github.com/RashikaKarki/learnforge-cli/internal/sched"
	"github.com/RashikaKarki/learnforge-cli/internal/store"
)

// Manager drives the authentication lifecycle. It owns the current state,
// supplies credentials to the HTTP gateway, keeps the profile loaded
// exactly once per identity, and refreshes the backend session in the
// background while the user stays signed in.
type Manager struct {
	api   *api.Client
	creds CredentialStore
	repo  store.Repository
	sched sched.Scheduler

	refreshEvery time.Duration

	mu           sync.Mutex
	state        State
	profile      *domain.UserProfile
	lastErr      error
	generation   int
	notifier     func(Event)
	refreshTimer sched.Timer
}

var _ api.CredentialSource = (*Manager)(nil)

// NewManager creates the lifecycle manager and binds it to the HTTP
// gateway as its credential source and session-expired handler.
func NewManager(client *api.Client, creds CredentialStore, repo store.Repository, scheduler sched.Scheduler, refreshEvery time.Duration) *Manager {
	m := &Manager{
		api:          client,
		creds:        creds,
		repo:         repo,
		sched:        scheduler,
		refreshEvery: refreshEvery,
		state:        StateUnauthenticated,
	}
	client.SetCredentialSource(m)
	client.SetSessionExpiredCallback(m.handleSessionExpired)
	return m
}

// SetNotifier registers the lifecycle event sink. Events are delivered
// synchronously; the sink must not call back into the manager.
func (m *Manager) SetNotifier(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = fn
}

// Credential supplies the stored token, reading it fresh on every call.
// An absent credential yields an empty token so unauthenticated endpoints
// still work.
func (m *Manager) Credential(ctx context.Context) (string, error) {
	stored, err := m.creds.Load()
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", nil
	}
	return stored.Token, nil
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Profile returns the loaded profile, or nil outside StateReady.
func (m *Manager) Profile() *domain.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// UID returns the signed-in user's id, or empty outside StateReady.
func (m *Manager) UID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return ""
	}
	return m.profile.UID
}

// LastError returns the failure recorded by the most recent sign-in or
// resume attempt.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SignIn exchanges an identity token for a backend session, persists the
// credential, and loads the profile. Credential rejection during this
// phase ends silently in StateUnauthenticated; other failures land in
// StateErrored with the credential left in place.
func (m *Manager) SignIn(ctx context.Context, idToken string) error {
	gen := m.beginAuthenticating(true)
	m.emit(Event{State: StateAuthenticating})

	session, err := m.api.CreateAuthSession(ctx, idToken)
	if err != nil {
		return m.failAuth(gen, err)
	}

	stored := &Credentials{Token: idToken, UID: session.UID, SavedAt: time.Now()}
	if err := m.creds.Save(stored); err != nil {
		return m.failAuth(gen, apperrors.Wrap(apperrors.KindClient, "failed to save credentials", err))
	}

	profile, err := m.ensureProfile(ctx, session.UID)
	if err != nil {
		return m.failAuth(gen, err)
	}

	if err := m.becomeReady(gen, profile); err != nil {
		return err
	}
	slog.Info("signed in", "uid", session.UID)
	return nil
}

// Resume re-establishes a session from stored credentials. It returns
// false when no credentials exist. A rejected credential signs out
// silently; other failures land in StateErrored.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	stored, err := m.creds.Load()
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindClient, "failed to load credentials", err)
	}
	if stored == nil {
		return false, nil
	}

	gen := m.beginAuthenticating(false)
	m.emit(Event{State: StateAuthenticating})

	if _, err := m.api.SessionStatus(ctx); err != nil {
		return true, m.failAuth(gen, err)
	}

	profile, err := m.ensureProfile(ctx, stored.UID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindAuthExpired) {
			return true, err
		}
		// A profile failure on the resume path ends quietly. This
		// tolerates the race between stored identity and backend
		// session propagation; the next sign-in starts clean.
		m.silentSignOut(gen)
		return true, err
	}

	if err := m.becomeReady(gen, profile); err != nil {
		return true, err
	}
	slog.Info("session resumed", "uid", stored.UID)
	return true, nil
}

// silentSignOut drops the session without a visible warning.
func (m *Manager) silentSignOut(gen int) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.state = StateUnauthenticated
	m.profile = nil
	m.stopRefreshLocked()
	m.mu.Unlock()

	if err := m.creds.Clear(); err != nil {
		slog.Warn("failed to clear credentials", "error", err)
	}
	slog.Debug("profile unavailable on resume, signing out silently")
	m.emit(Event{State: StateUnauthenticated})
}

// SignOut ends the session explicitly: best-effort backend logout, then
// credential and cache removal.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	m.state = StateUnauthenticated
	m.profile = nil
	m.lastErr = nil
	m.stopRefreshLocked()
	m.mu.Unlock()

	// Logout needs the credential, so it runs before Clear.
	if err := m.api.Logout(ctx); err != nil {
		slog.Warn("backend logout failed", "error", err)
	}
	if err := m.creds.Clear(); err != nil {
		return apperrors.Wrap(apperrors.KindClient, "failed to clear credentials", err)
	}
	if _, err := m.repo.ClearUserData(ctx); err != nil {
		slog.Warn("failed to clear cached data", "error", err)
	}

	m.emit(Event{State: StateUnauthenticated})
	slog.Info("signed out")
	return nil
}

// Close stops background work without touching stored credentials.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRefreshLocked()
}

func (m *Manager) beginAuthenticating(dropProfile bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.state = StateAuthenticating
	m.lastErr = nil
	if dropProfile {
		m.profile = nil
	}
	m.stopRefreshLocked()
	return m.generation
}

// becomeReady completes a sign-in or resume unless a newer transition
// superseded it.
func (m *Manager) becomeReady(gen int, profile *domain.UserProfile) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindClient, "sign-in superseded")
	}
	m.state = StateReady
	m.profile = profile
	m.startRefreshLocked()
	m.mu.Unlock()

	m.emit(Event{State: StateReady, Profile: profile})
	return nil
}

// failAuth records a sign-in or resume failure. Credential rejections
// were already routed through handleSessionExpired by the gateway, so
// only other failures transition to StateErrored here.
func (m *Manager) failAuth(gen int, err error) error {
	if apperrors.IsKind(err, apperrors.KindAuthExpired) {
		return err
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return err
	}
	m.state = StateErrored
	m.lastErr = err
	m.mu.Unlock()

	m.emit(Event{State: StateErrored, Err: err})
	return err
}

// ensureProfile loads the profile for uid at most once per identity,
// falling back to the local cache when the backend is unreachable.
func (m *Manager) ensureProfile(ctx context.Context, uid string) (*domain.UserProfile, error) {
	m.mu.Lock()
	cached := m.profile
	m.mu.Unlock()
	if cached != nil && cached.UID == uid {
		return cached, nil
	}

	profile, err := m.api.Profile(ctx)
	if err == nil {
		if repoErr := m.repo.UpsertProfile(ctx, profile); repoErr != nil {
			slog.Warn("failed to cache profile", "error", repoErr)
		}
		return profile, nil
	}

	if apperrors.Recoverable(err) {
		stored, repoErr := m.repo.GetProfile(ctx, uid)
		if repoErr == nil && stored != nil {
			slog.Warn("backend unreachable, using cached profile", "uid", uid)
			return stored, nil
		}
	}
	return nil, err
}

// handleSessionExpired is invoked by the HTTP gateway when a call
// ultimately fails because the session is no longer valid. Expiry during
// sign-in or resume ends silently; expiry while ready surfaces a
// visible warning. Either way the stored credential is dropped.
func (m *Manager) handleSessionExpired() {
	m.mu.Lock()
	prev := m.state
	if prev == StateUnauthenticated {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.state = StateUnauthenticated
	m.profile = nil
	m.stopRefreshLocked()
	m.mu.Unlock()

	if err := m.creds.Clear(); err != nil {
		slog.Warn("failed to clear credentials", "error", err)
	}

	if prev == StateReady {
		slog.Warn("session expired while signed in")
		m.emit(Event{State: StateExpiring, Warning: "Your session has expired. Please sign in again."})
		m.emit(Event{State: StateUnauthenticated})
		return
	}

	slog.Debug("credential rejected during authentication, signing out silently")
	m.emit(Event{State: StateUnauthenticated})
}

// refreshTick extends the backend session while the user stays signed
// in. Failure is not fatal: expiry is handled by the gateway callback,
// anything else surfaces as a warning and the session stays ready.
func (m *Manager) refreshTick() {
	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return
	}
	gen := m.generation
	m.mu.Unlock()

	_, err := m.api.RefreshSession(context.Background())
	if err == nil {
		slog.Debug("session refreshed")
		return
	}
	if apperrors.IsKind(err, apperrors.KindAuthExpired) {
		return
	}

	m.mu.Lock()
	stale := gen != m.generation || m.state != StateReady
	m.mu.Unlock()
	if stale {
		return
	}

	slog.Warn("session refresh failed", "error", err)
	m.emit(Event{State: StateReady, Warning: "Could not refresh your session. It may expire soon."})
}

func (m *Manager) startRefreshLocked() {
	if m.refreshEvery <= 0 {
		return
	}
	m.stopRefreshLocked()
	m.refreshTimer = m.sched.Every(m.refreshEvery, m.refreshTick)
}

func (m *Manager) stopRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

func (m *Manager) emit(event Event) {
	m.mu.Lock()
	fn := m.notifier
	m.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}
