package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/api"
	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
	"github.com/RashikaKarki/learnforge-cli/internal/sched"
)

type fakeRepo struct {
	mu       sync.Mutex
	profiles map[string]*domain.UserProfile
	cleared  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{profiles: make(map[string]*domain.UserProfile)}
}

func (f *fakeRepo) GetProfile(_ context.Context, uid string) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile := f.profiles[uid]
	if profile == nil {
		return nil, nil
	}
	copy := *profile
	return &copy, nil
}

func (f *fakeRepo) UpsertProfile(_ context.Context, profile *domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *profile
	f.profiles[profile.UID] = &copy
	return nil
}

func (f *fakeRepo) ClearUserData(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.profiles))
	f.profiles = make(map[string]*domain.UserProfile)
	f.cleared++
	return n, nil
}

func (f *fakeRepo) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func (f *fakeRepo) GetMission(_ context.Context, _ string) (*domain.Mission, error) { return nil, nil }
func (f *fakeRepo) UpsertMission(_ context.Context, _ *domain.Mission) error        { return nil }
func (f *fakeRepo) ReplaceEnrolledMissions(_ context.Context, _ []domain.EnrolledMission) error {
	return nil
}
func (f *fakeRepo) ListEnrolledMissions(_ context.Context, _ int) ([]domain.EnrolledMission, error) {
	return nil, nil
}
func (f *fakeRepo) SaveCheckpointState(_ context.Context, _ string, _ *domain.CheckpointProgress) error {
	return nil
}
func (f *fakeRepo) GetCheckpointState(_ context.Context, _ string) (*domain.CheckpointProgress, error) {
	return nil, nil
}
func (f *fakeRepo) AppendTranscript(_ context.Context, _ string, _ domain.ChatMessage) error {
	return nil
}
func (f *fakeRepo) ReplaceTranscript(_ context.Context, _ string, _ []domain.ChatMessage) error {
	return nil
}
func (f *fakeRepo) RecentTranscript(_ context.Context, _ string, _ int) ([]domain.ChatMessage, error) {
	return nil, nil
}
func (f *fakeRepo) PruneTranscripts(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

// fakeBackend is a scriptable auth backend. Toggle rejectAll to make it
// refuse every credential, failRefresh to break only the refresh route.
type fakeBackend struct {
	mu          sync.Mutex
	uid         string
	rejectAll   bool
	failRefresh bool
	profileHits int
	refreshHits int
	statusHits  int
	logoutHits  int
}

func (b *fakeBackend) setRejectAll(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAll = v
}

func (b *fakeBackend) setFailRefresh(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRefresh = v
}

func (b *fakeBackend) counts() (profile, refresh, status, logout int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profileHits, b.refreshHits, b.statusHits, b.logoutHits
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/create-session", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		reject := b.rejectAll
		uid := b.uid
		b.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail":"not authenticated"}`)
			return
		}
		fmt.Fprintf(w, `{"message":"session created","uid":%q}`, uid)
	})
	mux.HandleFunc("/auth/session-status", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.statusHits++
		reject := b.rejectAll
		uid := b.uid
		b.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail":"not authenticated"}`)
			return
		}
		fmt.Fprintf(w, `{"message":"session is valid","uid":%q}`, uid)
	})
	mux.HandleFunc("/auth/refresh-session", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refreshHits++
		reject := b.rejectAll
		fail := b.failRefresh
		uid := b.uid
		b.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail":"not authenticated"}`)
			return
		}
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"refresh unavailable"}`)
			return
		}
		fmt.Fprintf(w, `{"message":"session refreshed","uid":%q}`, uid)
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.logoutHits++
		b.mu.Unlock()
		fmt.Fprint(w, `{"message":"logged out"}`)
	})
	mux.HandleFunc("/user/profile", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.profileHits++
		reject := b.rejectAll
		uid := b.uid
		b.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail":"not authenticated"}`)
			return
		}
		fmt.Fprintf(w, `{"uid":%q,"email":"ada@example.com","name":"Ada","created_at":"2024-01-01T00:00:00Z"}`, uid)
	})
	return mux
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) states() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.events))
	for i, e := range s.events {
		out[i] = e.State
	}
	return out
}

func (s *eventSink) warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Warning != "" {
			out = append(out, e.Warning)
		}
	}
	return out
}

func newTestManager(t *testing.T, backend *fakeBackend) (*Manager, *fakeRepo, *eventSink, CredentialStore, *sched.Manual) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	repo := newFakeRepo()
	sink := &eventSink{}
	creds := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	manual := sched.NewManual(time.Unix(1700000000, 0))

	client := api.NewClient(srv.URL, 5*time.Second)
	mgr := NewManager(client, creds, repo, manual, 30*time.Minute)
	mgr.SetNotifier(sink.record)
	t.Cleanup(mgr.Close)

	return mgr, repo, sink, creds, manual
}

func TestSignInEstablishesSession(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, repo, sink, creds, _ := newTestManager(t, backend)

	if err := mgr.SignIn(context.Background(), "firebase-token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if mgr.State() != StateReady {
		t.Errorf("expected StateReady, got %s", mgr.State())
	}
	if mgr.UID() != "user-1" {
		t.Errorf("expected uid user-1, got %q", mgr.UID())
	}

	stored, err := creds.Load()
	if err != nil || stored == nil {
		t.Fatalf("expected persisted credentials, got %+v err %v", stored, err)
	}
	if stored.Token != "firebase-token" || stored.UID != "user-1" {
		t.Errorf("unexpected stored credentials: %+v", stored)
	}

	cached, err := repo.GetProfile(context.Background(), "user-1")
	if err != nil || cached == nil {
		t.Errorf("expected profile cached locally, got %+v err %v", cached, err)
	}

	states := sink.states()
	if len(states) != 2 || states[0] != StateAuthenticating || states[1] != StateReady {
		t.Errorf("unexpected event sequence: %v", states)
	}
}

func TestSignInRejectedSignsOutSilently(t *testing.T) {
	backend := &fakeBackend{uid: "user-1", rejectAll: true}
	mgr, _, sink, creds, _ := newTestManager(t, backend)

	err := mgr.SignIn(context.Background(), "bad-token")
	if !apperrors.IsKind(err, apperrors.KindAuthExpired) {
		t.Fatalf("expected AUTH_EXPIRED, got %v", err)
	}

	if mgr.State() != StateUnauthenticated {
		t.Errorf("expected StateUnauthenticated, got %s", mgr.State())
	}
	if warnings := sink.warnings(); len(warnings) != 0 {
		t.Errorf("rejection during sign-in must be silent, got warnings %v", warnings)
	}
	stored, err := creds.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored != nil {
		t.Errorf("expected no stored credentials, got %+v", stored)
	}
}

func TestSignInServerErrorLandsInErrored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"backend down"}`)
	}))
	t.Cleanup(srv.Close)

	repo := newFakeRepo()
	creds := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	client := api.NewClient(srv.URL, 5*time.Second)
	mgr := NewManager(client, creds, repo, sched.NewManual(time.Unix(0, 0)), 30*time.Minute)
	t.Cleanup(mgr.Close)

	err := mgr.SignIn(context.Background(), "token")
	if !apperrors.IsKind(err, apperrors.KindServer) {
		t.Fatalf("expected SERVER_ERROR, got %v", err)
	}
	if mgr.State() != StateErrored {
		t.Errorf("expected StateErrored, got %s", mgr.State())
	}
	if mgr.LastError() == nil {
		t.Error("expected LastError to be recorded")
	}
}

func TestResumeWithoutCredentials(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, _, _, _, _ := newTestManager(t, backend)

	found, err := mgr.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if found {
		t.Error("expected found=false without stored credentials")
	}
	if mgr.State() != StateUnauthenticated {
		t.Errorf("expected StateUnauthenticated, got %s", mgr.State())
	}
}

func TestResumeValidSession(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, _, _, creds, _ := newTestManager(t, backend)

	if err := creds.Save(&Credentials{Token: "tok", UID: "user-1", SavedAt: time.Now()}); err != nil {
		t.Fatalf("seed credentials failed: %v", err)
	}

	found, err := mgr.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !found {
		t.Error("expected found=true with stored credentials")
	}
	if mgr.State() != StateReady {
		t.Errorf("expected StateReady, got %s", mgr.State())
	}
	_, _, statusHits, _ := backend.counts()
	if statusHits != 1 {
		t.Errorf("expected one session-status probe, got %d", statusHits)
	}
}

func TestResumeRejectedSignsOutSilently(t *testing.T) {
	backend := &fakeBackend{uid: "user-1", rejectAll: true}
	mgr, _, sink, creds, _ := newTestManager(t, backend)

	if err := creds.Save(&Credentials{Token: "stale", UID: "user-1", SavedAt: time.Now()}); err != nil {
		t.Fatalf("seed credentials failed: %v", err)
	}

	found, err := mgr.Resume(context.Background())
	if !found {
		t.Error("expected found=true with stored credentials")
	}
	if !apperrors.IsKind(err, apperrors.KindAuthExpired) {
		t.Fatalf("expected AUTH_EXPIRED, got %v", err)
	}
	if mgr.State() != StateUnauthenticated {
		t.Errorf("expected StateUnauthenticated, got %s", mgr.State())
	}
	if warnings := sink.warnings(); len(warnings) != 0 {
		t.Errorf("rejection during resume must be silent, got warnings %v", warnings)
	}
	stored, loadErr := creds.Load()
	if loadErr != nil {
		t.Fatalf("Load failed: %v", loadErr)
	}
	if stored != nil {
		t.Errorf("expected stale credentials cleared, got %+v", stored)
	}
}

func TestResumeProfileFailureSignsOutQuietly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session-status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":"session is valid","uid":"user-1"}`)
	})
	mux.HandleFunc("/user/profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"profile backend down"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	repo := newFakeRepo()
	sink := &eventSink{}
	creds := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	client := api.NewClient(srv.URL, 5*time.Second)
	mgr := NewManager(client, creds, repo, sched.NewManual(time.Unix(0, 0)), 30*time.Minute)
	mgr.SetNotifier(sink.record)
	t.Cleanup(mgr.Close)

	if err := creds.Save(&Credentials{Token: "tok", UID: "user-1", SavedAt: time.Now()}); err != nil {
		t.Fatalf("seed credentials failed: %v", err)
	}

	found, err := mgr.Resume(context.Background())
	if !found {
		t.Error("expected found=true with stored credentials")
	}
	if !apperrors.IsKind(err, apperrors.KindServer) {
		t.Fatalf("expected SERVER_ERROR, got %v", err)
	}
	if mgr.State() != StateUnauthenticated {
		t.Errorf("expected quiet sign-out, got state %s", mgr.State())
	}
	if warnings := sink.warnings(); len(warnings) != 0 {
		t.Errorf("resume profile failure must be silent, got %v", warnings)
	}
	stored, loadErr := creds.Load()
	if loadErr != nil {
		t.Fatalf("Load failed: %v", loadErr)
	}
	if stored != nil {
		t.Errorf("expected credentials cleared, got %+v", stored)
	}
}

func TestProfileFetchedOncePerIdentity(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, _, _, _, _ := newTestManager(t, backend)

	if err := mgr.SignIn(context.Background(), "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if _, err := mgr.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	profileHits, _, _, _ := backend.counts()
	if profileHits != 1 {
		t.Errorf("expected exactly one profile fetch per identity, got %d", profileHits)
	}
}

func TestBackgroundRefreshExtendsSession(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, _, _, _, manual := newTestManager(t, backend)

	if err := mgr.SignIn(context.Background(), "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	manual.Advance(30 * time.Minute)
	_, refreshHits, _, _ := backend.counts()
	if refreshHits != 1 {
		t.Errorf("expected one refresh after interval, got %d", refreshHits)
	}

	manual.Advance(30 * time.Minute)
	_, refreshHits, _, _ = backend.counts()
	if refreshHits != 2 {
		t.Errorf("expected periodic refresh, got %d", refreshHits)
	}
	if mgr.State() != StateReady {
		t.Errorf("expected StateReady after refresh, got %s", mgr.State())
	}
}

func TestRefreshFailureWarnsAndStaysReady(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, _, sink, _, manual := newTestManager(t, backend)

	if err := mgr.SignIn(context.Background(), "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	backend.setFailRefresh(true)
	manual.Advance(30 * time.Minute)

	if mgr.State() != StateReady {
		t.Errorf("refresh failure must not end the session, state %s", mgr.State())
	}
	warnings := sink.warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

func TestExpiryWhileReadyWarnsVisibly(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, _, sink, creds, manual := newTestManager(t, backend)

	if err := mgr.SignIn(context.Background(), "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	backend.setRejectAll(true)
	manual.Advance(30 * time.Minute)

	if mgr.State() != StateUnauthenticated {
		t.Errorf("expected StateUnauthenticated after expiry, got %s", mgr.State())
	}
	states := sink.states()
	sawExpiring := false
	for _, s := range states {
		if s == StateExpiring {
			sawExpiring = true
		}
	}
	if !sawExpiring {
		t.Errorf("expected an expiring event, got %v", states)
	}
	if warnings := sink.warnings(); len(warnings) != 1 {
		t.Errorf("expected exactly one visible warning, got %v", warnings)
	}
	stored, err := creds.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored != nil {
		t.Errorf("expected credentials cleared after expiry, got %+v", stored)
	}
}

func TestSignOutClearsEverything(t *testing.T) {
	backend := &fakeBackend{uid: "user-1"}
	mgr, repo, _, creds, manual := newTestManager(t, backend)

	if err := mgr.SignIn(context.Background(), "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := mgr.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	if mgr.State() != StateUnauthenticated {
		t.Errorf("expected StateUnauthenticated, got %s", mgr.State())
	}
	_, _, _, logoutHits := backend.counts()
	if logoutHits != 1 {
		t.Errorf("expected backend logout, got %d hits", logoutHits)
	}
	stored, err := creds.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored != nil {
		t.Errorf("expected credentials cleared, got %+v", stored)
	}
	if repo.clearCount() != 1 {
		t.Errorf("expected local cache cleared once, got %d", repo.clearCount())
	}

	// Refresh must stop with the session.
	manual.Advance(2 * time.Hour)
	_, refreshHits, _, _ := backend.counts()
	if refreshHits != 0 {
		t.Errorf("expected no refresh after sign-out, got %d", refreshHits)
	}
}
