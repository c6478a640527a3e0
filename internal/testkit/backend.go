// Package testkit runs a scripted Learnforge backend inside tests. It
// serves the REST surface the client consumes plus the conversation
// WebSocket endpoints, journals what the client sends, and lets tests
// inject failures per route.
package testkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
)

// Request is one journaled REST call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Auth   string // bearer token presented, without the scheme prefix
	Body   []byte
}

// WSConnect is one journaled WebSocket handshake attempt.
type WSConnect struct {
	Path  string
	Query url.Values
}

type forcedResponse struct {
	status int
	body   string
}

// Backend is the scripted server. Zero scripting yields a permissive
// backend that accepts any bearer token and serves seeded fixtures.
type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	uid       string
	token     string
	rejectAll bool
	forced    map[string]forcedResponse
	profile   domain.UserProfile
	missions  map[string]domain.Mission
	enrolled  []domain.EnrolledMission
	requests  []Request

	wsReject int
	conns    chan *ServerConn
	live     []*ServerConn
	connects []WSConnect
}

// NewBackend starts a scripted backend and registers its shutdown with t.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		uid:      "uid-1",
		forced:   make(map[string]forcedResponse),
		missions: make(map[string]domain.Mission),
		conns:    make(chan *ServerConn, 8),
	}

	r := chi.NewRouter()
	r.Use(b.record)

	r.Post("/auth/create-session", b.handleCreateAuthSession)
	r.Get("/auth/session-status", b.authed(b.handleSessionStatus))
	r.Post("/auth/refresh-session", b.authed(b.handleSessionStatus))
	r.Post("/auth/logout", b.authed(b.handleLogout))

	r.Get("/user/profile", b.authed(b.handleProfile))
	r.Put("/user/update", b.authed(b.handleUpdateProfile))
	r.Get("/user/enrolled-missions", b.authed(b.handleEnrolledMissions))

	r.Post("/sessions/", b.authed(b.handleCreateSession))
	r.Get("/missions/{missionID}", b.authed(b.handleMission))

	r.Get("/ws/agent", b.handleWS)
	r.Get("/ws/ally", b.handleWS)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// Close releases every live WebSocket connection and stops the server.
func (b *Backend) Close() {
	b.mu.Lock()
	live := append([]*ServerConn(nil), b.live...)
	b.mu.Unlock()
	for _, sc := range live {
		sc.release()
	}
	b.Server.Close()
}

// BaseURL is the REST base URL.
func (b *Backend) BaseURL() string {
	return b.Server.URL
}

// WSBaseURL is the WebSocket base URL.
func (b *Backend) WSBaseURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http")
}

// SetUID sets the uid reported by the auth endpoints.
func (b *Backend) SetUID(uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uid = uid
}

// SetToken pins the bearer token the authed routes accept. Empty accepts
// any non-empty token.
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// SetRejectAll makes every authed route answer 401 until turned off.
func (b *Backend) SetRejectAll(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAll = reject
}

// SetResponse forces a fixed response for one method and path.
func (b *Backend) SetResponse(method, path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced[method+" "+path] = forcedResponse{status: status, body: body}
}

// ClearResponse removes a forced response.
func (b *Backend) ClearResponse(method, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.forced, method+" "+path)
}

// SetProfile seeds the profile fixture.
func (b *Backend) SetProfile(p domain.UserProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profile = p
}

// AddMission seeds one mission fixture.
func (b *Backend) AddMission(m domain.Mission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.missions[m.MissionID] = m
}

// SetEnrolled seeds the enrolled-missions fixture.
func (b *Backend) SetEnrolled(missions []domain.EnrolledMission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enrolled = append([]domain.EnrolledMission(nil), missions...)
}

// Requests returns a copy of the REST journal.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// RequestCount counts journaled calls to one method and path.
func (b *Backend) RequestCount(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, req := range b.requests {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

// WSConnects returns a copy of the handshake journal, rejected attempts
// included.
func (b *Backend) WSConnects() []WSConnect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]WSConnect(nil), b.connects...)
}

// record journals REST traffic and applies forced responses. WebSocket
// handshakes are journaled by handleWS instead.
func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Auth:   strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
			Body:   body,
		})
		forced, ok := b.forced[r.Method+" "+r.URL.Path]
		b.mu.Unlock()

		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(forced.status)
			_, _ = w.Write([]byte(forced.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authed rejects requests whose bearer token fails the script.
func (b *Backend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		token := b.token
		reject := b.rejectAll
		b.mu.Unlock()

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if reject || presented == "" || (token != "" && presented != token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleCreateAuthSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.IDToken == "" {
		writeError(w, http.StatusBadRequest, "id_token is required")
		return
	}

	b.mu.Lock()
	// The exchanged token becomes the accepted credential.
	b.token = payload.IDToken
	uid := b.uid
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "session created", "uid": uid})
}

func (b *Backend) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	uid := b.uid
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok", "uid": uid})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (b *Backend) handleProfile(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	profile := b.profile
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, profile)
}

func (b *Backend) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update struct {
		Name          *string `json:"name"`
		LearningStyle *string `json:"learning_style"`
	}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "malformed update")
		return
	}

	b.mu.Lock()
	if update.Name != nil {
		b.profile.Name = *update.Name
	}
	if update.LearningStyle != nil {
		b.profile.LearningStyle = *update.LearningStyle
	}
	profile := b.profile
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, profile)
}

func (b *Backend) handleEnrolledMissions(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	missions := append([]domain.EnrolledMission(nil), b.enrolled...)
	b.mu.Unlock()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit < len(missions) {
			missions = missions[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
}

func (b *Backend) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	uid := b.uid
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.SessionInfo{
		SessionID: uuid.NewString(),
		UserID:    uid,
		Status:    "created",
		CreatedAt: time.Now().UTC(),
	})
}

func (b *Backend) handleMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "missionID")
	b.mu.Lock()
	mission, ok := b.missions[id]
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
