package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
	"github.com/RashikaKarki/learnforge-cli/internal/testkit"
)

// staticSource hands out one fixed credential.
type staticSource string

func (s staticSource) Credential(context.Context) (string, error) { return string(s), nil }

func newBackendClient(t *testing.T) (*Client, *testkit.Backend) {
	t.Helper()
	backend := testkit.NewBackend(t)
	client := NewClient(backend.BaseURL(), 5*time.Second)
	client.SetCredentialSource(staticSource("tok-endpoints"))
	return client, backend
}

func TestCreateAuthSessionSendsToken(t *testing.T) {
	client, backend := newBackendClient(t)

	out, err := client.CreateAuthSession(context.Background(), "identity-token")
	if err != nil {
		t.Fatalf("CreateAuthSession failed: %v", err)
	}
	if out.UID != "uid-1" {
		t.Errorf("expected uid uid-1, got %q", out.UID)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != http.MethodPost || reqs[0].Path != "/auth/create-session" {
		t.Errorf("unexpected request %s %s", reqs[0].Method, reqs[0].Path)
	}
	var body map[string]string
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("failed to decode journaled body: %v", err)
	}
	if body["id_token"] != "identity-token" {
		t.Errorf("expected id_token in body, got %v", body)
	}
}

func TestExchangedTokenBecomesAcceptedCredential(t *testing.T) {
	backend := testkit.NewBackend(t)
	client := NewClient(backend.BaseURL(), 5*time.Second)
	client.SetCredentialSource(staticSource("identity-token"))

	if _, err := client.CreateAuthSession(context.Background(), "identity-token"); err != nil {
		t.Fatalf("CreateAuthSession failed: %v", err)
	}
	if _, err := client.SessionStatus(context.Background()); err != nil {
		t.Fatalf("SessionStatus with the exchanged token failed: %v", err)
	}

	backend.SetToken("rotated")
	_, err := client.SessionStatus(context.Background())
	if !apperrors.IsKind(err, apperrors.KindAuthExpired) {
		t.Fatalf("expected AUTH_EXPIRED once the server rotates the credential, got %v", err)
	}
}

func TestSessionStatusWhenBackendRejects(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetUID("uid-9")

	out, err := client.SessionStatus(context.Background())
	if err != nil {
		t.Fatalf("SessionStatus failed: %v", err)
	}
	if out.UID != "uid-9" {
		t.Errorf("expected uid uid-9, got %q", out.UID)
	}

	backend.SetRejectAll(true)
	_, err = client.SessionStatus(context.Background())
	if !apperrors.IsKind(err, apperrors.KindAuthExpired) {
		t.Fatalf("expected AUTH_EXPIRED, got %v", err)
	}

	// One successful call plus the rejected attempt and its single retry.
	if n := backend.RequestCount(http.MethodGet, "/auth/session-status"); n != 3 {
		t.Errorf("expected 3 status requests, got %d", n)
	}
}

func TestRefreshSessionRecoversAfterForcedFailure(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetResponse(http.MethodPost, "/auth/refresh-session", http.StatusInternalServerError, `{"error":"upstream down"}`)

	_, err := client.RefreshSession(context.Background())
	if !apperrors.IsKind(err, apperrors.KindServer) {
		t.Fatalf("expected SERVER_ERROR from the forced response, got %v", err)
	}

	backend.ClearResponse(http.MethodPost, "/auth/refresh-session")
	out, err := client.RefreshSession(context.Background())
	if err != nil {
		t.Fatalf("RefreshSession after clearing failed: %v", err)
	}
	if out.UID != "uid-1" {
		t.Errorf("expected uid uid-1, got %q", out.UID)
	}
}

func TestMissionRejectsBadIdentifier(t *testing.T) {
	client, backend := newBackendClient(t)

	_, err := client.Mission(context.Background(), "../../etc/passwd")
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if reqs := backend.Requests(); len(reqs) != 0 {
		t.Errorf("invalid id must be rejected before any request, saw %d", len(reqs))
	}
}

func TestMissionFetchesByID(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.AddMission(domain.Mission{
		MissionID:   "mission-42",
		Title:       "Build a CLI",
		Checkpoints: []domain.Checkpoint{{ID: "cp-1", Title: "Scaffold", Order: 1}},
	})

	mission, err := client.Mission(context.Background(), "mission-42")
	if err != nil {
		t.Fatalf("Mission failed: %v", err)
	}
	if mission.MissionID != "mission-42" || len(mission.Checkpoints) != 1 {
		t.Errorf("unexpected mission decoded: %+v", mission)
	}
	if n := backend.RequestCount(http.MethodGet, "/missions/mission-42"); n != 1 {
		t.Errorf("expected 1 mission fetch, got %d", n)
	}
}

func TestMissionNotFound(t *testing.T) {
	client, _ := newBackendClient(t)

	_, err := client.Mission(context.Background(), "missing")
	if !apperrors.IsKind(err, apperrors.KindClient) {
		t.Fatalf("expected a client error for an unknown mission, got %v", err)
	}
	var apiErr *apperrors.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected status 404 recorded, got %v", err)
	}
}

func TestEnrolledMissionsLimit(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetEnrolled([]domain.EnrolledMission{
		{MissionID: "m1", Title: "First", Progress: 40},
		{MissionID: "m2", Title: "Second", Progress: 10},
		{MissionID: "m3", Title: "Third", Progress: 0},
	})

	missions, err := client.EnrolledMissions(context.Background(), 2)
	if err != nil {
		t.Fatalf("EnrolledMissions failed: %v", err)
	}
	if len(missions) != 2 || missions[0].MissionID != "m1" {
		t.Errorf("unexpected missions: %+v", missions)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if got := reqs[0].Query.Get("limit"); got != "2" {
		t.Errorf("expected limit=2 on the wire, got %q", got)
	}
}

func TestEnrolledMissionsOmitsNonPositiveLimit(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetEnrolled([]domain.EnrolledMission{
		{MissionID: "m1", Title: "First", Progress: 40},
		{MissionID: "m2", Title: "Second", Progress: 10},
	})

	missions, err := client.EnrolledMissions(context.Background(), 0)
	if err != nil {
		t.Fatalf("EnrolledMissions failed: %v", err)
	}
	if len(missions) != 2 {
		t.Errorf("expected the full list, got %+v", missions)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Query.Has("limit") {
		t.Errorf("non-positive limit must be omitted, got query %v", reqs[0].Query)
	}
}

func TestProfileFetches(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetProfile(domain.UserProfile{UID: "uid-1", Name: "Ada", Email: "ada@example.com"})

	profile, err := client.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.Name != "Ada" || profile.Email != "ada@example.com" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

func TestUpdateProfileSendsPartialBody(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetProfile(domain.UserProfile{UID: "uid-1", Name: "Old", LearningStyle: "visual"})

	name := "Ada"
	profile, err := client.UpdateProfile(context.Background(), ProfileUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if profile.Name != "Ada" {
		t.Errorf("expected updated name, got %q", profile.Name)
	}
	if profile.LearningStyle != "visual" {
		t.Errorf("untouched field must survive, got %q", profile.LearningStyle)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	var body map[string]any
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("failed to decode journaled body: %v", err)
	}
	if body["name"] != "Ada" {
		t.Errorf("expected name in body, got %v", body)
	}
	if _, present := body["learning_style"]; present {
		t.Errorf("nil field must be omitted, got %v", body)
	}
}

func TestCreateSessionMintsID(t *testing.T) {
	client, _ := newBackendClient(t)

	first, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if first.SessionID == "" || first.UserID != "uid-1" {
		t.Errorf("unexpected session: %+v", first)
	}

	second, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("second CreateSession failed: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Errorf("session ids must be distinct, both %q", first.SessionID)
	}
}

func TestLogoutTreatsEmptyBodyAsSuccess(t *testing.T) {
	client, backend := newBackendClient(t)
	backend.SetResponse(http.MethodPost, "/auth/logout", http.StatusOK, "")

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
}
