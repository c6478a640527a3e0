package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	"github.com/RashikaKarki/learnforge-cli/internal/validate"
)

// AuthSessionResponse is the shape shared by the auth lifecycle endpoints.
type AuthSessionResponse struct {
	Message string `json:"message"`
	UID     string `json:"uid"`
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left
// untouched by the backend.
type ProfileUpdate struct {
	Name          *string `json:"name,omitempty"`
	LearningStyle *string `json:"learning_style,omitempty"`
}

type enrolledMissionsResponse struct {
	Missions []domain.EnrolledMission `json:"missions"`
}

// CreateAuthSession exchanges an identity token for a backend session.
func (c *Client) CreateAuthSession(ctx context.Context, idToken string) (*AuthSessionResponse, error) {
	var out AuthSessionResponse
	payload := map[string]string{"id_token": idToken}
	if err := c.Post(ctx, "/auth/create-session", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionStatus asks the backend whether the current session is valid.
func (c *Client) SessionStatus(ctx context.Context) (*AuthSessionResponse, error) {
	var out AuthSessionResponse
	if err := c.Get(ctx, "/auth/session-status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshSession extends the current session's lifetime.
func (c *Client) RefreshSession(ctx context.Context) (*AuthSessionResponse, error) {
	var out AuthSessionResponse
	if err := c.Post(ctx, "/auth/refresh-session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout invalidates the current session on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.Post(ctx, "/auth/logout", nil, nil)
}

// Profile fetches the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*domain.UserProfile, error) {
	var out domain.UserProfile
	if err := c.Get(ctx, "/user/profile", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile applies a partial profile update and returns the result.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*domain.UserProfile, error) {
	var out domain.UserProfile
	if err := c.Put(ctx, "/user/update", update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession opens a new agent conversation session.
func (c *Client) CreateSession(ctx context.Context) (*domain.SessionInfo, error) {
	var out domain.SessionInfo
	if err := c.Post(ctx, "/sessions/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mission fetches a mission definition by id.
func (c *Client) Mission(ctx context.Context, missionID string) (*domain.Mission, error) {
	if err := validate.ValidateIdentifier(missionID, 64); err != nil {
		return nil, err
	}
	var out domain.Mission
	if err := c.Get(ctx, "/missions/"+url.PathEscape(missionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnrolledMissions lists the user's enrolled missions with progress.
// A non-positive limit defers to the backend default.
func (c *Client) EnrolledMissions(ctx context.Context, limit int) ([]domain.EnrolledMission, error) {
	path := "/user/enrolled-missions"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out enrolledMissionsResponse
	if err := c.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Missions, nil
}
