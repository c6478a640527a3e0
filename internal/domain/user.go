// Package domain contains core domain types for the Learnforge client.
package domain

import (
	"time"
)

// Identity is the authenticated user as established at sign-in.
// Owned by the auth manager; read-only to every other component.
type Identity struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UserProfile is the remote profile record for a signed-in user.
type UserProfile struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	LearningStyle string    `json:"learning_style,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Identity derives the identity view of the profile.
func (p *UserProfile) Identity() Identity {
	return Identity{UID: p.UID, Name: p.Name, Email: p.Email, AvatarURL: p.AvatarURL}
}

// DisplayName returns the best human-readable name for the user.
func (p *UserProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}
