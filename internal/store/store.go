// Package store provides local persistence for profiles, mission caches,
// checkpoint state, and chat transcripts.
package store

import (
	"context"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
)

// Repository defines the interface for the client's local cache and
// transcript persistence.
type Repository interface {
	// GetProfile retrieves the cached profile for a user.
	// Returns nil without error when no profile is cached.
	GetProfile(ctx context.Context, uid string) (*domain.UserProfile, error)

	// UpsertProfile creates or updates the cached profile.
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) error

	// GetMission retrieves a cached mission definition.
	// Returns nil without error when the mission is not cached.
	GetMission(ctx context.Context, missionID string) (*domain.Mission, error)

	// UpsertMission caches a mission definition.
	UpsertMission(ctx context.Context, mission *domain.Mission) error

	// ReplaceEnrolledMissions replaces the cached enrollment list wholesale.
	ReplaceEnrolledMissions(ctx context.Context, missions []domain.EnrolledMission) error

	// ListEnrolledMissions returns cached enrollments, most recently
	// enrolled first. A non-positive limit returns all rows.
	ListEnrolledMissions(ctx context.Context, limit int) ([]domain.EnrolledMission, error)

	// SaveCheckpointState records the latest checkpoint progress for a mission.
	SaveCheckpointState(ctx context.Context, missionID string, state *domain.CheckpointProgress) error

	// GetCheckpointState retrieves the latest checkpoint progress for a
	// mission. Returns nil without error when none is recorded.
	GetCheckpointState(ctx context.Context, missionID string) (*domain.CheckpointProgress, error)

	// AppendTranscript appends one message to a conversation transcript.
	AppendTranscript(ctx context.Context, key string, msg domain.ChatMessage) error

	// ReplaceTranscript replaces a conversation transcript wholesale.
	// Used when the server replays authoritative history.
	ReplaceTranscript(ctx context.Context, key string, msgs []domain.ChatMessage) error

	// RecentTranscript returns the most recent messages for a conversation
	// in chronological order. A non-positive limit returns all messages.
	RecentTranscript(ctx context.Context, key string, limit int) ([]domain.ChatMessage, error)

	// PruneTranscripts removes transcript rows older than keep.
	PruneTranscripts(ctx context.Context, keep time.Duration) (int64, error)

	// ClearUserData removes all locally cached user state. Used on sign-out.
	ClearUserData(ctx context.Context) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
