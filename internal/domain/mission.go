package domain

import (
	"time"
)

// Checkpoint is an atomic, ordered sub-goal within a mission.
type Checkpoint struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order"`
}

// Mission is a structured learning unit with checkpoints and skills.
type Mission struct {
	MissionID   string       `json:"mission_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Skills      []string     `json:"skills,omitempty"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NextCheckpoint returns the lowest-ordered checkpoint not yet completed.
// Returns nil when every checkpoint is done or none exist.
func (m *Mission) NextCheckpoint(completed []string) *Checkpoint {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var next *Checkpoint
	for i := range m.Checkpoints {
		cp := &m.Checkpoints[i]
		if done[cp.ID] {
			continue
		}
		if next == nil || cp.Order < next.Order {
			next = cp
		}
	}
	return next
}

// EnrolledMission is one row of the user's enrolled-mission listing.
type EnrolledMission struct {
	MissionID            string    `json:"mission_id"`
	Title                string    `json:"title"`
	Progress             float64   `json:"progress"`
	CompletedCheckpoints []string  `json:"completed_checkpoints,omitempty"`
	EnrolledAt           time.Time `json:"enrolled_at"`
}

// IsComplete reports whether the mission has been fully completed.
func (e *EnrolledMission) IsComplete() bool {
	return e.Progress >= 100
}

// CheckpointProgress is the server's latest progress snapshot for a mission.
// It is replaced wholesale on every push, never merged with prior state.
type CheckpointProgress struct {
	Completed []string `json:"completed_checkpoints"`
	Progress  float64  `json:"progress"`
}

// Contains reports whether the given checkpoint id is completed.
func (cp *CheckpointProgress) Contains(id string) bool {
	for _, c := range cp.Completed {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the snapshot.
func (cp *CheckpointProgress) Clone() CheckpointProgress {
	out := CheckpointProgress{Progress: cp.Progress}
	out.Completed = append(out.Completed, cp.Completed...)
	return out
}
