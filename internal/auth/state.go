// Package auth manages the authentication lifecycle: sign-in, session
// resume, credential persistence, background refresh, and the expiry
// transitions that end a session silently or with a visible warning.
package auth

import (
	"github.com/RashikaKarki/learnforge-cli/internal/domain"
)

// State is a phase of the authentication lifecycle.
type State string

const (
	// StateUnauthenticated means no identity is established.
	StateUnauthenticated State = "unauthenticated"

	// StateAuthenticating covers sign-in and session resume, while the
	// identity is being established. Credential rejections in this phase
	// end the session silently.
	StateAuthenticating State = "authenticating"

	// StateReady means the user is signed in with a loaded profile.
	// Credential rejections in this phase surface a visible warning.
	StateReady State = "ready"

	// StateErrored means the last sign-in or resume failed for a reason
	// other than credential rejection. The stored credential is kept so
	// the user can retry.
	StateErrored State = "errored"
)

// StateExpiring is emitted on events only, marking the moment an active
// session is torn down because the backend rejected its credential.
const StateExpiring State = "expiring"

// Event describes a lifecycle transition for UI consumption.
type Event struct {
	State   State
	Profile *domain.UserProfile
	Err     error

	// Warning carries a user-visible notice that does not fail the
	// session on its own, or explains a visible sign-out.
	Warning string
}
