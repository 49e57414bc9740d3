package domain

import "time"

// PresenceState is the derived online/offline aggregate for one user.
// LastSeen is only meaningful after at least one online -> offline transition.
type PresenceState struct {
	Online   bool
	LastSeen time.Time
}
