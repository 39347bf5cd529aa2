// Package directory resolves notification recipients: accepted watchers and
// users near a location. Read-only from the engine's perspective; the
// mutators exist for the surrounding application and for tests.
package directory

import "context"

// NearbyUser is one candidate recipient from a geo lookup.
type NearbyUser struct {
	UserID    string  `json:"user_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	GhostMode bool    `json:"ghost_mode"`
}

// Directory is the recipient lookup boundary.
type Directory interface {
	// ListWatchers returns user IDs with an accepted watch relationship on
	// the given user.
	ListWatchers(ctx context.Context, userID string) ([]string, error)
	// ListNearbyUsers returns users with a known location within
	// radiusMeters of the point, ghost-mode flags included.
	ListNearbyUsers(ctx context.Context, lat, lng, radiusMeters float64) ([]NearbyUser, error)
}
