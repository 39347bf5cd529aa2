package directory

import (
	"context"
	"sync"

	"github.com/windhoek-dev/aegis/internal/geo"
)

// InMemoryDirectory is an in-process directory for local/dev use and tests.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	watchers  map[string][]string
	locations map[string]NearbyUser
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		watchers:  make(map[string][]string),
		locations: make(map[string]NearbyUser),
	}
}

// AddWatcher records an accepted watch relationship.
func (d *InMemoryDirectory) AddWatcher(userID, watcherID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.watchers[userID] {
		if w == watcherID {
			return
		}
	}
	d.watchers[userID] = append(d.watchers[userID], watcherID)
}

// UpsertLocation records a user's last known position and privacy flag.
func (d *InMemoryDirectory) UpsertLocation(userID string, lat, lng float64, ghostMode bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[userID] = NearbyUser{UserID: userID, Lat: lat, Lng: lng, GhostMode: ghostMode}
}

func (d *InMemoryDirectory) ListWatchers(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.watchers[userID]))
	copy(out, d.watchers[userID])
	return out, nil
}

func (d *InMemoryDirectory) ListNearbyUsers(_ context.Context, lat, lng, radiusMeters float64) ([]NearbyUser, error) {
	center := geo.Point{Lat: lat, Lng: lng}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []NearbyUser
	for _, u := range d.locations {
		if geo.DistanceMeters(center, geo.Point{Lat: u.Lat, Lng: u.Lng}) <= radiusMeters {
			out = append(out, u)
		}
	}
	return out, nil
}
