package directory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	geoKey        = "aegis:user_locations"
	ghostKey      = "aegis:user_ghost"
	watchersKeyFn = "aegis:watchers:%s"
)

// RedisDirectory backs recipient lookups with Redis geo sets, so nearby-user
// queries stay fast as the user population grows.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(redisAddr string) *RedisDirectory {
	return &RedisDirectory{
		client: redis.NewClient(&redis.Options{Addr: redisAddr}),
	}
}

// AddWatcher records an accepted watch relationship.
func (d *RedisDirectory) AddWatcher(ctx context.Context, userID, watcherID string) error {
	if err := d.client.SAdd(ctx, fmt.Sprintf(watchersKeyFn, userID), watcherID).Err(); err != nil {
		return fmt.Errorf("add watcher: %w", err)
	}
	return nil
}

// UpsertLocation records a user's last known position and privacy flag.
func (d *RedisDirectory) UpsertLocation(ctx context.Context, userID string, lat, lng float64, ghostMode bool) error {
	if err := d.client.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      userID,
		Latitude:  lat,
		Longitude: lng,
	}).Err(); err != nil {
		return fmt.Errorf("geoadd: %w", err)
	}
	ghost := "0"
	if ghostMode {
		ghost = "1"
	}
	if err := d.client.HSet(ctx, ghostKey, userID, ghost).Err(); err != nil {
		return fmt.Errorf("set ghost flag: %w", err)
	}
	return nil
}

func (d *RedisDirectory) ListWatchers(ctx context.Context, userID string) ([]string, error) {
	out, err := d.client.SMembers(ctx, fmt.Sprintf(watchersKeyFn, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}
	return out, nil
}

func (d *RedisDirectory) ListNearbyUsers(ctx context.Context, lat, lng, radiusMeters float64) ([]NearbyUser, error) {
	locs, err := d.client.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   lat,
			Longitude:  lng,
			Radius:     radiusMeters,
			RadiusUnit: "m",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(locs))
	for i, l := range locs {
		ids[i] = l.Name
	}
	flags, err := d.client.HMGet(ctx, ghostKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("ghost flags: %w", err)
	}

	out := make([]NearbyUser, 0, len(locs))
	for i, l := range locs {
		ghost := false
		if i < len(flags) {
			if v, ok := flags[i].(string); ok && v == "1" {
				ghost = true
			}
		}
		out = append(out, NearbyUser{
			UserID:    l.Name,
			Lat:       l.Latitude,
			Lng:       l.Longitude,
			GhostMode: ghost,
		})
	}
	return out, nil
}

func (d *RedisDirectory) Close() error { return d.client.Close() }
