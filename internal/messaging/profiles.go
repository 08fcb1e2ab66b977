// internal/messaging/profiles.go

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProfileDirectory resolves sender profile summaries in batches so message
// enrichment never degenerates into one lookup per message.
type ProfileDirectory interface {
	GetProfiles(ctx context.Context, userIDs []string) (map[string]SenderProfile, error)
}

const profileCacheTTL = 10 * time.Minute

// cachedProfileDirectory fronts the repository batch lookup with a Redis
// cache. Misses are fetched together and written back.
type cachedProfileDirectory struct {
	repo  Repository
	redis *redis.Client
}

func NewProfileDirectory(repo Repository, redisClient *redis.Client) ProfileDirectory {
	return &cachedProfileDirectory{repo: repo, redis: redisClient}
}

func profileCacheKey(userID string) string {
	return fmt.Sprintf("messaging:profile:%s", userID)
}

func (d *cachedProfileDirectory) GetProfiles(ctx context.Context, userIDs []string) (map[string]SenderProfile, error) {
	ids := dedupeIDs(userIDs)
	out := make(map[string]SenderProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	missing := ids
	if d.redis != nil {
		missing = make([]string, 0, len(ids))
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = profileCacheKey(id)
		}
		// Cache errors are treated as a full miss; the repository stays
		// authoritative.
		values, err := d.redis.MGet(ctx, keys...).Result()
		if err != nil {
			missing = ids
		} else {
			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					missing = append(missing, ids[i])
					continue
				}
				var p SenderProfile
				if err := json.Unmarshal([]byte(raw), &p); err != nil {
					missing = append(missing, ids[i])
					continue
				}
				out[ids[i]] = p
			}
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := d.repo.GetProfiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		if d.redis != nil {
			if data, err := json.Marshal(p); err == nil {
				d.redis.Set(ctx, profileCacheKey(id), data, profileCacheTTL)
			}
		}
	}

	return out, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
