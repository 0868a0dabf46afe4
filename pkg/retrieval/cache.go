package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "sable:evidence:"

// Cache stores formatted evidence in Redis keyed by query and scope
// fingerprint, so two identities never share an entry unless their scopes
// are structurally identical. Cache faults degrade to a miss; retrieval
// must keep working with Redis down.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects an evidence cache to the given Redis address
func NewCache(addr string, ttl time.Duration) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func cacheKey(query string, scope model.AccessScope) string {
	sum := sha256.Sum256([]byte(query + "|" + scope.Fingerprint()))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get looks up cached evidence for the query under the given scope
func (c *Cache) Get(ctx context.Context, query string, scope model.AccessScope) (model.Evidence, bool) {
	raw, err := c.client.Get(ctx, cacheKey(query, scope)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.From(ctx).Warn("evidence cache read failed", "error", err)
		}
		return nil, false
	}

	var evidence model.Evidence
	if err := json.Unmarshal(raw, &evidence); err != nil {
		logging.From(ctx).Warn("evidence cache entry corrupt, dropping", "error", err)
		return nil, false
	}

	return evidence, true
}

// Set stores evidence for the query under the given scope
func (c *Cache) Set(ctx context.Context, query string, scope model.AccessScope, evidence model.Evidence) {
	raw, err := json.Marshal(evidence)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, cacheKey(query, scope), raw, c.ttl).Err(); err != nil {
		logging.From(ctx).Warn("evidence cache write failed", "error", err)
	}
}
