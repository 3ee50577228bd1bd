package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
)

const cacheKeyPrefix = "drugid:registry:"

var errCacheMiss = errors.New("cache miss")

// kvStore is the slice of Redis the cache needs.
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisStore struct {
	client *redis.Client
}

func (s redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errCacheMiss
	}
	return b, err
}

func (s redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// drugLookup is the exact-lookup half of the registry.
type drugLookup interface {
	LookupByApprovalNo(ctx context.Context, canonicalID string) (*domain.DrugRecord, error)
	LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error)
}

// CachedRegistry is a read-through Redis cache in front of the exact
// lookups. "Not found" is cached as well. Cache failures are logged and
// the backing store is queried directly.
type CachedRegistry struct {
	next   drugLookup
	store  kvStore
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedRegistry wraps next with a cache on client.
func NewCachedRegistry(next drugLookup, client *redis.Client, ttl time.Duration) *CachedRegistry {
	return newCachedRegistry(next, redisStore{client: client}, ttl)
}

func newCachedRegistry(next drugLookup, store kvStore, ttl time.Duration) *CachedRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedRegistry{
		next:   next,
		store:  store,
		ttl:    ttl,
		logger: logging.NewLogger("RegistryCache"),
	}
}

// LookupByApprovalNo implements the cached exact lookup.
func (c *CachedRegistry) LookupByApprovalNo(ctx context.Context, canonicalID string) (*domain.DrugRecord, error) {
	return c.cached(ctx, "approval:"+canonicalID, func() (*domain.DrugRecord, error) {
		return c.next.LookupByApprovalNo(ctx, canonicalID)
	})
}

// LookupByNameAndEnterprise implements the cached name+enterprise lookup.
func (c *CachedRegistry) LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error) {
	ent := ""
	if enterprise != nil {
		ent = *enterprise
	}
	return c.cached(ctx, "name:"+hashKey(name, ent), func() (*domain.DrugRecord, error) {
		return c.next.LookupByNameAndEnterprise(ctx, name, enterprise)
	})
}

func (c *CachedRegistry) cached(ctx context.Context, key string, load func() (*domain.DrugRecord, error)) (*domain.DrugRecord, error) {
	key = cacheKeyPrefix + key

	b, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var rec *domain.DrugRecord
		if jerr := json.Unmarshal(b, &rec); jerr == nil {
			metrics.RegistryCacheTotal.WithLabelValues("hit").Inc()
			return rec, nil
		}
		c.logger.Warn("Discarding unreadable cache entry", "key", key)
	case errors.Is(err, errCacheMiss):
	default:
		c.logger.Warn("Registry cache read failed", "key", key, "error", err)
	}
	metrics.RegistryCacheTotal.WithLabelValues("miss").Inc()

	rec, err := load()
	if err != nil {
		return nil, err
	}

	// A nil record encodes as "null", which caches the negative result.
	data, err := json.Marshal(rec)
	if err == nil {
		err = c.store.Set(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.logger.Warn("Registry cache write failed", "key", key, "error", err)
	}
	return rec, nil
}

func hashKey(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
