// Package cache memoizes classifications in Redis so repeated diagnostics over
// overlapping windows do not pay for the same LLM call twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"opsdiag/internal/classify"
	"opsdiag/internal/domain"
)

const keyPrefix = "opsdiag:classification:"

// ErrMiss is returned by a Store when the key is absent.
var ErrMiss = errors.New("cache miss")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Observer is told about every lookup. metrics.Recorder satisfies it.
type Observer interface {
	CacheHit()
	CacheMiss()
}

type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Classifier wraps another classifier. Cache failures never fail a
// classification; they are logged and the wrapped classifier is used.
type Classifier struct {
	next     classify.Classifier
	identity string
	store    Store
	ttl      time.Duration
	log      *zap.Logger
	observer Observer
}

// Wrap returns a caching classifier. identity must change whenever the wrapped
// classifier could answer differently (provider, model, ruleset version).
func Wrap(next classify.Classifier, identity string, store Store, ttl time.Duration, log *zap.Logger, observer Observer) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		next:     next,
		identity: identity,
		store:    store,
		ttl:      ttl,
		log:      log,
		observer: observer,
	}
}

// Key derives the cache key for an item under a classifier identity.
func Key(identity string, item domain.InboundItem) string {
	h := sha256.New()
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write([]byte(item.Subject))
	h.Write([]byte{0})
	h.Write([]byte(item.Body))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *Classifier) Classify(ctx context.Context, item domain.InboundItem) (domain.Classification, error) {
	key := Key(c.identity, item)

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var cached domain.Classification
		jsonErr := json.Unmarshal([]byte(raw), &cached)
		if jsonErr == nil {
			c.hit()
			return cached, nil
		}
		c.log.Warn("Discarding undecodable cached classification",
			zap.String("item_id", item.ID),
			zap.Error(jsonErr),
		)
	case !errors.Is(err, ErrMiss):
		c.log.Warn("Classification cache lookup failed, classifying directly",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
	c.miss()

	result, err := c.next.Classify(ctx, item)
	if err != nil {
		return domain.Classification{}, err
	}

	data, err := json.Marshal(result)
	if err == nil {
		err = c.store.Set(ctx, key, string(data), c.ttl)
	}
	if err != nil {
		c.log.Warn("Classification cache store failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
	return result, nil
}

func (c *Classifier) hit() {
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *Classifier) miss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}
