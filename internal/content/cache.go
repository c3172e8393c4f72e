// Package content caches quiz payloads fetched from the remote service so
// previews and listings keep working across reloads and short offline spells.
// Entries are evicted lazily at read time, never swept.
package content

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/store"
)

const (
	// DefaultQuizTTL bounds staleness of a single quiz's cached metadata.
	DefaultQuizTTL = 7 * 24 * time.Hour
	// DefaultListingTTL bounds staleness of listing queries, which churn faster.
	DefaultListingTTL = 24 * time.Hour
)

// Source is the remote side of the cache.
type Source interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizInfo, error)
	ListQuizzes(ctx context.Context, filter domain.ListingFilter) ([]domain.QuizInfo, error)
}

type envelope struct {
	CachedAt time.Time       `json:"cachedAt"`
	Payload  json.RawMessage `json:"payload"`
}

type Cache struct {
	store      store.LocalStore
	source     Source
	quizTTL    time.Duration
	listingTTL time.Duration
	clock      func() time.Time
	sf         singleflight.Group
}

type Option func(*Cache)

// WithTTLs overrides the default cache windows.
func WithTTLs(quizTTL, listingTTL time.Duration) Option {
	return func(c *Cache) {
		c.quizTTL = quizTTL
		c.listingTTL = listingTTL
	}
}

// WithClock makes timestamps deterministic in tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

func NewCache(localStore store.LocalStore, source Source, opts ...Option) *Cache {
	c := &Cache{
		store:      localStore,
		source:     source,
		quizTTL:    DefaultQuizTTL,
		listingTTL: DefaultListingTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuizInfo returns quiz metadata, served from cache when fresh. On a miss the
// fill is deduplicated across concurrent callers.
func (c *Cache) QuizInfo(ctx context.Context, quizID string) (domain.QuizInfo, error) {
	var cached domain.QuizInfo
	if c.read(ctx, store.CollectionQuizContent, quizID, c.quizTTL, &cached) {
		return cached, nil
	}

	result, err, _ := c.sf.Do("quiz:"+quizID, func() (interface{}, error) {
		var again domain.QuizInfo
		if c.read(ctx, store.CollectionQuizContent, quizID, c.quizTTL, &again) {
			return again, nil
		}
		info, err := c.source.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.QuizInfo{}, err
		}
		c.write(ctx, store.CollectionQuizContent, quizID, info)
		return info, nil
	})
	if err != nil {
		return domain.QuizInfo{}, err
	}
	return result.(domain.QuizInfo), nil
}

// Listing returns the quiz listing for a filter, served from cache when fresh.
func (c *Cache) Listing(ctx context.Context, filter domain.ListingFilter) ([]domain.QuizInfo, error) {
	key := filter.Signature()

	var cached []domain.QuizInfo
	if c.read(ctx, store.CollectionQuizListing, key, c.listingTTL, &cached) {
		return cached, nil
	}

	result, err, _ := c.sf.Do("listing:"+key, func() (interface{}, error) {
		var again []domain.QuizInfo
		if c.read(ctx, store.CollectionQuizListing, key, c.listingTTL, &again) {
			return again, nil
		}
		infos, err := c.source.ListQuizzes(ctx, filter)
		if err != nil {
			return nil, err
		}
		c.write(ctx, store.CollectionQuizListing, key, infos)
		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuizInfo), nil
}

// read unmarshals a cached entry into out and reports whether it was fresh.
// Stale entries are deleted in place.
func (c *Cache) read(ctx context.Context, collection, key string, ttl time.Duration, out any) bool {
	raw, err := c.store.Get(ctx, collection, key)
	if err != nil {
		return false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		_ = c.store.Delete(ctx, collection, key)
		return false
	}
	if c.clock().Sub(env.CachedAt) > ttl {
		_ = c.store.Delete(ctx, collection, key)
		return false
	}
	return json.Unmarshal(env.Payload, out) == nil
}

// write is best-effort: a degraded store only costs future cache hits.
func (c *Cache) write(ctx context.Context, collection, key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env, err := json.Marshal(envelope{CachedAt: c.clock(), Payload: data})
	if err != nil {
		return
	}
	_ = c.store.Put(ctx, collection, key, env)
}
