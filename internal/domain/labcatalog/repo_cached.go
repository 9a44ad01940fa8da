package labcatalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/platform/cache"
)

// cachedRepo serves GetByID from the cache and drops entries on every write.
// Cache failures degrade to the underlying repository.
//
// Each id carries a generation that every write bumps. A read that missed the
// cache only fills it when no write landed between its store read and the
// fill, so a slow reader cannot put back a row a writer just replaced.
type cachedRepo struct {
	Repository
	cache  cache.Provider
	ttl    time.Duration
	logger zerolog.Logger

	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedRepository(repo Repository, c cache.Provider, ttl time.Duration, logger zerolog.Logger) Repository {
	return &cachedRepo{Repository: repo, cache: c, ttl: ttl, logger: logger, gen: make(map[string]uint64)}
}

func (r *cachedRepo) generation(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[id]
}

func cacheKey(id string) string {
	return "lab_test:" + id
}

func (r *cachedRepo) GetByID(ctx context.Context, id string) (*LabTest, error) {
	if b, err := r.cache.Get(ctx, cacheKey(id)); err == nil {
		var t LabTest
		if err := json.Unmarshal(b, &t); err == nil {
			return &t, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn().Err(err).Str("test_id", id).Msg("catalog cache read failed")
	}

	seen := r.generation(id)
	t, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.fill(ctx, t, seen)
	return t, nil
}

func (r *cachedRepo) fill(ctx context.Context, t *LabTest, seen uint64) {
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[t.ID] != seen {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(t.ID), b, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("test_id", t.ID).Msg("catalog cache write failed")
	}
}

func (r *cachedRepo) Update(ctx context.Context, t *LabTest) error {
	if err := r.Repository.Update(ctx, t); err != nil {
		return err
	}
	r.invalidate(ctx, t.ID)
	return nil
}

func (r *cachedRepo) Delete(ctx context.Context, id string) error {
	if err := r.Repository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *cachedRepo) invalidate(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen[id]++
	if err := r.cache.Delete(ctx, cacheKey(id)); err != nil {
		r.logger.Warn().Err(err).Str("test_id", id).Msg("catalog cache invalidation failed")
	}
}
