package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRunNotFound indicates no progress snapshot exists for a run id,
// either because the id is unknown or the snapshot expired.
var ErrRunNotFound = errors.New("membership: bulk run not found")

const progressTTL = 30 * time.Minute

// RedisProgressStore keeps the latest progress snapshot per run in
// Redis so any instance can serve polling requests.
type RedisProgressStore struct {
	client *redis.Client
}

// NewRedisProgressStore returns a RedisProgressStore.
func NewRedisProgressStore(client *redis.Client) *RedisProgressStore {
	return &RedisProgressStore{client: client}
}

func progressKey(runID string) string {
	return "bulk:run:" + runID
}

// Publish overwrites the snapshot for the run. Snapshots expire after
// progressTTL; a finished run stays pollable for that long.
func (s *RedisProgressStore) Publish(ctx context.Context, p Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("membership: encode progress: %w", err)
	}
	if err := s.client.Set(ctx, progressKey(p.RunID), payload, progressTTL).Err(); err != nil {
		return fmt.Errorf("membership: publish progress: %w", err)
	}
	return nil
}

// Fetch returns the latest snapshot for the run.
func (s *RedisProgressStore) Fetch(ctx context.Context, runID string) (Progress, error) {
	payload, err := s.client.Get(ctx, progressKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{}, ErrRunNotFound
	}
	if err != nil {
		return Progress{}, fmt.Errorf("membership: fetch progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		return Progress{}, fmt.Errorf("membership: decode progress: %w", err)
	}
	return p, nil
}

// MemoryProgressStore is an in-process ProgressStore for tests and
// single-instance deployments without Redis.
type MemoryProgressStore struct {
	mu   sync.RWMutex
	runs map[string]Progress
}

// NewMemoryProgressStore returns an empty MemoryProgressStore.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{runs: make(map[string]Progress)}
}

// Publish stores the snapshot.
func (s *MemoryProgressStore) Publish(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[p.RunID] = p
	return nil
}

// Fetch returns the stored snapshot.
func (s *MemoryProgressStore) Fetch(_ context.Context, runID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.runs[runID]
	if !ok {
		return Progress{}, ErrRunNotFound
	}
	return p, nil
}
