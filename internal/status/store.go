package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cocowallet-sync/internal/models"
)

const keyPrefix = "sync:status:"

// Store keeps the latest snapshot of each named sync job in Redis.
// Snapshots expire so a crashed job does not leave a stale "running"
// state behind forever.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a store around an existing Redis client.
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func key(job string) string {
	return keyPrefix + job
}

// Set writes the snapshot for a job, stamping it with the current time.
func (s *Store) Set(ctx context.Context, job string, snap models.SyncSnapshot) error {
	snap.Timestamp = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, key(job), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Get returns the latest snapshot for a job. A job that has never run
// (or whose snapshot expired) reads as idle.
func (s *Store) Get(ctx context.Context, job string) (models.SyncSnapshot, error) {
	raw, err := s.client.Get(ctx, key(job)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.IdleSnapshot(), nil
	}
	if err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	var snap models.SyncSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.SyncSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
