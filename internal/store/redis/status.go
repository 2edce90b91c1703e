package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const (
	// DefaultStatusTTL bounds how long a status survives a crashed process
	DefaultStatusTTL = 48 * time.Hour
	// DefaultMessageTTL is the default TTL for mirrored messages (7 days)
	DefaultMessageTTL = 7 * 24 * time.Hour
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// Store handles Redis operations for service status and messages
type Store struct {
	client     *redis.Client
	messageTTL time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMessageTTL sets the expiry of stored messages. Zero keeps them forever.
func WithMessageTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl >= 0 {
			s.messageTTL = ttl
		}
	}
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, opts ...StoreOption) *Store {
	s := &Store{
		client:     client,
		messageTTL: DefaultMessageTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the connection; used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveStatus stores the runtime status of a service
func (s *Store) SaveStatus(ctx context.Context, info supervisor.HandleInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ServiceKey(info.Name), data, DefaultStatusTTL)
	pipe.SAdd(ctx, AllServicesKey(), info.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// GetStatus retrieves the status of a service by name
func (s *Store) GetStatus(ctx context.Context, name string) (*supervisor.HandleInfo, error) {
	data, err := s.client.Get(ctx, ServiceKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("status of %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var info supervisor.HandleInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &info, nil
}

// GetAllStatuses retrieves every mirrored status. Entries that expired or
// cannot be decoded are skipped.
func (s *Store) GetAllStatuses(ctx context.Context) ([]supervisor.HandleInfo, error) {
	names, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service names: %w", err)
	}

	out := make([]supervisor.HandleInfo, 0, len(names))
	for _, name := range names {
		info, err := s.GetStatus(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}

// DeleteStatus removes a service status
func (s *Store) DeleteStatus(ctx context.Context, name string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ServiceKey(name))
	pipe.SRem(ctx, AllServicesKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}

// ReplaceStatuses overwrites the whole status set with active (bulk operation)
func (s *Store) ReplaceStatuses(ctx context.Context, active []supervisor.HandleInfo) error {
	existing, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to get service names: %w", err)
	}

	keep := make(map[string]bool, len(active))
	pipe := s.client.Pipeline()
	for _, info := range active {
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal status %s: %w", info.Name, err)
		}
		keep[info.Name] = true
		pipe.Set(ctx, ServiceKey(info.Name), data, DefaultStatusTTL)
		pipe.SAdd(ctx, AllServicesKey(), info.Name)
	}
	for _, name := range existing {
		if !keep[name] {
			pipe.Del(ctx, ServiceKey(name))
			pipe.SRem(ctx, AllServicesKey(), name)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace statuses: %w", err)
	}
	return nil
}
