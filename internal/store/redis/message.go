package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SaveMessage stores the latest message of a service
func (s *Store) SaveMessage(ctx context.Context, name, message string) error {
	if err := s.client.Set(ctx, MessageKey(name), message, s.messageTTL).Err(); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetMessage retrieves the latest message of a service
func (s *Store) GetMessage(ctx context.Context, name string) (string, bool, error) {
	msg, err := s.client.Get(ctx, MessageKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, true, nil
}

// GetAllMessages scans every mirrored message
func (s *Store) GetAllMessages(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)

	iter := s.client.Scan(ctx, 0, KeyPrefixMessage+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name, err := ExtractMessageName(key)
		if err != nil {
			continue
		}
		msg, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to get message %s: %w", name, err)
		}
		out[name] = msg
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}
	return out, nil
}

// DeleteMessage removes the mirrored message of a service
func (s *Store) DeleteMessage(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, MessageKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// FlushMessages removes all mirrored messages
func (s *Store) FlushMessages(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, KeyPrefixMessage+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete message key: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to flush messages: %w", err)
	}
	return nil
}
