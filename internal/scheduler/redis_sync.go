package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// MessageSource loads previously mirrored messages.
type MessageSource interface {
	GetAllMessages(ctx context.Context) (map[string]string, error)
}

// MessageRestorer accepts messages without mirroring them back.
type MessageRestorer interface {
	Restore(messages map[string]string)
}

// RedisSyncer restores the latest messages from Redis into the router on
// startup so templates resolve before the first publish.
type RedisSyncer struct {
	store  MessageSource
	router MessageRestorer
	logger logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(
	store MessageSource,
	router MessageRestorer,
	log logger.Logger,
) *RedisSyncer {
	return &RedisSyncer{
		store:  store,
		router: router,
		logger: log,
	}
}

// Sync loads messages from Redis and restores them into the router.
func (rs *RedisSyncer) Sync(ctx context.Context) (int, error) {
	rs.logger.Info("restoring messages from redis")

	messages, err := rs.store.GetAllMessages(ctx)
	if err != nil {
		return 0, err
	}

	if len(messages) == 0 {
		rs.logger.Info("no messages found in redis")
		return 0, nil
	}

	rs.router.Restore(messages)

	rs.logger.Info("restored messages from redis",
		logger.Int("count", len(messages)))

	return len(messages), nil
}
