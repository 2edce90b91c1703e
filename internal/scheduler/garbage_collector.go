package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// DefaultGCInterval is how often orphaned messages are pruned.
const DefaultGCInterval = time.Hour

// NameSource reports which service names currently exist.
type NameSource interface {
	Names() map[string]bool
}

// MessageTable is the in-memory message table being pruned.
type MessageTable interface {
	Snapshot() map[string]string
	Remove(serviceName string)
}

// MessageStore is the optional external copy of the message table.
type MessageStore interface {
	GetAllMessages(ctx context.Context) (map[string]string, error)
	DeleteMessage(ctx context.Context, name string) error
}

// GarbageCollector drops the latest messages of services that no longer exist
// in the registry. Messages posted under names that were never services are
// pruned as well.
type GarbageCollector struct {
	names    NameSource
	messages MessageTable
	store    MessageStore
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewGarbageCollector creates a collector. store may be nil.
func NewGarbageCollector(
	names NameSource,
	messages MessageTable,
	store MessageStore,
	log logger.Logger,
	interval time.Duration,
) *GarbageCollector {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &GarbageCollector{
		names:    names,
		messages: messages,
		store:    store,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection.
func (gc *GarbageCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				gc.Collect(ctx)
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector.
func (gc *GarbageCollector) Stop() {
	close(gc.stopCh)
}

// Collect removes orphaned messages and returns how many were dropped from
// memory and from the store.
func (gc *GarbageCollector) Collect(ctx context.Context) (memory, stored int) {
	known := gc.names.Names()

	for name := range gc.messages.Snapshot() {
		if known[name] {
			continue
		}
		gc.messages.Remove(name)
		memory++
	}

	if gc.store != nil {
		stored = gc.collectStore(ctx, known)
	}

	if memory+stored > 0 {
		gc.logger.Info("garbage collection completed",
			logger.Int("messages_deleted", memory),
			logger.Int("stored_messages_deleted", stored))
	} else {
		gc.logger.Debug("no messages to garbage collect")
	}
	return memory, stored
}

func (gc *GarbageCollector) collectStore(ctx context.Context, known map[string]bool) int {
	stored, err := gc.store.GetAllMessages(ctx)
	if err != nil {
		gc.logger.Warn("failed to list stored messages", logger.Error(err))
		return 0
	}

	deleted := 0
	for name := range stored {
		if known[name] {
			continue
		}
		if err := gc.store.DeleteMessage(ctx, name); err != nil {
			gc.logger.Warn("failed to delete stored message",
				logger.String("service", name),
				logger.Error(err))
			continue
		}
		deleted++
	}
	return deleted
}
