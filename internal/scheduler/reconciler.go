package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// DefinitionSource provides the desired set of services.
type DefinitionSource interface {
	List() []domain.ServiceDefinition
}

// ReconcileTarget converges running services toward a desired set.
type ReconcileTarget interface {
	Reconcile(ctx context.Context, defs []domain.ServiceDefinition) error
}

// ReconcileObserver is told how long each pass took and whether it failed.
type ReconcileObserver interface {
	ObserveReconcile(started time.Time, err error)
}

// Reconciler re-applies the registry to the supervisor periodically and on
// demand.
type Reconciler struct {
	source   DefinitionSource
	target   ReconcileTarget
	observer ReconcileObserver
	logger   logger.Logger
	interval time.Duration

	trigger  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewReconciler creates a reconciler. observer may be nil.
func NewReconciler(
	source DefinitionSource,
	target ReconcileTarget,
	observer ReconcileObserver,
	log logger.Logger,
	interval time.Duration,
) *Reconciler {
	return &Reconciler{
		source:   source,
		target:   target,
		observer: observer,
		logger:   log,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start reconciles once, then keeps reconciling on every tick and trigger until
// Stop is called or ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.started.Store(true)
	r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	go func() {
		defer close(r.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Reconcile(ctx)
			case <-r.trigger:
				r.logger.Debug("manual reconcile triggered")
				r.Reconcile(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// TryTrigger queues a reconcile. It returns false when one is already queued.
func (r *Reconciler) TryTrigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Trigger queues a reconcile if none is pending. Suitable as a registry
// change listener.
func (r *Reconciler) Trigger() {
	r.TryTrigger()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.done
	}
}

// Reconcile runs one pass synchronously.
func (r *Reconciler) Reconcile(ctx context.Context) {
	started := time.Now()
	defs := r.source.List()
	err := r.target.Reconcile(ctx, defs)
	if r.observer != nil {
		r.observer.ObserveReconcile(started, err)
	}
	if err != nil {
		r.logger.Error("reconcile finished with errors",
			logger.Int("definitions", len(defs)),
			logger.Error(err))
		return
	}
	r.logger.Debug("reconcile finished",
		logger.Int("definitions", len(defs)),
		logger.Duration("took", time.Since(started)))
}
