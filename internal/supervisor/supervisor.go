// Package supervisor runs one cancellable loop per active service and
// converges the running set on the desired set.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

const DefaultStopGrace = 5 * time.Second

// Runner is the execution loop of one service. Run must return promptly once
// ctx is cancelled; returning because of cancellation is a normal stop.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Factory builds the runner of a definition. Build errors are configuration
// errors: nothing is started for that definition.
type Factory interface {
	Build(def domain.ServiceDefinition) (Runner, error)
}

type FactoryFunc func(def domain.ServiceDefinition) (Runner, error)

func (f FactoryFunc) Build(def domain.ServiceDefinition) (Runner, error) { return f(def) }

// handle is guarded by Supervisor.mu except for id, name, cancel and done,
// which never change after start.
type handle struct {
	id      string
	name    string
	def     domain.ServiceDefinition
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	status  Status
	lastErr string
}

func (h *handle) info() HandleInfo {
	return HandleInfo{
		ID:        h.id,
		Name:      h.name,
		Type:      h.def.Type,
		Started:   h.started,
		Status:    h.status,
		LastError: h.lastErr,
	}
}

// Supervisor owns the name -> handle map. It is the only writer of the running
// set; everything else reads through its accessors.
type Supervisor struct {
	factory   Factory
	logger    logger.Logger
	grace     time.Duration
	observers []Observer

	reconcileMu sync.Mutex
	closed      bool

	mu      sync.Mutex
	handles map[string]*handle
	faults  map[string]string

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStopGrace bounds how long a stop waits for a loop to exit.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

func WithObservers(obs ...Observer) Option {
	return func(s *Supervisor) {
		for _, o := range obs {
			if o != nil {
				s.observers = append(s.observers, o)
			}
		}
	}
}

func New(factory Factory, opts ...Option) *Supervisor {
	s := &Supervisor{
		factory: factory,
		logger:  logger.Nop(),
		grace:   DefaultStopGrace,
		handles: make(map[string]*handle),
		faults:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile starts every active definition without a loop, stops loops whose
// definition is gone or inactive, and restarts loops whose runtime
// configuration changed. An unchanged set is a no-op. Build failures and stop
// timeouts are joined into the returned error; the other services still
// converge.
func (s *Supervisor) Reconcile(ctx context.Context, defs []domain.ServiceDefinition) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if s.closed {
		return domain.ErrShuttingDown
	}

	desired := make(map[string]domain.ServiceDefinition, len(defs))
	ordered := make([]domain.ServiceDefinition, 0, len(defs))
	for _, d := range defs {
		if !d.IsActive {
			continue
		}
		if _, dup := desired[d.Name]; dup {
			continue
		}
		desired[d.Name] = d
		ordered = append(ordered, d)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var stops []*handle
	s.mu.Lock()
	for name, h := range s.handles {
		if h.status == StatusStopping {
			continue
		}
		d, ok := desired[name]
		switch {
		case !ok:
			stops = append(stops, h)
		case !h.def.SameRuntime(d):
			s.logger.Info("service configuration changed, restarting", logger.String("service", name))
			stops = append(stops, h)
		default:
			h.def = d
		}
	}
	s.mu.Unlock()

	var errs []error
	if err := s.stopAll(stops); err != nil {
		errs = append(errs, err)
	}

	for _, d := range ordered {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if s.has(d.Name) {
			continue
		}
		if err := d.Validate(); err != nil {
			s.reportBuildError(d, err)
			errs = append(errs, err)
			continue
		}
		r, err := s.factory.Build(d)
		if err != nil {
			err = fmt.Errorf("service %q: %w", d.Name, err)
			s.reportBuildError(d, err)
			errs = append(errs, err)
			continue
		}
		s.start(d, r)
	}

	return errors.Join(errs...)
}

// IsRunning reports whether name currently has a loop.
func (s *Supervisor) IsRunning(name string) bool {
	return s.has(name)
}

// Status returns the status of name and its last fault, if any.
func (s *Supervisor) Status(name string) (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[name]; ok {
		return h.status, h.lastErr
	}
	return StatusStopped, s.faults[name]
}

// Snapshot returns every live handle ordered by name.
func (s *Supervisor) Snapshot() []HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Shutdown rejects further reconciles, stops every loop in parallel and waits
// for stragglers until ctx expires. Observers are shut down last.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.reconcileMu.Lock()
	if s.closed {
		s.reconcileMu.Unlock()
		return nil
	}
	s.closed = true

	s.mu.Lock()
	all := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		all = append(all, h)
	}
	s.mu.Unlock()

	err := s.stopAll(all)
	s.reconcileMu.Unlock()

	exited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-ctx.Done():
		s.logger.Error("shutdown deadline reached with loops still running",
			logger.Int("remaining", len(s.Snapshot())))
		err = errors.Join(err, ctx.Err())
	}

	for _, o := range s.observers {
		o.Shutdown()
	}
	return err
}

func (s *Supervisor) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[name]
	return ok
}

func (s *Supervisor) snapshotLocked() []HandleInfo {
	out := make([]HandleInfo, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) reportBuildError(d domain.ServiceDefinition, err error) {
	s.mu.Lock()
	s.faults[d.Name] = err.Error()
	s.mu.Unlock()

	s.logger.Error("service not started",
		logger.String("service", d.Name),
		logger.String("type", string(d.Type)),
		logger.Error(err))
}

func (s *Supervisor) start(def domain.ServiceDefinition, r Runner) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		id:      uuid.NewString(),
		name:    def.Name,
		def:     def,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now().UTC(),
		status:  StatusStarting,
	}

	s.mu.Lock()
	s.handles[def.Name] = h
	delete(s.faults, def.Name)
	info := h.info()
	s.mu.Unlock()

	s.logger.Info("service starting",
		logger.String("service", def.Name),
		logger.String("type", string(def.Type)),
		logger.String("id", h.id))
	s.notify(info)

	s.mu.Lock()
	h.status = StatusRunning
	info = h.info()
	s.mu.Unlock()
	s.notify(info)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, h, r)
	}()
}

func (s *Supervisor) loop(ctx context.Context, h *handle, r Runner) {
	defer close(h.done)
	defer h.cancel()

	err := runSafely(ctx, r)
	faulted := err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled)
	var pe *panicError
	if errors.As(err, &pe) {
		faulted = true
	}

	name := h.name
	if faulted {
		s.mu.Lock()
		h.status = StatusFaulted
		h.lastErr = err.Error()
		s.faults[name] = h.lastErr
		info := h.info()
		s.mu.Unlock()

		fields := []zap.Field{logger.String("service", name), logger.Error(err)}
		if pe != nil {
			fields = append(fields, logger.String("stack", string(pe.stack)))
		}
		s.logger.Error("service faulted", fields...)
		s.notify(info)
	}

	s.mu.Lock()
	h.status = StatusStopped
	if s.handles[name] == h {
		delete(s.handles, name)
	}
	info := h.info()
	s.mu.Unlock()

	s.logger.Debug("service stopped", logger.String("service", name))
	s.notify(info)
}

func (s *Supervisor) stopAll(hs []*handle) error {
	if len(hs) == 0 {
		return nil
	}
	errs := make([]error, len(hs))
	var g errgroup.Group
	for i, h := range hs {
		i, h := i, h
		g.Go(func() error {
			errs[i] = s.stop(h)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// stop cancels h and waits up to the grace period. A loop that does not exit
// in time keeps its handle in Stopping until it does, so no second loop can be
// started for the same name.
func (s *Supervisor) stop(h *handle) error {
	s.mu.Lock()
	if h.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	h.status = StatusStopping
	info := h.info()
	s.mu.Unlock()

	s.notify(info)
	h.cancel()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
		s.logger.Error("service did not stop within grace period",
			logger.String("service", h.name),
			logger.Duration("grace", s.grace))
		return fmt.Errorf("%w: %q", domain.ErrStopTimeout, h.name)
	}
}

func (s *Supervisor) notify(changed HandleInfo) {
	if len(s.observers) == 0 {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	active := s.Snapshot()
	for _, o := range s.observers {
		o.Transition(changed, active)
	}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func runSafely(ctx context.Context, r Runner) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()
	return r.Run(ctx)
}
