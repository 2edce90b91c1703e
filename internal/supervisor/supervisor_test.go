package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
)

type testFactory struct {
	mu      sync.Mutex
	builds  map[string]int
	runners map[string]Runner
	fail    map[string]error
}

func newTestFactory() *testFactory {
	return &testFactory{
		builds:  make(map[string]int),
		runners: make(map[string]Runner),
		fail:    make(map[string]error),
	}
}

func (f *testFactory) Build(def domain.ServiceDefinition) (Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail[def.Name]; err != nil {
		return nil, err
	}
	f.builds[def.Name]++
	if r, ok := f.runners[def.Name]; ok {
		return r, nil
	}
	return untilCancelled(), nil
}

func (f *testFactory) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds[name]
}

func untilCancelled() Runner {
	return RunnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func def(name string, active bool, order int) domain.ServiceDefinition {
	d := domain.NewDefinition(name, &domain.HeartbeatOptions{Interval: domain.Duration(time.Second)})
	d.IsActive = active
	d.Order = order
	return d
}

func ids(s *Supervisor) map[string]string {
	out := make(map[string]string)
	for _, h := range s.Snapshot() {
		out[h.Name] = h.ID
	}
	return out
}

func TestReconcileRunsExactlyTheActiveSet(t *testing.T) {
	f := newTestFactory()
	s := New(f)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	defs := []domain.ServiceDefinition{def("a", true, 1), def("b", false, 2), def("c", true, 3)}
	require.NoError(t, s.Reconcile(context.Background(), defs))

	assert.True(t, s.IsRunning("a"))
	assert.False(t, s.IsRunning("b"))
	assert.True(t, s.IsRunning("c"))
	assert.False(t, s.IsRunning("missing"))

	defs[0].IsActive = false
	defs[1].IsActive = true
	require.NoError(t, s.Reconcile(context.Background(), defs[:2]))

	assert.False(t, s.IsRunning("a"))
	assert.True(t, s.IsRunning("b"))
	assert.False(t, s.IsRunning("c"), "removed definitions are stopped")
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newTestFactory()
	s := New(f)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	defs := []domain.ServiceDefinition{def("a", true, 1), def("b", true, 2)}
	require.NoError(t, s.Reconcile(context.Background(), defs))
	before := ids(s)

	require.NoError(t, s.Reconcile(context.Background(), defs))
	require.NoError(t, s.Reconcile(context.Background(), defs))

	assert.Equal(t, before, ids(s), "handle identity is unchanged")
	assert.Equal(t, 1, f.count("a"))
	assert.Equal(t, 1, f.count("b"))
}

func TestReconcileRestartsOnRuntimeChange(t *testing.T) {
	f := newTestFactory()
	s := New(f)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	d := def("a", true, 1)
	require.NoError(t, s.Reconcile(context.Background(), []domain.ServiceDefinition{d}))
	first := ids(s)["a"]

	reordered := d
	reordered.Order = 9
	require.NoError(t, s.Reconcile(context.Background(), []domain.ServiceDefinition{reordered}))
	assert.Equal(t, first, ids(s)["a"], "ordering alone is not a runtime change")

	changed := d
	changed.Options = &domain.HeartbeatOptions{Interval: domain.Duration(2 * time.Second)}
	require.NoError(t, s.Reconcile(context.Background(), []domain.ServiceDefinition{changed}))

	assert.NotEqual(t, first, ids(s)["a"])
	assert.Equal(t, 2, f.count("a"))
}

func TestBuildErrorsAreIsolatedAndReported(t *testing.T) {
	f := newTestFactory()
	f.fail["bad"] = domain.ErrUnsupportedType
	s := New(f)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	invalid := def("invalid", true, 3)
	invalid.Options = &domain.HeartbeatOptions{}

	err := s.Reconcile(context.Background(), []domain.ServiceDefinition{def("bad", true, 1), def("good", true, 2), invalid})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.True(t, domain.IsConfigError(err))

	assert.True(t, s.IsRunning("good"))
	assert.False(t, s.IsRunning("bad"))

	status, lastErr := s.Status("bad")
	assert.Equal(t, StatusStopped, status)
	assert.NotEmpty(t, lastErr)
}

func TestFaultedLoopReturnsToStoppedAndRestarts(t *testing.T) {
	f := newTestFactory()
	var mu sync.Mutex
	runs := 0
	f.runners["flaky"] = RunnerFunc(func(ctx context.Context) error {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	})
	s := New(f)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	defs := []domain.ServiceDefinition{def("flaky", true, 1)}
	require.NoError(t, s.Reconcile(context.Background(), defs))

	require.Eventually(t, func() bool { return !s.IsRunning("flaky") }, time.Second, 5*time.Millisecond)
	status, lastErr := s.Status("flaky")
	assert.Equal(t, StatusStopped, status)
	assert.Contains(t, lastErr, "boom")

	require.NoError(t, s.Reconcile(context.Background(), defs))
	assert.True(t, s.IsRunning("flaky"))
	_, lastErr = s.Status("flaky")
	assert.Empty(t, lastErr)
}

func TestPanicIsAFault(t *testing.T) {
	f := newTestFactory()
	f.runners["p"] = RunnerFunc(func(context.Context) error { panic("kaboom") })
	rec := &recorder{}
	s := New(f, WithObservers(rec))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.NoError(t, s.Reconcile(context.Background(), []domain.ServiceDefinition{def("p", true, 1)}))
	require.Eventually(t, func() bool { return !s.IsRunning("p") }, time.Second, 5*time.Millisecond)

	_, lastErr := s.Status("p")
	assert.Contains(t, lastErr, "kaboom")
	assert.Contains(t, rec.statuses("p"), StatusFaulted)
}

func TestCancellationIsNotAFault(t *testing.T) {
	f := newTestFactory()
	f.runners["a"] = RunnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("listener closed")
	})
	rec := &recorder{}
	s := New(f, WithObservers(rec))

	require.NoError(t, s.Reconcile(context.Background(), []domain.ServiceDefinition{def("a", true, 1)}))
	require.NoError(t, s.Reconcile(context.Background(), nil))

	assert.NotContains(t, rec.statuses("a"), StatusFaulted)
	_, lastErr := s.Status("a")
	assert.Empty(t, lastErr)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestStopTimeoutKeepsSingleLoop(t *testing.T) {
	f := newTestFactory()
	release := make(chan struct{})
	f.runners["stuck"] = RunnerFunc(func(context.Context) error {
		<-release
		return nil
	})
	s := New(f, WithStopGrace(20*time.Millisecond))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	active := []domain.ServiceDefinition{def("stuck", true, 1)}
	require.NoError(t, s.Reconcile(context.Background(), active))

	err := s.Reconcile(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrStopTimeout)

	status, _ := s.Status("stuck")
	assert.Equal(t, StatusStopping, status)

	// Reactivating while the old loop is still unwinding must not start a second one.
	require.NoError(t, s.Reconcile(context.Background(), active))
	assert.Equal(t, 1, f.count("stuck"))

	close(release)
	require.Eventually(t, func() bool { return !s.IsRunning("stuck") }, time.Second, 5*time.Millisecond)

	delete(f.runners, "stuck")
	require.NoError(t, s.Reconcile(context.Background(), active))
	assert.True(t, s.IsRunning("stuck"))
	assert.Equal(t, 2, f.count("stuck"))
}

func TestShutdownStopsEverything(t *testing.T) {
	f := newTestFactory()
	rec := &recorder{}
	s := New(f, WithObservers(rec))

	defs := []domain.ServiceDefinition{def("a", true, 1), def("b", true, 2), def("c", true, 3)}
	require.NoError(t, s.Reconcile(context.Background(), defs))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Empty(t, s.Snapshot())
	for _, name := range []string{"a", "b", "c"} {
		status, _ := s.Status(name)
		assert.Equal(t, StatusStopped, status)
		assert.Equal(t, []Status{StatusStarting, StatusRunning, StatusStopping, StatusStopped}, rec.statuses(name))
	}
	assert.Equal(t, 1, rec.shutdowns())

	assert.ErrorIs(t, s.Reconcile(context.Background(), defs), domain.ErrShuttingDown)
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 1, rec.shutdowns())
}

func TestConcurrentReconcilesNeverDoubleStart(t *testing.T) {
	f := newTestFactory()
	s := New(f)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	defs := []domain.ServiceDefinition{def("a", true, 1), def("b", true, 2)}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reconcile(context.Background(), defs))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.count("a"))
	assert.Equal(t, 1, f.count("b"))
}

func TestReconcileWhileLoopsExitOnTheirOwn(t *testing.T) {
	f := newTestFactory()
	f.runners["a"] = RunnerFunc(func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	s := New(f, WithStopGrace(time.Second))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	// Order changes replace the stored definition in place; finishing loops
	// read the handle concurrently.
	deadline := time.Now().Add(300 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		d := def("a", true, i%3)
		require.NoError(t, s.Reconcile(context.Background(), []domain.ServiceDefinition{d}))
	}

	assert.Greater(t, f.count("a"), 1)
}

type recorder struct {
	mu          sync.Mutex
	transitions map[string][]Status
	shutdown    int
}

func (r *recorder) Transition(changed HandleInfo, _ []HandleInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitions == nil {
		r.transitions = make(map[string][]Status)
	}
	r.transitions[changed.Name] = append(r.transitions[changed.Name], changed.Status)
}

func (r *recorder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown++
}

func (r *recorder) statuses(name string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.transitions[name]...)
}

func (r *recorder) shutdowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}
