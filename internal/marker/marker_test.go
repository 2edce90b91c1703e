package marker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

func TestFormatAndRead(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	data := Format(42, []supervisor.HandleInfo{
		{Name: "beat", Type: domain.TypeHeartbeat, Started: started, Status: supervisor.StatusRunning},
	})
	assert.Equal(t, "42\tbeat\tHeartbeat\t2024-05-01T12:30:00Z\trunning\n", string(data))

	path := filepath.Join(t.TempDir(), "active.tsv")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{PID: 42, Name: "beat", Type: domain.TypeHeartbeat, Started: started, Status: "running"}, entries[0])
}

func TestReadMissingAndMalformed(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	path := filepath.Join(t.TempDir(), "bad.tsv")
	require.NoError(t, os.WriteFile(path, []byte("1\tonly-two\n"), 0o644))
	_, err = Read(path)
	assert.Error(t, err)
}

func TestMarkerFollowsSupervisorLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.tsv")
	m := New(path, nil)

	factory := supervisor.FactoryFunc(func(domain.ServiceDefinition) (supervisor.Runner, error) {
		return supervisor.RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}), nil
	})
	sup := supervisor.New(factory, supervisor.WithObservers(m))

	a := domain.NewDefinition("a", &domain.HeartbeatOptions{Interval: domain.Duration(time.Second)})
	a.IsActive = true
	b := domain.NewDefinition("b", &domain.HeartbeatOptions{Interval: domain.Duration(time.Second)})
	b.IsActive = true
	require.NoError(t, sup.Reconcile(context.Background(), []domain.ServiceDefinition{a, b}))

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, os.Getpid(), entries[0].PID)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "running", entries[0].Status)

	require.NoError(t, sup.Reconcile(context.Background(), []domain.ServiceDefinition{a}))
	entries, err = Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)

	require.NoError(t, sup.Shutdown(context.Background()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "marker removed on shutdown")
}

func TestTransitionAfterShutdownLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.tsv")
	m := New(path, nil)

	active := []supervisor.HandleInfo{{Name: "a", Type: domain.TypeHeartbeat, Status: supervisor.StatusRunning}}
	m.Transition(active[0], active)
	m.Shutdown()
	m.Transition(supervisor.HandleInfo{Name: "a", Status: supervisor.StatusStopped}, nil)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "marker recreated after shutdown")
}

func TestLateLoopExitDoesNotRecreateMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.tsv")
	m := New(path, nil)

	release := make(chan struct{})
	factory := supervisor.FactoryFunc(func(domain.ServiceDefinition) (supervisor.Runner, error) {
		return supervisor.RunnerFunc(func(context.Context) error {
			<-release
			return nil
		}), nil
	})
	sup := supervisor.New(factory, supervisor.WithObservers(m), supervisor.WithStopGrace(10*time.Millisecond))

	a := domain.NewDefinition("a", &domain.HeartbeatOptions{Interval: domain.Duration(time.Second)})
	a.IsActive = true
	require.NoError(t, sup.Reconcile(context.Background(), []domain.ServiceDefinition{a}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, sup.Shutdown(ctx))

	close(release)
	assert.Never(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestShutdownToleratesMissingFile(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "never-written"), nil)
	m.Shutdown()

	New("", nil).Transition(supervisor.HandleInfo{}, nil)
}
