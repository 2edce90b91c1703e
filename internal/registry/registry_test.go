package registry

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
)

type failingStore struct {
	defs []domain.ServiceDefinition
	err  error
}

func (f *failingStore) Load() []domain.ServiceDefinition { return f.defs }
func (f *failingStore) Save([]domain.ServiceDefinition) error {
	return f.err
}

func TestRegistryAddPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	reg := Open(NewStore(path, nil), nil)

	var changes atomic.Int32
	reg.OnChange(func() { changes.Add(1) })

	first, err := reg.Add(heartbeat("one", 0, true))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Order)

	second, err := reg.Add(heartbeat("two", 0, false))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Order)

	assert.EqualValues(t, 2, changes.Load())

	reloaded := Open(NewStore(path, nil), nil)
	assert.Equal(t, []string{"one", "two"}, names(reloaded.List()))
}

func TestRegistryAddRejectsDuplicatesAndInvalid(t *testing.T) {
	reg := Open(NewStore(filepath.Join(t.TempDir(), "s.json"), nil), nil)

	_, err := reg.Add(heartbeat("svc", 0, true))
	require.NoError(t, err)

	_, err = reg.Add(heartbeat(" svc ", 0, true))
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, err = reg.Add(heartbeat("  ", 0, true))
	assert.ErrorIs(t, err, domain.ErrBlankServiceName)

	bad := domain.NewDefinition("bad", &domain.HeartbeatOptions{})
	_, err = reg.Add(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.Equal(t, 1, reg.Len())
}

func TestRegistryMutations(t *testing.T) {
	reg := Open(NewStore(filepath.Join(t.TempDir(), "s.json"), nil), nil)
	_, err := reg.Add(heartbeat("svc", 0, false))
	require.NoError(t, err)

	require.NoError(t, reg.SetActive("svc", true))
	got, ok := reg.Get("svc")
	require.True(t, ok)
	assert.True(t, got.IsActive)

	updated := heartbeat("svc", got.Order, true)
	updated.Options = &domain.HeartbeatOptions{Interval: domain.Duration(time.Minute)}
	updated.Created = time.Time{}
	require.NoError(t, reg.Update(updated))

	got, _ = reg.Get("svc")
	assert.Equal(t, domain.Duration(time.Minute), got.Options.(*domain.HeartbeatOptions).Interval)
	assert.False(t, got.Created.IsZero(), "created timestamp survives updates")

	require.NoError(t, reg.Remove("svc"))
	assert.ErrorIs(t, reg.Remove("svc"), domain.ErrUnknownService)
	assert.ErrorIs(t, reg.SetActive("svc", true), domain.ErrUnknownService)
}

func TestRegistryUpdateKeepsOrderWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	reg := Open(NewStore(path, nil), nil)

	_, err := reg.Add(heartbeat("one", 0, true))
	require.NoError(t, err)
	_, err = reg.Add(heartbeat("two", 0, true))
	require.NoError(t, err)

	require.NoError(t, reg.Update(heartbeat("one", 0, false)))
	got, ok := reg.Get("one")
	require.True(t, ok)
	assert.Equal(t, 1, got.Order)
	assert.False(t, got.IsActive)
	assert.False(t, got.Created.IsZero())

	require.NoError(t, reg.Update(heartbeat("one", 5, false)))
	got, _ = reg.Get("one")
	assert.Equal(t, 5, got.Order)

	reopened := Open(NewStore(path, nil), nil)
	names := make([]string, 0, 2)
	for _, d := range reopened.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"two", "one"}, names)
}

func TestRegistrySaveFailureLeavesStateUntouched(t *testing.T) {
	store := &failingStore{err: errors.New("disk full")}
	reg := Open(store, nil)

	_, err := reg.Add(heartbeat("svc", 0, true))
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryImportSkipsTakenNames(t *testing.T) {
	reg := Open(NewStore(filepath.Join(t.TempDir(), "s.json"), nil), nil)
	_, err := reg.Add(heartbeat("existing", 0, true))
	require.NoError(t, err)

	added, skipped, err := reg.Import([]domain.ServiceDefinition{
		heartbeat("existing", 0, true),
		heartbeat("fresh", 0, true),
		domain.NewDefinition("invalid", &domain.HeartbeatOptions{}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"existing", "invalid"}, skipped)
	assert.Equal(t, []string{"existing", "fresh"}, names(reg.List()))
}

func TestRegistryListIsACopy(t *testing.T) {
	reg := Open(NewStore(filepath.Join(t.TempDir(), "s.json"), nil), nil)
	d := heartbeat("svc", 0, true)
	d.AssociatedServices = []string{"peer"}
	_, err := reg.Add(d)
	require.NoError(t, err)

	list := reg.List()
	list[0].AssociatedServices[0] = "mutated"

	got, _ := reg.Get("svc")
	assert.Equal(t, []string{"peer"}, got.AssociatedServices)
}
