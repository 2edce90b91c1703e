package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// Persister is what a Registry saves through.
type Persister interface {
	Load() []domain.ServiceDefinition
	Save(defs []domain.ServiceDefinition) error
}

// Registry is the in-memory, ordered list of definitions. Every mutation is
// persisted before it becomes visible and then announced to OnChange listeners.
type Registry struct {
	store  Persister
	logger logger.Logger

	mu   sync.RWMutex
	defs []domain.ServiceDefinition

	lmu       sync.Mutex
	listeners []func()
}

// Open loads the registry from store.
func Open(store Persister, log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{store: store, logger: log, defs: store.Load()}
}

// OnChange registers fn, called after every successful mutation.
func (r *Registry) OnChange(fn func()) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// List returns a copy of all definitions ordered by Order.
func (r *Registry) List() []domain.ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ServiceDefinition, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Clone()
	}
	return out
}

func (r *Registry) Names() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.defs))
	for _, d := range r.defs {
		out[d.Name] = true
	}
	return out
}

func (r *Registry) Get(name string) (domain.ServiceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexLocked(name); i >= 0 {
		return r.defs[i].Clone(), true
	}
	return domain.ServiceDefinition{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Add validates def and appends it. Names are unique; a zero Order is replaced
// by the next free one.
func (r *Registry) Add(def domain.ServiceDefinition) (domain.ServiceDefinition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if err := def.Validate(); err != nil {
		return domain.ServiceDefinition{}, err
	}
	if def.Created.IsZero() {
		def.Created = time.Now().UTC()
	}

	r.mu.Lock()
	if r.indexLocked(def.Name) >= 0 {
		r.mu.Unlock()
		return domain.ServiceDefinition{}, fmt.Errorf("%w: %q", domain.ErrDuplicateName, def.Name)
	}
	if def.Order == 0 {
		def.Order = r.nextOrderLocked()
	}
	next := append(r.copyLocked(), def.Clone())
	if err := r.commitLocked(next); err != nil {
		r.mu.Unlock()
		return domain.ServiceDefinition{}, err
	}
	r.mu.Unlock()

	r.logger.Info("service added", logger.String("name", def.Name), logger.String("type", string(def.Type)))
	r.notify()
	return def, nil
}

// Update replaces the definition with the same name. A zero Order or Created
// keeps the stored value.
func (r *Registry) Update(def domain.ServiceDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return r.mutate(def.Name, func(cur *domain.ServiceDefinition) {
		created, order := cur.Created, cur.Order
		*cur = def.Clone()
		if cur.Created.IsZero() {
			cur.Created = created
		}
		if cur.Order == 0 {
			cur.Order = order
		}
	})
}

// SetActive flips the desired state of name.
func (r *Registry) SetActive(name string, active bool) error {
	return r.mutate(name, func(cur *domain.ServiceDefinition) {
		cur.IsActive = active
	})
}

// Remove deletes name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	i := r.indexLocked(name)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrUnknownService, name)
	}
	next := r.copyLocked()
	next = append(next[:i], next[i+1:]...)
	if err := r.commitLocked(next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.logger.Info("service removed", logger.String("name", name))
	r.notify()
	return nil
}

// Import adds every definition whose name is not taken yet and returns the names
// that were skipped. Invalid definitions are skipped too.
func (r *Registry) Import(defs []domain.ServiceDefinition) (added int, skipped []string, err error) {
	r.mu.Lock()
	next := r.copyLocked()
	taken := make(map[string]bool, len(next))
	for _, d := range next {
		taken[d.Name] = true
	}
	order := r.nextOrderLocked()
	for _, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		if taken[d.Name] || d.Validate() != nil {
			skipped = append(skipped, d.Name)
			continue
		}
		if d.Order == 0 {
			d.Order = order
			order++
		}
		if d.Created.IsZero() {
			d.Created = time.Now().UTC()
		}
		taken[d.Name] = true
		next = append(next, d.Clone())
		added++
	}
	if added == 0 {
		r.mu.Unlock()
		return 0, skipped, nil
	}
	if err := r.commitLocked(next); err != nil {
		r.mu.Unlock()
		return 0, skipped, err
	}
	r.mu.Unlock()

	r.notify()
	return added, skipped, nil
}

func (r *Registry) mutate(name string, fn func(*domain.ServiceDefinition)) error {
	r.mu.Lock()
	i := r.indexLocked(name)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrUnknownService, name)
	}
	next := r.copyLocked()
	fn(&next[i])
	next[i].Name = name
	if err := r.commitLocked(next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *Registry) commitLocked(next []domain.ServiceDefinition) error {
	sortByOrder(next)
	if err := r.store.Save(next); err != nil {
		return err
	}
	r.defs = next
	return nil
}

func (r *Registry) copyLocked() []domain.ServiceDefinition {
	out := make([]domain.ServiceDefinition, len(r.defs), len(r.defs)+1)
	for i, d := range r.defs {
		out[i] = d.Clone()
	}
	return out
}

func (r *Registry) indexLocked(name string) int {
	for i, d := range r.defs {
		if d.Name == name {
			return i
		}
	}
	return -1
}

func (r *Registry) nextOrderLocked() int {
	highest := 0
	for _, d := range r.defs {
		if d.Order > highest {
			highest = d.Order
		}
	}
	return highest + 1
}

func (r *Registry) notify() {
	r.lmu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.lmu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
