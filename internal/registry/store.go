// Package registry persists service definitions as a JSON document and keeps
// the in-memory list the rest of the process works from.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/fsutil"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// FatalHandler is invoked when the registry cannot even be serialized. The
// default dumps a diagnostic snapshot and terminates the process.
type FatalHandler func(err error, defs []domain.ServiceDefinition)

// Store reads and writes the registry file.
type Store struct {
	path    string
	logger  logger.Logger
	onFatal FatalHandler

	mu sync.Mutex
}

type StoreOption func(*Store)

func WithFatalHandler(h FatalHandler) StoreOption {
	return func(s *Store) {
		if h != nil {
			s.onFatal = h
		}
	}
}

func NewStore(path string, log logger.Logger, opts ...StoreOption) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{path: path, logger: log}
	s.onFatal = s.dumpAndExit
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// Load returns the persisted definitions ordered by Order. It never fails: a
// missing file yields an empty registry, an unreadable or malformed document is
// logged at Error and yields an empty registry, and single undecodable records
// are skipped with a Warning. When two records share a name the first one (by
// Order, then file position) wins.
func (s *Store) Load() []domain.ServiceDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("failed to read registry", logger.String("path", s.path), logger.Error(err))
		}
		return []domain.ServiceDefinition{}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.ServiceDefinition{}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Error("registry file is malformed, starting empty",
			logger.String("path", s.path),
			logger.Error(err))
		return []domain.ServiceDefinition{}
	}

	defs := make([]domain.ServiceDefinition, 0, len(records))
	for i, raw := range records {
		var def domain.ServiceDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			s.logger.Warn("skipping undecodable registry record",
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		if strings.TrimSpace(def.Name) == "" {
			s.logger.Warn("skipping registry record without a name", logger.Int("index", i))
			continue
		}
		defs = append(defs, def)
	}

	sortByOrder(defs)
	return dedupe(defs, s.logger)
}

// Save writes defs ordered by Order. The document is fully serialized before
// the file is touched, then replaced atomically. Concurrent saves serialize.
func (s *Store) Save(defs []domain.ServiceDefinition) error {
	ordered := make([]domain.ServiceDefinition, len(defs))
	copy(ordered, defs)
	sortByOrder(ordered)

	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		err = fmt.Errorf("serializing registry: %w", err)
		s.onFatal(err, ordered)
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("saving registry: %w", err)
	}
	return nil
}

func (s *Store) dumpAndExit(err error, defs []domain.ServiceDefinition) {
	dump := fmt.Sprintf("%s.crash-%s.txt", s.path, time.Now().UTC().Format("20060102T150405Z"))

	var b strings.Builder
	fmt.Fprintf(&b, "registry serialization failed: %v\n\n", err)
	for _, d := range defs {
		fmt.Fprintf(&b, "%s\t%s\tactive=%t\torder=%d\toptions=%+v\n", d.Name, d.Type, d.IsActive, d.Order, d.Options)
	}
	if werr := os.WriteFile(dump, []byte(b.String()), 0o600); werr != nil {
		s.logger.Error("failed to write registry crash dump", logger.String("path", dump), logger.Error(werr))
	}

	s.logger.Fatal("cannot serialize service registry",
		logger.String("dump", dump),
		logger.Error(err))
}

func sortByOrder(defs []domain.ServiceDefinition) {
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })
}

func dedupe(defs []domain.ServiceDefinition, log logger.Logger) []domain.ServiceDefinition {
	seen := make(map[string]bool, len(defs))
	out := defs[:0]
	for _, d := range defs {
		if seen[d.Name] {
			log.Warn("dropping duplicate service definition",
				logger.String("name", d.Name),
				logger.Int("order", d.Order))
			continue
		}
		seen[d.Name] = true
		out = append(out, d)
	}
	return out
}
