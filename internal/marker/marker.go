// Package marker maintains the active-services side file: one tab-delimited
// line per live service, used by external tools as a liveness signal.
package marker

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/fsutil"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

// Entry is one line of the marker file.
type Entry struct {
	PID     int
	Name    string
	Type    domain.ServiceType
	Started time.Time
	Status  string
}

// File rewrites the marker on every supervisor transition and removes it on
// shutdown. Transitions arriving after Shutdown are ignored. Failures are
// logged and never propagate.
type File struct {
	path   string
	pid    int
	logger logger.Logger

	mu     sync.Mutex
	closed bool
}

func New(path string, log logger.Logger) *File {
	if log == nil {
		log = logger.Nop()
	}
	return &File{path: path, pid: os.Getpid(), logger: log}
}

func (f *File) Transition(_ supervisor.HandleInfo, active []supervisor.HandleInfo) {
	if f.path == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if err := fsutil.WriteFileAtomic(f.path, Format(f.pid, active), 0o644); err != nil {
		f.logger.Warn("failed to update active services marker",
			logger.String("path", f.path),
			logger.Error(err))
	}
}

func (f *File) Shutdown() {
	if f.path == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("failed to remove active services marker",
			logger.String("path", f.path),
			logger.Error(err))
	}
}

// Format renders one line per handle.
func Format(pid int, handles []supervisor.HandleInfo) []byte {
	var b bytes.Buffer
	for _, h := range handles {
		fmt.Fprintf(&b, "%d\t%s\t%s\t%s\t%s\n",
			pid, h.Name, h.Type, h.Started.UTC().Format(time.RFC3339), h.Status)
	}
	return b.Bytes()
}

// Read parses a marker file. A missing file yields no entries.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		parts := strings.Split(text, "\t")
		if len(parts) != 5 {
			return nil, fmt.Errorf("marker line %d: want 5 fields, got %d", line, len(parts))
		}
		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("marker line %d: pid: %w", line, err)
		}
		started, err := time.Parse(time.RFC3339, parts[3])
		if err != nil {
			return nil, fmt.Errorf("marker line %d: start time: %w", line, err)
		}
		entries = append(entries, Entry{
			PID:     pid,
			Name:    parts[1],
			Type:    domain.ServiceType(parts[2]),
			Started: started,
			Status:  parts[4],
		})
	}
	return entries, sc.Err()
}
