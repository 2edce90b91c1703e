package logger

import (
	"sync"
	"time"
)

// Event is one entry kept by a Recorder.
type Event struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Recorder is a Sink that keeps the most recent events in a fixed-size ring.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
	now    func() time.Time
}

// NewRecorder keeps up to size events. size < 1 keeps one.
func NewRecorder(size int) *Recorder {
	if size < 1 {
		size = 1
	}
	return &Recorder{events: make([]Event, size), now: time.Now}
}

func (r *Recorder) Log(message string, level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = Event{Time: r.now().UTC(), Level: level.String(), Message: message}
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}
}

// Events returns the kept events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]Event(nil), r.events[:r.next]...)
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}
