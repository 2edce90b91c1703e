package supervisor

import (
	"fmt"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
)

// Status is the lifecycle state of one service loop.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(text string) (Status, error) {
	for st := StatusStopped; st <= StatusFaulted; st++ {
		if st.String() == text {
			return st, nil
		}
	}
	return StatusStopped, fmt.Errorf("unknown status %q", text)
}

// HandleInfo is a read-only view of a running handle.
type HandleInfo struct {
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name"`
	Type      domain.ServiceType `json:"type"`
	Started   time.Time          `json:"started,omitempty"`
	Status    Status             `json:"status"`
	LastError string             `json:"lastError,omitempty"`
}

// Observer is told about every state transition. changed is the handle that
// moved, active is the set of handles still alive after the move. Calls are
// made synchronously, one at a time, outside the supervisor's locks.
type Observer interface {
	Transition(changed HandleInfo, active []HandleInfo)
	Shutdown()
}
