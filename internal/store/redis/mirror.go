package redis

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const (
	DefaultMirrorBuffer = 1024
	mirrorWriteTimeout  = 2 * time.Second
)

// MirrorWriter is the subset of Store the mirror writes through.
type MirrorWriter interface {
	SaveMessage(ctx context.Context, name, message string) error
	ReplaceStatuses(ctx context.Context, active []supervisor.HandleInfo) error
}

type mirrorOp struct {
	name    string
	message string
	active  []supervisor.HandleInfo
	status  bool
}

// Mirror copies router updates and supervisor transitions to Redis on a
// background goroutine. Producers never block: when the buffer is full the
// update is dropped and counted.
type Mirror struct {
	writer MirrorWriter
	logger logger.Logger
	ops    chan mirrorOp

	mu      sync.Mutex
	dropped int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewMirror(writer MirrorWriter, log logger.Logger, buffer int) *Mirror {
	if buffer <= 0 {
		buffer = DefaultMirrorBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Mirror{
		writer: writer,
		logger: log,
		ops:    make(chan mirrorOp, buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the flush loop until Stop or ctx cancellation.
func (m *Mirror) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case op := <-m.ops:
				m.apply(op)
			case <-m.stopCh:
				m.drain()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop flushes what is queued and waits for the loop to exit.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// MirrorMessage implements router.Mirror.
func (m *Mirror) MirrorMessage(name, message string) {
	m.enqueue(mirrorOp{name: name, message: message})
}

// Transition implements supervisor.Observer. Only the latest active set
// matters, so each transition enqueues a full replacement.
func (m *Mirror) Transition(_ supervisor.HandleInfo, active []supervisor.HandleInfo) {
	m.enqueue(mirrorOp{status: true, active: active})
}

func (m *Mirror) Shutdown() {}

// Dropped returns how many updates were lost to a full buffer.
func (m *Mirror) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Mirror) enqueue(op mirrorOp) {
	select {
	case m.ops <- op:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		if n == 1 || n%100 == 0 {
			m.logger.Warn("redis mirror buffer full, dropping updates", logger.Int("dropped", n))
		}
	}
}

func (m *Mirror) drain() {
	for {
		select {
		case op := <-m.ops:
			m.apply(op)
		default:
			return
		}
	}
}

func (m *Mirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	if op.status {
		if err := m.writer.ReplaceStatuses(ctx, op.active); err != nil {
			m.logger.Warn("failed to mirror service status", logger.Error(err))
		}
		return
	}
	if err := m.writer.SaveMessage(ctx, op.name, op.message); err != nil {
		m.logger.Warn("failed to mirror message",
			logger.String("service", op.name),
			logger.Error(err))
	}
}
