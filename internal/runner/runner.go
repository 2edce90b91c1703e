// Package runner builds the execution loop of every runnable service kind.
// Kinds register themselves from init, the same way HTTP routes do.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/metrics"
	"github.com/MrSnakeDoc/switchboard/internal/mqtt"
	"github.com/MrSnakeDoc/switchboard/internal/reconnect"
	"github.com/MrSnakeDoc/switchboard/internal/router"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

// InboxBuffer is the number of forwarded messages a service may lag behind.
const InboxBuffer = 64

// Env is what every runner is built with.
type Env struct {
	Router  *router.Router
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// MQTTDial overrides the paho transport, mostly for tests.
	MQTTDial func(opts mqtt.Options, onMessage mqtt.MessageHandler) reconnect.Dialer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Builder turns a validated definition into a runner.
type Builder func(s *Service) (supervisor.Runner, error)

var (
	buildersMu sync.RWMutex
	builders   = make(map[domain.ServiceType]Builder)
)

// Register makes a kind runnable. Called from init.
func Register(kind domain.ServiceType, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[kind] = b
}

// Supported lists the kinds that have a builder.
func Supported() []domain.ServiceType {
	buildersMu.RLock()
	defer buildersMu.RUnlock()

	out := make([]domain.ServiceType, 0, len(builders))
	for _, t := range domain.AllTypes {
		if _, ok := builders[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Factory implements supervisor.Factory over the registered builders.
type Factory struct {
	env Env
}

func NewFactory(env Env) *Factory {
	if env.Router == nil {
		env.Router = router.New()
	}
	if env.Logger == nil {
		env.Logger = logger.Nop()
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.MQTTDial == nil {
		env.MQTTDial = mqtt.NewDialer
	}
	return &Factory{env: env}
}

func (f *Factory) Build(def domain.ServiceDefinition) (supervisor.Runner, error) {
	buildersMu.RLock()
	b, ok := builders[def.Type]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedType, def.Type)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return b(newService(f.env, def))
}

// Service is the per-definition view of Env handed to a builder.
type Service struct {
	Env
	Def  domain.ServiceDefinition
	Name string
	log  logger.Logger
}

func newService(env Env, def domain.ServiceDefinition) *Service {
	return &Service{
		Env:  env,
		Def:  def,
		Name: def.Name,
		log:  env.Logger.With(logger.String("service", def.Name), logger.String("type", string(def.Type))),
	}
}

func (s *Service) Log() logger.Logger { return s.log }

// Resolve substitutes {Name.Message} tokens in template.
func (s *Service) Resolve(template string) string {
	return s.Router.ResolveTokens(template)
}

// Publish stores message as this service's latest message and forwards it to
// every associated service.
func (s *Service) Publish(message string) {
	if err := s.Router.UpdateMessage(s.Name, message); err != nil {
		s.log.Error("failed to store message", logger.Error(err))
		return
	}
	if s.Metrics != nil {
		s.Metrics.MessagesPublished.WithLabelValues(s.Name).Inc()
	}
	s.Forward(message)
}

// Forward delivers message to the inboxes of the associated services.
func (s *Service) Forward(message string) {
	for _, to := range s.Def.AssociatedServices {
		if n := s.Router.Deliver(s.Name, to, message); n > 0 && s.Metrics != nil {
			s.Metrics.MessagesForwarded.WithLabelValues(s.Name, to).Add(float64(n))
		}
	}
}

// OpenInbox receives messages forwarded to this service.
func (s *Service) OpenInbox() *router.Inbox {
	return s.Router.OpenInbox(s.Name, InboxBuffer)
}

// IOError reports a transient failure. The loop keeps going.
func (s *Service) IOError(op string, err error) {
	s.log.Error("service I/O failed", logger.String("op", op), logger.Error(err))
	if s.Metrics != nil {
		s.Metrics.RunnerErrors.WithLabelValues(s.Name, op).Inc()
	}
}

// Every calls fn immediately and then once per interval until ctx is done.
// Cancellation is a normal exit and returns nil.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", domain.ErrInvalidConfig)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		fn(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
