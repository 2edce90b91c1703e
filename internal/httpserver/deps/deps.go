package deps

import (
	"context"
	"net/netip"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/httpserver/mw"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/metrics"
	"github.com/MrSnakeDoc/switchboard/internal/registry"
	"github.com/MrSnakeDoc/switchboard/internal/router"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
	"github.com/MrSnakeDoc/switchboard/internal/version"
)

// ReconcileTrigger queues a reconcile pass; false means one is already queued.
type ReconcileTrigger interface {
	TryTrigger() bool
}

// EventLog is the recent lifecycle and error history.
type EventLog interface {
	Events() []logger.Event
}

// RuntimeStatus is the read side of the supervisor.
type RuntimeStatus interface {
	Snapshot() []supervisor.HandleInfo
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   version.Info
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedCIDRS []netip.Prefix                  // callers allowed to reach the control API (empty = everyone)
	TrustProxy   bool                            // true if running behind a trusted reverse proxy
	Throttle     mw.ThrottleConfig               // limits on mutating endpoints
	Registry     *registry.Registry              // desired services
	Runtime      RuntimeStatus                   // running services
	Router       *router.Router                  // latest messages
	Metrics      *metrics.Metrics                // nil disables /metrics
	Reconciler   ReconcileTrigger                // manual reconcile
	ReadyCheck   func(ctx context.Context) error // optional dependency check (redis ping)
	Events       EventLog                        // nil serves an empty list
}
