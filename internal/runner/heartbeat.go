package runner

import (
	"context"
	"strconv"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

func init() { Register(domain.TypeHeartbeat, buildHeartbeat) }

// Heartbeat publishes its resolved message, or "heartbeat <n>", every interval.
func buildHeartbeat(s *Service) (supervisor.Runner, error) {
	opts := s.Def.Options.(*domain.HeartbeatOptions)

	return supervisor.RunnerFunc(func(ctx context.Context) error {
		n := 0
		return Every(ctx, opts.Interval.Std(), func(context.Context) {
			n++
			msg := "heartbeat " + strconv.Itoa(n)
			if opts.Message != "" {
				msg = s.Resolve(opts.Message)
			}
			s.Publish(msg)
		})
	}), nil
}
