package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/switchboard/internal/app"
	"github.com/MrSnakeDoc/switchboard/internal/router"
	"github.com/MrSnakeDoc/switchboard/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/switchboard/internal/store/redis"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <template>",
		Short: "Resolve {Name.Message} tokens against the latest messages",
		Long: `Resolve {Name.Message} tokens against the latest messages mirrored in
Redis. Without SWITCHBOARD_REDIS_ADDR every token resolves to an empty string.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			log := opts.quietLogger(cfg)
			rtr := router.New()

			if cfg.RedisEnabled() {
				client, err := app.OpenRedis(cmd.Context(), cfg, log)
				if err != nil {
					return fmt.Errorf("failed to connect to redis: %w", err)
				}
				defer func() { _ = client.Close() }()

				syncer := scheduler.NewRedisSyncer(redisstore.NewStore(client), rtr, log)
				if _, err := syncer.Sync(cmd.Context()); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), rtr.ResolveTokens(args[0]))
			return nil
		},
	}
}
