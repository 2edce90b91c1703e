package cli

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/switchboard/internal/app"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg := opts.load()
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = loggerClient.Sync() }()

	a, err := app.New(cmd.Context(), cfg, loggerClient)
	if err != nil {
		loggerClient.Error("❌ switchboard failed to start", logger.Error(err))
		return err
	}
	return a.Run()
}
