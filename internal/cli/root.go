// Package cli holds the switchboard command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/switchboard/internal/config"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

type rootOptions struct {
	registryFile string
	markerFile   string
	logLevel     string
}

// Execute runs the command tree with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. serve is the default action.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Run and route between small network services",
		Long: `switchboard keeps a registry of small network services (listeners,
senders, uploaders, MQTT clients), runs the active ones and routes the
latest message of each service into the templates of the others.

Configuration comes from SWITCHBOARD_* environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.registryFile, "registry", "", "registry file (overrides SWITCHBOARD_REGISTRY_FILE)")
	root.PersistentFlags().StringVar(&opts.markerFile, "marker", "", "active services marker file (overrides SWITCHBOARD_MARKER_FILE)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides SWITCHBOARD_LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(opts),
		newServicesCmd(opts),
		newResolveCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the environment and applies flag overrides.
func (o *rootOptions) load() *config.Config {
	cfg := config.Load()
	if o.registryFile != "" {
		cfg.RegistryFile = o.registryFile
	}
	if o.markerFile != "" {
		cfg.MarkerFile = o.markerFile
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg
}

// quietLogger is used by the one-shot commands so their output stays readable.
func (o *rootOptions) quietLogger(cfg *config.Config) logger.Logger {
	level := "warn"
	if o.logLevel != "" {
		level = cfg.LogLevel
	}
	return logger.New(level, cfg.PrettyLog)
}
