package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/registry"
	"github.com/MrSnakeDoc/switchboard/internal/sources/seed"
)

func newServicesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect and edit the service registry",
	}
	cmd.AddCommand(newServicesListCmd(opts), newServicesImportCmd(opts))
	return cmd
}

func newServicesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the registered services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			log := opts.quietLogger(cfg)
			defs := registry.NewStore(cfg.RegistryFile, log).Load()

			out := cmd.OutOrStdout()
			if len(defs) == 0 {
				fmt.Fprintf(out, "no services in %s\n", cfg.RegistryFile)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tNAME\tTYPE\tACTIVE\tASSOCIATED")
			for _, d := range defs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
					d.Order, d.Name, d.Type, d.IsActive, strings.Join(d.AssociatedServices, ","))
			}
			return w.Flush()
		},
	}
}

func newServicesImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Add the services of a YAML seed file to the registry",
		Long: `Add the services of a YAML seed file to the registry file.

Services whose name is already registered are skipped. {{SWITCHBOARD_VAR_*}}
placeholders in the seed file are replaced from the environment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			log := opts.quietLogger(cfg)

			defs, loadErr := seed.LoadFile(args[0])
			if loadErr != nil && len(defs) == 0 {
				return loadErr
			}
			if loadErr != nil {
				log.Warn("seed file has invalid entries", logger.Error(loadErr))
			}

			reg := registry.Open(registry.NewStore(cfg.RegistryFile, log), log)
			added, skipped, err := reg.Import(defs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %d service(s) into %s\n", added, cfg.RegistryFile)
			if len(skipped) > 0 {
				fmt.Fprintf(out, "skipped existing: %s\n", strings.Join(skipped, ", "))
			}
			return nil
		},
	}
}
