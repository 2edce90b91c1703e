package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/switchboard/internal/marker"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the services a running instance reports as active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			if cfg.MarkerFile == "" {
				return errors.New("marker file is disabled")
			}

			entries, err := marker.Read(cfg.MarkerFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no active services")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tNAME\tTYPE\tSTARTED\tSTATUS")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.PID, e.Name, e.Type, e.Started.Local().Format(time.DateTime), e.Status)
			}
			return w.Flush()
		},
	}
}
