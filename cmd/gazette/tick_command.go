package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type tickPayload struct {
	Schedule  string `json:"schedule"`
	Jobs      bool   `json:"jobs"`
	Poll      bool   `json:"poll"`
	Retention bool   `json:"retention"`
}

func newTickCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tick <schedule>",
		Short: "Deliver a scheduler tick to the daemon",
		Long: "Deliver a scheduler tick identified by its cron expression " +
			"(for example \"*/5 * * * *\") or a shorthand like \"jobs\" or \"poll\". " +
			"The daemon acknowledges immediately and runs the matching work in the background.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result tickPayload
			body := map[string]string{"schedule": args[0]}
			if err := ctx.apiCall("POST", "/api/tick", body, &result); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}

			var buckets []string
			if result.Jobs {
				buckets = append(buckets, "jobs")
			}
			if result.Poll {
				buckets = append(buckets, "poll")
			}
			if result.Retention {
				buckets = append(buckets, "retention")
			}
			out := cmd.OutOrStdout()
			if len(buckets) == 0 {
				fmt.Fprintf(out, "Tick %q not recognized; nothing scheduled\n", result.Schedule)
				return nil
			}
			fmt.Fprintf(out, "Tick accepted: %s\n", strings.Join(buckets, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output classification as JSON")
	return cmd
}
