package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gazette/internal/store"
)

type pullStartPayload struct {
	Started bool  `json:"started"`
	RunID   int64 `json:"run_id"`
}

func newPullCommand(ctx *commandContext) *cobra.Command {
	var cycles int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Start a manual ingestion run",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"cycles":  cycles,
				"trigger": "cli",
			}
			var result pullStartPayload
			status, payload, err := ctx.doAPI("POST", "/api/pull", body)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(payload, &result); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			if result.Started {
				fmt.Fprintf(out, "Pull run %d started\n", result.RunID)
				return nil
			}
			if status == 409 || result.RunID > 0 {
				fmt.Fprintf(out, "Pull run %d already active\n", result.RunID)
				return nil
			}
			return fmt.Errorf("pull was not started")
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 0, "Poll-then-process cycles to run (0 uses the configured default)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	cmd.AddCommand(newPullStatusCommand(ctx))
	return cmd
}

func newPullStatusCommand(ctx *commandContext) *cobra.Command {
	var runID int64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest (or a specific) pull run",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/pull/status"
			if runID > 0 {
				path += "?run_id=" + strconv.FormatInt(runID, 10)
			}
			var run store.PullRun
			if err := ctx.apiCall("GET", path, nil, &run); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, run)
			}
			return renderPullRun(cmd, &run)
		},
	}

	cmd.Flags().Int64Var(&runID, "run-id", 0, "Pull run ID (defaults to the most recent run)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output run as JSON")
	return cmd
}

func renderPullRun(cmd *cobra.Command, run *store.PullRun) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	kind := statusInfo
	switch run.Status {
	case store.RunSuccess:
		kind = statusOK
	case store.RunFailed:
		kind = statusError
	}

	fmt.Fprintln(out, statusLine("Run", statusInfo, strconv.FormatInt(run.ID, 10), colorize))
	fmt.Fprintln(out, statusLine("Status", kind, string(run.Status), colorize))
	fmt.Fprintln(out, statusLine("Trigger", statusInfo, run.TriggeredBy, colorize))
	fmt.Fprintln(out, statusLine("Cycles", statusInfo, strconv.Itoa(run.Cycles), colorize))
	if run.StartedAt != nil {
		fmt.Fprintln(out, statusLine("Started", statusInfo, run.StartedAt.Format("2006-01-02 15:04:05 MST"), colorize))
	}
	if run.CompletedAt != nil {
		fmt.Fprintln(out, statusLine("Completed", statusInfo, run.CompletedAt.Format("2006-01-02 15:04:05 MST"), colorize))
	}
	if run.LastError != "" {
		fmt.Fprintln(out, statusLine("Error", statusError, run.LastError, colorize))
	}

	if strings.TrimSpace(run.StatsJSON) != "" {
		var stats store.PullStats
		if err := json.Unmarshal([]byte(run.StatsJSON), &stats); err == nil {
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(
				[]string{"Metric", "Value"},
				[][]string{
					{"cycles completed", strconv.Itoa(stats.CyclesCompleted)},
					{"feeds", strconv.Itoa(stats.FeedCount)},
					{"feeds with errors", strconv.Itoa(stats.FeedsWithErrors)},
					{"items seen", strconv.Itoa(stats.ItemsSeen)},
					{"items processed", strconv.Itoa(stats.ItemsProcessed)},
					{"articles", strconv.Itoa(stats.ArticleCount)},
					{"pending jobs", strconv.Itoa(stats.PendingJobs)},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			for _, sample := range stats.RecentErrors {
				fmt.Fprintln(out, statusLine("Recent error", statusWarn, sample, colorize))
			}
		}
	}
	return nil
}
