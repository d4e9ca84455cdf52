package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"gazette/internal/store"
)

// statusPayload mirrors the daemon's /api/status response.
type statusPayload struct {
	Running      bool           `json:"running"`
	LockFilePath string         `json:"lock_file_path"`
	DBPath       string         `json:"db_path"`
	FeedCount    int            `json:"feed_count"`
	FeedErrors   int            `json:"feed_errors"`
	ArticleCount int            `json:"article_count"`
	JobCounts    map[string]int `json:"job_counts"`
	ActiveRun    *store.PullRun `json:"active_run,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status statusPayload
			if err := ctx.apiCall("GET", "/api/status", nil, &status); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			daemonKind := statusOK
			daemonText := "running"
			if !status.Running {
				daemonKind = statusError
				daemonText = "stopped"
			}
			fmt.Fprintln(out, statusLine("Daemon", daemonKind, daemonText, colorize))
			fmt.Fprintln(out, statusLine("Database", statusInfo, status.DBPath, colorize))
			fmt.Fprintln(out, statusLine("Lock file", statusInfo, status.LockFilePath, colorize))

			feedKind := statusOK
			feedText := strconv.Itoa(status.FeedCount)
			if status.FeedErrors > 0 {
				feedKind = statusWarn
				feedText = fmt.Sprintf("%d (%d failing)", status.FeedCount, status.FeedErrors)
			}
			fmt.Fprintln(out, statusLine("Feeds", feedKind, feedText, colorize))
			fmt.Fprintln(out, statusLine("Articles", statusInfo, strconv.Itoa(status.ArticleCount), colorize))

			if status.ActiveRun != nil {
				runText := fmt.Sprintf("run %d %s", status.ActiveRun.ID, status.ActiveRun.Status)
				fmt.Fprintln(out, statusLine("Active pull", statusInfo, runText, colorize))
			}

			rows := buildJobCountRows(status.JobCounts)
			if len(rows) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Job Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

// buildJobCountRows orders known statuses first, then any unknown keys.
func buildJobCountRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, status := range store.AllJobStatuses() {
		key := string(status)
		if count, ok := counts[key]; ok {
			rows = append(rows, []string{key, strconv.Itoa(count)})
			seen[key] = true
		}
	}
	extras := make([]string, 0)
	for key := range counts {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	return rows
}
