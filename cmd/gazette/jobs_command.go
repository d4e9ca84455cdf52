package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gazette/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage enrichment jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryFailedCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	jobsCmd.AddCommand(newJobsForceRunCommand(ctx))
	jobsCmd.AddCommand(newJobsClearFinishedCommand(ctx))
	jobsCmd.AddCommand(newJobsQueueMissingCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var typeFilter string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status or type",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs"
			query := url.Values{}
			for _, raw := range statuses {
				status, ok := store.ParseJobStatus(raw)
				if !ok {
					return fmt.Errorf("unknown job status %q", raw)
				}
				query.Add("status", string(status))
			}
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var wantType store.JobType
			if typeFilter != "" {
				parsed, ok := store.ParseJobType(typeFilter)
				if !ok {
					return fmt.Errorf("unknown job type %q (known types: %s)", typeFilter, joinJobTypes())
				}
				wantType = parsed
			}

			var result struct {
				Jobs []*store.Job `json:"jobs"`
			}
			if err := ctx.apiCall("GET", path, nil, &result); err != nil {
				return err
			}
			if wantType != "" {
				filtered := result.Jobs[:0]
				for _, job := range result.Jobs {
					if job.Type == wantType {
						filtered = append(filtered, job)
					}
				}
				result.Jobs = filtered
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}
			if len(result.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Status", "Attempts", "Article", "Run After", "Last Error"},
				buildJobRows(result.Jobs),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVar(&typeFilter, "type", "", "Filter by job type")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output jobs as JSON")
	return cmd
}

func joinJobTypes() string {
	types := store.AllJobTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func buildJobRows(jobs []*store.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		article := ""
		if job.ArticleID != nil {
			article = strconv.FormatInt(*job.ArticleID, 10)
		}
		lastError := job.LastError
		if len(lastError) > 60 {
			lastError = lastError[:57] + "..."
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			string(job.Type),
			string(job.Status),
			strconv.Itoa(job.Attempts),
			article,
			job.RunAfter.Format("2006-01-02 15:04"),
			lastError,
		})
	}
	return rows
}

func newJobsRetryFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue all failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAction(cmd, ctx, "retry-failed", 0, "requeued")
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel one pending job, or all pending jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := optionalJobID(args)
			if err != nil {
				return err
			}
			return runJobAction(cmd, ctx, "cancel", id, "cancelled")
		},
	}
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job that is not running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runJobAction(cmd, ctx, "delete", id, "deleted")
		},
	}
}

func newJobsForceRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "force-run <id>",
		Short: "Make a pending or failed job eligible to run immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runJobAction(cmd, ctx, "force-run", id, "made runnable")
		},
	}
}

func newJobsClearFinishedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-finished",
		Short: "Delete all done, failed, and cancelled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAction(cmd, ctx, "clear-finished", 0, "cleared")
		},
	}
}

func newJobsQueueMissingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-missing",
		Short: "Queue enrichment jobs for today's articles that lack them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAction(cmd, ctx, "queue-missing", 0, "queued")
		},
	}
}

func runJobAction(cmd *cobra.Command, ctx *commandContext, action string, id int64, verb string) error {
	var body any
	if id > 0 {
		body = map[string]int64{"id": id}
	}
	var result struct {
		Affected int64 `json:"affected"`
	}
	if err := ctx.apiCall("POST", "/api/jobs/"+action, body, &result); err != nil {
		return err
	}
	noun := "jobs"
	if result.Affected == 1 {
		noun = "job"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d %s %s\n", result.Affected, noun, verb)
	return nil
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func optionalJobID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return parseJobID(args[0])
}
