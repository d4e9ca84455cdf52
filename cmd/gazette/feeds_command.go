package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"gazette/internal/store"
)

func newFeedsCommand(ctx *commandContext) *cobra.Command {
	feedsCmd := &cobra.Command{
		Use:   "feeds",
		Short: "Inspect and manage polled feeds",
	}

	feedsCmd.AddCommand(newFeedsListCommand(ctx))
	feedsCmd.AddCommand(newFeedsAddCommand(ctx))
	feedsCmd.AddCommand(newFeedsEnableCommand(ctx, false))
	feedsCmd.AddCommand(newFeedsEnableCommand(ctx, true))

	return feedsCmd
}

func newFeedsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Feeds []*store.Feed `json:"feeds"`
			}
			err := ctx.apiCall("GET", "/api/feeds", nil, &result)
			if err != nil {
				// Fall back to the database when the daemon is down.
				storeErr := ctx.withStore(func(st *store.Store) error {
					feeds, listErr := st.ListFeeds(cmd.Context())
					if listErr != nil {
						return listErr
					}
					result.Feeds = feeds
					return nil
				})
				if storeErr != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(cmd, result)
			}
			if len(result.Feeds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No feeds configured")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "URL", "Next Poll", "Errors", "Disabled"},
				buildFeedRows(result.Feeds),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output feeds as JSON")
	return cmd
}

func buildFeedRows(feeds []*store.Feed) [][]string {
	rows := make([][]string, 0, len(feeds))
	for _, feed := range feeds {
		nextPoll := ""
		if feed.NextPollAt != nil {
			nextPoll = feed.NextPollAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			strconv.FormatInt(feed.ID, 10),
			feed.Title,
			feed.URL,
			nextPoll,
			strconv.Itoa(feed.ErrorCount),
			yesNo(feed.Disabled),
		})
	}
	return rows
}

func newFeedsAddCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a feed due for immediate polling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				feed, err := st.AddFeed(cmd.Context(), args[0], title)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added feed %d: %s\n", feed.ID, feed.URL)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Feed title (discovered on first poll when empty)")
	return cmd
}

func newFeedsEnableCommand(ctx *commandContext, disable bool) *cobra.Command {
	use, short, verb := "enable <id>", "Resume polling a disabled feed", "enabled"
	if disable {
		use, short, verb = "disable <id>", "Stop polling a feed without deleting it", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid feed id %q", args[0])
			}
			return ctx.withStore(func(st *store.Store) error {
				if err := st.SetFeedDisabled(cmd.Context(), id, disable); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feed %d %s\n", id, verb)
				return nil
			})
		},
	}
}
