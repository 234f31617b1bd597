package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"xhspilot/internal/workflow"
)

// =============================================================================
// RETRIEVAL COMMANDS
// =============================================================================

var (
	searchFilters workflow.Filters

	feedRef      workflow.FeedRef
	withComments bool
	commentText  string

	contentOpts workflow.ContentOptions
)

var searchCmd = &cobra.Command{
	Use:   "search KEYWORD",
	Short: "Search notes by keyword",
	Long: fmt.Sprintf(`Loads the search page for KEYWORD and returns the first page of notes,
optionally narrowed by the filter panel. Filter values:
  --sort-by       %s
  --note-type     %s
  --publish-time  %s
  --search-scope  %s
  --location      %s`,
		strings.Join(workflow.FilterOptions("sort_by"), "|"),
		strings.Join(workflow.FilterOptions("note_type"), "|"),
		strings.Join(workflow.FilterOptions("publish_time"), "|"),
		strings.Join(workflow.FilterOptions("search_scope"), "|"),
		strings.Join(workflow.FilterOptions("location"), "|")),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyword := strings.Join(args, " ")
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.Search(ctx, workflow.SearchOptions{
				Options: runOptions(),
				Keyword: keyword,
				Filters: searchFilters,
			})
		})
	},
}

var feedDetailCmd = &cobra.Command{
	Use:   "feed-detail",
	Short: "Read one note's content and counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.FeedDetail(ctx, workflow.DetailOptions{
				Options:  runOptions(),
				FeedRef:  feedRef,
				Comments: withComments,
			})
		})
	},
}

var postCommentCmd = &cobra.Command{
	Use:   "post-comment",
	Short: "Post a top-level comment on a note",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.PostComment(ctx, workflow.CommentOptions{
				Options: runOptions(),
				FeedRef: feedRef,
				Text:    commentText,
			})
		})
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Read the comments-and-mentions feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.Notifications(ctx, runOptions())
		})
	},
}

var contentDataCmd = &cobra.Command{
	Use:   "content-data",
	Short: "Export per-note metrics from the creator dashboard",
	Long: `Opens the creator data-analysis page and captures the metrics request it
makes. The page decides the paging it loads; the result reports the paging
asked for next to the paging actually loaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			opts := contentOpts
			opts.Options = runOptions()
			return a.runner.ContentDataReport(ctx, opts)
		})
	},
}

func init() {
	sf := searchCmd.Flags()
	sf.StringVar(&searchFilters.SortBy, "sort-by", "", "Sort order")
	sf.StringVar(&searchFilters.NoteType, "note-type", "", "Note type")
	sf.StringVar(&searchFilters.PublishTime, "publish-time", "", "Publish time window")
	sf.StringVar(&searchFilters.SearchScope, "search-scope", "", "Search scope")
	sf.StringVar(&searchFilters.Location, "location", "", "Location")

	for _, c := range []*cobra.Command{feedDetailCmd, postCommentCmd} {
		c.Flags().StringVar(&feedRef.FeedID, "feed-id", "", "Note id (required)")
		c.Flags().StringVar(&feedRef.XsecToken, "xsec-token", "", "Access token from a search or feed result (required)")
		c.MarkFlagRequired("feed-id")
		c.MarkFlagRequired("xsec-token")
	}
	feedDetailCmd.Flags().BoolVar(&withComments, "comments", false, "Also capture the first comment page")
	postCommentCmd.Flags().StringVar(&commentText, "text", "", "Comment text (required)")
	postCommentCmd.MarkFlagRequired("text")

	cf := contentDataCmd.Flags()
	cf.IntVar(&contentOpts.PageNum, "page-num", 1, "Page number")
	cf.IntVar(&contentOpts.PageSize, "page-size", 10, "Rows per page")
	cf.IntVar(&contentOpts.Type, "type", 0, "Dashboard note type")
	cf.StringVar(&contentOpts.CSVFile, "csv-file", "", "Also write the rows as UTF-8 CSV")
}
