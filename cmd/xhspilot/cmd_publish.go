package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"xhspilot/internal/fault"
	"xhspilot/internal/post"
	"xhspilot/internal/workflow"
)

// =============================================================================
// PUBLISH COMMANDS
// =============================================================================

type publishFlags struct {
	title       string
	body        string
	bodyFile    string
	images      []string
	video       string
	autoPublish bool
	preview     bool
	likeCollect bool
	force       bool
}

var (
	pubFlags   publishFlags
	clickLikes bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Fill the creator composer and optionally publish",
	Long: `Opens the creator publish page, uploads the media, fills the title and
body, and types the tags found on the body's last line (e.g. "#穿搭 #春天").

Without --auto-publish the filled composer is left open for a manual
confirm (marker pending_manual_confirm); click-publish can finish it later.
An identical request already published for the account is refused unless
--force is given.

Example:
  xhspilot publish --title "春日穿搭" --body-file note.txt --images a.jpg,b.jpg --auto-publish`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPublish(cmd, pubFlags)
	},
}

var fillPublishCmd = &cobra.Command{
	Use:   "fill-publish",
	Short: "Fill the composer and leave it for a manual confirm",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := pubFlags
		f.autoPublish, f.likeCollect = false, false
		return runPublish(cmd, f)
	},
}

var clickPublishCmd = &cobra.Command{
	Use:   "click-publish",
	Short: "Publish a composer left open by fill-publish",
	Long: `Attaches to the open creator publish tab, clicks publish and verifies the
note through the note service response or the page. Never opens a new tab.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.ClickPublish(ctx, workflow.ClickPublishOptions{
				Options:     runOptions(),
				LikeCollect: clickLikes,
			})
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{publishCmd, fillPublishCmd} {
		f := c.Flags()
		f.StringVarP(&pubFlags.title, "title", "t", "", "Note title (required)")
		f.StringVarP(&pubFlags.body, "body", "b", "", "Note body; a last line of #tags becomes the tags")
		f.StringVar(&pubFlags.bodyFile, "body-file", "", "Read the body from a file ('-' for stdin)")
		f.StringSliceVarP(&pubFlags.images, "images", "i", nil, "Image files, in order")
		f.StringVar(&pubFlags.video, "video", "", "Video file (exclusive with --images)")
		f.BoolVar(&pubFlags.preview, "preview", false, "Fill only, even with --auto-publish")
		f.BoolVar(&pubFlags.force, "force", false, "Publish even if the journal has this request published")
		c.MarkFlagRequired("title")
		c.MarkFlagsMutuallyExclusive("body", "body-file")
		c.MarkFlagsMutuallyExclusive("images", "video")
	}
	publishCmd.Flags().BoolVar(&pubFlags.autoPublish, "auto-publish", false, "Click publish and verify after filling")
	publishCmd.Flags().BoolVar(&pubFlags.likeCollect, "like-collect", false, "Like and collect the note after a verified publish")
	clickPublishCmd.Flags().BoolVar(&clickLikes, "like-collect", false, "Like and collect the note after a verified publish")
}

func runPublish(cmd *cobra.Command, f publishFlags) error {
	body, err := readBody(f.body, f.bodyFile, cmd.InOrStdin())
	if err != nil {
		return reportRejected(cmd, "publish", fault.Wrap(fault.KindValidation, "read_body", err))
	}
	req, err := post.New(f.title, body, f.images, f.video)
	if err != nil {
		return reportRejected(cmd, "publish", err)
	}
	return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
		return a.runner.Publish(ctx, workflow.PublishOptions{
			Options:     runOptions(),
			Request:     req,
			AutoPublish: f.autoPublish,
			Preview:     f.preview,
			LikeCollect: f.likeCollect,
			Force:       f.force,
		})
	})
}

// readBody returns the inline body, or the body file's contents; "-"
// reads stdin.
func readBody(inline, file string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	switch file {
	case "":
		return inline, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}
