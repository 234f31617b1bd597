package main

import (
	"context"

	"github.com/spf13/cobra"

	"xhspilot/internal/login"
	"xhspilot/internal/workflow"
)

// =============================================================================
// LOGIN COMMANDS
// =============================================================================

var (
	surfaceName string
	loginWait   bool
)

var checkLoginCmd = &cobra.Command{
	Use:   "check-login",
	Short: "Report whether the account is logged in (exit 1 when not)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		surface, err := login.ParseSurface(surfaceName)
		if err != nil {
			return reportRejected(cmd, "check-login", err)
		}
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.CheckLogin(ctx, runOptions(), surface)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open the creator login page in a visible browser",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.Login(ctx, workflow.LoginOptions{Options: runOptions(), Wait: loginWait})
		})
	},
}

var reLoginCmd = &cobra.Command{
	Use:   "re-login",
	Short: "Clear the account's site data and log in again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.ReLogin(ctx, workflow.LoginOptions{Options: runOptions(), Wait: loginWait})
		})
	},
}

var switchAccountCmd = &cobra.Command{
	Use:   "switch-account",
	Short: "Re-login the profile of the account named by --account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) *workflow.Result {
			return a.runner.SwitchAccount(ctx, workflow.LoginOptions{Options: runOptions(), Wait: loginWait})
		})
	},
}

func init() {
	checkLoginCmd.Flags().StringVar(&surfaceName, "surface", "creator", "Surface to check: creator or home")
	for _, c := range []*cobra.Command{loginCmd, reLoginCmd, switchAccountCmd} {
		c.Flags().BoolVar(&loginWait, "wait", false, "Block until the QR login completes")
	}
}
