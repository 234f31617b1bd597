package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xhspilot/internal/browser"
	"xhspilot/internal/journal"
)

// =============================================================================
// BROWSER AND JOURNAL COMMANDS
// =============================================================================

var journalLimit int

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Inspect or stop the managed browser",
}

var browserStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the browser recorded on the debug port",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		mgr := browser.NewManager(cfg.RunDir(), nil, nil)
		inst, alive, err := mgr.Status(cfg.CDP.Port)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"port":     cfg.CDP.Port,
				"alive":    alive,
				"instance": inst,
			})
		}
		out := cmd.OutOrStdout()
		if inst == nil {
			fmt.Fprintf(out, "no browser recorded on port %d\n", cfg.CDP.Port)
			return nil
		}
		state := errorStyle.Render("dead")
		if alive {
			state = successStyle.Render("alive")
		}
		fmt.Fprintf(out, "port %d: pid %d %s, headless=%v\n", inst.Port, inst.PID, state, inst.Headless)
		fmt.Fprintf(out, "profile %s\n", inst.ProfilePath)
		if !inst.StartedAt.IsZero() {
			fmt.Fprintf(out, "started %s\n", inst.StartedAt.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var browserKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop the browser recorded on the debug port",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		locks := browser.NewPortLocks(cfg.RunDir())
		lease, err := locks.Acquire(cfg.CDP.Port)
		if err != nil {
			return err
		}
		defer lease.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := browser.NewManager(cfg.RunDir(), nil, nil).Kill(ctx, cfg.CDP.Port); err != nil {
			return err
		}
		logger.Info("browser stopped", zap.Int("port", cfg.CDP.Port))
		fmt.Fprintf(cmd.OutOrStdout(), "%s browser on port %d stopped\n", successStyle.Render("✓"), cfg.CDP.Port)
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent publish journal entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return err
		}
		defer j.Close()
		entries, err := j.Recent(accountName, journalLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("journal is empty"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), journalTable(entries))
		return nil
	},
}

func init() {
	browserCmd.AddCommand(browserStatusCmd, browserKillCmd)
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Entries to show")
}
