package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// ACCOUNT COMMANDS
// =============================================================================

var (
	accountAlias  string
	deleteProfile bool
)

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "List registered accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openAccounts(cfg)
		if err != nil {
			return err
		}
		list := store.List()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no accounts registered; runs use the implicit \"default\" account"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), accountsTable(list))
		return nil
	},
}

var addAccountCmd = &cobra.Command{
	Use:   "add-account NAME",
	Short: "Register an account with its own browser profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openAccounts(cfg)
		if err != nil {
			return err
		}
		acc, err := store.Add(args[0], accountAlias)
		if err != nil {
			return err
		}
		logger.Info("account added", zap.String("id", acc.ID), zap.String("profile", acc.ProfilePath))
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), acc)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s added account %s (profile %s)\n", successStyle.Render("✓"), acc.DisplayName(), acc.ProfilePath)
		fmt.Fprintf(cmd.OutOrStdout(), "log in with: xhspilot login --account %s\n", acc.ID)
		return nil
	},
}

var removeAccountCmd = &cobra.Command{
	Use:   "remove-account NAME",
	Short: "Unregister an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openAccounts(cfg)
		if err != nil {
			return err
		}
		if err := store.Remove(args[0], deleteProfile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s removed account %s\n", successStyle.Render("✓"), args[0])
		return nil
	},
}

var setDefaultAccountCmd = &cobra.Command{
	Use:   "set-default-account NAME",
	Short: "Make an account the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openAccounts(cfg)
		if err != nil {
			return err
		}
		if err := store.SetDefault(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s default account is now %s\n", successStyle.Render("✓"), args[0])
		return nil
	},
}

func init() {
	addAccountCmd.Flags().StringVar(&accountAlias, "alias", "", "Display name")
	removeAccountCmd.Flags().BoolVar(&deleteProfile, "delete-profile", false, "Also delete the browser profile directory")
}
