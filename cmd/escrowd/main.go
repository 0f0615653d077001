package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/escrowd/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "escrowd",
	Short: "escrowd - task bounty escrow ledger",
	Long: `escrowd holds task bounties in escrow until the creator approves the work,
the task expires, or arbitrators resolve a dispute.

Run "escrowd daemon" to serve the ledger, then use the other commands as a client.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	keyPath    string
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", filepath.Join(config.Dir(), "id.key"), "Signing key file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Daemon config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(platformCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(disputeCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(faucetCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
