// Package cmd provides the ixcheld daemon binary's small flag/subcommand
// surface (SPEC_FULL.md §8): start, stop, status.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ixchelHome string

// NewRootCmd creates the root command for the ixcheld daemon binary.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ixcheld",
		Short: "Background daemon for the ixchel knowledge graph cache",
		Long: `ixcheld owns the single cache writer for one or more ixchel repos,
serializing syncs per repo_root and exposing ping/enqueue_sync/wait_sync/
status/shutdown over a JSON-RPC 2.0 Unix domain socket.

Clients (the ixchel CLI, or an embedding host) auto-spawn ixcheld on
demand; running it directly is mainly useful for debugging with
--foreground.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if ixchelHome != "" {
				if err := os.Setenv("IXCHEL_HOME", ixchelHome); err != nil {
					return fmt.Errorf("setting IXCHEL_HOME: %w", err)
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&ixchelHome, "ixchel-home", "", "Override $IXCHEL_HOME (default: ~/.ixchel)")

	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
