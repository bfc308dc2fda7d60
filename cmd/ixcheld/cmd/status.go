package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kevinmichaelchen/ixchel/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var repoRoot string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  "Show whether ixcheld is running, its uptime, and its per-{repo_root,tool} sync queues.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), jsonOutput, repoRoot)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&repoRoot, "repo-root", "", "Filter queues to this repo_root")
	return cmd
}

func runStatus(ctx context.Context, jsonOutput bool, repoRoot string) error {
	cfg := daemon.DefaultConfig()
	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			return encodeStatus(daemon.StatusResult{Running: false})
		}
		fmt.Println("ixcheld is not running")
		return nil
	}

	status, err := client.Status(ctx, daemon.StatusParams{RepoRoot: repoRoot})
	if err != nil {
		return fmt.Errorf("getting status: %w", err)
	}

	if jsonOutput {
		return encodeStatus(status)
	}

	fmt.Println("ixcheld is running")
	fmt.Printf("  PID:     %d\n", status.PID)
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Uptime:  %s\n", status.Uptime)
	fmt.Printf("  Socket:  %s\n", cfg.SocketPath)
	for _, q := range status.Queues {
		fmt.Printf("  Queue %s/%s: %d queued, %d running\n", q.RepoRoot, q.Tool, q.Queued, q.Running)
	}
	return nil
}

func encodeStatus(status daemon.StatusResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
