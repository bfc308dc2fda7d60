package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevinmichaelchen/ixchel/internal/config"
	"github.com/kevinmichaelchen/ixchel/internal/daemon"
	"github.com/kevinmichaelchen/ixchel/internal/logging"
)

func newStartCmd() *cobra.Command {
	var foreground bool
	var repoRoot string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start ixcheld. By default it re-execs itself detached and returns once
the socket is accepting connections; use --foreground to run in the
current process (for debugging, or when a supervisor already manages
backgrounding).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), foreground, repoRoot)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in the foreground instead of daemonizing")
	cmd.Flags().StringVar(&repoRoot, "repo-root", "", "Repo root to warm on startup (optional)")
	return cmd
}

func runStart(ctx context.Context, foreground bool, repoRoot string) error {
	cfg := daemon.DefaultConfig()
	client := daemon.NewClient(cfg)

	if client.IsRunning() {
		fmt.Println("ixcheld is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.WriteToStderr = true
		logger, cleanup, err := logging.Setup(logCfg)
		if err != nil {
			return fmt.Errorf("setting up logging: %w", err)
		}
		defer cleanup()
		slog.SetDefault(logger)

		sched, err := loadSched(repoRoot)
		if err != nil {
			return err
		}

		slog.Info("ixcheld starting in foreground",
			slog.String("socket", cfg.SocketPath),
			slog.String("log_file", logging.DefaultLogPath()))

		d := daemon.NewDaemon(sched)

		if repoRoot != "" {
			watchCtx, cancelWatch := context.WithCancel(ctx)
			defer cancelWatch()
			go func() {
				slog.Info("watching repo for changes", slog.String("repo_root", repoRoot))
				if err := d.WatchRepo(watchCtx, repoRoot); err != nil && watchCtx.Err() == nil {
					slog.Warn("watcher stopped", slog.String("repo_root", repoRoot), slog.String("error", err.Error()))
				}
			}()
		}

		return d.Run(ctx, cfg)
	}

	fmt.Println("Starting ixcheld in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	args := []string{"start", "--foreground"}
	if ixchelHome != "" {
		args = append(args, "--ixchel-home", ixchelHome)
	}
	if repoRoot != "" {
		args = append(args, "--repo-root", repoRoot)
	}

	bgCmd := exec.Command(execPath, args...)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("starting ixcheld: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("ixcheld exited unexpectedly: %w", err)
			}
			return fmt.Errorf("ixcheld exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			fmt.Printf("ixcheld started (pid: %d)\n", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("ixcheld failed to start within timeout")
}

// loadSched loads config.DaemonConfig for repoRoot, or the defaults when
// no repo root is given (the daemon itself is per-user, not per-repo;
// its scheduling knobs still come from the layered config so a
// project's .ixchel/config.toml can tune worker_pool_size etc.).
func loadSched(repoRoot string) (config.DaemonConfig, error) {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return config.DaemonConfig{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg.Daemon, nil
}
