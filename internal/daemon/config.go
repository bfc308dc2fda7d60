// Package daemon implements the Background Daemon (spec.md §4.6): a
// per-user process that owns the single cache writer across clients,
// exposing ping/enqueue_sync/wait_sync/status/shutdown over a JSON-RPC
// 2.0 Unix domain socket.
package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kevinmichaelchen/ixchel/internal/logging"
)

// Config holds transport-level configuration for the daemon process.
// Scheduling knobs (worker pool size, idle timeout, shutdown policy) live
// in config.DaemonConfig and are passed to NewDaemon separately, since
// they're part of the layered TOML config rather than the socket/pidfile
// wiring below.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: $IXCHEL_HOME/run/ixcheld.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: $IXCHEL_HOME/state/ixcheld.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults rooted at
// $IXCHEL_HOME.
func DefaultConfig() Config {
	return Config{
		SocketPath: logging.SocketPath(),
		PIDPath:    filepath.Join(logging.StateDir(), "ixcheld.pid"),
		Timeout:    30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// EnsureDirs creates the run and state directories the socket and PID
// files live in.
func (c Config) EnsureDirs() error {
	if err := logging.EnsureRunDir(); err != nil {
		return err
	}
	return logging.EnsureStateDir()
}
