package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeDir returns $IXCHEL_HOME if set, otherwise ~/.ixchel.
func HomeDir() string {
	if home := os.Getenv("IXCHEL_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ixchel")
	}
	return filepath.Join(home, ".ixchel")
}

// DefaultLogDir returns $IXCHEL_HOME/log, the daemon log directory named in
// the on-disk layout.
func DefaultLogDir() string {
	return filepath.Join(HomeDir(), "log")
}

// DefaultLogPath returns the default daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "ixcheld.log")
}

// RunDir returns $IXCHEL_HOME/run, where the daemon socket lives.
func RunDir() string {
	return filepath.Join(HomeDir(), "run")
}

// SocketPath returns $IXCHEL_HOME/run/ixcheld.sock.
func SocketPath() string {
	return filepath.Join(RunDir(), "ixcheld.sock")
}

// StateDir returns $IXCHEL_HOME/state, ephemeral runtime state such as the
// daemon's pidfile.
func StateDir() string {
	return filepath.Join(HomeDir(), "state")
}

// ConfigDir returns $IXCHEL_HOME/config, the user config root.
func ConfigDir() string {
	return filepath.Join(HomeDir(), "config")
}

// FindLogFile locates the log file to view: an explicit path if given,
// otherwise the default daemon log path.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	def := DefaultLogPath()
	if _, err := os.Stat(def); err == nil {
		return def, nil
	}

	return "", fmt.Errorf("no log file found; the daemon may not have run yet.\nExpected at: %s", def)
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}

// EnsureRunDir creates the run directory (socket home) if it doesn't exist.
func EnsureRunDir() error {
	return os.MkdirAll(RunDir(), 0o755)
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	return os.MkdirAll(StateDir(), 0o755)
}
