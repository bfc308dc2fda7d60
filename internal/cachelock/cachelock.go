// Package cachelock implements the per-repo writer lock that backs
// spec.md §5's direct-mode fallback guarantee: "Direct-mode fallback (no
// daemon) is permitted only when the client can prove no other process
// holds the writer (best-effort via a per-repo lock file)."
package cachelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// fileName matches the lock.mdb name spec.md §6's on-disk layout
// reserves inside the cache data directory.
const fileName = "lock.mdb"

// WriterLock is an exclusive, cross-process lock on one repo's cache.
// Acquiring it is the client's proof that it may run the Sync Engine
// directly instead of delegating to the daemon.
type WriterLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New returns a WriterLock for the cache rooted at dataDir
// ({repo}/.ixchel/data/ixchel in spec.md §6's layout).
func New(dataDir string) *WriterLock {
	path := filepath.Join(dataDir, fileName)
	return &WriterLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the writer lock without blocking. false
// means another process (most likely the daemon) already holds it, in
// which case the caller must go through the daemon instead of writing
// directly.
func (l *WriterLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("cachelock: creating lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("cachelock: acquiring lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Lock blocks until the writer lock is available.
func (l *WriterLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("cachelock: creating lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("cachelock: acquiring lock: %w", err)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an already-unlocked lock.
func (l *WriterLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("cachelock: releasing lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the underlying lock file path.
func (l *WriterLock) Path() string {
	return l.path
}

// Held reports whether this handle currently holds the lock.
func (l *WriterLock) Held() bool {
	return l.locked
}
