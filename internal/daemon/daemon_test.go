package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/ixchel/internal/config"
)

var _ RequestHandler = (*Daemon)(nil)

func testSched() config.DaemonConfig {
	return config.DaemonConfig{
		AutoStart:      false,
		WorkerPoolSize: 2,
		AllowShutdown:  true,
	}
}

func TestDaemon_EnqueueSync_InvalidParams(t *testing.T) {
	d := NewDaemon(testSched())
	defer d.Close()

	_, err := d.EnqueueSync(EnqueueSyncParams{})
	require.Error(t, err)
}

func TestDaemon_EnqueueSync_AssignsSyncID(t *testing.T) {
	d := NewDaemon(testSched())
	defer d.Close()

	result, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/nonexistent/repo"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SyncID)
	assert.False(t, result.Coalesced)
}

func TestDaemon_EnqueueSync_Coalesces(t *testing.T) {
	d := NewDaemon(config.DaemonConfig{WorkerPoolSize: 1, AllowShutdown: true})
	defer d.Close()

	first, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/nonexistent/repo", Tool: "cli"})
	require.NoError(t, err)

	second, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/nonexistent/repo", Tool: "cli"})
	require.NoError(t, err)

	assert.Equal(t, first.SyncID, second.SyncID)
	assert.True(t, second.Coalesced)
}

func TestDaemon_EnqueueSync_DistinctToolsDoNotCoalesce(t *testing.T) {
	d := NewDaemon(testSched())
	defer d.Close()

	first, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/nonexistent/repo", Tool: "cli"})
	require.NoError(t, err)

	second, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/nonexistent/repo", Tool: "mcp"})
	require.NoError(t, err)

	assert.NotEqual(t, first.SyncID, second.SyncID)
}

func TestDaemon_WaitSync_UnknownID(t *testing.T) {
	d := NewDaemon(testSched())
	defer d.Close()

	_, err := d.WaitSync(context.Background(), WaitSyncParams{SyncID: "missing"})
	require.Error(t, err)
}

func TestDaemon_WaitSync_ReachesTerminalState(t *testing.T) {
	d := NewDaemon(testSched())
	defer d.Close()

	enqueued, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/nonexistent/repo"})
	require.NoError(t, err)

	result, err := d.WaitSync(context.Background(), WaitSyncParams{SyncID: enqueued.SyncID, TimeoutMS: 2000})
	require.NoError(t, err)

	// /nonexistent/repo has no .ixchel tree, so the job either fails
	// (for example when the cache directory cannot be created) or finishes
	// with nothing to sync; either way WaitSync must observe a terminal
	// state rather than timing out.
	assert.Contains(t, []SyncState{SyncStateDone, SyncStateFailed}, result.State)
}

func TestDaemon_WaitSync_TimesOutOnUnfinishedJob(t *testing.T) {
	d := NewDaemon(config.DaemonConfig{WorkerPoolSize: 0, AllowShutdown: true})
	defer d.Close()

	j := newJob("sync-manual", jobKey{RepoRoot: "/repo", Tool: ""}, "", false)
	d.mu.Lock()
	d.jobs[j.id] = j
	d.mu.Unlock()

	start := time.Now()
	result, err := d.WaitSync(context.Background(), WaitSyncParams{SyncID: j.id, TimeoutMS: 50})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, SyncStateQueued, result.State)
}

func TestDaemon_Status_FiltersByRepoRoot(t *testing.T) {
	d := NewDaemon(testSched())
	defer d.Close()

	_, err := d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/repo-a"})
	require.NoError(t, err)
	_, err = d.EnqueueSync(EnqueueSyncParams{RepoRoot: "/repo-b"})
	require.NoError(t, err)

	status := d.Status(StatusParams{RepoRoot: "/repo-a"})
	assert.True(t, status.Running)
	for _, q := range status.Queues {
		assert.Equal(t, "/repo-a", q.RepoRoot)
	}
}

func TestDaemon_Shutdown_Disallowed(t *testing.T) {
	d := NewDaemon(config.DaemonConfig{WorkerPoolSize: 1, AllowShutdown: false})
	defer d.Close()

	err := d.Shutdown("test")
	assert.Error(t, err)
}

func TestDaemon_Shutdown_Allowed(t *testing.T) {
	d := NewDaemon(config.DaemonConfig{WorkerPoolSize: 1, AllowShutdown: true})
	defer d.Close()

	err := d.Shutdown("test")
	assert.NoError(t, err)
}
