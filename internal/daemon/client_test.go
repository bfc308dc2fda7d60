package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSocketPath creates a unique socket path that's short enough for Unix sockets.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("ixchel-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

// serveOnce accepts a single connection, decodes one request, and writes
// resp back, used to stand in for a daemon in client tests.
func serveOnce(t *testing.T, socketPath string, resp Response) {
	t.Helper()
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	go func() {
		defer listener.Close()
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			return
		}
		resp.ID = req.ID
		_ = json.NewEncoder(conn).Encode(resp)
	}()
}

func TestNewClient(t *testing.T) {
	cfg := DefaultConfig()
	client := NewClient(cfg)

	assert.NotNil(t, client)
	assert.Equal(t, cfg.SocketPath, client.socketPath)
	assert.Equal(t, cfg.Timeout, client.timeout)
}

func TestClient_IsRunning_NoSocket(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(tmpDir, "nonexistent.sock"),
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	assert.False(t, client.IsRunning(), "should return false when socket doesn't exist")
}

func TestClient_IsRunning_WithSocket(t *testing.T) {
	socketPath := testSocketPath(t)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	cfg := Config{SocketPath: socketPath, Timeout: 5 * time.Second}
	client := NewClient(cfg)
	assert.True(t, client.IsRunning(), "should return true when socket is listening")
}

func TestClient_Ping_Success(t *testing.T) {
	socketPath := testSocketPath(t)
	serveOnce(t, socketPath, NewSuccessResponse("", PingResult{Version: Version}))

	client := NewClient(Config{SocketPath: socketPath, Timeout: 5 * time.Second})

	result, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Version, result.Version)
}

func TestClient_EnqueueSync_Success(t *testing.T) {
	socketPath := testSocketPath(t)
	serveOnce(t, socketPath, NewSuccessResponse("", EnqueueSyncResult{SyncID: "sync-1"}))

	client := NewClient(Config{SocketPath: socketPath, Timeout: 5 * time.Second})

	result, err := client.EnqueueSync(context.Background(), EnqueueSyncParams{RepoRoot: "/repo"})
	require.NoError(t, err)
	assert.Equal(t, "sync-1", result.SyncID)
}

func TestClient_EnqueueSync_InvalidParams(t *testing.T) {
	client := NewClient(Config{SocketPath: "/tmp/unused.sock", Timeout: time.Second})

	_, err := client.EnqueueSync(context.Background(), EnqueueSyncParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo_root")
}

func TestClient_WaitSync_Error(t *testing.T) {
	socketPath := testSocketPath(t)
	serveOnce(t, socketPath, NewErrorResponse("", ErrCodeTimeout, "sync timed out"))

	client := NewClient(Config{SocketPath: socketPath, Timeout: 5 * time.Second})

	_, err := client.WaitSync(context.Background(), WaitSyncParams{SyncID: "sync-1", TimeoutMS: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync timed out")
}

func TestClient_Status_Success(t *testing.T) {
	socketPath := testSocketPath(t)
	expected := StatusResult{Running: true, PID: 12345, Version: Version, Uptime: "5m"}
	serveOnce(t, socketPath, NewSuccessResponse("", expected))

	client := NewClient(Config{SocketPath: socketPath, Timeout: 5 * time.Second})

	status, err := client.Status(context.Background(), StatusParams{})
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 12345, status.PID)
}

func TestClient_Connect_Timeout(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "nonexistent.sock")

	client := NewClient(Config{SocketPath: socketPath, Timeout: 100 * time.Millisecond})

	_, err := client.Connect()
	require.Error(t, err)
}
