package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_JSON(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		Method:  MethodEnqueueSync,
		Params: EnqueueSyncParams{
			RepoRoot: "/path/to/repo",
			Force:    true,
		},
		ID: "req-1",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, MethodEnqueueSync, decoded.Method)
	assert.Equal(t, "req-1", decoded.ID)
}

func TestResponse_Success(t *testing.T) {
	resp := NewSuccessResponse("req-1", EnqueueSyncResult{SyncID: "sync-1"})

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.NotNil(t, resp.Result)
	assert.Nil(t, resp.Error)
}

func TestResponse_Error(t *testing.T) {
	resp := NewErrorResponse("req-1", ErrCodeInvalidParams, "invalid repo_root")

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "invalid repo_root", resp.Error.Message)
}

func TestEnqueueSyncParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  EnqueueSyncParams
		wantErr bool
	}{
		{
			name:   "valid params",
			params: EnqueueSyncParams{RepoRoot: "/path"},
		},
		{
			name:    "empty repo_root",
			params:  EnqueueSyncParams{RepoRoot: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWaitSyncParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  WaitSyncParams
		wantErr bool
	}{
		{
			name:   "valid params",
			params: WaitSyncParams{SyncID: "sync-1", TimeoutMS: 1000},
		},
		{
			name:    "empty sync_id",
			params:  WaitSyncParams{TimeoutMS: 1000},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			params:  WaitSyncParams{SyncID: "sync-1", TimeoutMS: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWaitSyncResult_JSON(t *testing.T) {
	result := WaitSyncResult{
		SyncID: "sync-1",
		State:  SyncStateDone,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded WaitSyncResult
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, result.SyncID, decoded.SyncID)
	assert.Equal(t, result.State, decoded.State)
}

func TestStatusResult_JSON(t *testing.T) {
	status := StatusResult{
		Running: true,
		PID:     12345,
		Version: Version,
		Uptime:  "1h30m",
		Queues: []QueueStatus{
			{RepoRoot: "/repo", Tool: "cli", Queued: 1, Running: 0},
		},
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)

	var decoded StatusResult
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, status.Running, decoded.Running)
	assert.Equal(t, status.PID, decoded.PID)
	assert.Equal(t, status.Uptime, decoded.Uptime)
	require.Len(t, decoded.Queues, 1)
	assert.Equal(t, "/repo", decoded.Queues[0].RepoRoot)
}

func TestMethodConstants(t *testing.T) {
	assert.Equal(t, "ping", MethodPing)
	assert.Equal(t, "enqueue_sync", MethodEnqueueSync)
	assert.Equal(t, "wait_sync", MethodWaitSync)
	assert.Equal(t, "status", MethodStatus)
	assert.Equal(t, "shutdown", MethodShutdown)
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, -32700, ErrCodeParseError)
	assert.Equal(t, -32600, ErrCodeInvalidRequest)
	assert.Equal(t, -32601, ErrCodeMethodNotFound)
	assert.Equal(t, -32602, ErrCodeInvalidParams)
	assert.Equal(t, -32603, ErrCodeInternalError)

	assert.Equal(t, -32001, ErrCodeIncompatibleVersion)
	assert.Equal(t, -32002, ErrCodeRepoNotFound)
	assert.Equal(t, -32003, ErrCodeTimeout)
}
