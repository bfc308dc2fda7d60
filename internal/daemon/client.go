package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client dials the daemon's Unix socket and issues JSON-RPC requests.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	var result PingResult
	err := c.call(ctx, MethodPing, nil, &result)
	return result, err
}

// EnqueueSync sends an enqueue_sync request to the daemon.
func (c *Client) EnqueueSync(ctx context.Context, params EnqueueSyncParams) (EnqueueSyncResult, error) {
	if err := params.Validate(); err != nil {
		return EnqueueSyncResult{}, fmt.Errorf("invalid params: %w", err)
	}
	var result EnqueueSyncResult
	err := c.call(ctx, MethodEnqueueSync, params, &result)
	return result, err
}

// WaitSync sends a wait_sync request to the daemon.
func (c *Client) WaitSync(ctx context.Context, params WaitSyncParams) (WaitSyncResult, error) {
	if err := params.Validate(); err != nil {
		return WaitSyncResult{}, fmt.Errorf("invalid params: %w", err)
	}
	var result WaitSyncResult
	err := c.call(ctx, MethodWaitSync, params, &result)
	return result, err
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context, params StatusParams) (StatusResult, error) {
	var result StatusResult
	err := c.call(ctx, MethodStatus, params, &result)
	return result, err
}

// Shutdown asks the daemon to shut down.
func (c *Client) Shutdown(ctx context.Context, reason string) (ShutdownResult, error) {
	var result ShutdownResult
	err := c.call(ctx, MethodShutdown, ShutdownParams{Reason: reason}, &result)
	return result, err
}

// call performs one request/response round trip over a fresh connection.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}

	if out == nil {
		return nil
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
