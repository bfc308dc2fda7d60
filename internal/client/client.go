// Package client implements the Client Binding (spec.md §5): the
// decision of whether a given operation talks to the Background Daemon
// or falls back to running the Sync Engine or Query Surface in-process.
//
// Writes (Sync) prefer the daemon, auto-spawning ixcheld on demand, and
// fall back to a direct in-process sync.Engine call guarded by
// internal/cachelock when the daemon cannot be reached. Reads (Search,
// Graph, Context, Check) never go through the daemon's RPC socket at
// all — they open the cache read-only and run the Query Surface
// in-process, so they can never block on, or be blocked by, the
// daemon's writer (spec.md §5 "Search and read queries must not block
// on writers").
package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kevinmichaelchen/ixchel/internal/cachelock"
	"github.com/kevinmichaelchen/ixchel/internal/config"
	"github.com/kevinmichaelchen/ixchel/internal/daemon"
	"github.com/kevinmichaelchen/ixchel/internal/embed"
	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
	"github.com/kevinmichaelchen/ixchel/internal/mdstore"
	"github.com/kevinmichaelchen/ixchel/internal/query"
	"github.com/kevinmichaelchen/ixchel/internal/store"
	syncengine "github.com/kevinmichaelchen/ixchel/internal/sync"
)

// tool identifies this binding to the daemon's per-{repo_root,tool}
// queue (spec.md §4.6).
const tool = "ixchel-cli"

// Client is the single entry point callers (the ixchel CLI, or an
// embedding host) use for both writes and reads against one repo.
type Client struct {
	repoRoot  string
	cfg       *config.Config
	daemonCfg daemon.Config
}

// New loads the layered configuration for repoRoot and returns a Client
// bound to it.
func New(repoRoot string) (*Client, error) {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("client: loading config: %w", err)
	}
	return &Client{
		repoRoot:  repoRoot,
		cfg:       cfg,
		daemonCfg: daemon.DefaultConfig(),
	}, nil
}

func (c *Client) cacheDir() string {
	return filepath.Join(c.repoRoot, ".ixchel", "data", "ixchel")
}

func (c *Client) vectorStoreConfig() store.VectorStoreConfig {
	return store.VectorStoreConfig{
		Dimensions:     c.cfg.Embedding.Dimension,
		Metric:         "cos",
		M:              c.cfg.Cache.HNSWM,
		EfConstruction: c.cfg.Cache.HNSWEfConstruction,
		EfSearch:       c.cfg.Cache.HNSWEfSearch,
	}
}

// Sync runs the Sync Engine for repoRoot, preferring the daemon
// (auto-spawning it when config.DaemonConfig.AutoStart is set) and
// falling back to an in-process run guarded by internal/cachelock when
// the daemon is unreachable.
func (c *Client) Sync(ctx context.Context, opts syncengine.Options) (syncengine.Stats, error) {
	dc := daemon.NewClient(c.daemonCfg)

	if !dc.IsRunning() {
		if err := c.ensureDaemon(ctx, dc); err != nil {
			return c.syncDirect(ctx, opts)
		}
	}

	enqueued, err := dc.EnqueueSync(ctx, daemon.EnqueueSyncParams{
		RepoRoot:  c.repoRoot,
		Tool:      tool,
		Directory: opts.Directory,
		Force:     opts.Force,
	})
	if err != nil {
		return c.syncDirect(ctx, opts)
	}

	result, err := c.waitForSync(ctx, dc, enqueued.SyncID)
	if err != nil {
		return syncengine.Stats{}, err
	}
	if result.State == daemon.SyncStateFailed {
		return syncengine.Stats{}, fmt.Errorf("sync failed: %s", result.Reason)
	}
	if result.Stats == nil {
		return syncengine.Stats{}, fmt.Errorf("sync: daemon returned no stats")
	}
	return *result.Stats, nil
}

// waitForSync polls wait_sync in bounded chunks so ctx cancellation is
// honored even though one wait_sync call can itself block for
// timeout_ms.
func (c *Client) waitForSync(ctx context.Context, dc *daemon.Client, syncID string) (daemon.WaitSyncResult, error) {
	const pollChunk = 2 * time.Second
	for {
		result, err := dc.WaitSync(ctx, daemon.WaitSyncParams{SyncID: syncID, TimeoutMS: pollChunk.Milliseconds()})
		if err != nil {
			return daemon.WaitSyncResult{}, fmt.Errorf("client: wait_sync: %w", err)
		}
		if result.State == daemon.SyncStateDone || result.State == daemon.SyncStateFailed {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return daemon.WaitSyncResult{}, ctx.Err()
		default:
		}
	}
}

// syncDirect runs the Sync Engine in-process, proving exclusivity with
// cachelock.WriterLock first (spec.md §5's direct-mode fallback
// guarantee).
func (c *Client) syncDirect(ctx context.Context, opts syncengine.Options) (syncengine.Stats, error) {
	lock := cachelock.New(c.cacheDir())
	acquired, err := lock.TryLock()
	if err != nil {
		return syncengine.Stats{}, fmt.Errorf("client: acquiring writer lock: %w", err)
	}
	if !acquired {
		return syncengine.Stats{}, fmt.Errorf("client: daemon unreachable and another process holds the writer lock for %s", c.repoRoot)
	}
	defer lock.Unlock()

	cache, err := store.Open(c.cacheDir(), c.vectorStoreConfig())
	if err != nil {
		return syncengine.Stats{}, fmt.Errorf("client: opening cache: %w", err)
	}
	defer cache.Close()

	reg, err := entity.LoadRegistry(c.repoRoot)
	if err != nil {
		return syncengine.Stats{}, fmt.Errorf("client: loading registries: %w", err)
	}

	lister, err := mdstore.NewLister()
	if err != nil {
		return syncengine.Stats{}, fmt.Errorf("client: building lister: %w", err)
	}

	provider, err := embed.NewProvider(c.cfg.Embedding)
	if err != nil {
		return syncengine.Stats{}, fmt.Errorf("client: building embedding provider: %w", err)
	}

	engine := syncengine.NewEngine(syncengine.Dependencies{
		Cache:    cache,
		Registry: reg,
		Lister:   lister,
		Embedder: provider,
	})
	return engine.Sync(ctx, c.repoRoot, opts)
}

// ensureDaemon auto-spawns ixcheld and reconnects via ixerr.Retry's
// exponential backoff, grounded on the teacher's daemon-start-in-
// background poll-until-connected loop. Unlike the teacher (a single
// binary that re-executes itself with "daemon start --foreground"),
// ixcheld is a separate binary the client locates on PATH.
func (c *Client) ensureDaemon(ctx context.Context, dc *daemon.Client) error {
	if !c.cfg.Daemon.AutoStart {
		return fmt.Errorf("client: daemon not running and auto_start is disabled")
	}

	if err := c.daemonCfg.EnsureDirs(); err != nil {
		return fmt.Errorf("client: preparing daemon directories: %w", err)
	}

	binPath, err := exec.LookPath("ixcheld")
	if err != nil {
		return fmt.Errorf("client: ixcheld not found on PATH: %w", err)
	}

	cmd := exec.Command(binPath, "start", "--foreground")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("client: starting ixcheld: %w", err)
	}

	// waitCtx is cancelled either by the caller's ctx or by the exit
	// watcher below, so ixerr.Retry's polling loop aborts immediately
	// instead of burning through its remaining attempts once the child
	// has already died.
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	var exitErr error
	go func() {
		exitErr = cmd.Wait()
		cancelWait()
	}()

	retries := c.cfg.Daemon.ConnectRetries
	if retries <= 0 {
		retries = 5
	}

	retryCfg := ixerr.RetryConfig{
		MaxRetries:   retries,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}

	retryErr := ixerr.Retry(waitCtx, retryCfg, func() error {
		if dc.IsRunning() {
			return nil
		}
		return fmt.Errorf("ixcheld not yet accepting connections")
	})
	if retryErr == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitCtx.Err() != nil {
		if exitErr != nil {
			return fmt.Errorf("client: ixcheld exited before accepting connections: %w", exitErr)
		}
		return fmt.Errorf("client: ixcheld exited before accepting connections")
	}
	return fmt.Errorf("client: ixcheld did not come up after %d retries: %w", retries, retryErr)
}

// queryEngine opens the cache read-only and builds a query.Engine over
// it. Callers must Close the returned cache when done.
func (c *Client) queryEngine() (*query.Engine, *store.Cache, error) {
	cache, err := store.OpenReadOnly(c.cacheDir(), c.vectorStoreConfig())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("client: no cache found for %s; run sync first", c.repoRoot)
		}
		return nil, nil, fmt.Errorf("client: opening cache read-only: %w", err)
	}

	reg, err := entity.LoadRegistry(c.repoRoot)
	if err != nil {
		cache.Close()
		return nil, nil, fmt.Errorf("client: loading registries: %w", err)
	}

	lister, err := mdstore.NewLister()
	if err != nil {
		cache.Close()
		return nil, nil, fmt.Errorf("client: building lister: %w", err)
	}

	provider, err := embed.NewProvider(c.cfg.Embedding)
	if err != nil {
		cache.Close()
		return nil, nil, fmt.Errorf("client: building embedding provider: %w", err)
	}

	return query.NewEngine(c.repoRoot, cache, provider, reg, lister), cache, nil
}

// Search runs the Query Surface's semantic search directly against the
// read-only cache.
func (c *Client) Search(ctx context.Context, opts query.SearchOptions) ([]query.SearchHit, error) {
	qe, cache, err := c.queryEngine()
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	return qe.Search(ctx, opts)
}

// Graph runs the Query Surface's bounded BFS expansion.
func (c *Client) Graph(ctx context.Context, opts query.GraphOptions) (query.GraphResult, error) {
	qe, cache, err := c.queryEngine()
	if err != nil {
		return query.GraphResult{}, err
	}
	defer cache.Close()
	return qe.Graph(ctx, opts)
}

// Context builds a one-hop context pack for opts.EntityID.
func (c *Client) Context(ctx context.Context, opts query.ContextOptions) (query.ContextPack, error) {
	qe, cache, err := c.queryEngine()
	if err != nil {
		return query.ContextPack{}, err
	}
	defer cache.Close()
	return qe.Context(ctx, opts)
}

// Check runs the read-only revalidation pass over the whole repo.
func (c *Client) Check(ctx context.Context) (query.CheckReport, error) {
	qe, cache, err := c.queryEngine()
	if err != nil {
		return query.CheckReport{}, err
	}
	defer cache.Close()
	return qe.Check(ctx)
}
