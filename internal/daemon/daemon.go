package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kevinmichaelchen/ixchel/internal/config"
	"github.com/kevinmichaelchen/ixchel/internal/embed"
	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/mdstore"
	"github.com/kevinmichaelchen/ixchel/internal/store"
	syncengine "github.com/kevinmichaelchen/ixchel/internal/sync"
)

// Version is the daemon's protocol version, returned by ping and checked
// by clients (spec.md §4.6 "incompatible_version").
const Version = "1"

// jobKey identifies one queue: a {repo_root, tool} pair (spec.md §4.6
// "One queue per {repo_root, tool}").
type jobKey struct {
	RepoRoot string
	Tool     string
}

// String is the singleflight.Group key for this queue.
func (k jobKey) String() string {
	return k.RepoRoot + "\x00" + k.Tool
}

// job is one enqueued or running sync.
type job struct {
	id        string
	key       jobKey
	directory string
	force     bool
	queuedAt  time.Time

	mu    sync.Mutex
	state SyncState
	stats *syncengine.Stats
	err   error
	done  chan struct{}
}

func newJob(id string, key jobKey, directory string, force bool) *job {
	return &job{
		id:        id,
		key:       key,
		directory: directory,
		force:     force,
		queuedAt:  time.Now(),
		state:     SyncStateQueued,
		done:      make(chan struct{}),
	}
}

func (j *job) snapshot() (SyncState, *syncengine.Stats, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	errMsg := ""
	if j.err != nil {
		errMsg = j.err.Error()
	}
	return j.state, j.stats, errMsg
}

func (j *job) setRunning() {
	j.mu.Lock()
	j.state = SyncStateRunning
	j.mu.Unlock()
}

func (j *job) finish(stats *syncengine.Stats, err error) {
	j.mu.Lock()
	j.stats = stats
	j.err = err
	if err != nil {
		j.state = SyncStateFailed
	} else {
		j.state = SyncStateDone
	}
	j.mu.Unlock()
	close(j.done)
}

// repoEngine lazily builds and caches the sync.Engine and its
// collaborators for one repo_root, owned by the daemon process for as
// long as it runs (spec.md §5 "Cache environment... Owned by the daemon
// process while running").
type repoEngine struct {
	engine *syncengine.Engine
	cache  *store.Cache
}

// Daemon owns the per-repo write serialization and sync queues described
// in spec.md §4.6. It is the RequestHandler wired into Server.
type Daemon struct {
	idGen func() string
	sched config.DaemonConfig

	started time.Time

	mu        sync.Mutex
	jobs      map[string]*job
	queued    map[jobKey]*job
	repoLocks map[string]*sync.Mutex
	engines   map[string]*repoEngine

	pool *errgroup.Group
	sf   singleflight.Group
}

// NewDaemon constructs a Daemon. sched bounds the worker pool and
// idle/shutdown policy (config.DaemonConfig, loaded per-process rather
// than per-repo since it governs the daemon itself).
func NewDaemon(sched config.DaemonConfig) *Daemon {
	pool := &errgroup.Group{}
	poolSize := sched.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool.SetLimit(poolSize)

	return &Daemon{
		idGen:     newSyncID,
		sched:     sched,
		started:   time.Now(),
		jobs:      make(map[string]*job),
		queued:    make(map[jobKey]*job),
		repoLocks: make(map[string]*sync.Mutex),
		engines:   make(map[string]*repoEngine),
		pool:      pool,
	}
}

var syncIDCounter int64

func newSyncID() string {
	syncIDCounter++
	return fmt.Sprintf("sync-%d-%d", time.Now().UnixNano(), syncIDCounter)
}

// EnqueueSync implements the enqueue_sync command.
func (d *Daemon) EnqueueSync(params EnqueueSyncParams) (EnqueueSyncResult, error) {
	if err := params.Validate(); err != nil {
		return EnqueueSyncResult{}, err
	}

	tool := params.Tool
	key := jobKey{RepoRoot: params.RepoRoot, Tool: tool}

	d.mu.Lock()
	if existing, ok := d.queued[key]; ok {
		d.mu.Unlock()
		return EnqueueSyncResult{
			SyncID:    existing.id,
			QueuedAt:  existing.queuedAt.Format(time.RFC3339Nano),
			Coalesced: true,
		}, nil
	}

	id := d.idGen()
	j := newJob(id, key, params.Directory, params.Force)
	d.jobs[id] = j
	d.queued[key] = j
	d.mu.Unlock()

	d.pool.Go(func() error {
		d.run(j)
		return nil
	})

	return EnqueueSyncResult{
		SyncID:   id,
		QueuedAt: j.queuedAt.Format(time.RFC3339Nano),
	}, nil
}

// run executes one job. The actual sync call is routed through a
// singleflight.Group keyed by {repo_root,tool}: if two jobs for the same
// key ever reach run concurrently (the enqueue-time dedup in EnqueueSync
// raced), singleflight still collapses them into a single Engine.Sync
// call and hands both callers the same result; each job keeps its own
// sync_id. Distinct {repo_root,tool} queues for the same
// repo_root are further serialized by a per-repo_root mutex (spec.md
// §4.6 "at most one writer per repo_root at any time").
func (d *Daemon) run(j *job) {
	d.mu.Lock()
	if d.queued[j.key] == j {
		delete(d.queued, j.key)
	}
	d.mu.Unlock()

	j.setRunning()

	result, err, _ := d.sf.Do(j.key.String(), func() (any, error) {
		lock := d.repoLockFor(j.key.RepoRoot)
		lock.Lock()
		defer lock.Unlock()

		re, err := d.repoEngineFor(j.key.RepoRoot)
		if err != nil {
			return nil, err
		}
		return re.engine.Sync(context.Background(), j.key.RepoRoot, syncengine.Options{
			Directory: j.directory,
			Force:     j.force,
		})
	})
	if err != nil {
		j.finish(nil, err)
		return
	}
	stats := result.(syncengine.Stats)
	j.finish(&stats, nil)
}

// repoLockFor returns the writer mutex for repoRoot, creating it on
// first use.
func (d *Daemon) repoLockFor(repoRoot string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.repoLocks[repoRoot]
	if !ok {
		lock = &sync.Mutex{}
		d.repoLocks[repoRoot] = lock
	}
	return lock
}

// repoEngineFor returns the cached engine for repoRoot, building it (and
// opening its cache) on first use.
func (d *Daemon) repoEngineFor(repoRoot string) (*repoEngine, error) {
	d.mu.Lock()
	if re, ok := d.engines[repoRoot]; ok {
		d.mu.Unlock()
		return re, nil
	}
	d.mu.Unlock()

	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("loading config for %s: %w", repoRoot, err)
	}

	cacheDir := filepath.Join(repoRoot, ".ixchel", "data", "ixchel")
	vecCfg := store.VectorStoreConfig{
		Dimensions:     cfg.Embedding.Dimension,
		Metric:         "cos",
		M:              cfg.Cache.HNSWM,
		EfConstruction: cfg.Cache.HNSWEfConstruction,
		EfSearch:       cfg.Cache.HNSWEfSearch,
	}
	cache, err := store.Open(cacheDir, vecCfg)
	if err != nil {
		return nil, fmt.Errorf("opening cache for %s: %w", repoRoot, err)
	}

	reg, err := entity.LoadRegistry(repoRoot)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("loading registries for %s: %w", repoRoot, err)
	}

	lister, err := mdstore.NewLister()
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("building lister for %s: %w", repoRoot, err)
	}

	provider, err := embed.NewProvider(cfg.Embedding)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("building embedding provider for %s: %w", repoRoot, err)
	}

	engine := syncengine.NewEngine(syncengine.Dependencies{
		Cache:    cache,
		Registry: reg,
		Lister:   lister,
		Embedder: provider,
	})

	re := &repoEngine{engine: engine, cache: cache}

	d.mu.Lock()
	if existing, ok := d.engines[repoRoot]; ok {
		d.mu.Unlock()
		_ = cache.Close()
		return existing, nil
	}
	d.engines[repoRoot] = re
	d.mu.Unlock()

	return re, nil
}

// WaitSync implements the wait_sync command: blocks until the job
// reaches a terminal state or timeoutMS elapses.
func (d *Daemon) WaitSync(ctx context.Context, params WaitSyncParams) (WaitSyncResult, error) {
	if err := params.Validate(); err != nil {
		return WaitSyncResult{}, err
	}

	d.mu.Lock()
	j, ok := d.jobs[params.SyncID]
	d.mu.Unlock()
	if !ok {
		return WaitSyncResult{}, fmt.Errorf("unknown sync_id: %s", params.SyncID)
	}

	var timeout <-chan time.Time
	if params.TimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(params.TimeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-j.done:
	case <-timeout:
	case <-ctx.Done():
	}

	state, stats, errMsg := j.snapshot()
	return WaitSyncResult{
		SyncID: j.id,
		State:  state,
		Stats:  stats,
		Reason: errMsg,
	}, nil
}

// Status implements the status command.
func (d *Daemon) Status(params StatusParams) StatusResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	byKey := make(map[jobKey]*QueueStatus)
	for _, j := range d.jobs {
		if params.RepoRoot != "" && j.key.RepoRoot != params.RepoRoot {
			continue
		}
		if params.Tool != "" && j.key.Tool != params.Tool {
			continue
		}
		q, ok := byKey[j.key]
		if !ok {
			q = &QueueStatus{RepoRoot: j.key.RepoRoot, Tool: j.key.Tool}
			byKey[j.key] = q
		}
		state, _, _ := j.snapshot()
		switch state {
		case SyncStateQueued:
			q.Queued++
		case SyncStateRunning:
			q.Running++
		}
	}

	queues := make([]QueueStatus, 0, len(byKey))
	for _, q := range byKey {
		queues = append(queues, *q)
	}

	return StatusResult{
		Running: true,
		Version: Version,
		Uptime:  time.Since(d.started).Round(time.Second).String(),
		Queues:  queues,
	}
}

// Shutdown implements the shutdown command. It returns an error unless
// the daemon's DaemonConfig.AllowShutdown is set; when it is set, it logs
// the request and returns nil. It does not stop the server or cancel
// Run: the daemon keeps running until Run's context is cancelled, a
// SIGTERM/SIGINT arrives, or the idle timeout fires.
func (d *Daemon) Shutdown(reason string) error {
	if !d.sched.AllowShutdown {
		return fmt.Errorf("shutdown not allowed")
	}
	slog.Info("daemon shutdown requested", slog.String("reason", reason))
	return nil
}

// Close waits for in-flight jobs to finish and releases per-repo caches.
func (d *Daemon) Close() error {
	_ = d.pool.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, re := range d.engines {
		if err := re.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// activeJobs counts jobs that are still queued or running, the signal
// Run's idle-timeout watchdog uses to decide whether the daemon has
// "no active queues" (spec.md §5 "the daemon exits after an idle
// timeout with no active queues").
func (d *Daemon) activeJobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, j := range d.jobs {
		state, _, _ := j.snapshot()
		if state == SyncStateQueued || state == SyncStateRunning {
			n++
		}
	}
	return n
}

// Run wires this Daemon into a Server listening on cfg.SocketPath,
// writes cfg.PIDPath, and blocks until ctx is cancelled, SIGTERM/SIGINT
// is received, or the idle-timeout watchdog fires.
func (d *Daemon) Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	pidFile := NewPIDFile(cfg.PIDPath)
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("daemon: writing pid file: %w", err)
	}
	defer pidFile.Remove()

	server, err := NewServer(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: creating server: %w", err)
	}
	server.SetHandler(d)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if d.sched.IdleTimeoutMS > 0 {
		go d.watchIdle(ctx, stop, time.Duration(d.sched.IdleTimeoutMS)*time.Millisecond)
	}

	err = server.ListenAndServe(ctx)
	closeErr := d.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return closeErr
}

// watchIdle cancels via stop once the daemon has had zero active jobs
// continuously for longer than idleTimeout.
func (d *Daemon) watchIdle(ctx context.Context, stop context.CancelFunc, idleTimeout time.Duration) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if d.activeJobs() > 0 {
				idleSince = time.Time{}
				continue
			}
			if idleSince.IsZero() {
				idleSince = now
				continue
			}
			if now.Sub(idleSince) >= idleTimeout {
				slog.Info("daemon idle timeout reached, shutting down",
					slog.Duration("idle_timeout", idleTimeout))
				stop()
				return
			}
		}
	}
}
