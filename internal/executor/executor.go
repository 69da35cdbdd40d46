// Package executor is the Command Executor (C3): the state machine that
// turns a Command into a Result by acquiring a per-execution-path mutex,
// catching up on any replication log entries it hasn't replayed yet,
// running the command against a local storage.Engine, and appending the
// outcome to the replication log before releasing the lock. It is the hub
// the other components meet at — coordination.Coordinator for locking and
// leader election, replog.Store for the log, quota.Limiter for write
// throttling, storage.Engine as the delegate.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"distributed-configstore/internal/coordination"
	"distributed-configstore/internal/quota"
	"distributed-configstore/internal/replog"
	"distributed-configstore/internal/storage"
)

// state is the executor's lifecycle, matching spec.md §4.3's diagram:
// CREATED -> STARTING -> STARTED -> (READONLY | STOPPED). READONLY can
// only be left via STOPPED; there is no recovery transition back to
// STARTED short of restarting the process.
type state int32

const (
	stateCreated state = iota
	stateStarting
	stateStarted
	stateReadOnly
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "CREATED"
	case stateStarting:
		return "STARTING"
	case stateStarted:
		return "STARTED"
	case stateReadOnly:
		return "READONLY"
	case stateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MetadataWriter is the write side of quota.MetadataService: whatever
// persists a repository's configured write quota. memengine.Engine
// implements both.
type MetadataWriter interface {
	SetQuotaConfig(project, repo string, cfg quota.QuotaConfig)
}

// Config configures a new Executor.
type Config struct {
	ReplicaID   int
	RootPath    string // coordination-service root this replica's lock/log/quota nodes hang off
	DataDir     string // local dir for the cursor file; empty disables persistence
	NumWorkers  int
	LockTimeout time.Duration // default 60s, per spec.md §4.3

	MaxLogCount     int           // Prune: keep at least this many logs regardless of age
	MinLogAgeMillis int64         // Prune: never delete a log younger than this
	PruneInterval   time.Duration // how often the leader runs Prune

	Logger *zap.Logger
	Now    func() int64 // defaults to time.Now().UnixMilli; overridable for tests
}

// Executor is the C3 implementation.
type Executor struct {
	coord      coordination.Coordinator
	logs       *replog.Store
	engine     storage.Engine
	limiter    *quota.Limiter
	metaWriter MetadataWriter

	rootPath    string
	dataDir     string
	replicaID   int
	lockTimeout time.Duration

	maxLogCount     int
	minLogAgeMillis int64
	pruneInterval   time.Duration

	log *zap.Logger
	now func() int64

	pool *pool

	state        atomic.Int32
	lastReplayed atomic.Int64
	writable     atomic.Bool
	replicating  atomic.Bool

	replayMu sync.Mutex // serializes replay/catch-up so the cursor only moves forward

	election coordination.Election
	watch    coordination.Watch

	pruneMu     sync.Mutex
	pruneCancel context.CancelFunc
}

// New builds an Executor. Start must be called before Execute.
func New(coord coordination.Coordinator, engine storage.Engine, limiter *quota.Limiter, metaWriter MetadataWriter, cfg Config) *Executor {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 60 * time.Second
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 8
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	e := &Executor{
		coord: coord, engine: engine, limiter: limiter, metaWriter: metaWriter,
		rootPath: cfg.RootPath, dataDir: cfg.DataDir, replicaID: cfg.ReplicaID,
		lockTimeout: lockTimeout, maxLogCount: cfg.MaxLogCount, minLogAgeMillis: cfg.MinLogAgeMillis,
		pruneInterval: pruneInterval, log: logger, now: now,
		pool: newPool(numWorkers),
	}
	e.logs = replog.New(coord, cfg.RootPath)
	e.state.Store(int32(stateCreated))
	return e
}

func (e *Executor) getState() state { return state(e.state.Load()) }

// ReplicaID returns this replica's configured identity, used to compare
// against a replog.Record's ReplicaID during replay.
func (e *Executor) ReplicaID() int { return e.replicaID }

// IsWritable reports whether the executor currently accepts mutating
// commands: STARTED and the last-known cluster status is writable.
func (e *Executor) IsWritable() bool {
	return e.getState() == stateStarted && e.writable.Load()
}

// IsStarted reports whether Start has completed and Stop has not yet run.
func (e *Executor) IsStarted() bool {
	s := e.getState()
	return s == stateStarted || s == stateReadOnly
}

// Start moves CREATED -> STARTING -> STARTED: it ensures the coordination
// nodes this replica's log and quota paths live under exist, loads the
// local replay cursor, begins watching the log for entries other replicas
// append, and contests leadership. onTakeLeadership/onReleaseLeadership
// are invoked synchronously from the election's own goroutine, which runs
// as soon as ElectLeader returns, so either may fire before Start itself
// has returned.
func (e *Executor) Start(onTakeLeadership, onReleaseLeadership func()) error {
	if !e.state.CompareAndSwap(int32(stateCreated), int32(stateStarting)) {
		return fmt.Errorf("executor: Start called from state %s", e.getState())
	}

	ctx := context.Background()
	if err := e.coord.CreatePersistent(ctx, e.rootPath, nil); err != nil {
		return fmt.Errorf("executor: init root: %w", err)
	}
	if err := e.coord.CreatePersistent(ctx, e.logs.LogsPath(), nil); err != nil {
		return fmt.Errorf("executor: init logs: %w", err)
	}

	cursor, err := readCursor(e.dataDir)
	if err != nil {
		return fmt.Errorf("executor: load cursor: %w", err)
	}
	e.lastReplayed.Store(cursor)

	watch, err := e.coord.WatchChildren(ctx, e.logs.LogsPath(), e.onLogChildAdded)
	if err != nil {
		return fmt.Errorf("executor: watch logs: %w", err)
	}
	e.watch = watch

	// WatchChildren only announces children that appear after this call;
	// catch up once on whatever was already there (e.g. logs written by
	// other replicas while this one was down).
	if seqs, err := e.logs.Sequences(ctx); err == nil && len(seqs) > 0 {
		e.replayUpTo(ctx, seqs[len(seqs)-1])
	}

	election, err := e.coord.ElectLeader(e.leaderPath(), func() {
		e.onTakeLeadership()
		if onTakeLeadership != nil {
			onTakeLeadership()
		}
	}, func() {
		e.onReleaseLeadership()
		if onReleaseLeadership != nil {
			onReleaseLeadership()
		}
	})
	if err != nil {
		watch.Close()
		return fmt.Errorf("executor: elect leader: %w", err)
	}
	e.election = election

	e.writable.Store(true)
	e.replicating.Store(true)
	e.state.Store(int32(stateStarted))
	return nil
}

func (e *Executor) leaderPath() string { return e.rootPath + "/leader" }

// onTakeLeadership starts the only-the-leader-prunes loop spec.md §4.2
// assigns to this replica's election callback.
func (e *Executor) onTakeLeadership() {
	e.pruneMu.Lock()
	defer e.pruneMu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	e.pruneCancel = cancel
	go e.logs.PruneLoop(ctx, e.pruneInterval, e.maxLogCount, e.minLogAgeMillis, e.now, func(err error) {
		e.log.Warn("log prune failed", zap.Error(err))
	})
}

func (e *Executor) onReleaseLeadership() {
	e.pruneMu.Lock()
	defer e.pruneMu.Unlock()
	if e.pruneCancel != nil {
		e.pruneCancel()
		e.pruneCancel = nil
	}
}

// enterReadOnly transitions STARTED -> READONLY. It is a one-way door:
// the only way out is Stop.
func (e *Executor) enterReadOnly(cause error) {
	if e.state.CompareAndSwap(int32(stateStarted), int32(stateReadOnly)) {
		e.writable.Store(false)
		e.log.Error("executor entering read-only mode", zap.Error(cause))
	}
}

// Stop tears down the watch and election, stops accepting new commands,
// and waits for in-flight ones to finish. Safe to call from STARTED or
// READONLY; a no-op if already STOPPED.
func (e *Executor) Stop() error {
	prev := state(e.state.Swap(int32(stateStopped)))
	if prev == stateStopped {
		return nil
	}
	e.writable.Store(false)
	if e.watch != nil {
		e.watch.Close()
	}
	if e.election != nil {
		e.election.Close()
	}
	e.onReleaseLeadership()
	e.pool.close()
	return nil
}

// SetWriteQuota updates (project, repo)'s quota configuration in the
// metadata service and pushes the new size to the limiter. It is a direct
// management call, not a replicated Command: the metadata service, not
// the replication log, is this cluster's source of truth for quota
// config.
func (e *Executor) SetWriteQuota(ctx context.Context, project, repo string, cfg quota.QuotaConfig) error {
	if e.metaWriter != nil {
		e.metaWriter.SetQuotaConfig(project, repo, cfg)
	}
	return e.limiter.SetWriteQuota(ctx, project, repo, cfg)
}
