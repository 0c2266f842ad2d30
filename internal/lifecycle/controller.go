// Package lifecycle sequences updates and restores around a server stop and
// start.
//
// Every operation runs the same state machine:
//
//	Idle -> Preparing -> Stopped -> Mutating -> Finalizing -> Idle
//
// with a detour through Recovering on any failure at or after Stopped.
// Preparing runs with the server still up and may be cancelled. Asking the
// supervisor to stop is the commit point: from there on the operation
// ignores the caller's cancellation and, if anything fails, restarts the
// server before reporting the failure.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/mutex/v2"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/config"
	"github.com/blackwell-systems/hytalectl/internal/fetch"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/preserve"
	"github.com/blackwell-systems/hytalectl/internal/restore"
	"github.com/blackwell-systems/hytalectl/internal/store"
	"github.com/blackwell-systems/hytalectl/internal/supervisor"
	"github.com/blackwell-systems/hytalectl/internal/swap"
	"github.com/blackwell-systems/hytalectl/internal/tokens"
	"github.com/blackwell-systems/hytalectl/internal/version"
)

var logger = loggo.GetLogger("hytalectl.lifecycle")

// State is a lifecycle state.
type State string

const (
	Idle       State = "idle"
	Preparing  State = "preparing"
	Stopped    State = "stopped"
	Mutating   State = "mutating"
	Finalizing State = "finalizing"
	Recovering State = "recovering"
)

// Downloader is the vendor tool: it answers the latest version and fetches
// the distribution.
type Downloader interface {
	version.Querier
	fetch.Downloader
}

// Controller owns one installation. At most one update, restore, backup or
// delete runs against it at a time, across processes.
type Controller struct {
	ServerDir  string
	StateDir   string
	Oracle     *version.Oracle
	Fetcher    *fetch.Fetcher
	Supervisor supervisor.Supervisor
	Backups    *backups.Manager
	Restorer   *restore.Engine
	Store      *store.Store
	Tokens     *tokens.Issuer

	Preserve *preserve.Set
	Control  *preserve.Control
	Markers  []string
	Owner    fsutil.Owner

	SupervisorTimeout time.Duration
	Retention         time.Duration
	MinFreeBytes      uint64

	// LockName is the machine-wide mutex name; empty disables it.
	LockName string
	Clock    clock.Clock

	slot  sync.Mutex
	mu    sync.Mutex
	state State

	swap func(stagingRoot, liveRoot, backupDir, version string) (swap.Result, error)
}

// New wires a Controller from cfg.
func New(cfg *config.Config, st *store.Store, sup supervisor.Supervisor, dl Downloader) (*Controller, error) {
	set, err := preserve.NewSet(cfg.Preserve...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse preserve list: %w", err)
	}
	owner, err := fsutil.LookupOwner(cfg.Owner.User, cfg.Owner.Group)
	if err != nil {
		return nil, err
	}
	key, err := tokens.LoadOrCreateKey(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	b := backups.New(st, cfg.BackupRoot(), cfg.ServerDir, cfg.Restore.Full)
	r := restore.New(cfg.ServerDir, b)
	r.Sets = map[restore.Mode][]string{
		restore.ModeWorld: cfg.Restore.World,
		restore.ModeFull:  cfg.Restore.Full,
	}
	r.Owner = owner

	f := fetch.New(dl)
	f.Attempts = cfg.Fetch.Attempts
	f.Backoff = cfg.Fetch.Backoff

	return &Controller{
		ServerDir:         cfg.ServerDir,
		StateDir:          cfg.StateDir,
		Oracle:            version.NewOracle(cfg.ServerDir, dl),
		Fetcher:           f,
		Supervisor:        sup,
		Backups:           b,
		Restorer:          r,
		Store:             st,
		Tokens:            tokens.New(key, cfg.TokenTTL),
		Preserve:          set,
		Control:           preserve.NewControl(cfg.ControlNames()...),
		Markers:           cfg.Markers,
		Owner:             owner,
		SupervisorTimeout: cfg.Supervisor.Timeout,
		Retention:         cfg.Retention(),
		MinFreeBytes:      cfg.MinFreeBytes,
		LockName:          LockName(cfg.ServerDir),
		Clock:             clock.WallClock,
		state:             Idle,
		swap:              swap.Swap,
	}, nil
}

// LockName derives the machine-wide mutex name for an installation.
func LockName(serverDir string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(serverDir)))
	return "hytalectl-" + hex.EncodeToString(sum[:])[:12]
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return Idle
	}
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// acquire takes the in-process slot and then the machine lock. A held lock
// is reported as ops.ErrBusy without waiting.
func (c *Controller) acquire(op string) (func(), error) {
	if !c.slot.TryLock() {
		return nil, ops.Busy(op)
	}
	if c.LockName == "" {
		return c.slot.Unlock, nil
	}

	clk := c.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	r, err := mutex.Acquire(mutex.Spec{
		Name:    c.LockName,
		Clock:   clk,
		Delay:   10 * time.Millisecond,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		c.slot.Unlock()
		if errors.Is(err, mutex.ErrTimeout) {
			return nil, ops.Busy(op)
		}
		return nil, fmt.Errorf("failed to acquire machine lock: %w", err)
	}
	return func() {
		r.Release()
		c.slot.Unlock()
	}, nil
}

// txn tracks one running operation.
type txn struct {
	c         *Controller
	op        *store.Operation
	release   func()
	committed bool
	mutated   bool
}

func (c *Controller) begin(kind string) (*txn, error) {
	release, err := c.acquire(kind)
	if err != nil {
		return nil, err
	}
	t := &txn{
		c:       c,
		release: release,
		op: &store.Operation{
			ID:        uuid.NewString(),
			Kind:      kind,
			StartedAt: c.now().UTC(),
			State:     string(Preparing),
		},
	}
	if c.Store != nil {
		if err := c.Store.InsertOperation(t.op); err != nil {
			logger.Warningf("cannot record %s operation: %v", kind, err)
		}
	}
	t.enter(Preparing)
	return t, nil
}

// enter moves the controller to s. Idle is not recorded: the operation row
// keeps the furthest state the operation reached.
func (t *txn) enter(s State) {
	t.c.setState(s)
	logger.Debugf("%s %s: %s", t.op.Kind, t.op.ID, s)
	if s == Idle {
		return
	}
	t.op.State = string(s)
	if t.c.Store != nil {
		if err := t.c.Store.UpdateOperationState(t.op.ID, string(s), t.mutated); err != nil {
			logger.Debugf("cannot record state %s: %v", s, err)
		}
	}
}

// stop is the commit point. From here on failures go through Recovering,
// whether or not the stop itself succeeded.
func (t *txn) stop() error {
	t.committed = true
	if err := t.c.supervise(context.Background(), "stop", t.c.Supervisor.Stop); err != nil {
		return ops.Mutation(t.op.Kind, "cannot stop server", false, err)
	}
	t.enter(Stopped)
	return nil
}

// finish runs recovery when needed, records the outcome and releases the
// lock. It returns err, joined with any recovery failure.
func (t *txn) finish(err error) error {
	defer t.release()

	if err != nil && t.committed {
		t.enter(Recovering)
		if rerr := t.c.recoverServer(); rerr != nil {
			logger.Errorf("recovery failed: %v", rerr)
			err = errors.Join(err, rerr)
		}
	}
	if ops.WasMutated(err) {
		t.mutated = true
	}

	now := t.c.now().UTC()
	t.op.FinishedAt = &now
	t.op.Mutated = t.mutated
	if err != nil {
		t.op.Reason = ops.Reason(err)
		t.op.Error = err.Error()
		logger.Errorf("%s failed in %s: %v", t.op.Kind, t.op.State, err)
	}
	if t.c.Store != nil {
		if ferr := t.c.Store.FinishOperation(t.op); ferr != nil {
			logger.Warningf("cannot record end of %s: %v", t.op.Kind, ferr)
		}
	}
	t.enter(Idle)
	return err
}

// supervise runs one supervisor call under the configured timeout.
func (c *Controller) supervise(ctx context.Context, what string, call func(context.Context) error) error {
	timeout := c.SupervisorTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := call(ctx); err != nil {
		return fmt.Errorf("failed to %s server: %w", what, err)
	}
	return nil
}

func (c *Controller) status(ctx context.Context) (supervisor.Status, error) {
	var st supervisor.Status
	err := c.supervise(ctx, "query", func(ctx context.Context) error {
		var err error
		st, err = c.Supervisor.Status(ctx)
		return err
	})
	return st, err
}

// recoverServer starts the server from whatever state the tree is in and
// confirms it is running.
func (c *Controller) recoverServer() error {
	ctx := context.Background()
	startErr := c.supervise(ctx, "start", c.Supervisor.Start)

	st, err := c.status(ctx)
	switch {
	case err != nil:
		return errors.Join(startErr, err)
	case !st.Running:
		return errors.Join(startErr, fmt.Errorf("server is %s after recovery", st.State))
	}
	if startErr != nil {
		logger.Warningf("start reported %v but the server is running", startErr)
	}
	logger.Infof("server recovered (pid %d)", st.PID)
	return nil
}

// startServer is the last Finalizing step.
func (c *Controller) startServer(kind string) error {
	if err := c.supervise(context.Background(), "start", c.Supervisor.Start); err != nil {
		return ops.Mutation(kind, "cannot start server", true, err)
	}
	return nil
}

// cleanEphemeral removes every .update_* and .restore_* entry in the server
// directory.
func (c *Controller) cleanEphemeral() {
	entries, err := os.ReadDir(c.ServerDir)
	if err != nil {
		logger.Warningf("cannot list %s: %v", c.ServerDir, err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, preserve.UpdatePrefix) && !strings.HasPrefix(name, preserve.RestorePrefix) {
			continue
		}
		if name == config.AutoUpdateFlag {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.ServerDir, name)); err != nil {
			logger.Warningf("cannot remove %s: %v", name, err)
		}
	}
}

// prune applies retention after a successful operation.
func (c *Controller) prune() {
	if c.Retention <= 0 {
		return
	}
	removed, err := c.Backups.Prune(c.Retention)
	if err != nil {
		logger.Warningf("retention failed: %v", err)
	}
	if len(removed) > 0 {
		logger.Infof("retention removed %v", removed)
	}
}
