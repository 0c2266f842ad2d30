package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/loggo"

	"github.com/blackwell-systems/hytalectl/internal/lifecycle"
)

var logger = loggo.GetLogger("hytalectl.watcher")

const (
	// DefaultDebounce is how long the backup root must stay quiet before a
	// burst of archive events is acted on.
	DefaultDebounce = 5 * time.Second
	// DefaultRescan is the interval of the fallback check.
	DefaultRescan = 5 * time.Minute
)

// Trigger runs an armed update if a new backup has appeared.
// *lifecycle.Controller implements it.
type Trigger interface {
	TriggerAutoUpdate(ctx context.Context) (bool, lifecycle.UpdateResult, error)
}

// Watcher watches the backup root and fires the armed auto-update once a
// new archive lands.
type Watcher struct {
	dir     string
	trigger Trigger

	Debounce time.Duration
	Rescan   time.Duration

	fsw      *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Watcher for the backup root dir.
func New(dir string, trigger Trigger) (*Watcher, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("backup directory cannot be empty")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		trigger:  trigger,
		Debounce: DefaultDebounce,
		Rescan:   DefaultRescan,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins watching. It runs one check immediately so a backup taken
// while nothing was watching still fires the update.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.fsw = fsw

	w.check("startup")

	w.wg.Add(1)
	go w.loop()
	logger.Infof("watching %s", w.dir)
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	rescan := time.NewTicker(w.Rescan)
	defer rescan.Stop()

	// pending is non-nil while a debounce window is open.
	var pending <-chan time.Time
	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if IsArchiveEvent(ev) {
				logger.Debugf("archive event: %s", ev)
				pending = time.After(w.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warningf("watch error: %v", err)

		case <-pending:
			pending = nil
			w.check("new archive")

		case <-rescan.C:
			w.check("rescan")
		}
	}
}

// check asks the trigger whether to update. Failures are logged; the
// watcher keeps running.
func (w *Watcher) check(why string) {
	fired, res, err := w.trigger.TriggerAutoUpdate(w.ctx)
	switch {
	case err != nil:
		logger.Errorf("auto-update (%s) failed: %v", why, err)
	case fired && res.Updated:
		logger.Infof("auto-update (%s) installed %s", why, res.Version.Current)
	case fired:
		logger.Infof("auto-update (%s): server already current", why)
	}
}

// Stop halts the watcher and waits for a running check to return. It is
// safe to call before Start and more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		if w.fsw != nil {
			err = w.fsw.Close()
		}
		w.wg.Wait()
	})
	return err
}
