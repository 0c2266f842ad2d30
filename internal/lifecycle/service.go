package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/config"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/store"
	"github.com/blackwell-systems/hytalectl/internal/supervisor"
	"github.com/blackwell-systems/hytalectl/internal/tokens"
	"github.com/blackwell-systems/hytalectl/internal/version"
)

// CreateBackup archives the server while it keeps running.
func (c *Controller) CreateBackup(ctx context.Context, label, comment string) (*backups.Backup, error) {
	return c.createBackup(ctx, label, comment, backups.SourceManual)
}

// CreateScheduledBackup is CreateBackup for cron and timers.
func (c *Controller) CreateScheduledBackup(ctx context.Context, label, comment string) (*backups.Backup, error) {
	return c.createBackup(ctx, label, comment, backups.SourceScheduled)
}

func (c *Controller) createBackup(ctx context.Context, label, comment, source string) (*backups.Backup, error) {
	t, err := c.begin("backup")
	if err != nil {
		return nil, err
	}

	b, err := func() (*backups.Backup, error) {
		if err := ctx.Err(); err != nil {
			return nil, ops.Transient("backup", "backup cancelled", err)
		}
		dir := c.Backups.Root()
		if !fsutil.Exists(dir) {
			dir = c.ServerDir
		}
		if err := fsutil.EnsureFree(dir, c.MinFreeBytes); err != nil {
			return nil, ops.Validation("backup", "insufficient disk space", err)
		}
		b, err := c.Backups.Create(label, comment, source)
		if err != nil {
			if errors.Is(err, ops.ErrValidation) {
				return nil, err
			}
			return nil, ops.Mutation("backup", "cannot create backup", false, err)
		}
		t.op.BackupPath = b.Name
		return b, nil
	}()
	return b, t.finish(err)
}

// ListBackups returns every artifact in the backup root, newest first.
func (c *Controller) ListBackups() ([]*backups.Backup, error) {
	return c.Backups.List()
}

// DeleteBackup removes one artifact. It is rejected while another
// operation holds the installation.
func (c *Controller) DeleteBackup(name string) error {
	t, err := c.begin("delete")
	if err != nil {
		return err
	}
	t.op.BackupPath = name
	return t.finish(c.Backups.Delete(name))
}

// BackupToken issues a confirmation token for CreateBackup.
func (c *Controller) BackupToken() string {
	return c.Tokens.Issue(tokens.ScopeBackup)
}

// RestoreToken issues a confirmation token for restoring name. The backup
// must exist.
func (c *Controller) RestoreToken(name string) (string, error) {
	if _, err := c.Backups.Get(name); err != nil {
		return "", err
	}
	return c.Tokens.Issue(tokens.RestoreScope(name)), nil
}

// VerifyBackupToken checks a token from BackupToken.
func (c *Controller) VerifyBackupToken(token string) error {
	return c.Tokens.Verify(tokens.ScopeBackup, token)
}

// VerifyRestoreToken checks a token from RestoreToken for name.
func (c *Controller) VerifyRestoreToken(name, token string) error {
	return c.Tokens.Verify(tokens.RestoreScope(name), token)
}

// Status is the dashboard summary.
type Status struct {
	State      State             `json:"state"`
	Server     supervisor.Status `json:"server"`
	ServerErr  string            `json:"server_error,omitempty"`
	Version    version.Info      `json:"version"`
	Disk       fsutil.DiskUsage  `json:"disk"`
	Backups    int               `json:"backups"`
	AutoUpdate bool              `json:"auto_update"`
}

// Status reports server, version, disk and backup state. It uses the cached
// version markers and never runs the downloader.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:   c.State(),
		Version: c.Oracle.Cached(),
		Backups: c.Backups.Count(),
	}
	st.AutoUpdate, _ = c.AutoUpdateArmed()

	server, err := c.status(ctx)
	if err != nil {
		st.ServerErr = err.Error()
	} else {
		st.Server = server
	}

	disk, err := fsutil.Usage(c.ServerDir)
	if err != nil {
		return st, err
	}
	st.Disk = disk
	return st, nil
}

// History returns recent operations, newest first.
func (c *Controller) History(limit int) ([]*store.Operation, error) {
	if c.Store == nil {
		return nil, nil
	}
	return c.Store.ListOperations(limit)
}

func (c *Controller) flagPath() string {
	return filepath.Join(c.ServerDir, config.AutoUpdateFlag)
}

// SetAutoUpdate arms or disarms an update after the next backup. Arming
// records the current archive count.
func (c *Controller) SetAutoUpdate(on bool) error {
	if !on {
		if err := os.Remove(c.flagPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to disarm auto-update: %w", err)
		}
		return nil
	}
	count := c.Backups.Count()
	if err := fsutil.WriteFileAtomic(c.flagPath(), []byte(strconv.Itoa(count)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to arm auto-update: %w", err)
	}
	logger.Infof("auto-update armed at %d backups", count)
	return nil
}

// AutoUpdateArmed reports whether auto-update is armed and the archive
// count recorded when it was.
func (c *Controller) AutoUpdateArmed() (bool, int) {
	data, err := os.ReadFile(c.flagPath())
	if err != nil {
		return false, 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// An unreadable count still means armed; any new backup fires it.
		return true, 0
	}
	return true, n
}

// TriggerAutoUpdate runs the armed update once a new backup has appeared.
// It reports whether an update was started. The flag is cleared once the
// update has run, but stays armed when the update was refused or failed
// before the server was touched.
func (c *Controller) TriggerAutoUpdate(ctx context.Context) (bool, UpdateResult, error) {
	armed, at := c.AutoUpdateArmed()
	if !armed {
		return false, UpdateResult{}, nil
	}
	if now := c.Backups.Count(); now <= at {
		logger.Debugf("auto-update waiting: %d backups, armed at %d", now, at)
		return false, UpdateResult{}, nil
	}
	logger.Infof("new backup found, starting armed update")
	res, err := c.RunUpdate(ctx)
	if err != nil && (errors.Is(err, ops.ErrBusy) || ops.IsSafeToRetry(err)) {
		// Nothing was installed; the next check tries again.
		logger.Warningf("armed update did not run, staying armed: %v", err)
		return true, res, err
	}
	if derr := c.SetAutoUpdate(false); derr != nil {
		if err == nil {
			err = derr
		} else {
			logger.Warningf("cannot disarm auto-update: %v", derr)
		}
	}
	return true, res, err
}
