package lifecycle

import (
	"context"

	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/restore"
)

// RestoreBackup restores name in mode. The request is validated while the
// server is still running; a bad request never stops it.
func (c *Controller) RestoreBackup(ctx context.Context, name string, mode restore.Mode, includeServerState bool) (restore.Result, error) {
	t, err := c.begin("restore")
	if err != nil {
		return restore.Result{}, err
	}
	t.op.BackupPath = name

	res, err := c.restore(ctx, t, restore.Request{Name: name, Mode: mode, IncludeServerState: includeServerState})
	return res, t.finish(err)
}

func (c *Controller) restore(ctx context.Context, t *txn, req restore.Request) (restore.Result, error) {
	plan, err := c.Restorer.Validate(req)
	if err != nil {
		return restore.Result{}, err
	}
	t.op.FromVersion = c.Oracle.CurrentVersion()

	if err := ctx.Err(); err != nil {
		return restore.Result{}, ops.Transient("restore", "restore cancelled", err)
	}

	if err := t.stop(); err != nil {
		return restore.Result{}, err
	}

	t.enter(Mutating)
	res, err := c.Restorer.Apply(plan)
	if len(res.Restored) > 0 || ops.WasMutated(err) {
		t.mutated = true
	}
	if err != nil {
		return res, err
	}

	t.enter(Finalizing)
	c.cleanEphemeral()
	if err := c.startServer("restore"); err != nil {
		return res, err
	}
	logger.Infof("restored %s (%s); previous state in %s", req.Name, req.Mode, res.PreRestoreSnapshotPath)
	return res, nil
}
