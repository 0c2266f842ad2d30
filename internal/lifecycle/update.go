package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/hytalectl/internal/archive"
	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/preserve"
	"github.com/blackwell-systems/hytalectl/internal/staging"
	"github.com/blackwell-systems/hytalectl/internal/swap"
	"github.com/blackwell-systems/hytalectl/internal/version"
)

// UpdateResult reports what RunUpdate did.
type UpdateResult struct {
	Updated   bool         `json:"updated"`
	Previous  string       `json:"previous_version"`
	Version   version.Info `json:"version"`
	BackupDir string       `json:"backup_dir,omitempty"`
	Replaced  []string     `json:"replaced,omitempty"`
	Added     []string     `json:"added,omitempty"`
}

// downloadsDir holds fetched distributions, keyed by version, outside the
// server tree.
const downloadsDir = "downloads"

func (c *Controller) downloadPath(v string) string {
	return filepath.Join(c.StateDir, downloadsDir, "hytale-"+v+".zip")
}

// CheckVersion queries the latest version and compares it with the
// installed one. It never touches the installation tree beyond the latest
// version marker.
func (c *Controller) CheckVersion(ctx context.Context) version.Info {
	return c.Oracle.Check(ctx)
}

// RunUpdate brings the installation to the latest version. When it is
// already current nothing is fetched and the server is not touched.
func (c *Controller) RunUpdate(ctx context.Context) (UpdateResult, error) {
	t, err := c.begin("update")
	if err != nil {
		return UpdateResult{}, err
	}

	res, err := c.runUpdate(ctx, t)
	return res, t.finish(err)
}

func (c *Controller) runUpdate(ctx context.Context, t *txn) (UpdateResult, error) {
	info := c.Oracle.Check(ctx)
	res := UpdateResult{Previous: info.Current, Version: info}
	t.op.FromVersion = info.Current
	t.op.ToVersion = info.Latest

	switch {
	case info.Latest == version.Unknown:
		return res, ops.Transient("update", "latest version unknown", nil)
	case info.Verdict == version.UpToDate:
		logger.Infof("already at %s, nothing to do", info.Current)
		return res, nil
	}
	logger.Infof("updating %s -> %s", info.Current, info.Latest)

	if c.MinFreeBytes > 0 {
		if err := fsutil.EnsureFree(c.ServerDir, c.MinFreeBytes); err != nil {
			return res, ops.Validation("update", "insufficient disk space", err)
		}
	}

	// Preparing: the server keeps running and the live tree is only read.
	stamp := c.now().Format(backups.TimeFormat)
	extractRoot := filepath.Join(c.ServerDir, preserve.UpdatePrefix+"extract_"+stamp)
	stagingRoot := filepath.Join(c.ServerDir, preserve.UpdatePrefix+"staging_"+stamp)
	defer func() {
		for _, dir := range []string{extractRoot, stagingRoot} {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warningf("cannot remove %s: %v", dir, err)
			}
		}
	}()

	dl := c.downloadPath(info.Latest)
	if c.Fetcher.Cached(dl) {
		logger.Infof("using cached download %s", dl)
	} else {
		if err := os.MkdirAll(filepath.Dir(dl), 0750); err != nil {
			return res, ops.Transient("update", "cannot create download directory", err)
		}
		if err := c.Fetcher.FetchArchive(ctx, dl); err != nil {
			return res, err
		}
	}

	size, err := archive.UncompressedSize(dl)
	if err != nil {
		return res, ops.Validation("update", "malformed archive", err)
	}
	// Extraction and staging each hold a full copy.
	if err := fsutil.EnsureFree(c.ServerDir, 2*size); err != nil {
		return res, ops.Validation("update", "insufficient disk space", err)
	}

	if err := archive.ExtractZip(dl, extractRoot); err != nil {
		return res, ops.Validation("update", "malformed archive", err)
	}
	plan := staging.Plan{
		ExtractRoot: extractRoot,
		LiveRoot:    c.ServerDir,
		StagingRoot: stagingRoot,
		Preserve:    c.Preserve,
		Control:     c.Control,
		Markers:     c.Markers,
	}
	if _, err := staging.Build(plan); err != nil {
		return res, err
	}
	if err := os.RemoveAll(extractRoot); err != nil {
		logger.Warningf("cannot remove %s: %v", extractRoot, err)
	}

	if err := ctx.Err(); err != nil {
		return res, ops.Transient("update", "update cancelled", err)
	}

	// Commit.
	if err := t.stop(); err != nil {
		return res, err
	}

	t.enter(Mutating)
	// The server saves on the way down, so the staged preserved data taken
	// while it ran is stale by now.
	if _, err := staging.Overlay(plan); err != nil {
		return res, err
	}
	backupDir := filepath.Join(c.Backups.Root(), backups.UpdateDirName(c.now()))
	t.op.BackupPath = backupDir
	swapFn := c.swap
	if swapFn == nil {
		swapFn = swap.Swap
	}
	sw, err := swapFn(stagingRoot, c.ServerDir, backupDir, info.Current)
	res.BackupDir, res.Replaced, res.Added = sw.BackupDir, sw.Replaced, sw.Added
	t.mutated = sw.Mutated()
	if meta, merr := backups.ReadMeta(backupDir); merr == nil {
		c.Backups.Record(meta)
	}
	if err != nil {
		return res, err
	}
	for _, name := range append(append([]string(nil), sw.Replaced...), sw.Added...) {
		if err := fsutil.Normalize(filepath.Join(c.ServerDir, name), c.Owner); err != nil {
			return res, ops.Mutation("update", fmt.Sprintf("cannot fix ownership of %s", name), true, err)
		}
	}

	t.enter(Finalizing)
	if err := c.Oracle.Markers.SetInstalled(info.Latest); err != nil {
		return res, ops.Mutation("update", "cannot write installed version", true, err)
	}
	c.cleanEphemeral()
	if err := os.Remove(dl); err != nil {
		logger.Debugf("cannot remove download %s: %v", dl, err)
	}
	c.prune()
	if err := c.startServer("update"); err != nil {
		return res, err
	}

	res.Updated = true
	res.Version.Current = info.Latest
	res.Version.Verdict = version.UpToDate
	logger.Infof("updated to %s; previous files in %s", info.Latest, backupDir)
	return res, nil
}
