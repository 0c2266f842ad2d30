// Package swap moves a staged installation tree into place entry by entry,
// parking every live entry it replaces in an update backup directory.
package swap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/juju/loggo"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
)

var logger = loggo.GetLogger("hytalectl.swap")

// Result lists what a swap did, in order.
type Result struct {
	BackupDir string
	Replaced  []string // live entries moved into BackupDir, then replaced
	Added     []string // staged entries with no live counterpart
}

// Mutated reports whether the live tree was changed.
func (r Result) Mutated() bool {
	return len(r.Replaced) > 0 || len(r.Added) > 0
}

// move is swapped out by tests to inject failures.
var move = fsutil.Move

// Swap moves every top-level entry of stagingRoot into liveRoot, in sorted
// order. A live entry of the same name is first moved into backupDir.
// Nothing is deleted. On failure the swap stops, the partial Result is
// returned with an ops.ErrMutation error and backupDir is kept for manual
// recovery. version is the installed version being replaced and goes into
// the backup's metadata record.
//
// If moving a staged entry fails after its live counterpart was parked, the
// parked entry is moved back so that name is left as it was.
func Swap(stagingRoot, liveRoot, backupDir, version string) (Result, error) {
	res := Result{BackupDir: backupDir}

	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		return res, ops.Mutation("swap", "staging tree unreadable", false, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if err := os.MkdirAll(backupDir, 0750); err != nil {
		return res, ops.Mutation("swap", "cannot create update backup directory", false, err)
	}

	for _, name := range names {
		live := filepath.Join(liveRoot, name)
		staged := filepath.Join(stagingRoot, name)

		replacing := fsutil.Exists(live)
		if replacing {
			if err := move(live, filepath.Join(backupDir, name)); err != nil {
				writeMeta(res, version)
				return res, ops.Mutation("swap", fmt.Sprintf("failed to back up %s", name), res.Mutated(), err)
			}
		}

		if err := move(staged, live); err != nil {
			if replacing {
				if backErr := move(filepath.Join(backupDir, name), live); backErr != nil {
					logger.Errorf("cannot put %s back: %v", name, backErr)
					res.Replaced = append(res.Replaced, name)
				}
			}
			writeMeta(res, version)
			return res, ops.Mutation("swap", fmt.Sprintf("failed to move %s into place", name), res.Mutated(), err)
		}

		if replacing {
			res.Replaced = append(res.Replaced, name)
		} else {
			res.Added = append(res.Added, name)
		}
		logger.Debugf("swapped %s (replaced=%v)", name, replacing)
	}

	writeMeta(res, version)
	logger.Infof("swap complete: %d replaced, %d added", len(res.Replaced), len(res.Added))
	return res, nil
}

func writeMeta(res Result, version string) {
	size, _ := fsutil.Size(res.BackupDir)
	meta := backups.Meta{
		Name:      filepath.Base(res.BackupDir),
		Kind:      backups.KindUpdate,
		Source:    backups.SourceUpdate,
		CreatedAt: time.Now().UTC(),
		SizeBytes: size,
		Version:   version,
		Entries:   res.Replaced,
	}
	if err := backups.WriteMeta(res.BackupDir, meta); err != nil {
		logger.Warningf("cannot write update backup metadata: %v", err)
	}
}
