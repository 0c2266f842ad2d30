package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/hytalectl/internal/archive"
	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
)

// move is swapped out by tests to inject failures.
var move = fsutil.Move

// Apply carries out a validated plan against the live tree, which must not
// be in use. It snapshots every live subtree the plan touches into a
// pre-restore directory in the backup root, unpacks the source into a
// scratch directory, replaces each touched subtree from scratch and fixes
// ownership. A live subtree is parked in scratch until its replacement is in
// place, and is put back if the replacement cannot be moved in. The scratch directory is removed on every exit path.
func (e *Engine) Apply(plan *Plan) (Result, error) {
	res := Result{Mode: plan.Mode, SourceType: plan.SourceType}
	now := e.clock()

	snapshot, err := e.snapshot(plan, now)
	if err != nil {
		return res, ops.Mutation("restore", "pre-restore snapshot failed", false, err)
	}
	res.PreRestoreSnapshotPath = snapshot

	scratch := filepath.Join(e.ServerDir, ScratchPrefix+now.Format(backups.TimeFormat))
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warningf("cannot remove scratch directory %s: %v", scratch, err)
		}
	}()

	content, err := e.unpack(plan, filepath.Join(scratch, "source"))
	if err != nil {
		return res, ops.Mutation("restore", "cannot unpack backup", false, err)
	}

	if plan.Credentials != "" && !fsutil.Exists(filepath.Join(content, backups.CredentialsFile)) {
		if err := fsutil.Copy(plan.Credentials, filepath.Join(content, backups.CredentialsFile)); err != nil {
			return res, ops.Mutation("restore", "cannot stage credentials copy", false, err)
		}
	}

	for _, rel := range plan.Touch {
		src := filepath.Join(content, filepath.FromSlash(rel))
		if !fsutil.Exists(src) {
			res.Skipped = append(res.Skipped, rel)
			continue
		}

		live := filepath.Join(e.ServerDir, filepath.FromSlash(rel))
		aside := filepath.Join(scratch, "previous", filepath.FromSlash(rel))
		parked := fsutil.Exists(live)
		if parked {
			if err := move(live, aside); err != nil {
				return res, ops.Mutation("restore", fmt.Sprintf("cannot clear %s", rel), len(res.Restored) > 0, err)
			}
		}
		if err := move(src, live); err != nil {
			if parked {
				if backErr := move(aside, live); backErr != nil {
					logger.Errorf("cannot put %s back: %v", rel, backErr)
					return res, ops.Mutation("restore", fmt.Sprintf("cannot restore %s", rel), true, fmt.Errorf("%w; putting it back failed: %v", err, backErr))
				}
			}
			return res, ops.Mutation("restore", fmt.Sprintf("cannot restore %s", rel), len(res.Restored) > 0, err)
		}
		if err := fsutil.Normalize(live, e.Owner); err != nil {
			return res, ops.Mutation("restore", fmt.Sprintf("cannot fix ownership of %s", rel), true, err)
		}
		res.Restored = append(res.Restored, rel)
		logger.Debugf("restored %s", rel)
	}

	logger.Infof("restored %v from %s (%s), skipped %v", res.Restored, plan.Name, plan.Mode, res.Skipped)
	return res, nil
}

// Restore validates and applies req in one go. Callers that run a server
// use Validate and Apply separately so the server is only stopped once the
// request is known to be good.
func (e *Engine) Restore(ctx context.Context, req Request) (Result, error) {
	plan, err := e.Validate(req)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, ops.Validation("restore", "cancelled", err)
	}
	return e.Apply(plan)
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// snapshot copies every touched live subtree into a new pre-restore
// directory, writes its metadata record and mirrors it into the store.
func (e *Engine) snapshot(plan *Plan, now time.Time) (string, error) {
	root := e.Backups.Root()
	name := backups.PreRestoreDirName(now)
	dir := filepath.Join(root, name)
	for i := 2; fsutil.Exists(dir); i++ {
		name = fmt.Sprintf("%s-%d", backups.PreRestoreDirName(now), i)
		dir = filepath.Join(root, name)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var saved []string
	for _, rel := range plan.Touch {
		live := filepath.Join(e.ServerDir, filepath.FromSlash(rel))
		if !fsutil.Exists(live) {
			continue
		}
		if err := fsutil.Copy(live, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return dir, fmt.Errorf("failed to snapshot %s: %w", rel, err)
		}
		saved = append(saved, rel)
	}

	size, _ := fsutil.Size(dir)
	meta := backups.Meta{
		Name:      name,
		Kind:      backups.KindPreRestore,
		Source:    backups.SourcePreRestore,
		Comment:   fmt.Sprintf("before %s restore from %s", plan.Mode, plan.Name),
		CreatedAt: now.UTC(),
		SizeBytes: size,
		Entries:   saved,
	}
	if err := backups.WriteMeta(dir, meta); err != nil {
		return dir, err
	}
	e.Backups.Record(meta)
	return dir, nil
}

// unpack materialises the source under scratch and returns the directory
// that holds the touched subtrees.
func (e *Engine) unpack(plan *Plan, scratch string) (string, error) {
	if err := os.MkdirAll(scratch, 0750); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	switch plan.SourceType {
	case SourceArchive:
		var err error
		if filepath.Ext(plan.Source) == backups.GameSuffix {
			err = archive.ExtractZip(plan.Source, scratch)
		} else {
			err = archive.ExtractTarGz(plan.Source, scratch)
		}
		if err != nil {
			return "", err
		}
		return filepath.Join(scratch, plan.Prefix), nil

	case SourceDirectory:
		src := filepath.Join(plan.Source, plan.Prefix)
		for _, rel := range plan.Touch {
			from := filepath.Join(src, filepath.FromSlash(rel))
			if !fsutil.Exists(from) {
				continue
			}
			if err := fsutil.Copy(from, filepath.Join(scratch, filepath.FromSlash(rel))); err != nil {
				return "", err
			}
		}
		return scratch, nil
	}
	return "", fmt.Errorf("unknown source type %q", plan.SourceType)
}
