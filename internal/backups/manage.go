package backups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/store"
)

// DefaultRetention is how long archives and update backups are kept.
const DefaultRetention = 14 * 24 * time.Hour

// List returns every artifact in the backup root, newest first. Metadata is
// merged in when present; otherwise creation time falls back to mtime.
func (m *Manager) List() ([]*Backup, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []*Backup
	for _, e := range entries {
		b, ok, err := m.load(e.Name())
		if err != nil {
			logger.Warningf("skipping %s: %v", e.Name(), err)
			continue
		}
		if ok {
			out = append(out, b)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Get returns the named artifact. name must be a bare entry of the backup
// root.
func (m *Manager) Get(name string) (*Backup, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	b, ok, err := m.load(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ops.Validation("backup", "backup not found", fmt.Errorf("%s: %w", name, err))
		}
		return nil, err
	}
	if !ok {
		return nil, ops.Validation("backup", "not a backup", fmt.Errorf("%s is not a backup artifact", name))
	}
	return b, nil
}

// ValidateName rejects anything that is not a plain file name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		filepath.Base(name) != name {
		return ops.Validation("backup", "invalid backup name", fmt.Errorf("%q", name))
	}
	return nil
}

func (m *Manager) load(name string) (*Backup, bool, error) {
	path := filepath.Join(m.root, name)
	info, err := os.Lstat(path)
	if err != nil {
		return nil, false, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, false, nil
	}
	kind, ok := Classify(name, info.IsDir())
	if !ok {
		return nil, false, nil
	}

	b := &Backup{Path: path}
	if meta, err := ReadMeta(path); err == nil {
		b.Meta = meta
		b.HasMeta = true
	} else if !os.IsNotExist(err) {
		logger.Warningf("ignoring metadata for %s: %v", name, err)
	}

	b.Name = name
	b.Kind = kind
	if b.CreatedAt.IsZero() {
		b.CreatedAt = info.ModTime().UTC()
	}
	if b.Source == "" {
		b.Source = defaultSource(kind)
	}
	if !kind.IsDir() {
		b.SizeBytes = info.Size()
	} else if b.SizeBytes == 0 {
		if size, err := fsutil.Size(path); err == nil {
			b.SizeBytes = size
		}
	}
	b.HasCredentials = fsutil.Exists(m.CredentialsPath(name))
	return b, true, nil
}

func defaultSource(k Kind) string {
	switch k {
	case KindGame:
		return SourceGame
	case KindUpdate:
		return SourceUpdate
	case KindPreRestore:
		return SourcePreRestore
	}
	return SourceManual
}

// Delete removes an artifact together with its metadata and credentials
// copy. The store row is kept as an audit record.
func (m *Manager) Delete(name string) error {
	b, err := m.Get(name)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(b.Path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	for _, p := range []string{MetaPath(b.Path), m.CredentialsPath(name)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warningf("cannot remove %s: %v", p, err)
		}
	}

	m.markDeleted(b.Meta)
	logger.Infof("deleted backup %s", name)
	return nil
}

func (m *Manager) markDeleted(meta Meta) {
	if m.store == nil {
		return
	}
	err := m.store.MarkBackupDeleted(meta.Name, m.now())
	if errors.Is(err, store.ErrNotFound) {
		// Artifacts made outside hytalectl get a row on first sight.
		m.record(meta)
		err = m.store.MarkBackupDeleted(meta.Name, m.now())
	}
	if err != nil {
		logger.Warningf("cannot record deletion of %s: %v", meta.Name, err)
	}
}

// Prune deletes archives and update backups older than maxAge and returns
// the deleted names. Pre-restore snapshots and the game's own zips are
// never pruned.
func (m *Manager) Prune(maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		return nil, nil
	}

	all, err := m.List()
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-maxAge)
	var deleted []string
	var errs []error
	for _, b := range all {
		if b.Kind != KindArchive && b.Kind != KindUpdate {
			continue
		}
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.Delete(b.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, b.Name)
	}
	return deleted, errors.Join(errs...)
}

// Count returns the number of archives, hytalectl's and the game's. It
// never fails; an unreadable backup root counts as empty.
func (m *Manager) Count() int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ArchivePrefix) && strings.HasSuffix(name, ArchiveSuffix) {
			n++
		} else if strings.HasSuffix(name, GameSuffix) {
			n++
		}
	}
	return n
}
