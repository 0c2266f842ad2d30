package backups

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/loggo"

	"github.com/blackwell-systems/hytalectl/internal/archive"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/store"
)

var logger = loggo.GetLogger("hytalectl.backups")

// Create archives the configured entries of the server directory into a new
// hytale_<ts>.tar.gz, writes its metadata record and a copy of the server
// credentials, and records it in the store.
func (m *Manager) Create(label, comment, source string) (*Backup, error) {
	if err := os.MkdirAll(m.root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	var rels []string
	for _, rel := range m.entries {
		if fsutil.Exists(filepath.Join(m.serverDir, filepath.FromSlash(rel))) {
			rels = append(rels, rel)
		}
	}
	if len(rels) == 0 {
		return nil, ops.Validation("backup", "nothing to back up", fmt.Errorf("none of %v exist in %s", m.entries, m.serverDir))
	}

	createdAt := m.now()
	name := m.uniqueName(ArchiveName(createdAt))
	path := filepath.Join(m.root, name)

	if err := archive.CreateTarGz(m.serverDir, rels, path); err != nil {
		return nil, fmt.Errorf("failed to create archive %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive %s: %w", name, err)
	}

	if source == "" {
		source = SourceManual
	}
	b := &Backup{
		Meta: Meta{
			Name:      name,
			Kind:      KindArchive,
			Label:     strings.TrimSpace(label),
			Comment:   strings.TrimSpace(comment),
			Source:    source,
			CreatedAt: createdAt.UTC(),
			SizeBytes: info.Size(),
			Entries:   rels,
		},
		Path:    path,
		HasMeta: true,
	}

	if err := WriteMeta(path, b.Meta); err != nil {
		os.Remove(path)
		return nil, err
	}

	has, err := m.saveCredentials(name)
	if err != nil {
		logger.Warningf("backup %s has no credentials copy: %v", name, err)
	}
	b.HasCredentials = has

	m.record(b.Meta)
	logger.Infof("created backup %s (%d bytes, %d entries)", name, b.SizeBytes, len(rels))
	return b, nil
}

// Record mirrors an artifact created elsewhere (update backups, pre-restore
// snapshots) into the store.
func (m *Manager) Record(meta Meta) {
	m.record(meta)
}

func (m *Manager) record(meta Meta) {
	if m.store == nil {
		return
	}
	err := m.store.UpsertBackup(&store.BackupRecord{
		Name:      meta.Name,
		Kind:      string(meta.Kind),
		Label:     meta.Label,
		Comment:   meta.Comment,
		Source:    meta.Source,
		CreatedAt: meta.CreatedAt,
		SizeBytes: meta.SizeBytes,
	})
	if err != nil {
		// The artifact on disk is authoritative; the row is history only.
		logger.Warningf("cannot record backup %s: %v", meta.Name, err)
	}
}

// CredentialsPath returns where the credentials copy for a backup lives.
func (m *Manager) CredentialsPath(name string) string {
	return filepath.Join(m.root, CredentialsDir, name+"."+CredentialsFile)
}

func (m *Manager) saveCredentials(name string) (bool, error) {
	src := filepath.Join(m.serverDir, CredentialsFile)
	if !fsutil.Exists(src) {
		return false, nil
	}
	dir := filepath.Join(m.root, CredentialsDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	dst := m.CredentialsPath(name)
	if err := fsutil.Replace(src, dst); err != nil {
		return false, err
	}
	if err := os.Chmod(dst, 0600); err != nil {
		return true, fmt.Errorf("failed to restrict %s: %w", dst, err)
	}
	return true, nil
}

// uniqueName appends -2, -3, ... before the suffix when two backups land in
// the same second.
func (m *Manager) uniqueName(name string) string {
	if !fsutil.Exists(filepath.Join(m.root, name)) {
		return name
	}
	base := strings.TrimSuffix(name, ArchiveSuffix)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ArchiveSuffix)
		if !fsutil.Exists(filepath.Join(m.root, candidate)) {
			return candidate
		}
	}
}
