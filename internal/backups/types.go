// Package backups manages the artifacts kept in the backup root: tar.gz
// archives made by hytalectl, zip archives made by the game's own --backup,
// the update backup directories left by a swap and the pre-restore
// snapshots taken before a restore. Every artifact may carry an adjacent
// "<name>.json" metadata record, and is mirrored into the history store.
package backups

import (
	"strings"
	"time"

	"github.com/blackwell-systems/hytalectl/internal/store"
)

// Kind classifies a backup artifact.
type Kind string

const (
	KindArchive    Kind = "archive"     // hytale_<ts>.tar.gz written by hytalectl
	KindGame       Kind = "game"        // *.zip written by the game server
	KindUpdate     Kind = "update"      // update-<ts>/ left by a swap
	KindPreRestore Kind = "pre-restore" // pre-restore-<ts>/ taken before a restore
)

// IsDir reports whether artifacts of this kind are directories.
func (k Kind) IsDir() bool {
	return k == KindUpdate || k == KindPreRestore
}

// Sources recorded in metadata.
const (
	SourceManual     = "manual"
	SourceScheduled  = "scheduled"
	SourceUpdate     = "update"
	SourcePreRestore = "pre-restore"
	SourceGame       = "game"
)

// Name prefixes and suffixes inside the backup root.
const (
	ArchivePrefix    = "hytale_"
	ArchiveSuffix    = ".tar.gz"
	GameSuffix       = ".zip"
	UpdatePrefix     = "update-"
	PreRestorePrefix = "pre-restore-"
	MetaSuffix       = ".json"
	CredentialsDir   = "credentials"
	CredentialsFile  = "auth.enc"
	partialSuffix    = ".partial"
)

// TimeFormat is the timestamp embedded in artifact names.
const TimeFormat = "20060102-150405"

// Meta is the JSON metadata record stored next to an artifact.
type Meta struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Label     string    `json:"label,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Version   string    `json:"version,omitempty"`
	Entries   []string  `json:"entries,omitempty"`
}

// Backup is an artifact found in the backup root.
type Backup struct {
	Meta
	Path           string `json:"path"`
	HasMeta        bool   `json:"has_meta"`
	HasCredentials bool   `json:"has_credentials"`
}

// Manager manages backup creation, listing, deletion and retention.
type Manager struct {
	store     *store.Store
	root      string
	serverDir string
	entries   []string
	now       func() time.Time
}

// New creates a new backup Manager. entries are the server-relative paths
// an archive captures; absent ones are skipped.
func New(st *store.Store, root, serverDir string, entries []string) *Manager {
	return &Manager{
		store:     st,
		root:      root,
		serverDir: serverDir,
		entries:   entries,
		now:       time.Now,
	}
}

// Root returns the backup root directory.
func (m *Manager) Root() string {
	return m.root
}

// Classify returns the kind of a backup root entry by name, and false for
// entries that are not backup artifacts (metadata, partial files, the
// credentials directory).
func Classify(name string, isDir bool) (Kind, bool) {
	switch {
	case isDir && strings.HasPrefix(name, UpdatePrefix):
		return KindUpdate, true
	case isDir && strings.HasPrefix(name, PreRestorePrefix):
		return KindPreRestore, true
	case isDir:
		return "", false
	case strings.HasSuffix(name, ArchiveSuffix):
		return KindArchive, true
	case strings.HasSuffix(name, GameSuffix):
		return KindGame, true
	}
	return "", false
}

// ArchiveName returns the archive name for t.
func ArchiveName(t time.Time) string {
	return ArchivePrefix + t.Format(TimeFormat) + ArchiveSuffix
}

// UpdateDirName returns the update backup directory name for t.
func UpdateDirName(t time.Time) string {
	return UpdatePrefix + t.Format(TimeFormat)
}

// PreRestoreDirName returns the pre-restore snapshot directory name for t.
func PreRestoreDirName(t time.Time) string {
	return PreRestorePrefix + t.Format(TimeFormat)
}
