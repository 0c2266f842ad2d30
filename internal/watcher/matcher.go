package watcher

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/hytalectl/internal/backups"
)

// IsArchiveEvent reports whether ev announces a finished archive in the
// backup root. Partial files and metadata records do not count.
func IsArchiveEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasSuffix(name, ".partial") || strings.HasPrefix(name, ".") {
		return false
	}
	kind, ok := backups.Classify(name, false)
	return ok && (kind == backups.KindArchive || kind == backups.KindGame)
}
