// Package restore puts world data or full server state back from a backup.
//
// A restore is split in two halves so the lifecycle controller can bracket
// the destructive half with a server stop and start: Validate only reads
// and runs while the server is still up; Apply mutates the live tree.
package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/loggo"

	"github.com/blackwell-systems/hytalectl/internal/archive"
	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/preserve"
)

var logger = loggo.GetLogger("hytalectl.restore")

// Mode selects which subtrees a restore touches.
type Mode string

const (
	ModeWorld Mode = "world"
	ModeFull  Mode = "full"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeWorld, ModeFull:
		return m, nil
	}
	return "", ops.Validation("restore", "unsupported restore mode", fmt.Errorf("%q", s))
}

// SourceType is the shape of the restore source.
type SourceType string

const (
	SourceArchive   SourceType = "archive"
	SourceDirectory SourceType = "directory"
)

// WorldMarker must be present in every restore source.
const WorldMarker = "universe"

// ScratchPrefix names the scratch directory inside the server directory.
const ScratchPrefix = preserve.RestorePrefix + "scratch_"

// DefaultSets are the subtrees touched per mode.
var DefaultSets = map[Mode][]string{
	ModeWorld: {"universe"},
	ModeFull:  {"universe", "auth.enc", "config.json", "permissions.json", "whitelist.json", "bans.json", "mods"},
}

// Request asks for one restore.
type Request struct {
	Name               string // bare name of an entry in the backup root
	Mode               Mode
	IncludeServerState bool // also restore the credentials copy kept beside the archive
}

// Plan is a validated restore, ready to apply.
type Plan struct {
	Request
	Source      string // symlink-resolved path of the source
	SourceType  SourceType
	Prefix      string   // wrapper directory inside the source, or ""
	Touch       []string // server-relative paths this restore replaces
	Credentials string   // credentials copy to restore, or ""
}

// Result reports what a restore did.
type Result struct {
	Mode                   Mode       `json:"mode"`
	SourceType             SourceType `json:"source_type"`
	PreRestoreSnapshotPath string     `json:"pre_restore_snapshot_path"`
	Restored               []string   `json:"restored"`
	Skipped                []string   `json:"skipped,omitempty"`
}

// Engine restores into one installation.
type Engine struct {
	ServerDir string
	Backups   *backups.Manager
	Sets      map[Mode][]string
	Owner     fsutil.Owner

	now func() time.Time
}

// New returns an Engine with the default mode sets and no ownership change.
func New(serverDir string, b *backups.Manager) *Engine {
	return &Engine{
		ServerDir: serverDir,
		Backups:   b,
		Sets:      DefaultSets,
		Owner:     fsutil.NoOwner,
		now:       time.Now,
	}
}

func (e *Engine) set(m Mode) []string {
	if s, ok := e.Sets[m]; ok && len(s) > 0 {
		return s
	}
	return DefaultSets[m]
}

// Validate checks a request without touching anything: the mode, that the
// source resolves to an entry inside the backup root, its type and that it
// carries the world marker.
func (e *Engine) Validate(req Request) (*Plan, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode

	if err := backups.ValidateName(req.Name); err != nil {
		return nil, ops.Validation("restore", "invalid backup name", err)
	}

	root, err := filepath.EvalSymlinks(e.Backups.Root())
	if err != nil {
		return nil, ops.Validation("restore", "backup root unavailable", err)
	}
	source, err := filepath.EvalSymlinks(filepath.Join(e.Backups.Root(), req.Name))
	if err != nil {
		return nil, ops.Validation("restore", "backup not found", err)
	}
	if source == root || !fsutil.Within(root, source) {
		return nil, ops.Validation("restore", "source outside backup root", fmt.Errorf("%s resolves to %s", req.Name, source))
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, ops.Validation("restore", "backup not found", err)
	}

	plan := &Plan{Request: req, Source: source}
	var names []string
	switch {
	case info.IsDir():
		plan.SourceType = SourceDirectory
	case strings.HasSuffix(source, backups.ArchiveSuffix):
		plan.SourceType = SourceArchive
		names, err = archive.ListTarGz(source)
	case strings.HasSuffix(source, backups.GameSuffix):
		plan.SourceType = SourceArchive
		names, err = archive.ListZip(source)
	default:
		return nil, ops.Validation("restore", "unknown source type", fmt.Errorf("%s", req.Name))
	}
	if err != nil {
		return nil, ops.Validation("restore", "backup archive unreadable", err)
	}

	var ok bool
	if plan.SourceType == SourceDirectory {
		plan.Prefix, ok = dirPrefix(source, WorldMarker)
	} else {
		plan.Prefix, ok = namesPrefix(names, WorldMarker)
	}
	if !ok {
		return nil, ops.Validation("restore", "backup has no world data", fmt.Errorf("%s has no %s/", req.Name, WorldMarker))
	}

	plan.Touch = append([]string(nil), e.set(mode)...)
	if req.IncludeServerState {
		creds := e.Backups.CredentialsPath(req.Name)
		if fsutil.Exists(creds) {
			plan.Credentials = creds
		}
		if !contains(plan.Touch, backups.CredentialsFile) {
			plan.Touch = append(plan.Touch, backups.CredentialsFile)
		}
	}

	return plan, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// dirPrefix finds marker directly in dir or under its only subdirectory.
func dirPrefix(dir, marker string) (string, bool) {
	if fi, err := os.Stat(filepath.Join(dir, marker)); err == nil && fi.IsDir() {
		return "", true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}
	if len(subdirs) != 1 {
		return "", false
	}
	if fi, err := os.Stat(filepath.Join(dir, subdirs[0], marker)); err == nil && fi.IsDir() {
		return subdirs[0], true
	}
	return "", false
}

// namesPrefix finds marker among archive entry names, either at the top or
// under a single wrapper directory shared by every entry.
func namesPrefix(names []string, marker string) (string, bool) {
	for _, n := range names {
		if n == marker || strings.HasPrefix(n, marker+"/") {
			return "", true
		}
	}

	wrapper := ""
	for _, n := range names {
		top, _, _ := strings.Cut(n, "/")
		if wrapper == "" {
			wrapper = top
		} else if top != wrapper {
			return "", false
		}
	}
	if wrapper == "" {
		return "", false
	}
	inner := wrapper + "/" + marker
	for _, n := range names {
		if n == inner || strings.HasPrefix(n, inner+"/") {
			return wrapper, true
		}
	}
	return "", false
}
