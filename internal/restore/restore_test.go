package restore

import (
	stdzip "archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/ops"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	server := t.TempDir()
	write(t, server, "universe/worlds/default/region.bin", "world-v1")
	write(t, server, "config.json", "config-v1")
	write(t, server, "auth.enc", "creds-v1")
	write(t, server, "Server/HytaleServer.jar", "jar")

	m := backups.New(nil, filepath.Join(server, "backups"), server, DefaultSets[ModeFull])
	e := New(server, m)
	e.now = func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC) }
	return e, server
}

func TestWorldRestoreRoundTrip(t *testing.T) {
	e, server := newEngine(t)

	b, err := e.Backups.Create("", "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	write(t, server, "universe/worlds/default/region.bin", "world-griefed")
	write(t, server, "universe/worlds/default/extra.bin", "junk")
	write(t, server, "config.json", "config-v2")

	res, err := e.Restore(context.Background(), Request{Name: b.Name, Mode: ModeWorld})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.SourceType != SourceArchive || res.Mode != ModeWorld {
		t.Errorf("Result = %+v", res)
	}
	if !reflect.DeepEqual(res.Restored, []string{"universe"}) {
		t.Errorf("Restored = %v", res.Restored)
	}

	if got := read(t, server, "universe/worlds/default/region.bin"); got != "world-v1" {
		t.Errorf("world = %q, want restored content", got)
	}
	if _, err := os.Stat(filepath.Join(server, "universe", "worlds", "default", "extra.bin")); !os.IsNotExist(err) {
		t.Error("files absent from the backup must not survive a world restore")
	}
	if got := read(t, server, "config.json"); got != "config-v2" {
		t.Errorf("world mode must not touch config.json, got %q", got)
	}

	// The pre-restore snapshot holds the state just before the restore.
	if got := read(t, res.PreRestoreSnapshotPath, "universe/worlds/default/region.bin"); got != "world-griefed" {
		t.Errorf("snapshot world = %q", got)
	}
	meta, err := backups.ReadMeta(res.PreRestoreSnapshotPath)
	if err != nil || meta.Kind != backups.KindPreRestore {
		t.Errorf("snapshot metadata = %+v, %v", meta, err)
	}

	entries, err := os.ReadDir(server)
	if err != nil {
		t.Fatal(err)
	}
	for _, ent := range entries {
		if len(ent.Name()) > len(ScratchPrefix) && ent.Name()[:len(ScratchPrefix)] == ScratchPrefix {
			t.Errorf("scratch directory %s left behind", ent.Name())
		}
	}
}

func TestFailedMoveInPutsLiveSubtreeBack(t *testing.T) {
	e, server := newEngine(t)

	b, err := e.Backups.Create("", "", "")
	if err != nil {
		t.Fatal(err)
	}
	write(t, server, "universe/worlds/default/region.bin", "world-current")

	orig := move
	t.Cleanup(func() { move = orig })
	move = func(src, dst string) error {
		if dst == filepath.Join(server, "universe") && filepath.Base(filepath.Dir(src)) != "previous" {
			return errors.New("disk full")
		}
		return orig(src, dst)
	}

	_, err = e.Restore(context.Background(), Request{Name: b.Name, Mode: ModeWorld})
	if !errors.Is(err, ops.ErrMutation) {
		t.Fatalf("Restore() error = %v, want ErrMutation", err)
	}
	if ops.WasMutated(err) {
		t.Errorf("WasMutated() = true, want false after the live copy was put back")
	}
	if got := read(t, server, "universe/worlds/default/region.bin"); got != "world-current" {
		t.Errorf("world = %q, want the live copy back in place", got)
	}
}

func TestFullRestoreSkipsMissingEntries(t *testing.T) {
	e, server := newEngine(t)

	b, err := e.Backups.Create("", "", "")
	if err != nil {
		t.Fatal(err)
	}
	write(t, server, "config.json", "config-v2")
	write(t, server, "mods/new.jar", "mod")

	res, err := e.Restore(context.Background(), Request{Name: b.Name, Mode: ModeFull})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := read(t, server, "config.json"); got != "config-v1" {
		t.Errorf("config.json = %q, want restored", got)
	}
	// mods was not in the backup: skipped, not deleted.
	if got := read(t, server, "mods/new.jar"); got != "mod" {
		t.Errorf("mods/new.jar = %q, want untouched", got)
	}
	found := false
	for _, s := range res.Skipped {
		if s == "mods" {
			found = true
		}
	}
	if !found {
		t.Errorf("Skipped = %v, want mods", res.Skipped)
	}
}

func TestRestoreFromUpdateDirectoryWithWrapper(t *testing.T) {
	e, server := newEngine(t)
	dir := filepath.Join(e.Backups.Root(), "update-20260101-000000")
	write(t, dir, "old-install/universe/worlds/default/region.bin", "world-v0")
	write(t, dir, "old-install/Server/HytaleServer.jar", "jar-v0")

	res, err := e.Restore(context.Background(), Request{Name: "update-20260101-000000", Mode: ModeWorld})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.SourceType != SourceDirectory {
		t.Errorf("SourceType = %s", res.SourceType)
	}
	if got := read(t, server, "universe/worlds/default/region.bin"); got != "world-v0" {
		t.Errorf("world = %q", got)
	}
	// Directory sources are copied, never consumed.
	if got := read(t, dir, "old-install/universe/worlds/default/region.bin"); got != "world-v0" {
		t.Errorf("source changed: %q", got)
	}
}

func TestIncludeServerStateFromCredentialsCopy(t *testing.T) {
	e, server := newEngine(t)
	root := e.Backups.Root()

	// A game-made zip never contains auth.enc.
	zipPath := filepath.Join(root, "2026-01-01_game.zip")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	w := stdzip.NewWriter(f)
	for _, name := range []string{"universe/", "universe/worlds/", "universe/worlds/default/"} {
		hdr := &stdzip.FileHeader{Name: name}
		hdr.SetMode(os.ModeDir | 0755)
		if _, err := w.CreateHeader(hdr); err != nil {
			t.Fatal(err)
		}
	}
	hdr := &stdzip.FileHeader{Name: "universe/worlds/default/region.bin", Method: stdzip.Deflate}
	hdr.SetMode(0644)
	fw, err := w.CreateHeader(hdr)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("world-game"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	write(t, root, "credentials/2026-01-01_game.zip.auth.enc", "creds-old")
	write(t, server, "auth.enc", "creds-current")

	plan, err := e.Validate(Request{Name: "2026-01-01_game.zip", Mode: ModeWorld, IncludeServerState: true})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if plan.Credentials == "" {
		t.Fatal("credentials copy not picked up")
	}
	res, err := e.Apply(plan)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := read(t, server, "auth.enc"); got != "creds-old" {
		t.Errorf("auth.enc = %q, want credentials copy", got)
	}
	if got := read(t, server, "universe/worlds/default/region.bin"); got != "world-game" {
		t.Errorf("world = %q", got)
	}
	if got := read(t, res.PreRestoreSnapshotPath, "auth.enc"); got != "creds-current" {
		t.Errorf("snapshot auth.enc = %q", got)
	}
}

func TestValidateRejects(t *testing.T) {
	e, server := newEngine(t)
	root := e.Backups.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	outside := t.TempDir()
	write(t, outside, "universe/worlds/default/region.bin", "evil")
	if err := os.Symlink(outside, filepath.Join(root, "update-evil")); err != nil {
		t.Fatal(err)
	}
	write(t, root, "update-noworld/config.json", "{}")
	write(t, root, "notes.txt", "hello")

	tests := []struct {
		name   string
		req    Request
		reason string
	}{
		{"bad mode", Request{Name: "x", Mode: "everything"}, "unsupported restore mode"},
		{"traversal", Request{Name: "../config.json", Mode: ModeWorld}, "invalid backup name"},
		{"symlink escape", Request{Name: "update-evil", Mode: ModeWorld}, "source outside backup root"},
		{"missing", Request{Name: "hytale_missing.tar.gz", Mode: ModeWorld}, "backup not found"},
		{"no marker", Request{Name: "update-noworld", Mode: ModeWorld}, "backup has no world data"},
		{"unknown type", Request{Name: "notes.txt", Mode: ModeWorld}, "unknown source type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Validate(tt.req)
			if !errors.Is(err, ops.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if got := ops.Reason(err); got != tt.reason {
				t.Errorf("Reason = %q, want %q", got, tt.reason)
			}
		})
	}

	if got := read(t, server, "universe/worlds/default/region.bin"); got != "world-v1" {
		t.Error("validation must never touch the live tree")
	}
}

func TestNamesPrefix(t *testing.T) {
	tests := []struct {
		names  []string
		prefix string
		ok     bool
	}{
		{[]string{"universe", "universe/a"}, "", true},
		{[]string{"config.json", "universe/worlds/x"}, "", true},
		{[]string{"wrap", "wrap/universe", "wrap/universe/x"}, "wrap", true},
		{[]string{"wrap/universe/x", "other/file"}, "", false},
		{[]string{"universes/x"}, "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		prefix, ok := namesPrefix(tt.names, WorldMarker)
		if prefix != tt.prefix || ok != tt.ok {
			t.Errorf("namesPrefix(%v) = %q, %v; want %q, %v", tt.names, prefix, ok, tt.prefix, tt.ok)
		}
	}
}
