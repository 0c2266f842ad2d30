package staging

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/preserve"
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

func exists(root, rel string) bool {
	_, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

type fixture struct {
	extract, live, staging string
}

func newFixture(t *testing.T) fixture {
	base := t.TempDir()
	f := fixture{
		extract: filepath.Join(base, ".update_extract_1"),
		live:    filepath.Join(base, "live"),
		staging: filepath.Join(base, ".update_staging_1"),
	}

	// Vendor distribution v2, wrapped in a single directory.
	write(t, f.extract, "hytale-v2/Server/HytaleServer.jar", "jar-v2")
	write(t, f.extract, "hytale-v2/Server/universe/worlds/default/config.json", "vendor-world-default")
	write(t, f.extract, "hytale-v2/Server/new-feature.dat", "new")
	write(t, f.extract, "hytale-v2/Assets.zip", "assets-v2")
	write(t, f.extract, "hytale-v2/config.json", "vendor-config")

	// Live installation v1 with operator data.
	write(t, f.live, "Server/HytaleServer.jar", "jar-v1")
	write(t, f.live, "Server/universe/worlds/default/config.json", "operator-world")
	write(t, f.live, "Server/universe/players/p1.json", "player")
	write(t, f.live, "Assets.zip", "assets-v1")
	write(t, f.live, "config.json", "operator-config")
	write(t, f.live, "mods/example.jar", "mod")
	write(t, f.live, "backups/hytale_1.tar.gz", "backup")
	return f
}

func (f fixture) plan() Plan {
	return Plan{
		ExtractRoot: f.extract,
		LiveRoot:    f.live,
		StagingRoot: f.staging,
		Preserve:    preserve.MustSet(preserve.DefaultEntries...),
		Control:     preserve.NewControl("backups", "last_version.txt"),
	}
}

func TestBuildPreservesNestedEntries(t *testing.T) {
	f := newFixture(t)

	report, err := Build(f.plan())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if report.ContentRoot != filepath.Join(f.extract, "hytale-v2") {
		t.Errorf("ContentRoot = %s, want wrapper directory", report.ContentRoot)
	}

	tests := []struct {
		rel, want string
	}{
		{"Server/HytaleServer.jar", "jar-v2"},
		{"Server/new-feature.dat", "new"},
		{"Assets.zip", "assets-v2"},
		{"Server/universe/worlds/default/config.json", "operator-world"},
		{"Server/universe/players/p1.json", "player"},
		{"config.json", "operator-config"},
		{"mods/example.jar", "mod"},
	}
	for _, tt := range tests {
		if got := read(t, f.staging, tt.rel); got != tt.want {
			t.Errorf("staged %s = %q, want %q", tt.rel, got, tt.want)
		}
	}

	if exists(f.staging, "backups") {
		t.Error("backup root must never be staged")
	}

	// The live tree is only read.
	if got := read(t, f.live, "Server/HytaleServer.jar"); got != "jar-v1" {
		t.Errorf("live jar changed to %q", got)
	}
}

func TestOverlayPicksUpLaterLiveWrites(t *testing.T) {
	f := newFixture(t)

	if _, err := Build(f.plan()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	write(t, f.live, "Server/universe/players/p1.json", "player-saved-at-stop")
	write(t, f.live, "Server/universe/players/p2.json", "joined-late")

	overlaid, err := Overlay(f.plan())
	if err != nil {
		t.Fatalf("Overlay() error = %v", err)
	}
	if len(overlaid) == 0 {
		t.Error("Overlay() refreshed nothing")
	}
	if got := read(t, f.staging, "Server/universe/players/p1.json"); got != "player-saved-at-stop" {
		t.Errorf("staged player = %q, want the later live copy", got)
	}
	if got := read(t, f.staging, "Server/universe/players/p2.json"); got != "joined-late" {
		t.Errorf("staged new player = %q", got)
	}
	if got := read(t, f.staging, "Server/HytaleServer.jar"); got != "jar-v2" {
		t.Errorf("vendor jar = %q, Overlay must leave vendor entries alone", got)
	}
}

func TestBuildKeepsVendorDefaultsForAbsentNestedEntries(t *testing.T) {
	f := newFixture(t)
	if err := os.RemoveAll(filepath.Join(f.live, "Server", "universe")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.live, "config.json")); err != nil {
		t.Fatal(err)
	}

	if _, err := Build(f.plan()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := read(t, f.staging, "Server/universe/worlds/default/config.json"); got != "vendor-world-default" {
		t.Errorf("nested vendor default = %q, want vendor copy", got)
	}
	// Top-level preserved names are never taken from the vendor.
	if exists(f.staging, "config.json") {
		t.Error("vendor config.json must not be staged over a top-level preserved name")
	}
}

func TestBuildMissingMarkers(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(filepath.Join(f.extract, "hytale-v2", "Server", "HytaleServer.jar")); err != nil {
		t.Fatal(err)
	}

	_, err := Build(f.plan())
	if !errors.Is(err, ops.ErrConsistency) {
		t.Fatalf("Build() error = %v, want ErrConsistency", err)
	}
	if exists(f.staging, "") {
		t.Error("staging root must not be created when markers are missing")
	}
}

func TestBuildCleansUpOnCopyFailure(t *testing.T) {
	f := newFixture(t)
	fifo := filepath.Join(f.live, "permissions.json")
	if err := syscall.Mkfifo(fifo, 0644); err != nil {
		t.Skipf("mkfifo unsupported: %v", err)
	}

	_, err := Build(f.plan())
	if !errors.Is(err, ops.ErrMutation) {
		t.Fatalf("Build() error = %v, want ErrMutation", err)
	}
	if ops.WasMutated(err) {
		t.Error("staging failures never mutate the live tree")
	}
	if exists(f.staging, "") {
		t.Error("partially built staging tree left behind")
	}
}
