package swap

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
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

type layout struct {
	staging, live, backup string
}

func newLayout(t *testing.T) layout {
	base := t.TempDir()
	l := layout{
		staging: filepath.Join(base, "live", ".update_staging_1"),
		live:    filepath.Join(base, "live"),
		backup:  filepath.Join(base, "live", "backups", "update-20260101-000000"),
	}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		write(t, l.staging, name+"/file", "new-"+name)
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		write(t, l.live, name+"/file", "old-"+name)
	}
	write(t, l.live, "backups/hytale_1.tar.gz", "archive")
	return l
}

func TestSwapPreservesContent(t *testing.T) {
	l := newLayout(t)

	res, err := Swap(l.staging, l.live, l.backup, "1.2.0")
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(res.Replaced, want) {
		t.Errorf("Replaced = %v, want %v", res.Replaced, want)
	}
	if want := []string{"e"}; !reflect.DeepEqual(res.Added, want) {
		t.Errorf("Added = %v, want %v", res.Added, want)
	}

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if got := read(t, l.live, name+"/file"); got != "new-"+name {
			t.Errorf("live %s = %q, want staged content", name, got)
		}
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		if got := read(t, l.backup, name+"/file"); got != "old-"+name {
			t.Errorf("backup %s = %q, want previous live content", name, got)
		}
	}
	if got := read(t, l.live, "backups/hytale_1.tar.gz"); got != "archive" {
		t.Error("entries not in staging must be left alone")
	}

	meta, err := backups.ReadMeta(l.backup)
	if err != nil {
		t.Fatalf("update backup metadata missing: %v", err)
	}
	if meta.Kind != backups.KindUpdate || meta.Source != backups.SourceUpdate || meta.Version != "1.2.0" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestSwapFailureOnThirdEntry(t *testing.T) {
	l := newLayout(t)

	failing := filepath.Join(l.staging, "c")
	move = func(src, dst string) error {
		if src == failing {
			return errors.New("disk on fire")
		}
		return fsutil.Move(src, dst)
	}
	defer func() { move = fsutil.Move }()

	res, err := Swap(l.staging, l.live, l.backup, "1.2.0")
	if !errors.Is(err, ops.ErrMutation) {
		t.Fatalf("Swap() error = %v, want ErrMutation", err)
	}
	if !ops.WasMutated(err) {
		t.Error("error should record that the live tree was mutated")
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(res.Replaced, want) {
		t.Errorf("Replaced = %v, want %v", res.Replaced, want)
	}

	// a and b swapped; c put back; d and e untouched.
	want := map[string]string{"a": "new-a", "b": "new-b", "c": "old-c", "d": "old-d"}
	for name, content := range want {
		if got := read(t, l.live, name+"/file"); got != content {
			t.Errorf("live %s = %q, want %q", name, got, content)
		}
	}
	if fsutil.Exists(filepath.Join(l.live, "e")) {
		t.Error("e must not be moved after the failure")
	}

	// The backup directory is kept for manual recovery.
	for _, name := range []string{"a", "b"} {
		if got := read(t, l.backup, name+"/file"); got != "old-"+name {
			t.Errorf("backup %s = %q", name, got)
		}
	}
	if _, err := backups.ReadMeta(l.backup); err != nil {
		t.Errorf("metadata should be written on failure too: %v", err)
	}
}

func TestSwapBackupFailureLeavesEntry(t *testing.T) {
	l := newLayout(t)

	failing := filepath.Join(l.live, "a")
	move = func(src, dst string) error {
		if src == failing {
			return errors.New("permission denied")
		}
		return fsutil.Move(src, dst)
	}
	defer func() { move = fsutil.Move }()

	res, err := Swap(l.staging, l.live, l.backup, "1.2.0")
	if !errors.Is(err, ops.ErrMutation) {
		t.Fatalf("Swap() error = %v, want ErrMutation", err)
	}
	if ops.WasMutated(err) || res.Mutated() {
		t.Error("nothing was moved, so the tree is not mutated")
	}
	if got := read(t, l.live, "a/file"); got != "old-a" {
		t.Errorf("live a = %q, want untouched", got)
	}
}
