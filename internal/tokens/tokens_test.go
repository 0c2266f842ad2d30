package tokens

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/hytalectl/internal/ops"
)

func TestIssueVerify(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	iss := New([]byte("0123456789abcdef0123456789abcdef"), 0)
	iss.now = func() time.Time { return now }

	backup := iss.Issue(ScopeBackup)
	restore := iss.Issue(RestoreScope("hytale_20260101-000000.tar.gz"))

	tests := []struct {
		name   string
		scope  string
		token  string
		at     time.Time
		reason string
	}{
		{"backup ok", ScopeBackup, backup, now, ""},
		{"restore ok", RestoreScope("hytale_20260101-000000.tar.gz"), restore, now.Add(4 * time.Minute), ""},
		{"wrong scope", ScopeBackup, restore, now, "token does not match"},
		{"other backup", RestoreScope("hytale_20260102-000000.tar.gz"), restore, now, "token does not match"},
		{"expired", ScopeBackup, backup, now.Add(DefaultTTL + time.Second), "token expired"},
		{"malformed", ScopeBackup, "nonsense", now, "malformed token"},
		{"bad expiry", ScopeBackup, "soon.abcdef", now, "malformed token"},
		{"tampered expiry", ScopeBackup, "9999999999" + backup[strings.Index(backup, "."):], now, "token does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			iss.now = func() time.Time { return at }
			err := iss.Verify(tt.scope, tt.token)
			if tt.reason == "" {
				if err != nil {
					t.Errorf("Verify() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ops.ErrValidation) {
				t.Fatalf("Verify() error = %v, want ErrValidation", err)
			}
			if got := ops.Reason(err); got != tt.reason {
				t.Errorf("Reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	key, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKey() error = %v", err)
	}
	if len(key) != keySize {
		t.Errorf("key length = %d", len(key))
	}
	info, err := os.Stat(filepath.Join(dir, KeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}

	again, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, again) {
		t.Error("key must be stable across loads")
	}

	if err := os.WriteFile(filepath.Join(dir, KeyFile), []byte("zz"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateKey(dir); err == nil {
		t.Error("malformed key should be rejected")
	}
}
