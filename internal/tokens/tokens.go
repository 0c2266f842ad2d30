// Package tokens issues and checks short-lived confirmation tokens for
// destructive operations.
//
// A token is "<unix expiry>.<hex hmac>" where the MAC covers the scope and
// the expiry. Scopes are "backup" and "restore:<name>", so a token issued
// for one backup cannot confirm a restore of another.
package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
)

// DefaultTTL is how long a token stays valid.
const DefaultTTL = 5 * time.Minute

// KeyFile is the key file name inside the state directory.
const KeyFile = "token.key"

const keySize = 32

// ScopeBackup confirms a backup.
const ScopeBackup = "backup"

// RestoreScope returns the scope confirming a restore of name.
func RestoreScope(name string) string {
	return "restore:" + name
}

// Issuer signs and verifies tokens with one key.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// New returns an Issuer for key. A non-positive ttl means DefaultTTL.
func New(key []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// LoadOrCreateKey reads the key from dir, generating it on first use.
func LoadOrCreateKey(dir string) ([]byte, error) {
	p := filepath.Join(dir, KeyFile)
	data, err := os.ReadFile(p)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("failed to read token key %s: malformed", p)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read token key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(p, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write token key: %w", err)
	}
	return key, nil
}

// Issue returns a token for scope.
func (i *Issuer) Issue(scope string) string {
	exp := i.now().Add(i.ttl).Unix()
	return strconv.FormatInt(exp, 10) + "." + i.mac(scope, exp)
}

// Verify checks token against scope.
func (i *Issuer) Verify(scope, token string) error {
	expStr, mac, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || expStr == "" || mac == "" {
		return ops.Validation("token", "malformed token", nil)
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ops.Validation("token", "malformed token", err)
	}
	if !hmac.Equal([]byte(mac), []byte(i.mac(scope, exp))) {
		return ops.Validation("token", "token does not match", nil)
	}
	if i.now().Unix() > exp {
		return ops.Validation("token", "token expired", nil)
	}
	return nil
}

func (i *Issuer) mac(scope string, exp int64) string {
	h := hmac.New(sha256.New, i.key)
	fmt.Fprintf(h, "%s\n%d", scope, exp)
	return hex.EncodeToString(h.Sum(nil))
}
