package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// Owner is the uid/gid the server process runs as. A negative id leaves
// that half of the ownership untouched.
type Owner struct {
	UID int
	GID int
}

// NoOwner leaves ownership untouched.
var NoOwner = Owner{UID: -1, GID: -1}

// LookupOwner resolves a user and optional group name. An empty user
// yields NoOwner.
func LookupOwner(userName, groupName string) (Owner, error) {
	if userName == "" {
		return NoOwner, nil
	}

	u, err := user.Lookup(userName)
	if err != nil {
		return NoOwner, fmt.Errorf("failed to look up user %s: %w", userName, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return NoOwner, fmt.Errorf("non-numeric uid for %s: %w", userName, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return NoOwner, fmt.Errorf("non-numeric gid for %s: %w", userName, err)
	}

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return NoOwner, fmt.Errorf("failed to look up group %s: %w", groupName, err)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return NoOwner, fmt.Errorf("non-numeric gid for %s: %w", groupName, err)
		}
	}

	return Owner{UID: uid, GID: gid}, nil
}

// Normalize walks p and applies o to every entry, and makes sure the owner
// can read and write files and traverse directories.
func Normalize(p string, o Owner) error {
	return filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if o.UID >= 0 || o.GID >= 0 {
			if err := os.Lchown(path, o.UID, o.GID); err != nil {
				return fmt.Errorf("failed to chown %s: %w", path, err)
			}
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm()
		want := mode | 0600
		if d.IsDir() {
			want = mode | 0700
		}
		if want != mode {
			if err := os.Chmod(path, want); err != nil {
				return fmt.Errorf("failed to chmod %s: %w", path, err)
			}
		}
		return nil
	})
}
