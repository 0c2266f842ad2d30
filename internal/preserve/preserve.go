// Package preserve classifies installation paths as preserved (operator and
// player data that must survive an update) or replaceable (vendor content).
//
// A Set is parsed once at startup. Matching is prefix-aware on whole path
// segments: the entry "Server/universe" preserves
// "Server/universe/worlds/default/config.json" but not "Server/universe2".
package preserve

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultEntries is the preserved set used when the config does not override it.
var DefaultEntries = []string{
	"universe",
	"mods",
	"config.json",
	"permissions.json",
	"whitelist.json",
	"bans.json",
	"auth.enc",
	"logs",
	".downloader",
	".hytale-downloader-credentials.json",
	"Server/universe",
	"Server/mods",
}

// Set is an immutable set of preserved relative paths.
type Set struct {
	entries  []string // cleaned, sorted shallow to deep then lexically
	topLevel map[string]struct{}
	all      map[string]struct{}
}

// NewSet parses specs into a Set. Specs use forward slashes and are relative
// to the installation root.
func NewSet(specs ...string) (*Set, error) {
	s := &Set{
		topLevel: make(map[string]struct{}),
		all:      make(map[string]struct{}),
	}

	for _, raw := range specs {
		spec, err := cleanSpec(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := s.all[spec]; dup {
			continue
		}
		s.all[spec] = struct{}{}
		s.entries = append(s.entries, spec)
		if !strings.Contains(spec, "/") {
			s.topLevel[spec] = struct{}{}
		}
	}

	sort.Slice(s.entries, func(i, j int) bool {
		di, dj := depth(s.entries[i]), depth(s.entries[j])
		if di != dj {
			return di < dj
		}
		return s.entries[i] < s.entries[j]
	})

	return s, nil
}

// MustSet is NewSet for static specs; it panics on an invalid spec.
func MustSet(specs ...string) *Set {
	s, err := NewSet(specs...)
	if err != nil {
		panic(err)
	}
	return s
}

func cleanSpec(raw string) (string, error) {
	spec := strings.TrimSpace(filepath.ToSlash(raw))
	if spec == "" {
		return "", fmt.Errorf("empty preserve entry")
	}
	if strings.HasPrefix(spec, "/") {
		return "", fmt.Errorf("preserve entry %q must be relative", raw)
	}
	spec = path.Clean(spec)
	if spec == "." {
		return "", fmt.Errorf("preserve entry %q names the installation root", raw)
	}
	for _, seg := range strings.Split(spec, "/") {
		if seg == ".." {
			return "", fmt.Errorf("preserve entry %q escapes the installation root", raw)
		}
	}
	return spec, nil
}

func depth(p string) int {
	return strings.Count(p, "/")
}

// IsPreserved reports whether rel equals an entry or lies beneath one.
func (s *Set) IsPreserved(rel string) bool {
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || rel == "" {
		return false
	}
	for {
		if _, ok := s.all[rel]; ok {
			return true
		}
		i := strings.LastIndex(rel, "/")
		if i < 0 {
			return false
		}
		rel = rel[:i]
	}
}

// IsTopLevel reports whether name exactly matches a single-segment entry.
func (s *Set) IsTopLevel(name string) bool {
	_, ok := s.topLevel[name]
	return ok
}

// Entries returns every entry, shallowest first.
func (s *Set) Entries() []string {
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// TopLevel returns the single-segment entries in sorted order.
func (s *Set) TopLevel() []string {
	out := make([]string, 0, len(s.topLevel))
	for name := range s.topLevel {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Existing returns the entries that currently exist beneath root. Entries
// that are absent are skipped; they still act as exclusion rules.
func (s *Set) Existing(root string) []string {
	var out []string
	for _, e := range s.entries {
		if _, err := os.Lstat(filepath.Join(root, filepath.FromSlash(e))); err == nil {
			out = append(out, e)
		}
	}
	return out
}
