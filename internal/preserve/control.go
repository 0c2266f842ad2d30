package preserve

import (
	"sort"
	"strings"
)

// Ephemeral directory prefixes. Anything at the installation root starting
// with one of these belongs to an in-flight operation.
const (
	UpdatePrefix  = ".update_"
	RestorePrefix = ".restore_"
)

// Control lists top-level entries owned by hytalectl itself: the backup root,
// version markers, the auto-update flag and ephemeral operation directories.
// They are never staged, overlaid or swapped.
type Control struct {
	names map[string]struct{}
}

// NewControl returns a Control covering names plus the ephemeral prefixes.
func NewControl(names ...string) *Control {
	c := &Control{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			c.names[n] = struct{}{}
		}
	}
	return c
}

// Contains reports whether the top-level name is a control entry.
func (c *Control) Contains(name string) bool {
	if strings.HasPrefix(name, UpdatePrefix) || strings.HasPrefix(name, RestorePrefix) {
		return true
	}
	if c == nil {
		return false
	}
	_, ok := c.names[name]
	return ok
}

// Names returns the explicit control names in sorted order.
func (c *Control) Names() []string {
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
