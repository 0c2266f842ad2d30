// Package version tracks the installed and latest known server versions.
//
// Both live in one-line marker files in the server directory so the
// dashboard can read them without talking to hytalectl. Any failure to
// determine a version degrades to Unknown; callers never see an error.
package version

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/juju/loggo"

	"github.com/blackwell-systems/hytalectl/internal/fsutil"
)

var logger = loggo.GetLogger("hytalectl.version")

// Unknown is reported whenever a version cannot be determined.
const Unknown = "unknown"

// Marker file names, relative to the server directory.
const (
	InstalledFile = "last_version.txt"
	LatestFile    = ".latest_version"
)

// pattern accepts what the downloader prints for a release: a short token
// of letters, digits and . _ + - starting with an alphanumeric.
var pattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._+-]{0,63}$`)

// Valid reports whether v looks like a release version.
func Valid(v string) bool {
	return v != Unknown && pattern.MatchString(v)
}

// Verdict is the outcome of comparing installed and latest versions.
type Verdict string

const (
	UpToDate        Verdict = "up-to-date"
	UpdateAvailable Verdict = "update-available"
	VerdictUnknown  Verdict = "unknown"
)

// Compare reports whether latest differs from current. Versions are opaque
// tokens compared byte for byte.
func Compare(current, latest string) Verdict {
	if current == Unknown || latest == Unknown || current == "" || latest == "" {
		return VerdictUnknown
	}
	if current == latest {
		return UpToDate
	}
	return UpdateAvailable
}

// Markers reads and writes the version marker pair in Dir.
type Markers struct {
	Dir string
}

// Installed returns the installed version, or Unknown.
func (m Markers) Installed() string {
	return m.read(InstalledFile)
}

// Latest returns the latest known version, or Unknown.
func (m Markers) Latest() string {
	return m.read(LatestFile)
}

// SetInstalled records v as installed. Only a completed update calls this.
func (m Markers) SetInstalled(v string) error {
	return m.write(InstalledFile, v)
}

// SetLatest records v as the latest known version.
func (m Markers) SetLatest(v string) error {
	return m.write(LatestFile, v)
}

func (m Markers) read(name string) string {
	data, err := os.ReadFile(filepath.Join(m.Dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warningf("cannot read %s: %v", name, err)
		}
		return Unknown
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return Unknown
	}
	return v
}

func (m Markers) write(name, v string) error {
	return fsutil.WriteFileAtomic(filepath.Join(m.Dir, name), []byte(v+"\n"), 0644)
}

// Querier asks an external source for the latest published version.
type Querier interface {
	PrintVersion(ctx context.Context) (string, error)
}

// Info is the result of a version check.
type Info struct {
	Current   string    `json:"current"`
	Latest    string    `json:"latest"`
	Verdict   Verdict   `json:"verdict"`
	CheckedAt time.Time `json:"checked_at"`
}

// UpdateAvailable reports whether the check found a newer release.
func (i Info) UpdateAvailable() bool {
	return i.Verdict == UpdateAvailable
}

// Oracle answers version questions for one installation.
type Oracle struct {
	Markers Markers
	Query   Querier
	Now     func() time.Time
}

// NewOracle returns an Oracle for the server in dir.
func NewOracle(dir string, q Querier) *Oracle {
	return &Oracle{Markers: Markers{Dir: dir}, Query: q, Now: time.Now}
}

// CurrentVersion returns the installed version, or Unknown.
func (o *Oracle) CurrentVersion() string {
	return o.Markers.Installed()
}

// QueryLatest runs the external query once and persists the result. Any
// failure yields Unknown, which is persisted too so the dashboard does not
// keep showing a stale version.
func (o *Oracle) QueryLatest(ctx context.Context) string {
	latest := Unknown
	if o.Query != nil {
		v, err := o.Query.PrintVersion(ctx)
		switch {
		case err != nil:
			logger.Warningf("latest version query failed: %v", err)
		case !Valid(v):
			logger.Warningf("latest version query returned unexpected output %q", v)
		default:
			latest = v
		}
	}

	if err := o.Markers.SetLatest(latest); err != nil {
		logger.Warningf("cannot persist latest version: %v", err)
	}
	return latest
}

// Check queries the latest version and compares it with the installed one.
func (o *Oracle) Check(ctx context.Context) Info {
	latest := o.QueryLatest(ctx)
	current := o.CurrentVersion()

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	info := Info{
		Current:   current,
		Latest:    latest,
		Verdict:   Compare(current, latest),
		CheckedAt: now().UTC(),
	}
	logger.Debugf("version check: current=%s latest=%s verdict=%s", current, latest, info.Verdict)
	return info
}

// Cached returns the last known state without querying.
func (o *Oracle) Cached() Info {
	current, latest := o.Markers.Installed(), o.Markers.Latest()
	return Info{Current: current, Latest: latest, Verdict: Compare(current, latest)}
}
