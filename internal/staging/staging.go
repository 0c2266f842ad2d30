// Package staging assembles the next installation tree next to the live one:
// vendor content from the freshly extracted distribution with the live
// preserved entries overlaid on top.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/loggo"

	"github.com/blackwell-systems/hytalectl/internal/archive"
	"github.com/blackwell-systems/hytalectl/internal/fsutil"
	"github.com/blackwell-systems/hytalectl/internal/ops"
	"github.com/blackwell-systems/hytalectl/internal/preserve"
)

var logger = loggo.GetLogger("hytalectl.staging")

// DefaultMarkers identify a Hytale server distribution.
var DefaultMarkers = []string{"Server/HytaleServer.jar", "HytaleServer.jar"}

// Plan describes one staging run.
type Plan struct {
	ExtractRoot string // where the distribution was unpacked
	LiveRoot    string // the running installation
	StagingRoot string // must not exist yet
	Preserve    *preserve.Set
	Control     *preserve.Control
	Markers     []string
}

// Report summarizes what Build put into the staging tree.
type Report struct {
	ContentRoot string
	Vendor      []string // top-level vendor entries copied
	Overlaid    []string // preserved entries copied from the live tree
}

// Build assembles the staging tree. The live tree is only read. Any failure
// removes the staging root, so a partially built tree is never returned.
func Build(p Plan) (Report, error) {
	markers := p.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}

	content, ok, err := archive.ContentRoot(p.ExtractRoot, markers)
	if err != nil {
		return Report{}, ops.Consistency("stage", "extracted distribution unreadable", err)
	}
	if !ok {
		return Report{}, ops.Consistency("stage", "distribution markers missing", fmt.Errorf("none of %v found under %s", markers, p.ExtractRoot))
	}

	report := Report{ContentRoot: content}
	if err := build(p, content, &report); err != nil {
		if rmErr := os.RemoveAll(p.StagingRoot); rmErr != nil {
			logger.Warningf("cannot remove failed staging tree %s: %v", p.StagingRoot, rmErr)
		}
		return Report{}, ops.Mutation("stage", "failed to build staging tree", false, err)
	}

	logger.Infof("staged %d vendor entries and %d preserved entries", len(report.Vendor), len(report.Overlaid))
	return report, nil
}

func build(p Plan, content string, report *Report) error {
	if err := os.Mkdir(p.StagingRoot, 0755); err != nil {
		return fmt.Errorf("failed to create staging root: %w", err)
	}

	entries, err := os.ReadDir(content)
	if err != nil {
		return fmt.Errorf("failed to list distribution: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if p.Preserve.IsTopLevel(name) || p.Control.Contains(name) {
			logger.Debugf("skipping vendor %s: preserved or control entry", name)
			continue
		}
		if err := fsutil.Copy(filepath.Join(content, name), filepath.Join(p.StagingRoot, name)); err != nil {
			return err
		}
		report.Vendor = append(report.Vendor, name)
	}

	overlaid, err := overlay(p)
	report.Overlaid = overlaid
	return err
}

// Overlay copies the preserved entries that exist in the live tree over
// the staging tree again. Build takes its copy while the server still
// runs; calling Overlay once the server has stopped picks up whatever it
// saved on the way down.
func Overlay(p Plan) ([]string, error) {
	overlaid, err := overlay(p)
	if err != nil {
		return overlaid, ops.Mutation("stage", "failed to refresh preserved data", false, err)
	}
	logger.Debugf("refreshed %d preserved entries in %s", len(overlaid), p.StagingRoot)
	return overlaid, nil
}

func overlay(p Plan) ([]string, error) {
	var overlaid []string
	// Entries come shallow to deep, so a nested entry lands inside its
	// already overlaid parent.
	for _, rel := range p.Preserve.Existing(p.LiveRoot) {
		src := filepath.Join(p.LiveRoot, filepath.FromSlash(rel))
		dst := filepath.Join(p.StagingRoot, filepath.FromSlash(rel))
		if err := fsutil.Replace(src, dst); err != nil {
			return overlaid, fmt.Errorf("failed to overlay %s: %w", rel, err)
		}
		overlaid = append(overlaid, rel)
	}
	return overlaid, nil
}
