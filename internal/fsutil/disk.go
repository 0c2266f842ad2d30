package fsutil

import (
	"fmt"

	"github.com/shirou/gopsutil/disk"
)

// DiskUsage describes the filesystem holding a path.
type DiskUsage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// Usage reports usage of the filesystem that holds p.
func Usage(p string) (DiskUsage, error) {
	u, err := disk.Usage(p)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("failed to read disk usage for %s: %w", p, err)
	}
	return DiskUsage{Total: u.Total, Used: u.Used, Free: u.Free, UsedPercent: u.UsedPercent}, nil
}

// EnsureFree returns an error when the filesystem holding p has fewer than
// need bytes available.
func EnsureFree(p string, need uint64) error {
	if need == 0 {
		return nil
	}
	u, err := Usage(p)
	if err != nil {
		return err
	}
	if u.Free < need {
		return fmt.Errorf("insufficient disk space on %s: %d bytes free, %d needed", p, u.Free, need)
	}
	return nil
}
