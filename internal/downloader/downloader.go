// Package downloader wraps the vendor's hytale-downloader CLI, which both
// reports the latest published version and fetches the distribution zip.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("hytalectl.downloader")

// DefaultBinary is the downloader executable looked up on PATH.
const DefaultBinary = "hytale-downloader"

// Client runs the downloader binary. Zero-valued fields fall back to the
// defaults the vendor documents.
type Client struct {
	Binary       string
	VersionArgs  []string // default: -print-version
	DownloadArgs []string // default: -download-path; the destination is appended
	Dir          string   // working directory, normally the server dir
	Timeout      time.Duration
}

// ErrTimeout is returned when the downloader exceeds its timeout.
var ErrTimeout = errors.New("downloader timed out")

// PrintVersion asks the downloader for the latest published version and
// returns the last non-empty line of its output.
func (c *Client) PrintVersion(ctx context.Context) (string, error) {
	args := c.VersionArgs
	if len(args) == 0 {
		args = []string{"-print-version"}
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return lastLine(out), nil
}

// Download fetches the distribution archive into dest.
func (c *Client) Download(ctx context.Context, dest string) error {
	args := append([]string(nil), c.DownloadArgs...)
	if len(args) == 0 {
		args = []string{"-download-path"}
	}
	args = append(args, dest)

	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	bin := c.binary()
	logger.Debugf("running %s %s", bin, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s %s: %w", bin, args[0], ErrTimeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s %s failed: %w (output: %s)", bin, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
