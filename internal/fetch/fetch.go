// Package fetch downloads the server distribution with bounded retries and
// verifies it before anything else gets to see it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/blackwell-systems/hytalectl/internal/archive"
	"github.com/blackwell-systems/hytalectl/internal/ops"
)

var logger = loggo.GetLogger("hytalectl.fetch")

const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

// Downloader writes the distribution archive to dest.
type Downloader interface {
	Download(ctx context.Context, dest string) error
}

// Fetcher downloads and verifies the distribution archive.
type Fetcher struct {
	Downloader Downloader
	Attempts   int
	Backoff    time.Duration
	Clock      clock.Clock

	// Verify checks a downloaded file. Defaults to archive.VerifyZip.
	Verify func(path string) error
}

// New returns a Fetcher with the default retry policy.
func New(d Downloader) *Fetcher {
	return &Fetcher{
		Downloader: d,
		Attempts:   DefaultAttempts,
		Backoff:    DefaultBackoff,
		Clock:      clock.WallClock,
	}
}

// Backoff returns the linear backoff policy: base * attempt.
func Backoff(base time.Duration) func(time.Duration, int) time.Duration {
	return func(_ time.Duration, attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

func (f *Fetcher) verify(p string) error {
	if f.Verify != nil {
		return f.Verify(p)
	}
	return archive.VerifyZip(p)
}

// Cached reports whether dest already holds a verified archive.
func (f *Fetcher) Cached(dest string) bool {
	if _, err := os.Stat(dest); err != nil {
		return false
	}
	return f.verify(dest) == nil
}

// FetchArchive downloads the archive to dest. Each attempt writes to
// dest+".partial" and only a verified file is renamed onto dest; a failed
// attempt leaves nothing behind. Exhausting the attempts, or cancelling ctx,
// yields an ops.ErrTransient failure.
func (f *Fetcher) FetchArchive(ctx context.Context, dest string) error {
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	base := f.Backoff
	if base <= 0 {
		base = DefaultBackoff
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	partial := dest + ".partial"
	var lastErr error

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return f.attempt(ctx, partial, dest)
		},
		IsFatalError: func(error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			logger.Warningf("download attempt %d/%d failed: %v", attempt, attempts, err)
		},
		Attempts:    attempts,
		Delay:       base,
		BackoffFunc: Backoff(base),
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	os.Remove(partial)
	if ctx.Err() != nil {
		return ops.Transient("fetch", "download cancelled", ctx.Err())
	}
	if retry.IsAttemptsExceeded(err) && lastErr != nil {
		err = lastErr
	}
	return ops.Transient("fetch", fmt.Sprintf("download failed after %d attempts", attempts), err)
}

func (f *Fetcher) attempt(ctx context.Context, partial, dest string) error {
	if f.Downloader == nil {
		return errors.New("no downloader configured")
	}

	os.Remove(partial)
	if err := f.Downloader.Download(ctx, partial); err != nil {
		os.Remove(partial)
		return err
	}
	if err := f.verify(partial); err != nil {
		os.Remove(partial)
		return fmt.Errorf("downloaded archive is corrupt: %w", err)
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	logger.Infof("downloaded %s", dest)
	return nil
}
