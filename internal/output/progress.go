package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a terminal. Writers without an Fd
// method, such as *bytes.Buffer, are not.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Spinner shows an operation that runs for an unknown time, such as an
// update waiting on the downloader or a server stop.
//
//	|  Stopping server (4s elapsed)
//
// On a non-terminal writer the message is printed once per Start or
// Update and nothing is animated.
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	message string
	frames  []string
	limit   time.Duration
	started time.Time
	running bool
	width   int
	stop    chan struct{}
	done    chan struct{}
	now     func() time.Time
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
		now:     time.Now,
	}
}

// WithLimit shows remaining time against limit instead of elapsed time.
// Call it before Start.
func (s *Spinner) WithLimit(limit time.Duration) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	return s
}

// Start begins the animation. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.started = s.now()

	if !writerIsTTY(s.w) {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate(s.stop, s.done)
}

func (s *Spinner) animate(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			line := fmt.Sprintf("%s  %s", s.frames[i%len(s.frames)], s.line())
			if len(line) > s.width {
				s.width = len(line)
			}
			fmt.Fprintf(s.w, "\r%-*s", s.width, line)
			s.mu.Unlock()
		}
	}
}

// line is the message with timing. Called with mu held.
func (s *Spinner) line() string {
	elapsed := s.now().Sub(s.started)
	if s.limit > 0 {
		left := s.limit - elapsed
		if left < 0 {
			left = 0
		}
		return fmt.Sprintf("%s (%ds remaining)", s.message, int(left.Seconds()))
	}
	return fmt.Sprintf("%s (%ds elapsed)", s.message, int(elapsed.Seconds()))
}

// Update replaces the message of a running spinner.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	if s.running && !writerIsTTY(s.w) {
		fmt.Fprintf(s.w, "%s...\n", message)
	}
}

// Stop ends the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width))
}

// StopWithMessage stops the spinner and prints message on its own line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, message)
}
