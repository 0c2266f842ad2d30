package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSpinner_NonTTYPrintsOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner(buf, "Stopping server")

	s.Start()
	s.Start()
	s.Stop()

	if got := buf.String(); got != "Stopping server...\n" {
		t.Errorf("output = %q, want a single message line", got)
	}
}

func TestSpinner_UpdatePrintsOnNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner(buf, "Downloading")
	s.Start()
	s.Update("Extracting")
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "Downloading...") || !strings.Contains(out, "Extracting...") {
		t.Errorf("output = %q, want both messages", out)
	}
}

func TestSpinner_UpdateBeforeStartIsSilent(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner(buf, "a")
	s.Update("b")
	if buf.Len() != 0 {
		t.Errorf("output = %q, want nothing before Start", buf.String())
	}
}

func TestSpinner_MultipleStops(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner(buf, "Working")
	s.Start()
	s.Stop()
	s.Stop()
	NewSpinner(buf, "never started").Stop()
}

func TestSpinner_StopWithMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner(buf, "Updating")
	s.Start()
	s.StopWithMessage("Update complete")

	if !strings.HasSuffix(buf.String(), "Update complete\n") {
		t.Errorf("output = %q, want final message", buf.String())
	}
}

func TestSpinner_Line(t *testing.T) {
	start := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	clock := start

	s := NewSpinner(&bytes.Buffer{}, "Stopping server")
	s.now = func() time.Time { return clock }
	s.Start()
	defer s.Stop()

	clock = start.Add(4 * time.Second)
	s.mu.Lock()
	got := s.line()
	s.mu.Unlock()
	if got != "Stopping server (4s elapsed)" {
		t.Errorf("line() = %q", got)
	}

	s.WithLimit(10 * time.Second)
	s.mu.Lock()
	got = s.line()
	s.mu.Unlock()
	if got != "Stopping server (6s remaining)" {
		t.Errorf("line() with limit = %q", got)
	}

	clock = start.Add(time.Minute)
	s.mu.Lock()
	got = s.line()
	s.mu.Unlock()
	if got != "Stopping server (0s remaining)" {
		t.Errorf("line() past limit = %q", got)
	}
}

func TestSpinner_Concurrent(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner(buf, "Working")
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("still working")
		}()
	}
	wg.Wait()
	s.Stop()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
