package supervisor

import (
	"context"
	"sync"
)

// Fake is an in-memory Supervisor for tests. Failures are injected by
// setting the *Err fields; Calls records every call in order.
type Fake struct {
	mu sync.Mutex

	Running   bool
	PID       int
	StartErr  error
	StopErr   error
	StatusErr error
	Calls     []string
}

// Start implements Supervisor.
func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "start")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.Running = true
	return nil
}

// Stop implements Supervisor.
func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "stop")
	if f.StopErr != nil {
		return f.StopErr
	}
	f.Running = false
	return nil
}

// Status implements Supervisor.
func (f *Fake) Status(ctx context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "status")
	if f.StatusErr != nil {
		return Status{}, f.StatusErr
	}
	if !f.Running {
		return Status{State: "inactive"}, nil
	}
	return Status{Running: true, PID: f.PID, State: "active"}, nil
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}
