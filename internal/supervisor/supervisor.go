// Package supervisor starts, stops and inspects the game server process.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("hytalectl.supervisor")

// Status is a point-in-time view of the server process.
type Status struct {
	Running bool          `json:"running"`
	PID     int           `json:"pid,omitempty"`
	Uptime  time.Duration `json:"uptime,omitempty"`
	State   string        `json:"state"`
}

// Supervisor controls the server process.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}

// conn is the part of *dbus.Conn the systemd supervisor uses.
type conn interface {
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit, unitType string) (map[string]interface{}, error)
	Close()
}

// Systemd drives a systemd service unit over D-Bus.
type Systemd struct {
	Unit string

	dial func(ctx context.Context) (conn, error)
	now  func() time.Time
}

// NewSystemd returns a Supervisor for unit. A bare name gets ".service"
// appended.
func NewSystemd(unit string) *Systemd {
	return &Systemd{
		Unit: unitName(unit),
		dial: func(ctx context.Context) (conn, error) {
			return dbus.NewWithContext(ctx)
		},
		now: time.Now,
	}
}

func unitName(s string) string {
	for i := len(s) - 1; i >= 0 && s[i] != '/'; i-- {
		if s[i] == '.' {
			return s
		}
	}
	return s + ".service"
}

// Start starts the unit and waits for the job to finish.
func (s *Systemd) Start(ctx context.Context) error {
	return s.job(ctx, "start", func(c conn, ch chan<- string) (int, error) {
		return c.StartUnitContext(ctx, s.Unit, "replace", ch)
	})
}

// Stop stops the unit and waits for the job to finish.
func (s *Systemd) Stop(ctx context.Context) error {
	return s.job(ctx, "stop", func(c conn, ch chan<- string) (int, error) {
		return c.StopUnitContext(ctx, s.Unit, "replace", ch)
	})
}

func (s *Systemd) job(ctx context.Context, op string, submit func(conn, chan<- string) (int, error)) error {
	c, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer c.Close()

	ch := make(chan string, 1)
	if _, err := submit(c, ch); err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, s.Unit, err)
	}

	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("failed to %s %s: job %s", op, s.Unit, result)
		}
		logger.Debugf("%s %s: done", op, s.Unit)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to %s %s: %w", op, s.Unit, ctx.Err())
	}
}

// Status reads ActiveState, ActiveEnterTimestamp and MainPID of the unit.
func (s *Systemd) Status(ctx context.Context) (Status, error) {
	c, err := s.dial(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer c.Close()

	props, err := c.GetUnitPropertiesContext(ctx, s.Unit)
	if err != nil {
		return Status{}, fmt.Errorf("failed to query %s: %w", s.Unit, err)
	}

	st := Status{State: "unknown"}
	if v, ok := props["ActiveState"].(string); ok {
		st.State = v
	}
	st.Running = st.State == "active"
	if !st.Running {
		return st, nil
	}

	if usec, ok := props["ActiveEnterTimestamp"].(uint64); ok && usec > 0 {
		since := time.UnixMicro(int64(usec))
		st.Uptime = s.now().Sub(since).Truncate(time.Second)
	}

	svc, err := c.GetUnitTypePropertiesContext(ctx, s.Unit, "Service")
	if err != nil {
		logger.Debugf("cannot read service properties of %s: %v", s.Unit, err)
		return st, nil
	}
	if pid, ok := svc["MainPID"].(uint32); ok {
		st.PID = int(pid)
	}
	return st, nil
}
