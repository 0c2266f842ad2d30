// Package logging wires the component loggers to a writer.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/juju/loggo"
)

// Root is the prefix shared by every component logger.
const Root = "hytalectl"

// Configure sends all log output to w at level ("INFO", "DEBUG", ...).
func Configure(level string, w io.Writer) error {
	lvl, ok := loggo.ParseLevel(strings.TrimSpace(level))
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(w, format)); err != nil {
		return fmt.Errorf("failed to install log writer: %w", err)
	}
	return loggo.ConfigureLoggers(fmt.Sprintf("<root>=WARNING;%s=%s", Root, lvl))
}

func format(entry loggo.Entry) string {
	ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %-7s %s %s", ts, entry.Level, strings.TrimPrefix(entry.Module, Root+"."), entry.Message)
}
