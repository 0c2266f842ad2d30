// Package output renders hytalectl results for a terminal.
//
// Tables are plain fixed-width text. State words are colored when stdout is
// a terminal and NO_COLOR is unset. Sizes and ages go through go-humanize.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/lifecycle"
	"github.com/blackwell-systems/hytalectl/internal/store"
	"github.com/blackwell-systems/hytalectl/internal/version"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// colorOverride forces color on or off in tests.
var colorOverride *bool

// IsColorEnabled reports whether ANSI colors should be emitted.
func IsColorEnabled() bool {
	if colorOverride != nil {
		return *colorOverride
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// now is replaced in tests so relative times are stable.
var now = time.Now

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

func size(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// RenderBackupTable lists backup artifacts in the order given.
func RenderBackupTable(list []*backups.Backup) string {
	if len(list) == 0 {
		return "No backups found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s %-12s %-9s %-16s %-18s %s\n",
		"Name", "Kind", "Size", "Created", "Version", "Label"))
	sb.WriteString(strings.Repeat("─", 104))
	sb.WriteString("\n")

	for _, b := range list {
		ver := b.Version
		if ver == "" {
			ver = "-"
		}
		label := b.Label
		if b.Comment != "" {
			label = strings.TrimSpace(label + " " + "(" + b.Comment + ")")
		}
		if b.HasCredentials {
			label = strings.TrimSpace(label + " [credentials]")
		}
		sb.WriteString(fmt.Sprintf("%-36s %-12s %-9s %-16s %-18s %s\n",
			truncate(b.Name, 36),
			b.Kind,
			size(b.SizeBytes),
			ago(b.CreatedAt),
			truncate(ver, 18),
			label))
	}
	return sb.String()
}

// RenderHistoryTable lists recorded operations, newest first as stored.
func RenderHistoryTable(list []*store.Operation) string {
	if len(list) == 0 {
		return "No operations recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s %-9s %-16s %-10s %-12s %-34s %s\n",
		"ID", "Kind", "Started", "Duration", "Result", "Versions", "Detail"))
	sb.WriteString(strings.Repeat("─", 112))
	sb.WriteString("\n")

	for _, op := range list {
		sb.WriteString(fmt.Sprintf("%-8s %-9s %-16s %-10s %s %-34s %s\n",
			shortID(op.ID),
			op.Kind,
			ago(op.StartedAt),
			duration(op),
			pad(formatResult(op), resultLabel(op), 12),
			versions(op),
			truncate(detail(op), 48)))
	}
	return sb.String()
}

func duration(op *store.Operation) string {
	if op.FinishedAt == nil {
		return "-"
	}
	return op.FinishedAt.Sub(op.StartedAt).Round(time.Second).String()
}

func resultLabel(op *store.Operation) string {
	switch {
	case op.FinishedAt == nil:
		return op.State
	case op.Succeeded():
		return "ok"
	case op.State == "recovering":
		return "recovered"
	default:
		return "failed"
	}
}

// formatResult colors the result word.
func formatResult(op *store.Operation) string {
	label := resultLabel(op)
	switch label {
	case "ok":
		return colorize(colorGreen, label)
	case "recovered":
		return colorize(colorYellow, label)
	case "failed":
		return colorize(colorRed, label)
	}
	return colorize(colorGray, label)
}

// pad pads a possibly colored string to width using the visible text.
func pad(colored, plain string, width int) string {
	if n := width - len(plain); n > 0 {
		return colored + strings.Repeat(" ", n)
	}
	return colored
}

func versions(op *store.Operation) string {
	switch {
	case op.FromVersion == "" && op.ToVersion == "":
		return "-"
	case op.ToVersion == "" || op.FromVersion == op.ToVersion:
		return op.FromVersion
	}
	return op.FromVersion + " -> " + op.ToVersion
}

// shortID returns the leading characters of an operation ID, enough to tell
// rows apart.
func shortID(id string) string {
	r := []rune(id)
	if len(r) <= 8 {
		return id
	}
	return string(r[:8])
}

func detail(op *store.Operation) string {
	var parts []string
	if op.Reason != "" {
		parts = append(parts, op.Reason)
	}
	if op.BackupPath != "" {
		parts = append(parts, op.BackupPath)
	}
	if op.Mutated && !op.Succeeded() {
		parts = append(parts, "files changed")
	}
	return strings.Join(parts, "; ")
}

// RenderVersion describes a version check.
func RenderVersion(info version.Info) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Installed: %s\n", info.Current))
	sb.WriteString(fmt.Sprintf("Latest:    %s\n", info.Latest))
	switch info.Verdict {
	case version.UpToDate:
		sb.WriteString(colorize(colorGreen, "Server is up to date.") + "\n")
	case version.UpdateAvailable:
		sb.WriteString(colorize(colorYellow, "Update available.") + " Run 'hytalectl update' to install it.\n")
	default:
		sb.WriteString(colorize(colorGray, "Could not compare versions.") + "\n")
	}
	if !info.CheckedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Checked:   %s\n", ago(info.CheckedAt)))
	}
	return sb.String()
}

// RenderStatus renders the dashboard.
func RenderStatus(s lifecycle.Status) string {
	var sb strings.Builder

	sb.WriteString("Server\n")
	switch {
	case s.ServerErr != "":
		sb.WriteString(fmt.Sprintf("  State:     %s (%s)\n", colorize(colorRed, "unknown"), s.ServerErr))
	case s.Server.Running:
		sb.WriteString(fmt.Sprintf("  State:     %s (pid %d, up %s)\n",
			colorize(colorGreen, s.Server.State), s.Server.PID, uptime(s.Server.Uptime)))
	default:
		sb.WriteString(fmt.Sprintf("  State:     %s\n", colorize(colorRed, s.Server.State)))
	}
	sb.WriteString(fmt.Sprintf("  Version:   %s\n", s.Version.Current))
	if s.Version.Latest != "" && s.Version.Latest != version.Unknown {
		sb.WriteString(fmt.Sprintf("  Latest:    %s (%s)\n", s.Version.Latest, ago(s.Version.CheckedAt)))
	}

	sb.WriteString("\nHost\n")
	sb.WriteString(fmt.Sprintf("  Disk:      %s of %s used (%.0f%%)\n",
		humanize.Bytes(s.Disk.Used), humanize.Bytes(s.Disk.Total), s.Disk.UsedPercent))
	sb.WriteString(fmt.Sprintf("  Backups:   %s\n", humanize.Comma(int64(s.Backups))))

	sb.WriteString("\nManager\n")
	state := string(s.State)
	if s.State != lifecycle.Idle {
		state = colorize(colorYellow, state)
	}
	sb.WriteString(fmt.Sprintf("  Operation: %s\n", state))
	auto := "off"
	if s.AutoUpdate {
		auto = colorize(colorYellow, "armed for next backup")
	}
	sb.WriteString(fmt.Sprintf("  Auto-update: %s\n", auto))
	return sb.String()
}

func uptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
