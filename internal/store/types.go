package store

import "time"

// Operation records one update, restore or backup run.
type Operation struct {
	ID          string
	Kind        string // "update", "restore", "backup"
	StartedAt   time.Time
	FinishedAt  *time.Time
	State       string // final lifecycle state, or the current one while running
	Mutated     bool
	Reason      string
	Error       string
	FromVersion string
	ToVersion   string
	BackupPath  string
}

// Succeeded reports whether the operation finished without error.
func (o *Operation) Succeeded() bool {
	return o.FinishedAt != nil && o.Error == ""
}

// BackupRecord mirrors a backup artifact. Rows outlive the artifact and
// serve as an audit log once DeletedAt is set.
type BackupRecord struct {
	Name      string
	Kind      string
	Label     string
	Comment   string
	Source    string
	CreatedAt time.Time
	SizeBytes int64
	DeletedAt *time.Time
}
