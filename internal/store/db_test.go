package store

import (
	"errors"
	"testing"
	"time"
)

// TestListOperations_NoSchema_ReturnsErrNotInitialized verifies that querying
// a fresh DB (no CreateSchema) returns ErrNotInitialized.
func TestListOperations_NoSchema_ReturnsErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	// No CreateSchema: simulate an uninitialized database.
	_, err = s.ListOperations(10)
	if err == nil {
		t.Fatal("ListOperations() should return an error on uninitialized DB")
	}
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListOperations() error = %v; want errors.Is(err, ErrNotInitialized) to be true", err)
	}
}

// Helper function to create an in-memory store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	if err := store.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return store
}

func TestCreateSchema(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	// Verify tables exist by querying sqlite_master
	for _, table := range []string{"operations", "backups"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	// CreateSchema is safe to run on every start.
	if err := store.CreateSchema(); err != nil {
		t.Errorf("second CreateSchema() failed: %v", err)
	}
}

func TestOperationLifecycle(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	started := time.Now().UTC().Truncate(time.Second)
	op := &Operation{
		ID:          "2b1d7a52-5f1e-4e0f-9a0c-7c1e9f0b2a11",
		Kind:        "update",
		StartedAt:   started,
		State:       "Preparing",
		FromVersion: "1.2.0",
	}
	if err := store.InsertOperation(op); err != nil {
		t.Fatalf("InsertOperation() failed: %v", err)
	}

	if err := store.UpdateOperationState(op.ID, "Mutating", true); err != nil {
		t.Fatalf("UpdateOperationState() failed: %v", err)
	}

	running, err := store.GetOperation(op.ID)
	if err != nil {
		t.Fatalf("GetOperation() failed: %v", err)
	}
	if running.State != "Mutating" || !running.Mutated {
		t.Errorf("running = %+v, want Mutating/mutated", running)
	}
	if running.FinishedAt != nil || running.Succeeded() {
		t.Error("running operation should not be finished")
	}

	finished := started.Add(90 * time.Second)
	op.FinishedAt = &finished
	op.State = "Idle"
	op.Mutated = true
	op.ToVersion = "1.3.0"
	op.BackupPath = "/opt/hytale-server/backups/update-20260101-120000"
	if err := store.FinishOperation(op); err != nil {
		t.Fatalf("FinishOperation() failed: %v", err)
	}

	got, err := store.GetOperation(op.ID)
	if err != nil {
		t.Fatalf("GetOperation() failed: %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
	if got.ToVersion != "1.3.0" || got.FromVersion != "1.2.0" {
		t.Errorf("versions = %s -> %s", got.FromVersion, got.ToVersion)
	}
	if got.BackupPath != op.BackupPath {
		t.Errorf("BackupPath = %s, want %s", got.BackupPath, op.BackupPath)
	}
	if !got.Succeeded() {
		t.Error("Succeeded() = false, want true")
	}
}

func TestFinishUnknownOperation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.FinishOperation(&Operation{ID: "missing", State: "Idle"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishOperation() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetOperation("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOperation() error = %v, want ErrNotFound", err)
	}
}

func TestListOperationsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		op := &Operation{ID: id, Kind: "backup", StartedAt: base.Add(time.Duration(i) * time.Hour), State: "Idle"}
		if err := store.InsertOperation(op); err != nil {
			t.Fatalf("InsertOperation(%s) failed: %v", id, err)
		}
	}

	ops, err := store.ListOperations(2)
	if err != nil {
		t.Fatalf("ListOperations() failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("ListOperations(2) returned %d rows", len(ops))
	}
	if ops[0].ID != "c" || ops[1].ID != "b" {
		t.Errorf("order = %s, %s; want c, b", ops[0].ID, ops[1].ID)
	}

	all, err := store.ListOperations(0)
	if err != nil {
		t.Fatalf("ListOperations(0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListOperations(0) returned %d rows, want 3", len(all))
	}
}

func TestBackupAuditTrail(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &BackupRecord{
		Name:      "hytale_20260102-030405.tar.gz",
		Kind:      "archive",
		Label:     "before event",
		Comment:   "weekend build contest",
		Source:    "manual",
		CreatedAt: created,
		SizeBytes: 1 << 20,
	}
	if err := store.UpsertBackup(rec); err != nil {
		t.Fatalf("UpsertBackup() failed: %v", err)
	}

	got, err := store.GetBackup(rec.Name)
	if err != nil {
		t.Fatalf("GetBackup() failed: %v", err)
	}
	if got.Label != rec.Label || got.Comment != rec.Comment || got.SizeBytes != rec.SizeBytes {
		t.Errorf("GetBackup() = %+v, want %+v", got, rec)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	deletedAt := created.Add(24 * time.Hour)
	if err := store.MarkBackupDeleted(rec.Name, deletedAt); err != nil {
		t.Fatalf("MarkBackupDeleted() failed: %v", err)
	}

	live, err := store.ListBackups(false)
	if err != nil {
		t.Fatalf("ListBackups(false) failed: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("ListBackups(false) = %d rows, want 0", len(live))
	}

	all, err := store.ListBackups(true)
	if err != nil {
		t.Fatalf("ListBackups(true) failed: %v", err)
	}
	if len(all) != 1 || all[0].DeletedAt == nil || !all[0].DeletedAt.Equal(deletedAt) {
		t.Errorf("audit row missing or without deleted_at: %+v", all)
	}

	// Re-recording the same name revives the row.
	if err := store.UpsertBackup(rec); err != nil {
		t.Fatalf("UpsertBackup() again failed: %v", err)
	}
	got, err = store.GetBackup(rec.Name)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeletedAt != nil {
		t.Error("DeletedAt should be cleared after re-recording")
	}

	if err := store.MarkBackupDeleted("nope", deletedAt); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkBackupDeleted(unknown) error = %v, want ErrNotFound", err)
	}
}
