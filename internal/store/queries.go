package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Operation history

// InsertOperation records the start of an operation.
func (s *Store) InsertOperation(op *Operation) error {
	query := `
		INSERT INTO operations (id, kind, started_at, state, mutated, from_version)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		op.ID,
		op.Kind,
		op.StartedAt.UTC().Format(time.RFC3339),
		op.State,
		op.Mutated,
		op.FromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation %s: %w", op.ID, classify(err))
	}
	return nil
}

// UpdateOperationState records a state transition of a running operation.
func (s *Store) UpdateOperationState(id, state string, mutated bool) error {
	_, err := s.db.Exec(`UPDATE operations SET state = ?, mutated = ? WHERE id = ?`, state, mutated, id)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", id, classify(err))
	}
	return nil
}

// FinishOperation records the outcome of an operation.
func (s *Store) FinishOperation(op *Operation) error {
	finished := time.Now()
	if op.FinishedAt != nil {
		finished = *op.FinishedAt
	}

	query := `
		UPDATE operations
		SET finished_at = ?, state = ?, mutated = ?, reason = ?, error = ?, from_version = ?, to_version = ?, backup_path = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		finished.UTC().Format(time.RFC3339),
		op.State,
		op.Mutated,
		op.Reason,
		op.Error,
		op.FromVersion,
		op.ToVersion,
		op.BackupPath,
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish operation %s: %w", op.ID, classify(err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %s: %w", op.ID, ErrNotFound)
	}
	return nil
}

const operationColumns = `id, kind, started_at, finished_at, state, mutated, reason, error, from_version, to_version, backup_path`

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*Operation, error) {
	var op Operation
	var startedAt string
	var finishedAt, reason, errText, fromVersion, toVersion, backupPath sql.NullString

	err := row.Scan(
		&op.ID,
		&op.Kind,
		&startedAt,
		&finishedAt,
		&op.State,
		&op.Mutated,
		&reason,
		&errText,
		&fromVersion,
		&toVersion,
		&backupPath,
	)
	if err != nil {
		return nil, err
	}

	op.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for operation %s: %w", op.ID, err)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for operation %s: %w", op.ID, err)
		}
		op.FinishedAt = &t
	}
	op.Reason = reason.String
	op.Error = errText.String
	op.FromVersion = fromVersion.String
	op.ToVersion = toVersion.String
	op.BackupPath = backupPath.String
	return &op, nil
}

// GetOperation retrieves an operation by id.
func (s *Store) GetOperation(id string) (*Operation, error) {
	row := s.db.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation %s: %w", id, classify(err))
	}
	return op, nil
}

// ListOperations returns the most recent operations, newest first. A
// non-positive limit returns every row.
func (s *Store) ListOperations(limit int) ([]*Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", classify(err))
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

// Backup audit trail

// UpsertBackup inserts or refreshes a backup record. A re-created artifact
// with the same name clears its deleted_at.
func (s *Store) UpsertBackup(b *BackupRecord) error {
	query := `
		INSERT INTO backups (name, kind, label, comment, source, created_at, size_bytes, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			label = excluded.label,
			comment = excluded.comment,
			source = excluded.source,
			created_at = excluded.created_at,
			size_bytes = excluded.size_bytes,
			deleted_at = NULL
	`

	_, err := s.db.Exec(query,
		b.Name,
		b.Kind,
		b.Label,
		b.Comment,
		b.Source,
		b.CreatedAt.UTC().Format(time.RFC3339),
		b.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to record backup %s: %w", b.Name, classify(err))
	}
	return nil
}

// MarkBackupDeleted stamps deleted_at on a backup row. The row itself is
// kept as an audit record.
func (s *Store) MarkBackupDeleted(name string, at time.Time) error {
	result, err := s.db.Exec(`UPDATE backups SET deleted_at = ? WHERE name = ?`, at.UTC().Format(time.RFC3339), name)
	if err != nil {
		return fmt.Errorf("failed to mark backup %s deleted: %w", name, classify(err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("backup %s: %w", name, ErrNotFound)
	}
	return nil
}

const backupColumns = `name, kind, label, comment, source, created_at, size_bytes, deleted_at`

func scanBackup(row scanner) (*BackupRecord, error) {
	var b BackupRecord
	var createdAt string
	var label, comment, source, deletedAt sql.NullString
	var size sql.NullInt64

	if err := row.Scan(&b.Name, &b.Kind, &label, &comment, &source, &createdAt, &size, &deletedAt); err != nil {
		return nil, err
	}

	var err error
	b.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for backup %s: %w", b.Name, err)
	}
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := time.Parse(time.RFC3339, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deleted_at for backup %s: %w", b.Name, err)
		}
		b.DeletedAt = &t
	}
	b.Label = label.String
	b.Comment = comment.String
	b.Source = source.String
	b.SizeBytes = size.Int64
	return &b, nil
}

// GetBackup retrieves a backup record by name.
func (s *Store) GetBackup(name string) (*BackupRecord, error) {
	row := s.db.QueryRow(`SELECT `+backupColumns+` FROM backups WHERE name = ?`, name)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backup %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup %s: %w", name, classify(err))
	}
	return b, nil
}

// ListBackups returns backup records ordered by creation time (newest
// first). Deleted rows are included only when includeDeleted is set.
func (s *Store) ListBackups(includeDeleted bool) ([]*BackupRecord, error) {
	query := `SELECT ` + backupColumns + ` FROM backups`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, name DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", classify(err))
	}
	defer rows.Close()

	var out []*BackupRecord
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}
	return out, nil
}
