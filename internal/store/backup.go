package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harrison/deploypilot/internal/models"
)

// SaveBackup persists a pre-mutation snapshot keyed by attempt id. Saving
// a second backup for the same attempt replaces the first; this only
// happens when an attempt is re-run from scratch.
func (s *Store) SaveBackup(ctx context.Context, backup models.Backup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin backup tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backups WHERE attempt_id = ?`, backup.AttemptID); err != nil {
		return fmt.Errorf("clear previous backup: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO backups (attempt_id, created_at) VALUES (?, ?)`,
		backup.AttemptID, backup.CreatedAt); err != nil {
		return fmt.Errorf("save backup for attempt %s: %w", backup.AttemptID, err)
	}

	for _, f := range backup.Files {
		existed := 0
		if f.Existed {
			existed = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_files (attempt_id, path, content_hash, content, existed) VALUES (?, ?, ?, ?, ?)`,
			backup.AttemptID, f.Path, f.ContentHash, f.Content, existed); err != nil {
			return fmt.Errorf("save backup file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

// LoadBackup returns the snapshot for an attempt, or nil if none was
// recorded.
func (s *Store) LoadBackup(ctx context.Context, attemptID string) (*models.Backup, error) {
	backup := &models.Backup{AttemptID: attemptID}

	row := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM backups WHERE attempt_id = ?`, attemptID)
	if err := row.Scan(&backup.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load backup for attempt %s: %w", attemptID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, content, existed FROM backup_files WHERE attempt_id = ? ORDER BY id`,
		attemptID)
	if err != nil {
		return nil, fmt.Errorf("load backup files for attempt %s: %w", attemptID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var f models.BackupFile
		var existed int
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.Content, &existed); err != nil {
			return nil, fmt.Errorf("scan backup file: %w", err)
		}
		f.Existed = existed == 1
		backup.Files = append(backup.Files, f)
	}
	return backup, rows.Err()
}

// DeleteBackup removes an attempt's snapshot. Backups are retained for
// audit by default; this is the explicit cleanup path.
func (s *Store) DeleteBackup(ctx context.Context, attemptID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM backups WHERE attempt_id = ?`, attemptID); err != nil {
		return fmt.Errorf("delete backup for attempt %s: %w", attemptID, err)
	}
	return nil
}
