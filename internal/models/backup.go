package models

import "time"

// BackupFile is one file captured in a pre-mutation snapshot. Existed is
// false when the target path did not exist yet, in which case rollback
// removes the file instead of restoring content.
type BackupFile struct {
	Path        string
	ContentHash string // SHA-256 of Content, hex-encoded
	Content     []byte
	Existed     bool
}

// Backup is the pre-mutation snapshot for one attempt, owned by the
// safety manager and retained for audit until explicit cleanup.
type Backup struct {
	AttemptID string
	Files     []BackupFile
	CreatedAt time.Time
}
