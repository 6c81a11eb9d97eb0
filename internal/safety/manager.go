package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harrison/deploypilot/internal/filelock"
	"github.com/harrison/deploypilot/internal/models"
)

// BackupStore persists pre-mutation snapshots durably so rollback remains
// possible after a crash. Implemented by the store package.
type BackupStore interface {
	SaveBackup(ctx context.Context, backup models.Backup) error
	LoadBackup(ctx context.Context, attemptID string) (*models.Backup, error)
}

// Manager owns the run's safety machinery: pre-item checks, the file
// mutation lock, backups, rollback, and the circuit breaker.
type Manager struct {
	Store   BackupStore
	Breaker *CircuitBreaker
	LockDir string // Directory for per-file advisory lock files

	mu    sync.Mutex
	locks map[string]*heldLock // Normalized target path -> lock
}

type heldLock struct {
	attemptID string
	lock      *filelock.FileLock
}

// NewManager creates a safety manager backed by the given store and
// breaker. Lock files live under lockDir.
func NewManager(store BackupStore, breaker *CircuitBreaker, lockDir string) *Manager {
	return &Manager{
		Store:   store,
		Breaker: breaker,
		LockDir: lockDir,
		locks:   make(map[string]*heldLock),
	}
}

// PreCheck validates a recommendation before any stage runs: required
// fields present, target paths writable, and no other in-flight attempt
// holding the mutation lock on the same files. On success the file locks
// are held by attemptID until Release is called.
func (m *Manager) PreCheck(ctx context.Context, rec models.Recommendation, attemptID string, targets []string) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("pre-check %s: %w", rec.ID, err)
	}

	for _, target := range targets {
		dir := filepath.Dir(target)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("pre-check %s: target %s not writable: %w", rec.ID, target, err)
		}
	}

	if err := m.acquireLocks(attemptID, targets); err != nil {
		return err
	}
	return nil
}

// acquireLocks takes the per-file mutation lock for every target. Locking
// is all-or-nothing: a single conflict releases everything already taken.
// Paths are sorted first so two attempts with overlapping sets cannot
// deadlock.
func (m *Manager) acquireLocks(attemptID string, targets []string) error {
	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		paths = append(paths, filepath.Clean(t))
	}
	sort.Strings(paths)

	m.mu.Lock()
	defer m.mu.Unlock()

	var taken []string
	release := func() {
		for _, p := range taken {
			if hl := m.locks[p]; hl != nil {
				hl.lock.Unlock() //nolint:errcheck
				delete(m.locks, p)
			}
		}
	}

	if err := os.MkdirAll(m.LockDir, 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	for _, p := range paths {
		if held, ok := m.locks[p]; ok {
			if held.attemptID == attemptID {
				continue
			}
			release()
			return fmt.Errorf("file %s locked by attempt %s", p, held.attemptID)
		}

		fl := filelock.NewFileLock(m.lockPath(p))
		acquired, err := fl.TryLock()
		if err != nil {
			release()
			return fmt.Errorf("lock %s: %w", p, err)
		}
		if !acquired {
			release()
			return fmt.Errorf("file %s locked by another process", p)
		}
		m.locks[p] = &heldLock{attemptID: attemptID, lock: fl}
		taken = append(taken, p)
	}

	return nil
}

// Release drops every file lock held by the attempt. Called when the
// attempt reaches a terminal stage.
func (m *Manager) Release(attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p, hl := range m.locks {
		if hl.attemptID == attemptID {
			hl.lock.Unlock() //nolint:errcheck
			delete(m.locks, p)
		}
	}
}

// lockPath maps a target path to its lock file under LockDir.
func (m *Manager) lockPath(target string) string {
	sum := sha256.Sum256([]byte(target))
	return filepath.Join(m.LockDir, hex.EncodeToString(sum[:8])+".lock")
}

// Snapshot captures the current content of every path slated for
// modification into the durable backup store. It must succeed before any
// mutation is allowed to proceed.
func (m *Manager) Snapshot(ctx context.Context, attemptID string, paths []string) error {
	backup := models.Backup{
		AttemptID: attemptID,
		CreatedAt: time.Now(),
	}

	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("snapshot %s: %w", p, err)
			}
			backup.Files = append(backup.Files, models.BackupFile{Path: p, Existed: false})
			continue
		}
		sum := sha256.Sum256(content)
		backup.Files = append(backup.Files, models.BackupFile{
			Path:        p,
			ContentHash: hex.EncodeToString(sum[:]),
			Content:     content,
			Existed:     true,
		})
	}

	if err := m.Store.SaveBackup(ctx, backup); err != nil {
		return fmt.Errorf("save backup for attempt %s: %w", attemptID, err)
	}
	return nil
}

// Rollback restores every file in the attempt's backup to its saved
// content and verifies the post-restore hash. Restoration is best-effort
// per file: files that cannot be restored are collected into a
// *PartialRollbackWarning but do not stop the rest. Restoring the same
// backup twice yields the same final content.
func (m *Manager) Rollback(ctx context.Context, attemptID string) error {
	backup, err := m.Store.LoadBackup(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("load backup for attempt %s: %w", attemptID, err)
	}
	if backup == nil {
		return fmt.Errorf("no backup recorded for attempt %s", attemptID)
	}

	var failed []string
	for _, f := range backup.Files {
		if !f.Existed {
			// The file did not exist before mutation; remove whatever the
			// attempt wrote there.
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				failed = append(failed, f.Path)
			}
			continue
		}

		if err := filelock.AtomicWrite(f.Path, f.Content); err != nil {
			failed = append(failed, f.Path)
			continue
		}

		restored, err := os.ReadFile(f.Path)
		if err != nil {
			failed = append(failed, f.Path)
			continue
		}
		sum := sha256.Sum256(restored)
		if hex.EncodeToString(sum[:]) != f.ContentHash {
			failed = append(failed, f.Path)
		}
	}

	if len(failed) > 0 {
		return &PartialRollbackWarning{AttemptID: attemptID, Paths: failed}
	}
	return nil
}

// PartialRollbackWarning records files that could not be restored.
// Rollback of the remaining files still completed.
type PartialRollbackWarning struct {
	AttemptID string
	Paths     []string
}

func (e *PartialRollbackWarning) Error() string {
	return fmt.Sprintf("rollback of attempt %s incomplete: %d file(s) not restored", e.AttemptID, len(e.Paths))
}

// Record feeds a completed attempt's outcome into the circuit breaker.
func (m *Manager) Record(success bool) {
	if m.Breaker != nil {
		m.Breaker.Record(success)
	}
}

// Allow asks the circuit breaker whether a new item may start.
func (m *Manager) Allow() bool {
	if m.Breaker == nil {
		return true
	}
	return m.Breaker.Allow()
}
