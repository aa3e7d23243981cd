package db

import (
	"strings"
	"time"

	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/internal/mylog"
	"gorm.io/gorm"
)

// migrations is append-only. Never edit a shipped entry; add a new version.
var migrations = []migration{
	{
		version: 1,
		name:    "create threads, messages and parts",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS threads (
				thread_id TEXT PRIMARY KEY,
				kind TEXT NOT NULL DEFAULT '',
				conversation_key TEXT NOT NULL DEFAULT '',
				created_at DATETIME,
				updated_at DATETIME
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				thread_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT,
				position INTEGER NOT NULL,
				sender TEXT,
				created_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id)`,
			`CREATE TABLE IF NOT EXISTS parts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				thread_id TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT,
				position INTEGER NOT NULL,
				sender TEXT,
				created_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_parts_thread_id ON parts(thread_id)`,
		},
	},
}

type migration struct {
	version    int
	name       string
	statements []string
}

const (
	migrateMaxRetries     = 5
	migrateInitialBackoff = 200 * time.Millisecond
)

// Migrate applies all pending migrations. Two processes racing to migrate the
// same fresh database is expected: each migration runs in a transaction that
// re-checks the ledger after acquiring the write lock, lock-busy errors are
// retried with exponential backoff, and a loser that exhausts its retries
// re-checks whether the winner already applied the version before failing.
func Migrate(db *gorm.DB, logger *mylog.Logger) error {
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS _migrations (version INTEGER PRIMARY KEY, applied_at DATETIME)`,
	).Error; err != nil {
		return errors.Wrapf(err, "failed to create migration ledger")
	}

	for _, m := range migrations {
		applied, err := isApplied(db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := applyWithRetry(db, logger, m); err != nil {
			return err
		}
	}

	return nil
}

func applyWithRetry(db *gorm.DB, logger *mylog.Logger, m migration) error {
	backoff := migrateInitialBackoff

	var lastErr error
	for attempt := 0; attempt < migrateMaxRetries; attempt++ {
		lastErr = apply(db, m)
		if lastErr == nil {
			return nil
		}
		if !isLockBusy(lastErr) {
			return errors.Wrapf(lastErr, "failed to apply migration %d (%s)", m.version, m.name)
		}

		logger.Warn("migration lock busy, retrying",
			"version", m.version, "attempt", attempt+1, "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
	}

	// A competing process may have won the race while we were backing off.
	if applied, err := isApplied(db, m.version); err == nil && applied {
		logger.Info("migration applied by concurrent process", "version", m.version)
		return nil
	}

	return errors.Wrapf(lastErr, "failed to apply migration %d (%s) after %d attempts",
		m.version, m.name, migrateMaxRetries)
}

func apply(db *gorm.DB, m migration) error {
	return db.Transaction(func(tx *gorm.DB) error {
		// Re-check inside the transaction: another process may have applied
		// this version between our ledger read and the lock acquisition.
		var count int64
		if err := tx.Model(&entity.Migration{}).Where("version = ?", m.version).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		for _, stmt := range m.statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}

		return tx.Create(&entity.Migration{Version: m.version, AppliedAt: time.Now()}).Error
	})
}

func isApplied(db *gorm.DB, version int) (bool, error) {
	var count int64
	if err := db.Model(&entity.Migration{}).Where("version = ?", version).Count(&count).Error; err != nil {
		return false, errors.Wrapf(err, "failed to read migration ledger")
	}
	return count > 0, nil
}

func isLockBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
