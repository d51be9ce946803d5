// Package sqlite provides a SQLite-backed upload storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/officecollab/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/officecollab/internal/services/editor/storage"
	"github.com/louisbranch/officecollab/internal/services/editor/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// locatorPrefix marks locators issued by this store.
const locatorPrefix = "sqlite:"

// Store persists uploads in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite upload store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutUpload inserts one upload and returns its locator.
func (s *Store) PutUpload(ctx context.Context, upload storage.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	key := strings.TrimSpace(upload.Key)
	if key == "" {
		return "", fmt.Errorf("upload key is required")
	}
	createdAt := upload.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	data := upload.Data
	if data == nil {
		data = []byte{}
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO uploads (upload_key, name, data, created_at) VALUES (?, ?, ?, ?)`,
		key,
		strings.TrimSpace(upload.Name),
		data,
		toMillis(createdAt),
	)
	if err != nil {
		if isUploadKeyViolation(err) {
			return "", storage.ErrAlreadyExists
		}
		return "", fmt.Errorf("put upload: %w", err)
	}
	return locatorPrefix + key, nil
}

// GetUpload returns the upload behind a locator issued by PutUpload.
func (s *Store) GetUpload(ctx context.Context, locator string) (storage.Upload, error) {
	if err := ctx.Err(); err != nil {
		return storage.Upload{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Upload{}, fmt.Errorf("storage is not configured")
	}
	key, ok := strings.CutPrefix(locator, locatorPrefix)
	if !ok || key == "" {
		return storage.Upload{}, storage.ErrNotFound
	}

	var (
		upload    storage.Upload
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT upload_key, name, data, created_at FROM uploads WHERE upload_key = ?`,
		key,
	).Scan(&upload.Key, &upload.Name, &upload.Data, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Upload{}, storage.ErrNotFound
		}
		return storage.Upload{}, fmt.Errorf("get upload: %w", err)
	}
	upload.CreatedAt = fromMillis(createdAt)
	return upload, nil
}

func isUploadKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "uploads.upload_key")
}

var _ storage.UploadStore = (*Store)(nil)
