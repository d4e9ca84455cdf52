package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SettingReaderProfile holds the interest profile text used to steer scoring.
const SettingReaderProfile = "reader_profile"

// GetSetting returns the value for a key, or "" when the key is unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		formatTime(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
