package db

import (
	"database/sql"
	"log/slog"

	"github.com/isoflash/isoflash/pkg/errors"
)

// GetSetting returns the value stored under key and whether it exists.
func (r *Repository) GetSetting(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error("database_setting_query_failed", "key", key, "error", err)
		return "", false, errors.Wrap(err, "failed to read setting")
	}
	return value, true, nil
}

// PutSetting creates or replaces the value stored under key.
func (r *Repository) PutSetting(key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.Exec(query, key, value); err != nil {
		slog.Error("database_setting_write_failed", "key", key, "error", err)
		return errors.Wrap(err, "failed to write setting")
	}
	slog.Info("database_setting_saved", "key", key, "value", value)
	return nil
}

func (r *Repository) LastDevice() (string, error) {
	value, _, err := r.GetSetting(SettingLastDevice)
	return value, err
}

func (r *Repository) SetLastDevice(device string) error {
	return r.PutSetting(SettingLastDevice, device)
}
