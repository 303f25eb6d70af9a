package db

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Setting keys used across the app. Anything else in the settings table is
// owned by the frontend and passed through untouched.
const (
	SettingDeviceID       = "device_id"
	SettingCloudEnabled   = "cloud_enabled"
	SettingRealtimePaused = "realtime_paused"
	SettingLastDownlink   = "last_downlink"
	SettingHistoryBackoff = "history_backoff_until"
)

// GetSetting returns the value for key, or "" when unset.
func (d *DB) GetSetting(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting upserts a key/value pair.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.sql.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetSettingBool parses a boolean setting; def when unset or malformed.
func (d *DB) GetSettingBool(key string, def bool) bool {
	v, err := d.GetSetting(key)
	if err != nil || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// AllSettings returns every key/value pair, for the settings API.
func (d *DB) AllSettings() (map[string]string, error) {
	rows, err := d.sql.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, rows.Err()
}

// DeviceID returns the stable anonymous device identifier, creating it on
// first call. It never leaves the machine except in price submissions.
func (d *DB) DeviceID() (string, error) {
	id, err := d.GetSetting(SettingDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := d.SetSetting(SettingDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// GetSettingTime parses an RFC3339 setting; zero time when unset.
func (d *DB) GetSettingTime(key string) time.Time {
	v, err := d.GetSetting(key)
	if err != nil || v == "" {
		return time.Time{}
	}
	return parseTS(v)
}

// SetSettingTime stores a timestamp setting in RFC3339.
func (d *DB) SetSettingTime(key string, t time.Time) error {
	return d.SetSetting(key, ts(t))
}
