package db

import (
	"database/sql"
	"time"
)

// LogPosition is the persisted tail position in the game log. A path change
// means the log moved (new install or rotation) and the offset no longer
// applies; the fingerprint catches the file being replaced in place.
type LogPosition struct {
	Path        string
	Offset      int64
	Fingerprint string
	UpdatedAt   time.Time
}

// LoadLogPosition returns the stored tail position, or nil when the tracker
// has never run against this database.
func (d *DB) LoadLogPosition() (*LogPosition, error) {
	var p LogPosition
	var updated string
	err := d.sql.QueryRow("SELECT path, offset, fingerprint, updated_at FROM log_position WHERE id = 1").
		Scan(&p.Path, &p.Offset, &p.Fingerprint, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = parseTS(updated)
	return &p, nil
}

// SaveLogPosition upserts the tail position outside a poll batch, used when
// seeking without any slot activity to record.
func (d *DB) SaveLogPosition(path string, offset int64, fingerprint string) error {
	_, err := d.sql.Exec(`
		INSERT INTO log_position (id, path, offset, fingerprint, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			offset = excluded.offset,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at`,
		path, offset, fingerprint, ts(time.Now()))
	return err
}
