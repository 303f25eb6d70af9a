package db

import (
	"time"
)

// OutboxRow is one queued price submission awaiting upload.
type OutboxRow struct {
	ID           int64
	ConfigBaseID int64
	Price        float64
	ObservedAt   time.Time
	Attempts     int
	NextAttempt  time.Time
	LastError    string
}

// EnqueuePrice queues a locally learned price for cloud submission.
func (d *DB) EnqueuePrice(configBaseID int64, price float64, observedAt time.Time) error {
	now := time.Now()
	_, err := d.sql.Exec(`
		INSERT INTO cloud_outbox (config_base_id, price, observed_at, attempts, next_attempt, created_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		configBaseID, price, ts(observedAt), ts(now), ts(now))
	return err
}

// DueSubmissions returns queued rows whose backoff has elapsed, oldest
// first, up to limit.
func (d *DB) DueSubmissions(now time.Time, limit int) ([]OutboxRow, error) {
	rows, err := d.sql.Query(`
		SELECT id, config_base_id, price, observed_at, attempts, next_attempt, last_error
		FROM cloud_outbox
		WHERE next_attempt <= ?
		ORDER BY id
		LIMIT ?`, ts(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		var observed, next string
		if err := rows.Scan(&r.ID, &r.ConfigBaseID, &r.Price, &observed, &r.Attempts, &next, &r.LastError); err != nil {
			return nil, err
		}
		r.ObservedAt = parseTS(observed)
		r.NextAttempt = parseTS(next)
		out = append(out, r)
	}
	return out, rows.Err()
}

// BumpAttempt records a failed submission and schedules the retry.
func (d *DB) BumpAttempt(id int64, nextAttempt time.Time, lastError string) error {
	_, err := d.sql.Exec(`
		UPDATE cloud_outbox SET attempts = attempts + 1, next_attempt = ?, last_error = ? WHERE id = ?`,
		ts(nextAttempt), lastError, id)
	return err
}

// RemoveSubmission drops a row after success or a permanent rejection.
func (d *DB) RemoveSubmission(id int64) error {
	_, err := d.sql.Exec("DELETE FROM cloud_outbox WHERE id = ?", id)
	return err
}

// OutboxDepth returns how many submissions are queued.
func (d *DB) OutboxDepth() (int, error) {
	var n int
	err := d.sql.QueryRow("SELECT COUNT(*) FROM cloud_outbox").Scan(&n)
	return n, err
}

// TrimOutbox keeps the newest keep rows, dropping the oldest beyond that.
// An unreachable cloud should not grow the queue without bound.
func (d *DB) TrimOutbox(keep int) (int64, error) {
	res, err := d.sql.Exec(`
		DELETE FROM cloud_outbox
		WHERE id NOT IN (SELECT id FROM cloud_outbox ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
