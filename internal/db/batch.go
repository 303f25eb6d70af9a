package db

import (
	"strings"
	"time"
)

// SlotWrite is an absolute slot update produced by one poll.
type SlotWrite struct {
	PageID       int
	SlotID       int
	ConfigBaseID int64
	Num          int64
}

// DeltaWrite is a signed inventory change attributed to a run (RunID nil
// while idle or in a hub) and tagged with the enclosing operation context.
type DeltaWrite struct {
	TS           time.Time
	RunID        *int64
	PageID       int
	SlotID       int
	ConfigBaseID int64
	Delta        int64
	Context      string
}

// PollBatch is everything one tail poll produced. Applying it atomically is
// what makes a crash-and-restart replay the same log lines without double
// counting: the slot snapshot, the deltas derived from it and the log offset
// move together or not at all.
type PollBatch struct {
	Scope          string
	Slots          []SlotWrite
	Deltas         []DeltaWrite
	LogPath        string
	LogOffset      int64
	LogFingerprint string
}

const batchRetries = 3

// ApplyPollBatch writes a poll batch in a single transaction, retrying a
// few times when the database is briefly locked by a reader.
func (d *DB) ApplyPollBatch(b *PollBatch) error {
	var err error
	for attempt := 0; attempt < batchRetries; attempt++ {
		if err = d.applyPollBatch(b); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}

func (d *DB) applyPollBatch(b *PollBatch) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(b.Slots) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO slot_state (scope, page_id, slot_id, config_base_id, num, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(scope, page_id, slot_id) DO UPDATE SET
				config_base_id = excluded.config_base_id,
				num = excluded.num,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		now := ts(time.Now())
		for _, s := range b.Slots {
			if _, err := stmt.Exec(b.Scope, s.PageID, s.SlotID, s.ConfigBaseID, s.Num, now); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if len(b.Deltas) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO item_deltas (scope, run_id, ts, page_id, slot_id, config_base_id, delta, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		for _, dw := range b.Deltas {
			var runID interface{}
			if dw.RunID != nil {
				runID = *dw.RunID
			}
			ctx := dw.Context
			if ctx == "" {
				ctx = "Other"
			}
			if _, err := stmt.Exec(b.Scope, runID, ts(dw.TS), dw.PageID, dw.SlotID, dw.ConfigBaseID, dw.Delta, ctx); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if b.LogPath != "" {
		if _, err := tx.Exec(`
			INSERT INTO log_position (id, path, offset, fingerprint, updated_at) VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				path = excluded.path,
				offset = excluded.offset,
				fingerprint = excluded.fingerprint,
				updated_at = excluded.updated_at`,
			b.LogPath, b.LogOffset, b.LogFingerprint, ts(time.Now())); err != nil {
			return err
		}
	}

	return tx.Commit()
}
