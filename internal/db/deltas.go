package db

import (
	"database/sql"
	"time"
)

// ItemDelta is one recorded inventory change.
type ItemDelta struct {
	ID           int64     `json:"id"`
	Scope        string    `json:"scope"`
	RunID        *int64    `json:"run_id"`
	TS           time.Time `json:"ts"`
	PageID       int       `json:"page_id"`
	SlotID       int       `json:"slot_id"`
	ConfigBaseID int64     `json:"config_base_id"`
	Delta        int64     `json:"delta"`
	Context      string    `json:"context"`
}

// ContextTotal aggregates a run's deltas per item and context tag, joined
// with catalog names so the API does not need a second lookup.
type ContextTotal struct {
	ConfigBaseID int64  `json:"config_base_id"`
	NameEN       string `json:"name_en"`
	NameCN       string `json:"name_cn"`
	IconURL      string `json:"icon_url"`
	Context      string `json:"context"`
	Qty          int64  `json:"qty"`
}

// RunDeltaTotals sums deltas per (item, context) for one run. Sub-run
// deltas are folded in when includeChildren is set, which is how an outer
// run reports spliced loot.
func (d *DB) RunDeltaTotals(runID int64, includeChildren bool) ([]ContextTotal, error) {
	where := "dl.run_id = ?"
	args := []interface{}{runID}
	if includeChildren {
		where = "(dl.run_id = ? OR dl.run_id IN (SELECT id FROM runs WHERE parent_run_id = ?))"
		args = append(args, runID)
	}
	return d.queryContextTotals(`
		SELECT dl.config_base_id,
		       COALESCE(i.name_en, ''), COALESCE(i.name_cn, ''), COALESCE(i.icon_url, ''),
		       dl.context, SUM(dl.delta)
		FROM item_deltas dl
		LEFT JOIN items i ON i.config_base_id = dl.config_base_id
		WHERE `+where+`
		GROUP BY dl.config_base_id, dl.context
		HAVING SUM(dl.delta) != 0
		ORDER BY SUM(dl.delta) DESC`, args...)
}

// ScopeDeltaTotalsSince sums deltas per (item, context) across a scope from
// a cutoff, feeding the session and daily stats endpoints.
func (d *DB) ScopeDeltaTotalsSince(scope string, since time.Time) ([]ContextTotal, error) {
	return d.queryContextTotals(`
		SELECT dl.config_base_id,
		       COALESCE(i.name_en, ''), COALESCE(i.name_cn, ''), COALESCE(i.icon_url, ''),
		       dl.context, SUM(dl.delta)
		FROM item_deltas dl
		LEFT JOIN items i ON i.config_base_id = dl.config_base_id
		WHERE dl.scope = ? AND dl.ts >= ?
		GROUP BY dl.config_base_id, dl.context
		HAVING SUM(dl.delta) != 0
		ORDER BY SUM(dl.delta) DESC`, scope, ts(since))
}

func (d *DB) queryContextTotals(query string, args ...interface{}) ([]ContextTotal, error) {
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContextTotal
	for rows.Next() {
		var t ContextTotal
		if err := rows.Scan(&t.ConfigBaseID, &t.NameEN, &t.NameCN, &t.IconURL, &t.Context, &t.Qty); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ScopeDeltasSince returns a scope's raw deltas from a cutoff in file
// order, for time-bucketed series.
func (d *DB) ScopeDeltasSince(scope string, since time.Time) ([]ItemDelta, error) {
	rows, err := d.sql.Query(`
		SELECT id, scope, run_id, ts, page_id, slot_id, config_base_id, delta, context
		FROM item_deltas
		WHERE scope = ? AND ts >= ?
		ORDER BY id`, scope, ts(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemDelta
	for rows.Next() {
		dl, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// RecentDeltas returns the latest changes for a scope, newest first.
func (d *DB) RecentDeltas(scope string, limit int) ([]ItemDelta, error) {
	rows, err := d.sql.Query(`
		SELECT id, scope, run_id, ts, page_id, slot_id, config_base_id, delta, context
		FROM item_deltas
		WHERE scope = ?
		ORDER BY id DESC
		LIMIT ?`, scope, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemDelta
	for rows.Next() {
		dl, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// DeltasForRun returns a run's raw deltas in file order.
func (d *DB) DeltasForRun(runID int64) ([]ItemDelta, error) {
	rows, err := d.sql.Query(`
		SELECT id, scope, run_id, ts, page_id, slot_id, config_base_id, delta, context
		FROM item_deltas
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemDelta
	for rows.Next() {
		dl, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func scanDelta(rows *sql.Rows) (ItemDelta, error) {
	var dl ItemDelta
	var runID sql.NullInt64
	var tsStr string
	if err := rows.Scan(&dl.ID, &dl.Scope, &runID, &tsStr, &dl.PageID, &dl.SlotID, &dl.ConfigBaseID, &dl.Delta, &dl.Context); err != nil {
		return dl, err
	}
	if runID.Valid {
		dl.RunID = &runID.Int64
	}
	dl.TS = parseTS(tsStr)
	return dl, nil
}
