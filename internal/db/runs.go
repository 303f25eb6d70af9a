package db

import (
	"database/sql"
	"time"
)

// Run statuses.
const (
	RunOpen      = "open"
	RunClosed    = "closed"
	RunAbandoned = "abandoned"
)

// Run is one mapping session. Sub-zone excursions (nightmare, arcana and
// similar) are their own rows pointing at the outer run through
// ParentRunID, a one-deep tree. Hub visits are never persisted.
type Run struct {
	ID          int64      `json:"id"`
	Scope       string     `json:"scope"`
	ZonePath    string     `json:"zone_path"`
	ZoneSig     string     `json:"zone_sig"`
	ZoneName    string     `json:"zone_name"`
	LevelUID    int64      `json:"level_uid"`
	LevelType   int        `json:"level_type"`
	LevelID     int64      `json:"level_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	IsSubZone   bool       `json:"is_sub_zone"`
	ParentRunID *int64     `json:"parent_run_id"`
	Status      string     `json:"status"`
}

// Duration is the wall-clock span of the run; open runs measure to now.
func (r *Run) Duration(now time.Time) time.Duration {
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	if end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}

// InsertRun opens a new run and returns its id.
func (d *DB) InsertRun(r *Run) (int64, error) {
	var parent interface{}
	if r.ParentRunID != nil {
		parent = *r.ParentRunID
	}
	res, err := d.sql.Exec(`
		INSERT INTO runs (scope, zone_path, zone_sig, zone_name, level_uid, level_type, level_id, started_at, is_sub_zone, parent_run_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Scope, r.ZonePath, r.ZoneSig, r.ZoneName, r.LevelUID, r.LevelType, r.LevelID,
		ts(r.StartedAt), boolToInt(r.IsSubZone), parent, RunOpen)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CloseRun finalizes a run.
func (d *DB) CloseRun(id int64, endedAt time.Time) error {
	_, err := d.sql.Exec(`UPDATE runs SET ended_at = ?, status = ? WHERE id = ?`,
		ts(endedAt), RunClosed, id)
	return err
}

// AbandonOpenRuns closes any run left open by a crash or unclean shutdown.
// Their true end time is unknowable, so ended_at collapses to started_at.
func (d *DB) AbandonOpenRuns(scope string) (int64, error) {
	res, err := d.sql.Exec(`
		UPDATE runs SET status = ?, ended_at = started_at
		WHERE scope = ? AND status = ?`, RunAbandoned, scope, RunOpen)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const runColumns = `id, scope, zone_path, zone_sig, zone_name, level_uid, level_type, level_id,
		started_at, ended_at, is_sub_zone, parent_run_id, status`

// OpenRuns returns currently open runs for a scope, outer run first.
func (d *DB) OpenRuns(scope string) ([]*Run, error) {
	return d.queryRuns(`
		SELECT `+runColumns+` FROM runs
		WHERE scope = ? AND status = ?
		ORDER BY is_sub_zone, id`, scope, RunOpen)
}

// GetRun fetches one run by id.
func (d *DB) GetRun(id int64) (*Run, error) {
	r, err := d.queryRun(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ChildRuns returns the spliced sub-runs of an outer run, oldest first.
func (d *DB) ChildRuns(parentID int64) ([]*Run, error) {
	return d.queryRuns(`
		SELECT `+runColumns+` FROM runs
		WHERE parent_run_id = ? ORDER BY id`, parentID)
}

// ListRuns returns top-level runs for a scope, newest first. Sub-runs are
// reached through their parent. since filters on start time when non-zero.
func (d *DB) ListRuns(scope string, since time.Time, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE scope = ? AND parent_run_id IS NULL`
	args := []interface{}{scope}
	if !since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, ts(since))
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return d.queryRuns(query, args...)
}

// CountRuns returns how many top-level runs a scope has recorded.
func (d *DB) CountRuns(scope string) (int, error) {
	var n int
	err := d.sql.QueryRow(
		"SELECT COUNT(*) FROM runs WHERE scope = ? AND parent_run_id IS NULL", scope).Scan(&n)
	return n, err
}

// DeleteRun removes a run and its sub-runs but keeps their deltas,
// detached, so inventory stats stay truthful.
func (d *DB) DeleteRun(id int64) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE item_deltas SET run_id = NULL
		WHERE run_id = ? OR run_id IN (SELECT id FROM runs WHERE parent_run_id = ?)`, id, id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE parent_run_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetRuns destroys every run and delta row. Slot state, prices, items,
// settings and cloud caches survive.
func (d *DB) ResetRuns() error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM item_deltas"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs"); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) queryRuns(query string, args ...interface{}) ([]*Run, error) {
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) queryRun(query string, args ...interface{}) (*Run, error) {
	row := d.sql.QueryRow(query, args...)
	return scanRun(row.Scan)
}

func scanRun(scan func(dest ...interface{}) error) (*Run, error) {
	var r Run
	var started string
	var ended sql.NullString
	var subInt int
	var parent sql.NullInt64
	err := scan(&r.ID, &r.Scope, &r.ZonePath, &r.ZoneSig, &r.ZoneName, &r.LevelUID, &r.LevelType, &r.LevelID,
		&started, &ended, &subInt, &parent, &r.Status)
	if err != nil {
		return nil, err
	}
	r.StartedAt = parseTS(started)
	if ended.Valid {
		t := parseTS(ended.String)
		r.EndedAt = &t
	}
	r.IsSubZone = subInt == 1
	if parent.Valid {
		r.ParentRunID = &parent.Int64
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
