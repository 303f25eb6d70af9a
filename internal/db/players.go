package db

import (
	"time"
)

// PlayerScope is one character/season partition of the tracker state.
// Slot snapshots, deltas and runs all hang off a scope key.
type PlayerScope struct {
	Scope      string    `json:"scope"`
	PlayerID   string    `json:"player_id"`
	SeasonID   int       `json:"season_id"`
	SeasonName string    `json:"season_name"`
	RoleName   string    `json:"role_name"`
	RoleLevel  int       `json:"role_level"`
	HeroID     int       `json:"hero_id"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Active     bool      `json:"active"`
}

// ActivateScope stores or updates a player scope and marks it the active
// one, deactivating the rest. Called whenever the parsed player identity
// settles on a new scope key.
func (d *DB) ActivateScope(p *PlayerScope) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE player_scopes SET is_active = 0`); err != nil {
		return err
	}

	now := ts(time.Now())
	_, err = tx.Exec(`
		INSERT INTO player_scopes (scope, player_id, season_id, season_name, role_name, role_level, hero_id, first_seen, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(scope) DO UPDATE SET
			player_id   = excluded.player_id,
			season_id   = excluded.season_id,
			season_name = excluded.season_name,
			role_name   = excluded.role_name,
			role_level  = excluded.role_level,
			hero_id     = excluded.hero_id,
			last_seen   = excluded.last_seen,
			is_active   = 1`,
		p.Scope, p.PlayerID, p.SeasonID, p.SeasonName, p.RoleName, p.RoleLevel, p.HeroID, now, now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// TouchScope refreshes last_seen and the mutable identity fields without
// changing which scope is active.
func (d *DB) TouchScope(p *PlayerScope) error {
	_, err := d.sql.Exec(`
		UPDATE player_scopes
		   SET role_level = ?, hero_id = ?, last_seen = ?
		 WHERE scope = ?`,
		p.RoleLevel, p.HeroID, ts(time.Now()), p.Scope)
	return err
}

// ActiveScope returns the active player scope, or nil if none recorded yet.
func (d *DB) ActiveScope() *PlayerScope {
	if p := d.queryScope(`
		SELECT scope, player_id, season_id, season_name, role_name, role_level, hero_id, first_seen, last_seen, is_active
		FROM player_scopes WHERE is_active = 1 LIMIT 1`); p != nil {
		return p
	}
	// Edge state after manual edits: fall back to the most recently seen.
	return d.queryScope(`
		SELECT scope, player_id, season_id, season_name, role_name, role_level, hero_id, first_seen, last_seen, is_active
		FROM player_scopes ORDER BY last_seen DESC LIMIT 1`)
}

// ListScopes returns all known scopes, active first.
func (d *DB) ListScopes() ([]*PlayerScope, error) {
	rows, err := d.sql.Query(`
		SELECT scope, player_id, season_id, season_name, role_name, role_level, hero_id, first_seen, last_seen, is_active
		FROM player_scopes
		ORDER BY is_active DESC, last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PlayerScope
	for rows.Next() {
		var p PlayerScope
		var first, last string
		var activeInt int
		if err := rows.Scan(&p.Scope, &p.PlayerID, &p.SeasonID, &p.SeasonName, &p.RoleName, &p.RoleLevel, &p.HeroID, &first, &last, &activeInt); err != nil {
			return nil, err
		}
		p.FirstSeen = parseTS(first)
		p.LastSeen = parseTS(last)
		p.Active = activeInt == 1
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (d *DB) queryScope(query string, args ...interface{}) *PlayerScope {
	var p PlayerScope
	var first, last string
	var activeInt int
	err := d.sql.QueryRow(query, args...).
		Scan(&p.Scope, &p.PlayerID, &p.SeasonID, &p.SeasonName, &p.RoleName, &p.RoleLevel, &p.HeroID, &first, &last, &activeInt)
	if err != nil {
		return nil
	}
	p.FirstSeen = parseTS(first)
	p.LastSeen = parseTS(last)
	p.Active = activeInt == 1
	return &p
}
