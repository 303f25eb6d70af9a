package db

import (
	"database/sql"
	"time"
)

// Local price sources.
const (
	PriceSourceManual   = "manual"
	PriceSourceExchange = "exchange"
)

// Where an effective quote came from.
const (
	QuoteLocal = "local"
	QuoteCloud = "cloud"
)

// LocalPrice is a price learned on this machine, scoped per character.
type LocalPrice struct {
	Scope        string    `json:"scope"`
	ConfigBaseID int64     `json:"config_base_id"`
	Price        float64   `json:"price"`
	Source       string    `json:"source"`
	ListingCount int       `json:"listing_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpsertLocalPrice records a locally learned or manually entered price.
func (d *DB) UpsertLocalPrice(p *LocalPrice) error {
	_, err := d.sql.Exec(`
		INSERT INTO prices (scope, config_base_id, price, source, listing_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, config_base_id) DO UPDATE SET
			price = excluded.price,
			source = excluded.source,
			listing_count = excluded.listing_count,
			updated_at = excluded.updated_at`,
		p.Scope, p.ConfigBaseID, p.Price, p.Source, p.ListingCount, ts(p.UpdatedAt))
	return err
}

// GetLocalPrice returns one local price row, or nil.
func (d *DB) GetLocalPrice(scope string, configBaseID int64) (*LocalPrice, error) {
	var p LocalPrice
	var updated string
	err := d.sql.QueryRow(`
		SELECT scope, config_base_id, price, source, listing_count, updated_at
		FROM prices WHERE scope = ? AND config_base_id = ?`, scope, configBaseID).
		Scan(&p.Scope, &p.ConfigBaseID, &p.Price, &p.Source, &p.ListingCount, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = parseTS(updated)
	return &p, nil
}

// LocalPrices returns every local price for a scope.
func (d *DB) LocalPrices(scope string) ([]LocalPrice, error) {
	rows, err := d.sql.Query(`
		SELECT scope, config_base_id, price, source, listing_count, updated_at
		FROM prices WHERE scope = ? ORDER BY config_base_id`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocalPrice
	for rows.Next() {
		var p LocalPrice
		var updated string
		if err := rows.Scan(&p.Scope, &p.ConfigBaseID, &p.Price, &p.Source, &p.ListingCount, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseTS(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteLocalPrice removes a local price row.
func (d *DB) DeleteLocalPrice(scope string, configBaseID int64) error {
	_, err := d.sql.Exec("DELETE FROM prices WHERE scope = ? AND config_base_id = ?", scope, configBaseID)
	return err
}

// CopyPrices imports prices from another scope (a previous season), skipping
// items already priced in the target scope. Returns the number imported.
func (d *DB) CopyPrices(fromScope, toScope string) (int64, error) {
	res, err := d.sql.Exec(`
		INSERT OR IGNORE INTO prices (scope, config_base_id, price, source, listing_count, updated_at)
		SELECT ?, config_base_id, price, source, listing_count, updated_at
		FROM prices WHERE scope = ?`, toScope, fromScope)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CloudPrice is one crowd-sourced aggregate row for a season.
type CloudPrice struct {
	SeasonID     int       `json:"season_id"`
	ConfigBaseID int64     `json:"config_base_id"`
	Median       float64   `json:"median"`
	P10          float64   `json:"p10"`
	P90          float64   `json:"p90"`
	Contributors int       `json:"contributors"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpsertCloudPrices refreshes the cloud price mirror in one transaction.
func (d *DB) UpsertCloudPrices(prices []CloudPrice) error {
	if len(prices) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO cloud_prices (season_id, config_base_id, median, p10, p90, contributors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(season_id, config_base_id) DO UPDATE SET
			median = excluded.median,
			p10 = excluded.p10,
			p90 = excluded.p90,
			contributors = excluded.contributors,
			updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range prices {
		if _, err := stmt.Exec(p.SeasonID, p.ConfigBaseID, p.Median, p.P10, p.P90, p.Contributors, ts(p.UpdatedAt)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CloudPricesForSeason returns the cached cloud rows for one season.
func (d *DB) CloudPricesForSeason(seasonID int) ([]CloudPrice, error) {
	rows, err := d.sql.Query(`
		SELECT season_id, config_base_id, median, p10, p90, contributors, updated_at
		FROM cloud_prices WHERE season_id = ? ORDER BY config_base_id`, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CloudPrice
	for rows.Next() {
		var p CloudPrice
		var updated string
		if err := rows.Scan(&p.SeasonID, &p.ConfigBaseID, &p.Median, &p.P10, &p.P90, &p.Contributors, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseTS(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PriceQuote is the effective price of an item after merging the locally
// learned figure with the crowd-sourced one: whichever was updated later
// wins, ties go to the cloud.
type PriceQuote struct {
	ConfigBaseID int64     `json:"config_base_id"`
	Price        float64   `json:"price"`
	Quote        string    `json:"quote"`
	LocalSource  string    `json:"local_source,omitempty"`
	Contributors int       `json:"contributors"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EffectivePrices merges local prices for a scope with cloud prices for its
// season into the map every valuation starts from.
func (d *DB) EffectivePrices(scope string, seasonID int) (map[int64]PriceQuote, error) {
	quotes := make(map[int64]PriceQuote)

	locals, err := d.LocalPrices(scope)
	if err != nil {
		return nil, err
	}
	for _, p := range locals {
		quotes[p.ConfigBaseID] = PriceQuote{
			ConfigBaseID: p.ConfigBaseID,
			Price:        p.Price,
			Quote:        QuoteLocal,
			LocalSource:  p.Source,
			UpdatedAt:    p.UpdatedAt,
		}
	}

	clouds, err := d.CloudPricesForSeason(seasonID)
	if err != nil {
		return nil, err
	}
	for _, p := range clouds {
		q := PriceQuote{
			ConfigBaseID: p.ConfigBaseID,
			Price:        p.Median,
			Quote:        QuoteCloud,
			Contributors: p.Contributors,
			UpdatedAt:    p.UpdatedAt,
		}
		if local, ok := quotes[p.ConfigBaseID]; !ok || !q.UpdatedAt.Before(local.UpdatedAt) {
			quotes[p.ConfigBaseID] = q
		}
	}
	return quotes, nil
}

// LocalPriceCount reports how many items have a locally learned price.
func (d *DB) LocalPriceCount(scope string) (int, error) {
	var n int
	err := d.sql.QueryRow("SELECT COUNT(*) FROM prices WHERE scope = ?", scope).Scan(&n)
	return n, err
}

// HistoryPoint is one hourly aggregate bucket for an item.
type HistoryPoint struct {
	HourTS      time.Time `json:"hour_ts"`
	Median      float64   `json:"median"`
	P10         float64   `json:"p10"`
	P90         float64   `json:"p90"`
	Submissions int       `json:"submissions"`
	Devices     int       `json:"devices"`
}

// UpsertPriceHistory stores hourly history rows fetched from the cloud.
func (d *DB) UpsertPriceHistory(configBaseID int64, points []HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO price_history (config_base_id, hour_ts, median, p10, p90, submissions, devices)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_base_id, hour_ts) DO UPDATE SET
			median = excluded.median,
			p10 = excluded.p10,
			p90 = excluded.p90,
			submissions = excluded.submissions,
			devices = excluded.devices`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(configBaseID, ts(p.HourTS), p.Median, p.P10, p.P90, p.Submissions, p.Devices); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// PriceHistory returns hourly points for an item from a cutoff, oldest first.
func (d *DB) PriceHistory(configBaseID int64, since time.Time) ([]HistoryPoint, error) {
	rows, err := d.sql.Query(`
		SELECT hour_ts, median, p10, p90, submissions, devices
		FROM price_history
		WHERE config_base_id = ? AND hour_ts >= ?
		ORDER BY hour_ts`, configBaseID, ts(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		var hour string
		if err := rows.Scan(&hour, &p.Median, &p.P10, &p.P90, &p.Submissions, &p.Devices); err != nil {
			return nil, err
		}
		p.HourTS = parseTS(hour)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PrunePriceHistory drops history rows older than the cutoff.
func (d *DB) PrunePriceHistory(cutoff time.Time) (int64, error) {
	res, err := d.sql.Exec("DELETE FROM price_history WHERE hour_ts < ?", ts(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
