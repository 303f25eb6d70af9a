package db

import "time"

// Item is one row of the item catalog.
type Item struct {
	ConfigBaseID int64  `json:"config_base_id"`
	NameEN       string `json:"name_en"`
	NameCN       string `json:"name_cn"`
	TypeCN       string `json:"type_cn"`
	IconURL      string `json:"icon_url"`
	UpdatedAt    string `json:"updated_at"`
}

// UpsertItems inserts or refreshes catalog rows in one transaction.
func (d *DB) UpsertItems(items []Item) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO items (config_base_id, name_en, name_cn, type_cn, icon_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_base_id) DO UPDATE SET
			name_en  = excluded.name_en,
			name_cn  = excluded.name_cn,
			type_cn  = excluded.type_cn,
			icon_url = excluded.icon_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := ts(time.Now())
	for _, it := range items {
		if _, err := stmt.Exec(it.ConfigBaseID, it.NameEN, it.NameCN, it.TypeCN, it.IconURL, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetItem fetches a single catalog row.
func (d *DB) GetItem(configBaseID int64) (*Item, error) {
	var it Item
	err := d.sql.QueryRow(`
		SELECT config_base_id, name_en, name_cn, type_cn, icon_url, updated_at
		FROM items WHERE config_base_id = ?`, configBaseID).
		Scan(&it.ConfigBaseID, &it.NameEN, &it.NameCN, &it.TypeCN, &it.IconURL, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItems returns the full catalog ordered by id.
func (d *DB) ListItems() ([]Item, error) {
	rows, err := d.sql.Query(`
		SELECT config_base_id, name_en, name_cn, type_cn, icon_url, updated_at
		FROM items ORDER BY config_base_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ConfigBaseID, &it.NameEN, &it.NameCN, &it.TypeCN, &it.IconURL, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountItems returns the catalog size.
func (d *DB) CountItems() (int, error) {
	var n int
	err := d.sql.QueryRow("SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}
