package db

// Slot is the last known absolute state of one bag slot within a scope.
type Slot struct {
	Scope        string `json:"scope"`
	PageID       int    `json:"page_id"`
	SlotID       int    `json:"slot_id"`
	ConfigBaseID int64  `json:"config_base_id"`
	Num          int64  `json:"num"`
}

// SlotKey identifies a bag slot within a page.
type SlotKey struct {
	PageID int
	SlotID int
}

// LoadSlots returns the full slot snapshot for a scope, keyed by slot.
func (d *DB) LoadSlots(scope string) (map[SlotKey]Slot, error) {
	rows, err := d.sql.Query(`
		SELECT page_id, slot_id, config_base_id, num
		FROM slot_state WHERE scope = ?`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[SlotKey]Slot)
	for rows.Next() {
		s := Slot{Scope: scope}
		if err := rows.Scan(&s.PageID, &s.SlotID, &s.ConfigBaseID, &s.Num); err != nil {
			return nil, err
		}
		m[SlotKey{s.PageID, s.SlotID}] = s
	}
	return m, rows.Err()
}

// InventoryTotals sums slot quantities per item for a scope. Only items
// currently held appear.
func (d *DB) InventoryTotals(scope string) (map[int64]int64, error) {
	rows, err := d.sql.Query(`
		SELECT config_base_id, SUM(num)
		FROM slot_state
		WHERE scope = ? AND num > 0
		GROUP BY config_base_id`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[int64]int64)
	for rows.Next() {
		var id, num int64
		if err := rows.Scan(&id, &num); err != nil {
			return nil, err
		}
		totals[id] = num
	}
	return totals, rows.Err()
}

// InventoryTypeIDs lists the distinct items currently held in a scope,
// the set price history downloads are restricted to.
func (d *DB) InventoryTypeIDs(scope string) ([]int64, error) {
	rows, err := d.sql.Query(`
		SELECT DISTINCT config_base_id
		FROM slot_state
		WHERE scope = ? AND num > 0
		ORDER BY config_base_id`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearSlots wipes the slot snapshot for a scope. Used when a bag
// re-initialization arrives and the old snapshot can no longer be trusted.
func (d *DB) ClearSlots(scope string) error {
	_, err := d.sql.Exec("DELETE FROM slot_state WHERE scope = ?", scope)
	return err
}
