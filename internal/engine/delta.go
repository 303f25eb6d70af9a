// Package engine is the tracker's core: it folds parsed log events into
// slot state and signed deltas, segments level transitions into runs,
// tracks the active player scope, and values runs against the price table.
// One collector goroutine drives everything; nothing here is safe for
// concurrent use unless stated.
package engine

import (
	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/parse"
)

// Change is one signed quantity movement derived from a bag event. The
// collector attributes it to a run and context before persisting.
type Change struct {
	PageID       int
	SlotID       int
	ConfigBaseID int64
	Delta        int64
}

// DeltaEngine converts absolute per-slot stack totals into signed changes
// against the last observed state. The game logs the new total, never the
// difference, so the previous value is the whole trick.
type DeltaEngine struct {
	catalog *gamedata.Catalog
	slots   map[db.SlotKey]db.Slot
}

func NewDeltaEngine(catalog *gamedata.Catalog) *DeltaEngine {
	return &DeltaEngine{
		catalog: catalog,
		slots:   make(map[db.SlotKey]db.Slot),
	}
}

// Load replaces the in-memory slot map, typically with the persisted
// snapshot for the scope being activated.
func (e *DeltaEngine) Load(slots map[db.SlotKey]db.Slot) {
	if slots == nil {
		slots = make(map[db.SlotKey]db.Slot)
	}
	e.slots = slots
}

// Reset drops all slot state, for a scope switch to a fresh character.
func (e *DeltaEngine) Reset() {
	e.slots = make(map[db.SlotKey]db.Slot)
}

// Slots exposes the current in-memory snapshot.
func (e *DeltaEngine) Slots() map[db.SlotKey]db.Slot {
	return e.slots
}

// Apply folds one bag event into the slot map. It returns the signed
// changes to record and the absolute slot writes to persist. Init events
// update state without producing changes; excluded gear-page events are
// dropped entirely.
func (e *DeltaEngine) Apply(ev parse.Event) (changes []Change, writes []db.SlotWrite) {
	if !gamedata.TrackedPage(ev.PageID) {
		return nil, nil
	}
	key := db.SlotKey{PageID: ev.PageID, SlotID: ev.SlotID}
	prev, occupied := e.slots[key]
	if occupied && prev.Num == 0 {
		occupied = false
	}

	switch ev.Kind {
	case parse.KindBagInit:
		if e.catalog.Excluded(ev.PageID, ev.ConfigBaseID) {
			return nil, nil
		}
		return nil, e.set(key, ev.ConfigBaseID, ev.Num)

	case parse.KindBagModify:
		if e.catalog.Excluded(ev.PageID, ev.ConfigBaseID) {
			return nil, nil
		}
		// A negative total is the game resyncing after a missed window.
		// The event is authoritative; adopt it without inventing a delta.
		if ev.Num < 0 {
			return nil, e.set(key, ev.ConfigBaseID, ev.Num)
		}
		switch {
		case !occupied:
			changes = append(changes, Change{ev.PageID, ev.SlotID, ev.ConfigBaseID, ev.Num})
		case prev.ConfigBaseID == ev.ConfigBaseID:
			if d := ev.Num - prev.Num; d != 0 {
				changes = append(changes, Change{ev.PageID, ev.SlotID, ev.ConfigBaseID, d})
			}
		default:
			// The slot now holds a different item: the old stack left and
			// the new one arrived, in that order.
			changes = append(changes,
				Change{ev.PageID, ev.SlotID, prev.ConfigBaseID, -prev.Num},
				Change{ev.PageID, ev.SlotID, ev.ConfigBaseID, ev.Num})
		}
		return changes, e.set(key, ev.ConfigBaseID, ev.Num)

	case parse.KindBagRemove:
		if !occupied {
			return nil, nil
		}
		if e.catalog.Excluded(ev.PageID, prev.ConfigBaseID) {
			return nil, nil
		}
		changes = append(changes, Change{ev.PageID, ev.SlotID, prev.ConfigBaseID, -prev.Num})
		return changes, e.set(key, prev.ConfigBaseID, 0)
	}
	return nil, nil
}

func (e *DeltaEngine) set(key db.SlotKey, configBaseID, num int64) []db.SlotWrite {
	e.slots[key] = db.Slot{
		PageID:       key.PageID,
		SlotID:       key.SlotID,
		ConfigBaseID: configBaseID,
		Num:          num,
	}
	return []db.SlotWrite{{
		PageID:       key.PageID,
		SlotID:       key.SlotID,
		ConfigBaseID: configBaseID,
		Num:          num,
	}}
}
