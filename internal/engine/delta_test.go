package engine

import (
	"testing"

	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/parse"
)

func testCatalog() *gamedata.Catalog {
	return gamedata.NewCatalog([]gamedata.Item{
		{ConfigBaseID: 100300, NameEN: "Flame Elementium", TypeCN: "通货"},
		{ConfigBaseID: 100310, NameEN: "Flame Sand", TypeCN: "通货"},
		{ConfigBaseID: 220041, NameEN: "Glowstone", TypeCN: "辉石"},
		{ConfigBaseID: 900001, NameEN: "Rusty Sword", TypeCN: "单手剑"},
	})
}

func bagModify(page, slot int, typeID, num int64) parse.Event {
	return parse.Event{Kind: parse.KindBagModify, PageID: page, SlotID: slot, ConfigBaseID: typeID, Num: num}
}

func TestDeltaEngine_PickupIncrement(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	e.Load(map[db.SlotKey]db.Slot{
		{PageID: 102, SlotID: 0}: {PageID: 102, SlotID: 0, ConfigBaseID: 100300, Num: 640},
	})

	changes, writes := e.Apply(bagModify(102, 0, 100300, 671))
	if len(changes) != 1 || changes[0].Delta != 31 || changes[0].ConfigBaseID != 100300 {
		t.Fatalf("changes = %+v, want one +31 of 100300", changes)
	}
	if len(writes) != 1 || writes[0].Num != 671 {
		t.Fatalf("writes = %+v, want absolute 671", writes)
	}
}

func TestDeltaEngine_EmptySlotIsFullPositive(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	changes, _ := e.Apply(bagModify(103, 4, 100310, 25))
	if len(changes) != 1 || changes[0].Delta != 25 {
		t.Fatalf("changes = %+v, want +25", changes)
	}
}

func TestDeltaEngine_NoChangeNoDelta(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	e.Apply(bagModify(103, 4, 100310, 25))
	changes, writes := e.Apply(bagModify(103, 4, 100310, 25))
	if len(changes) != 0 {
		t.Fatalf("equal total should emit no delta, got %+v", changes)
	}
	if len(writes) != 1 {
		t.Fatalf("state write still expected, got %+v", writes)
	}
}

func TestDeltaEngine_StackSwap(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	e.Load(map[db.SlotKey]db.Slot{
		{PageID: 103, SlotID: 5}: {PageID: 103, SlotID: 5, ConfigBaseID: 100300, Num: 10},
	})

	changes, _ := e.Apply(bagModify(103, 5, 100310, 3))
	if len(changes) != 2 {
		t.Fatalf("swap should emit 2 changes, got %+v", changes)
	}
	if changes[0].ConfigBaseID != 100300 || changes[0].Delta != -10 {
		t.Errorf("first change = %+v, want -10 of old item", changes[0])
	}
	if changes[1].ConfigBaseID != 100310 || changes[1].Delta != 3 {
		t.Errorf("second change = %+v, want +3 of new item", changes[1])
	}
	got := e.Slots()[db.SlotKey{PageID: 103, SlotID: 5}]
	if got.ConfigBaseID != 100310 || got.Num != 3 {
		t.Errorf("slot state = %+v, want (100310, 3)", got)
	}
}

func TestDeltaEngine_Remove(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	e.Load(map[db.SlotKey]db.Slot{
		{PageID: 103, SlotID: 39}: {PageID: 103, SlotID: 39, ConfigBaseID: 100310, Num: 1},
	})

	changes, writes := e.Apply(parse.Event{Kind: parse.KindBagRemove, PageID: 103, SlotID: 39})
	if len(changes) != 1 || changes[0].Delta != -1 || changes[0].ConfigBaseID != 100310 {
		t.Fatalf("changes = %+v, want -1 of 100310", changes)
	}
	if len(writes) != 1 || writes[0].Num != 0 {
		t.Fatalf("writes = %+v, want emptied slot", writes)
	}

	// Removing an already-empty slot is a no-op.
	changes, writes = e.Apply(parse.Event{Kind: parse.KindBagRemove, PageID: 103, SlotID: 39})
	if len(changes) != 0 || len(writes) != 0 {
		t.Fatalf("second remove should no-op, got %+v / %+v", changes, writes)
	}
}

func TestDeltaEngine_InitUpdatesStateWithoutDelta(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	ev := parse.Event{Kind: parse.KindBagInit, PageID: 102, SlotID: 1, ConfigBaseID: 100300, Num: 500}
	changes, writes := e.Apply(ev)
	if len(changes) != 0 {
		t.Fatalf("init must not emit deltas, got %+v", changes)
	}
	if len(writes) != 1 || writes[0].Num != 500 {
		t.Fatalf("init must write state, got %+v", writes)
	}

	// The snapshot becomes the new baseline for later modifies.
	changes, _ = e.Apply(bagModify(102, 1, 100300, 531))
	if len(changes) != 1 || changes[0].Delta != 31 {
		t.Fatalf("post-init modify = %+v, want +31", changes)
	}
}

func TestDeltaEngine_GearPagePolicy(t *testing.T) {
	e := NewDeltaEngine(testCatalog())

	// Equipment on the gear page is churn, not loot.
	changes, writes := e.Apply(bagModify(100, 0, 900001, 1))
	if len(changes) != 0 || len(writes) != 0 {
		t.Fatalf("gear equipment should be dropped, got %+v / %+v", changes, writes)
	}

	// Allowlisted categories (glowstones) still count.
	changes, _ = e.Apply(bagModify(100, 1, 220041, 2))
	if len(changes) != 1 || changes[0].Delta != 2 {
		t.Fatalf("allowlisted gear item should count, got %+v", changes)
	}

	// Unknown pages are ignored outright.
	changes, writes = e.Apply(bagModify(7, 0, 100300, 10))
	if len(changes) != 0 || len(writes) != 0 {
		t.Fatalf("unknown page should be dropped, got %+v / %+v", changes, writes)
	}
}

func TestDeltaEngine_NegativeTotalIsAuthoritativeReset(t *testing.T) {
	e := NewDeltaEngine(testCatalog())
	e.Load(map[db.SlotKey]db.Slot{
		{PageID: 102, SlotID: 0}: {PageID: 102, SlotID: 0, ConfigBaseID: 100300, Num: 640},
	})

	changes, writes := e.Apply(bagModify(102, 0, 100300, -5))
	if len(changes) != 0 {
		t.Fatalf("anomalous total must not synthesize deltas, got %+v", changes)
	}
	if len(writes) != 1 || writes[0].Num != -5 {
		t.Fatalf("anomalous total should still be adopted, got %+v", writes)
	}
}
