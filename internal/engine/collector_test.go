package engine

import (
	"testing"
	"time"

	"ti-tracker/internal/db"
)

const logPrefix = "[2026.05.01-10.32.05:123][457]GameLog: Display: [Game] "

var identityLines = []string{
	logPrefix + "PlayerMgr@ SeasonId = 12",
	logPrefix + "PlayerMgr@ RoleName = Rehan",
}

func newTestCollector(t *testing.T, store *db.DB) *Collector {
	t.Helper()
	c := NewCollector(store, testCatalog(), "", nil, nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func feed(t *testing.T, c *Collector, lines ...string) {
	t.Helper()
	if err := c.ProcessLines(lines, time.Now()); err != nil {
		t.Fatalf("ProcessLines: %v", err)
	}
}

func TestCollector_PickupInsideRun(t *testing.T) {
	store := openTestStore(t)
	c := newTestCollector(t, store)

	feed(t, c, identityLines...)
	feed(t, c,
		logPrefix+"BagMgr@:Init BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 640",
		"[2026.05.01-10.32.06:000][458]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+mapPathZ1,
		logPrefix+"LevelMgr@ LevelUid, LevelType, LevelId = 1061006 3 1012",
		logPrefix+"ItemChange@ ProtoName=PickItems start",
		logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 671",
		logPrefix+"ItemChange@ ProtoName=PickItems end",
	)

	open, err := store.OpenRuns("12_Rehan")
	if err != nil || len(open) != 1 {
		t.Fatalf("OpenRuns = %v, %v; want one", open, err)
	}
	totals, err := store.RunDeltaTotals(open[0].ID, true)
	if err != nil || len(totals) != 1 {
		t.Fatalf("RunDeltaTotals = %v, %v", totals, err)
	}
	if totals[0].ConfigBaseID != 100300 || totals[0].Qty != 31 || totals[0].Context != "PickItems" {
		t.Fatalf("total = %+v, want +31 FE under PickItems", totals[0])
	}

	// The absolute snapshot matches the fold of events.
	slots, err := store.LoadSlots("12_Rehan")
	if err != nil {
		t.Fatalf("LoadSlots: %v", err)
	}
	if s := slots[db.SlotKey{PageID: 102, SlotID: 0}]; s.Num != 671 {
		t.Fatalf("slot = %+v, want 671", s)
	}
}

func TestCollector_DeltasOutsideRunsAreUnattributed(t *testing.T) {
	store := openTestStore(t)
	c := newTestCollector(t, store)

	feed(t, c, identityLines...)
	feed(t, c, logPrefix+"BagMgr@:Modfy BagItem PageId = 103 SlotId = 2 ConfigBaseId = 100310 Num = 5")

	deltas, err := store.RecentDeltas("12_Rehan", 10)
	if err != nil || len(deltas) != 1 {
		t.Fatalf("RecentDeltas = %v, %v", deltas, err)
	}
	if deltas[0].RunID != nil {
		t.Fatalf("delta outside a run should have nil run id, got %v", *deltas[0].RunID)
	}
	if deltas[0].Context != "Other" {
		t.Fatalf("context = %q, want Other", deltas[0].Context)
	}
}

func TestCollector_WaitingForPlayerDropsBagEvents(t *testing.T) {
	store := openTestStore(t)
	c := newTestCollector(t, store)

	feed(t, c, logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 10")
	if !c.Status().WaitingForPlayer {
		t.Fatal("collector should be waiting for a player")
	}

	feed(t, c, identityLines...)
	deltas, _ := store.RecentDeltas("12_Rehan", 10)
	if len(deltas) != 0 {
		t.Fatalf("pre-identity events must be dropped, got %v", deltas)
	}
	if c.Status().WaitingForPlayer {
		t.Error("identity lines should clear waiting state")
	}
}

func TestCollector_ScopeSwitchDoesNotCrossContaminate(t *testing.T) {
	store := openTestStore(t)
	c := newTestCollector(t, store)

	feed(t, c, identityLines...)
	feed(t, c,
		"[2026.05.01-10.32.06:000][458]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+mapPathZ1,
		logPrefix+"LevelMgr@ LevelUid, LevelType, LevelId = 1061006 3 1012",
		logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 100",
	)

	// Character switch mid-session: the open run flushes to the old scope.
	feed(t, c, logPrefix+"PlayerMgr@ RoleName = Moto")

	open, _ := store.OpenRuns("12_Rehan")
	if len(open) != 0 {
		t.Fatalf("old scope still has open runs: %v", open)
	}
	if got := c.Scope(); got != "12_Moto" {
		t.Fatalf("scope = %q, want 12_Moto", got)
	}

	// New scope starts from its own (empty) slot state: the same absolute
	// total is a fresh pickup, not a diff against Rehan's stack.
	feed(t, c, logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 100")
	deltas, _ := store.RecentDeltas("12_Moto", 10)
	if len(deltas) != 1 || deltas[0].Delta != 100 {
		t.Fatalf("new scope deltas = %v, want one +100", deltas)
	}
	rehan, _ := store.RecentDeltas("12_Rehan", 10)
	if len(rehan) != 1 || rehan[0].Delta != 100 {
		t.Fatalf("old scope deltas = %v, want its original +100 only", rehan)
	}
}

func TestCollector_PriceLearningFlowsToStoreAndOutbox(t *testing.T) {
	store := openTestStore(t)
	c := newTestCollector(t, store)
	feed(t, c, identityLines...)

	feed(t, c,
		"----Socket SendMessage STT----XchgSearchPrice----SynId = 7",
		"+refer [100310]",
		"----Socket SendMessage End----",
		"----Socket RecvMessage STT----XchgSearchPrice----SynId = 7",
		"+unitPrices+0 [0.10]",
		"+1 [0.12]",
		"+2 [0.15]",
		"+3 [0.20]",
		"+4 [1.50]",
		"----Socket RecvMessage End----",
	)

	p, err := store.GetLocalPrice("12_Rehan", 100310)
	if err != nil || p == nil {
		t.Fatalf("GetLocalPrice = %v, %v", p, err)
	}
	if diff := p.Price - 0.108; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("learned price = %v, want 0.108", p.Price)
	}
	if p.Source != db.PriceSourceExchange {
		t.Errorf("source = %q, want exchange", p.Source)
	}

	depth, _ := store.OutboxDepth()
	if depth != 1 {
		t.Fatalf("outbox depth = %d, want 1", depth)
	}
}

func TestCollector_ReplayIsIdempotent(t *testing.T) {
	lines := append([]string{}, identityLines...)
	lines = append(lines,
		logPrefix+"BagMgr@:Init BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 100",
		"[2026.05.01-10.32.06:000][458]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+mapPathZ1,
		logPrefix+"LevelMgr@ LevelUid, LevelType, LevelId = 1061006 3 1012",
		logPrefix+"ItemChange@ ProtoName=PickItems start",
		logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 150",
		logPrefix+"BagMgr@:Modfy BagItem PageId = 103 SlotId = 1 ConfigBaseId = 100310 Num = 3",
		logPrefix+"ItemChange@ ProtoName=PickItems end",
		"[2026.05.01-10.40.00:000][900]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+hubPath,
	)

	run := func() ([]db.ItemDelta, map[db.SlotKey]db.Slot) {
		store := openTestStore(t)
		c := newTestCollector(t, store)
		feed(t, c, lines...)
		deltas, err := store.RecentDeltas("12_Rehan", 100)
		if err != nil {
			t.Fatalf("RecentDeltas: %v", err)
		}
		slots, err := store.LoadSlots("12_Rehan")
		if err != nil {
			t.Fatalf("LoadSlots: %v", err)
		}
		return deltas, slots
	}

	d1, s1 := run()
	d2, s2 := run()
	if len(d1) != len(d2) {
		t.Fatalf("delta counts differ: %d vs %d", len(d1), len(d2))
	}
	for i := range d1 {
		if d1[i].ConfigBaseID != d2[i].ConfigBaseID || d1[i].Delta != d2[i].Delta || d1[i].Context != d2[i].Context {
			t.Errorf("delta %d differs: %+v vs %+v", i, d1[i], d2[i])
		}
	}
	if len(s1) != len(s2) {
		t.Fatalf("slot counts differ: %d vs %d", len(s1), len(s2))
	}
	for k, v := range s1 {
		if s2[k] != v {
			t.Errorf("slot %v differs: %+v vs %+v", k, v, s2[k])
		}
	}
}
