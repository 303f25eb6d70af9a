package parse

import (
	"testing"
	"time"
)

var fallback = time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)

func mustParse(t *testing.T, line string) Event {
	t.Helper()
	ev, ok := ParseLine(line, fallback)
	if !ok {
		t.Fatalf("ParseLine(%q) not recognized", line)
	}
	return ev
}

func TestParseLine_BagModify(t *testing.T) {
	line := "[2026.05.01-10.32.05:123][456]GameLog: Display: [Game]BagMgr@:Modfy BagItem PageId = 102 SlotId = 3 ConfigBaseId = 100300 Num = 671"
	ev := mustParse(t, line)
	if ev.Kind != KindBagModify {
		t.Fatalf("Kind = %v", ev.Kind)
	}
	if ev.PageID != 102 || ev.SlotID != 3 || ev.ConfigBaseID != 100300 || ev.Num != 671 {
		t.Errorf("fields = %d/%d/%d/%d", ev.PageID, ev.SlotID, ev.ConfigBaseID, ev.Num)
	}
	want := time.Date(2026, 5, 1, 10, 32, 5, int(123*time.Millisecond), time.Local)
	if !ev.TS.Equal(want) {
		t.Errorf("TS = %v, want %v", ev.TS, want)
	}
}

func TestParseLine_BagInitAndRemove(t *testing.T) {
	init := mustParse(t, "[2026.05.01-10.32.05:200][456]GameLog: Display: [Game]BagMgr@:Init BagItem PageId = 102 SlotId = 4 ConfigBaseId = 100301 Num = 10")
	if init.Kind != KindBagInit || init.Num != 10 {
		t.Errorf("init = %+v", init)
	}

	rm := mustParse(t, "[2026.05.01-10.32.06:000][456]GameLog: Display: [Game]BagMgr@:Remve BagItem PageId = 103 SlotId = 39")
	if rm.Kind != KindBagRemove || rm.PageID != 103 || rm.SlotID != 39 {
		t.Errorf("remove = %+v", rm)
	}
	if rm.ConfigBaseID != 0 {
		t.Error("remove should carry no ConfigBaseId")
	}
}

func TestParseLine_ContextWindow(t *testing.T) {
	begin := mustParse(t, "[2026.05.01-10.32.05:123][456]GameLog: Display: [Game]ItemChange@ ProtoName=PickItems start")
	if begin.Kind != KindContextBegin || begin.Proto != "PickItems" {
		t.Errorf("begin = %+v", begin)
	}
	end := mustParse(t, "[2026.05.01-10.32.05:140][456]GameLog: Display: [Game]ItemChange@ ProtoName=PickItems end")
	if end.Kind != KindContextEnd || end.Proto != "PickItems" {
		t.Errorf("end = %+v", end)
	}

	if ContextForProto("PickItems") != ContextPickItems {
		t.Error("PickItems mapping")
	}
	if ContextForProto("Spv3Open") != ContextMapOpen {
		t.Error("Spv3Open mapping")
	}
	if ContextForProto("RecycleItem") != ContextRecycle {
		t.Error("RecycleItem mapping")
	}
	if ContextForProto("SomethingNew") != ContextOther {
		t.Error("unknown proto should map to Other")
	}
}

func TestParseLine_LevelEvents(t *testing.T) {
	open := mustParse(t, "[2026.05.01-10.40.00:000][456]GameLog: Display: [Game]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = /Game/Art/Maps/02YL/YL_BeiFengLinDi300/YL_BeiFengLinDi_Main")
	if open.Kind != KindLevelOpen {
		t.Fatalf("Kind = %v", open.Kind)
	}
	if open.ZonePath != "/Game/Art/Maps/02YL/YL_BeiFengLinDi300/YL_BeiFengLinDi_Main" {
		t.Errorf("ZonePath = %q", open.ZonePath)
	}

	enter := mustParse(t, "[2026.05.01-10.40.01:000][456]GameLog: Display: [Game]LevelMgr@ LevelUid, LevelType, LevelId = 88 3 1306")
	if enter.Kind != KindLevelEnter {
		t.Fatalf("Kind = %v", enter.Kind)
	}
	if enter.LevelUID != 88 || enter.LevelType != 3 || enter.LevelID != 1306 {
		t.Errorf("level = %d/%d/%d", enter.LevelUID, enter.LevelType, enter.LevelID)
	}
}

func TestParseLine_PlayerFields(t *testing.T) {
	cases := map[string]struct{ field, value string }{
		"[2026.05.01-10.00.00:000][1]GameLog: Display: [Game]PlayerMgr@ RoleName = Rehan":       {"RoleName", "Rehan"},
		"[2026.05.01-10.00.00:001][1]GameLog: Display: [Game]PlayerMgr@ SeasonId = 12":          {"SeasonId", "12"},
		"[2026.05.01-10.00.00:002][1]GameLog: Display: [Game]PlayerMgr@ PlayerId = 778899":      {"PlayerId", "778899"},
		"[2026.05.01-10.00.00:003][1]GameLog: Display: [Game]PlayerMgr@ SeasonName = Whispers":  {"SeasonName", "Whispers"},
		"[2026.05.01-10.00.00:004][1]GameLog: Display: [Game]PlayerMgr@ RoleLevel = 92":         {"RoleLevel", "92"},
	}
	for line, want := range cases {
		ev := mustParse(t, line)
		if ev.Kind != KindPlayerField || ev.Field != want.field || ev.Value != want.value {
			t.Errorf("ParseLine(%q) = %+v", line, ev)
		}
	}
}

func TestParseLine_ExchangeFragments(t *testing.T) {
	send := mustParse(t, "[2026.05.01-11.00.00:000][1]GameLog: Display: ----Socket SendMessage STT----XchgSearchPrice----SynId = 77")
	if send.Kind != KindXchgSend || send.SynID != 77 {
		t.Errorf("send = %+v", send)
	}
	recv := mustParse(t, "[2026.05.01-11.00.00:300][1]GameLog: Display: ----Socket RecvMessage STT----XchgSearchPrice----SynId = 77")
	if recv.Kind != KindXchgRecv || recv.SynID != 77 {
		t.Errorf("recv = %+v", recv)
	}
	end := mustParse(t, "[2026.05.01-11.00.00:301][1]GameLog: Display: ----Socket RecvMessage End----")
	if end.Kind != KindXchgEnd {
		t.Errorf("end = %+v", end)
	}

	refer := mustParse(t, "+refer [100301]")
	if refer.Kind != KindXchgRefer || refer.ConfigBaseID != 100301 {
		t.Errorf("refer = %+v", refer)
	}
	cur := mustParse(t, "+prices+0+currency [100300]")
	if cur.Kind != KindXchgCurrency || cur.ConfigBaseID != 100300 {
		t.Errorf("currency = %+v", cur)
	}
	price := mustParse(t, "+unitPrices+0 [0.15]")
	if price.Kind != KindXchgUnitPrice || price.Price != 0.15 {
		t.Errorf("unit price = %+v", price)
	}
	// Short body form without the unitPrices prefix.
	price = mustParse(t, "+3 [12.5]")
	if price.Kind != KindXchgUnitPrice || price.Price != 12.5 {
		t.Errorf("short unit price = %+v", price)
	}
}

func TestParseLine_Unrecognized(t *testing.T) {
	lines := []string{
		"",
		"[2026.05.01-10.00.00:000][1]LogTemp: Warning: something unrelated",
		"[2026.05.01-10.00.00:000][1]GameLog: Display: [Game]BagMgr@:Modfy BagItem PageId = x SlotId = 3",
		"+prices+0+amount [5]",
	}
	for _, line := range lines {
		if ev, ok := ParseLine(line, fallback); ok {
			t.Errorf("ParseLine(%q) = %+v, want none", line, ev)
		}
	}
}

func TestParseLine_TimestampFallback(t *testing.T) {
	ev := mustParse(t, "+refer [100301]")
	if !ev.TS.Equal(fallback) {
		t.Errorf("TS = %v, want fallback", ev.TS)
	}
}
