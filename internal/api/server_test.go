package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/engine"
	"ti-tracker/internal/gamedata"
)

const logPrefix = "[2026.05.01-10.32.05:123][457]GameLog: Display: [Game] "

const mapPath = "/Game/Art/Maps/01SD/KD_RongHuoHeXin100/KD_RongHuoHeXin100"
const hubPath = "/Game/Art/Maps/01XZ/XZ_YuJinZhiXiBiNanSuo200/XZ_YuJinZhiXiBiNanSuo200"

func testCatalog() *gamedata.Catalog {
	return gamedata.NewCatalog([]gamedata.Item{
		{ConfigBaseID: 100300, NameEN: "Flame Elementium", TypeCN: "通货"},
		{ConfigBaseID: 100310, NameEN: "Flame Sand", TypeCN: "通货"},
	})
}

func newTestServer(t *testing.T) (*Server, *engine.Collector, *db.DB) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := engine.NewCollector(store, testCatalog(), "", nil, nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := NewServer(nil, store, testCatalog(), c, nil, nil, NewHub())
	return s, c, store
}

func feed(t *testing.T, c *engine.Collector, lines ...string) {
	t.Helper()
	if err := c.ProcessLines(lines, time.Now()); err != nil {
		t.Fatalf("ProcessLines: %v", err)
	}
}

func identify(t *testing.T, c *engine.Collector) {
	t.Helper()
	feed(t, c,
		logPrefix+"PlayerMgr@ SeasonId = 12",
		logPrefix+"PlayerMgr@ RoleName = Rehan",
	)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, dst interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if dst != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	var st engine.Status
	rec := doJSON(t, h, "GET", "/api/status", nil, &st)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !st.WaitingForPlayer {
		t.Error("fresh store should be waiting for a player")
	}
	if !st.LogPathMissing {
		t.Error("no log path configured should surface as missing")
	}
}

func TestRunsEndpointsRequirePlayer(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()
	rec := doJSON(t, h, "GET", "/api/runs", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("runs without player = %d, want 409", rec.Code)
	}
}

func TestRunsListAndDetail(t *testing.T) {
	s, c, _ := newTestServer(t)
	h := s.Handler()
	identify(t, c)
	feed(t, c,
		"[2026.05.01-10.32.06:000][458]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+mapPath,
		logPrefix+"LevelMgr@ LevelUid, LevelType, LevelId = 1061006 3 1012",
		logPrefix+"BagMgr@:Init BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 100",
		logPrefix+"ItemChange@ ProtoName=PickItems start",
		logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 131",
		logPrefix+"ItemChange@ ProtoName=PickItems end",
		"[2026.05.01-10.40.00:000][900]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+hubPath,
	)

	var list struct {
		Runs  []json.RawMessage `json:"runs"`
		Total int               `json:"total"`
	}
	rec := doJSON(t, h, "GET", "/api/runs", nil, &list)
	if rec.Code != 200 || list.Total != 1 || len(list.Runs) != 1 {
		t.Fatalf("list = %d %+v", rec.Code, list)
	}

	var rv struct {
		ID    int64 `json:"id"`
		Value struct {
			Gross float64 `json:"gross"`
		} `json:"value"`
	}
	json.Unmarshal(list.Runs[0], &rv)
	if rv.Value.Gross != 31 {
		t.Fatalf("gross = %v, want 31 FE", rv.Value.Gross)
	}

	var detail struct {
		Items []engine.ItemValue `json:"items"`
	}
	rec = doJSON(t, h, "GET", "/api/runs/"+jsonInt(rv.ID), nil, &detail)
	if rec.Code != 200 || len(detail.Items) != 1 {
		t.Fatalf("detail = %d %+v", rec.Code, detail)
	}
	if detail.Items[0].Name != "Flame Elementium" || detail.Items[0].Qty != 31 {
		t.Fatalf("item = %+v", detail.Items[0])
	}

	rec = doJSON(t, h, "GET", "/api/runs/99999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run = %d, want 404", rec.Code)
	}
}

func TestActiveRun(t *testing.T) {
	s, c, _ := newTestServer(t)
	h := s.Handler()
	identify(t, c)

	var resp struct {
		Active *json.RawMessage `json:"active"`
	}
	doJSON(t, h, "GET", "/api/runs/active", nil, &resp)
	if resp.Active != nil {
		t.Fatal("no run should be active in the hub")
	}

	feed(t, c,
		"[2026.05.01-10.32.06:000][458]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+mapPath,
		logPrefix+"LevelMgr@ LevelUid, LevelType, LevelId = 1061006 3 1012",
	)
	doJSON(t, h, "GET", "/api/runs/active", nil, &resp)
	if resp.Active == nil {
		t.Fatal("map entry should surface an active run")
	}
}

func TestManualPriceFlow(t *testing.T) {
	s, c, _ := newTestServer(t)
	h := s.Handler()
	identify(t, c)

	rec := doJSON(t, h, "PUT", "/api/prices",
		map[string]interface{}{"config_base_id": 100300, "price": 2.0}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pricing the base currency = %d, want 400", rec.Code)
	}

	var p db.LocalPrice
	rec = doJSON(t, h, "PUT", "/api/prices",
		map[string]interface{}{"config_base_id": 100310, "price": 0.25}, &p)
	if rec.Code != 200 || p.Price != 0.25 || p.Source != db.PriceSourceManual {
		t.Fatalf("put price = %d %+v", rec.Code, p)
	}

	var detail struct {
		Local     *db.LocalPrice `json:"local"`
		Effective *db.PriceQuote `json:"effective"`
	}
	doJSON(t, h, "GET", "/api/prices/100310", nil, &detail)
	if detail.Local == nil || detail.Effective == nil || detail.Effective.Price != 0.25 {
		t.Fatalf("detail = %+v", detail)
	}

	rec = doJSON(t, h, "DELETE", "/api/prices/100310", nil, nil)
	if rec.Code != 200 {
		t.Fatalf("delete = %d", rec.Code)
	}
	doJSON(t, h, "GET", "/api/prices/100310", nil, &detail)
	if detail.Local != nil {
		t.Fatal("price should be gone after delete")
	}
}

func TestInventorySortsBaseCurrencyFirst(t *testing.T) {
	s, c, _ := newTestServer(t)
	h := s.Handler()
	identify(t, c)
	feed(t, c,
		logPrefix+"BagMgr@:Init BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100310 Num = 500",
		logPrefix+"BagMgr@:Init BagItem PageId = 102 SlotId = 1 ConfigBaseId = 100300 Num = 10",
	)

	var resp struct {
		Items []inventoryRow `json:"items"`
	}
	doJSON(t, h, "GET", "/api/inventory?sort=quantity", nil, &resp)
	if len(resp.Items) != 2 {
		t.Fatalf("items = %+v", resp.Items)
	}
	if resp.Items[0].ConfigBaseID != 100300 {
		t.Fatalf("base currency must sort first, got %+v", resp.Items[0])
	}
}

func TestSettingsWhitelist(t *testing.T) {
	s, _, store := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "PUT", "/api/settings", map[string]string{"device_id": "spoofed"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("writing device_id = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, "PUT", "/api/settings",
		map[string]string{"trade_tax_enabled": "false", "ui_theme": "dark"}, nil)
	if rec.Code != 200 {
		t.Fatalf("writing whitelisted keys = %d", rec.Code)
	}
	if v, _ := store.GetSetting("ui_theme"); v != "dark" {
		t.Fatalf("ui_theme = %q", v)
	}

	var all map[string]string
	doJSON(t, h, "GET", "/api/settings", nil, &all)
	if all["trade_tax_enabled"] != "false" {
		t.Fatalf("settings = %+v", all)
	}
}

func TestPauseToggleAccumulates(t *testing.T) {
	s, _, store := newTestServer(t)
	h := s.Handler()

	var resp struct {
		Paused bool `json:"paused"`
	}
	doJSON(t, h, "POST", "/api/runs/pause", nil, &resp)
	if !resp.Paused || !store.GetSettingBool(db.SettingRealtimePaused, false) {
		t.Fatal("first toggle should pause")
	}
	doJSON(t, h, "POST", "/api/runs/pause", nil, &resp)
	if resp.Paused || store.GetSettingBool(db.SettingRealtimePaused, false) {
		t.Fatal("second toggle should resume")
	}
}

func TestResetPreservesPricesAndSlots(t *testing.T) {
	s, c, store := newTestServer(t)
	h := s.Handler()
	identify(t, c)
	feed(t, c,
		"[2026.05.01-10.32.06:000][458]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+mapPath,
		logPrefix+"LevelMgr@ LevelUid, LevelType, LevelId = 1061006 3 1012",
		logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100310 Num = 7",
		"[2026.05.01-10.40.00:000][900]SceneLevelMgr@ OpenMainWorld END! InMainLevelPath = "+hubPath,
	)
	store.UpsertLocalPrice(&db.LocalPrice{Scope: "12_Rehan", ConfigBaseID: 100310, Price: 0.2, Source: db.PriceSourceManual, UpdatedAt: time.Now()})

	rec := doJSON(t, h, "POST", "/api/runs/reset", nil, nil)
	if rec.Code != 200 {
		t.Fatalf("reset = %d", rec.Code)
	}

	if n, _ := store.CountRuns("12_Rehan"); n != 0 {
		t.Fatalf("runs after reset = %d", n)
	}
	deltas, _ := store.RecentDeltas("12_Rehan", 10)
	if len(deltas) != 0 {
		t.Fatalf("deltas after reset = %v", deltas)
	}
	slots, _ := store.LoadSlots("12_Rehan")
	if len(slots) == 0 {
		t.Fatal("slot state must survive a reset")
	}
	if p, _ := store.GetLocalPrice("12_Rehan", 100310); p == nil {
		t.Fatal("prices must survive a reset")
	}
}

func TestReportCSV(t *testing.T) {
	s, c, _ := newTestServer(t)
	h := s.Handler()
	identify(t, c)
	feed(t, c, logPrefix+"BagMgr@:Modfy BagItem PageId = 102 SlotId = 0 ConfigBaseId = 100300 Num = 5")

	req := httptest.NewRequest("GET", "/api/runs/report.csv", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("report.csv = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Flame Elementium") {
		t.Fatalf("csv body missing item:\n%s", rec.Body.String())
	}
}

func TestCloudEndpointsWithoutWorker(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "GET", "/api/cloud/status", nil, nil)
	if rec.Code != 200 {
		t.Fatalf("cloud status = %d", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/api/cloud/sync", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("sync without worker = %d, want 503", rec.Code)
	}
}

func TestIndexServesStatusPage(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "ti-tracker") {
		t.Fatalf("index = %d", rec.Code)
	}

	// Unknown API paths are JSON 404s, not the page.
	req = httptest.NewRequest("GET", "/api/nope", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown api path = %d", rec.Code)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
