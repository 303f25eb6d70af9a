// Package api is the HTTP boundary. Handlers are thin: they translate
// requests into store and engine calls and shape the JSON the dashboard
// consumes. No tracking logic lives here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ti-tracker/internal/cloud"
	"ti-tracker/internal/config"
	"ti-tracker/internal/db"
	"ti-tracker/internal/engine"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/icons"
)

// Externally writable setting keys. Everything else in the settings table
// is owned by the backend and rejected on PUT.
var writableSettings = map[string]bool{
	"trade_tax_enabled":    true,
	"map_cost_enabled":     true,
	"realtime_enabled":     true,
	"log_directory":        true,
	"hidden_items":         true,
	db.SettingCloudEnabled: true,
}

// Pause bookkeeping keys, managed only through the pause endpoint.
const (
	settingPauseStart  = "realtime_pause_start"
	settingPausedTotal = "realtime_total_paused_seconds"
)

// Server connects the collector, store, cloud worker and icon proxy to
// the local dashboard.
type Server struct {
	cfg       *config.Config
	store     *db.DB
	catalog   *gamedata.Catalog
	collector *engine.Collector
	cloud     *cloud.Worker
	icons     *icons.Proxy
	hub       *Hub
}

// NewServer wires a server over the running components. cloudWorker and
// iconProxy may be nil; their routes then report unavailable.
func NewServer(cfg *config.Config, store *db.DB, catalog *gamedata.Catalog, collector *engine.Collector, cloudWorker *cloud.Worker, iconProxy *icons.Proxy, hub *Hub) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		catalog:   catalog,
		collector: collector,
		cloud:     cloudWorker,
		icons:     iconProxy,
		hub:       hub,
	}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// Runs
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/active", s.handleActiveRun)
	mux.HandleFunc("GET /api/runs/stats", s.handleRunStats)
	mux.HandleFunc("GET /api/runs/report", s.handleRunReport)
	mux.HandleFunc("GET /api/runs/report.csv", s.handleRunReportCSV)
	mux.HandleFunc("POST /api/runs/pause", s.handlePauseToggle)
	mux.HandleFunc("POST /api/runs/reset", s.handleReset)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	// Inventory and prices
	mux.HandleFunc("GET /api/inventory", s.handleInventory)
	mux.HandleFunc("GET /api/prices", s.handleListPrices)
	mux.HandleFunc("PUT /api/prices", s.handlePutPrice)
	mux.HandleFunc("GET /api/prices/export", s.handleExportPrices)
	mux.HandleFunc("POST /api/prices/migrate", s.handleMigratePrices)
	mux.HandleFunc("GET /api/prices/{typeID}", s.handleGetPrice)
	mux.HandleFunc("DELETE /api/prices/{typeID}", s.handleDeletePrice)
	mux.HandleFunc("GET /api/stats/history", s.handleStatsHistory)
	// Cloud
	mux.HandleFunc("GET /api/cloud/status", s.handleCloudStatus)
	mux.HandleFunc("POST /api/cloud/enable", s.handleCloudEnable)
	mux.HandleFunc("POST /api/cloud/disable", s.handleCloudDisable)
	mux.HandleFunc("POST /api/cloud/sync", s.handleCloudSync)
	mux.HandleFunc("GET /api/cloud/prices", s.handleCloudPrices)
	mux.HandleFunc("GET /api/cloud/prices/{typeID}/history", s.handleCloudHistory)
	// Player, settings, misc
	mux.HandleFunc("GET /api/player", s.handlePlayer)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/icons/{typeID}", s.handleIcon)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("/", s.handleIndex)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// scope returns the active partition, or an error response when no player
// has been identified yet.
func (s *Server) scope(w http.ResponseWriter) (string, bool) {
	scope := s.collector.Scope()
	if scope == "" {
		writeError(w, http.StatusConflict, "no_player")
		return "", false
	}
	return scope, true
}

// valuer builds a request-scoped valuer from the merged quote table and
// the current toggles.
func (s *Server) valuer(scope string) (*engine.Valuer, error) {
	quotes, err := s.store.EffectivePrices(scope, s.collector.SeasonID())
	if err != nil {
		return nil, err
	}
	tax := s.store.GetSettingBool("trade_tax_enabled", true)
	mapCost := s.store.GetSettingBool("map_cost_enabled", true)
	return engine.NewValuer(quotes, tax, mapCost), nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("bad id")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.Status())
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	p := s.store.ActiveScope()
	if p == nil {
		writeError(w, http.StatusNotFound, "no_player")
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.AllSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, all)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	for key := range updates {
		if !writableSettings[key] && !strings.HasPrefix(key, "ui_") {
			writeError(w, http.StatusForbidden, "readonly_setting")
			return
		}
	}
	for key, value := range updates {
		if err := s.store.SetSetting(key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "store_error")
			return
		}
	}
	if _, touched := updates[db.SettingCloudEnabled]; touched && s.cloud != nil {
		s.cloud.SyncNow()
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	if s.icons == nil {
		writeError(w, http.StatusServiceUnavailable, "icons_unavailable")
		return
	}
	id, err := pathID(r, "typeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_type_id")
		return
	}
	data, contentType, err := s.icons.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no_icon")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

// hiddenItems parses the hidden_items setting, a comma-separated id list.
func (s *Server) hiddenItems() map[int64]bool {
	raw, err := s.store.GetSetting("hidden_items")
	if err != nil || raw == "" {
		return nil
	}
	hidden := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			hidden[id] = true
		}
	}
	return hidden
}
