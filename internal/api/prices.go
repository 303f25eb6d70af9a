package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/parse"
)

// inventoryRow is one held item with its effective valuation.
type inventoryRow struct {
	ConfigBaseID int64   `json:"config_base_id"`
	Name         string  `json:"name"`
	IconURL      string  `json:"icon_url"`
	Qty          int64   `json:"qty"`
	UnitPrice    float64 `json:"unit_price"`
	Value        float64 `json:"value"`
	Priced       bool    `json:"priced"`
	Hidden       bool    `json:"hidden"`
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	totals, err := s.store.InventoryTotals(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	v, err := s.valuer(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	hidden := s.hiddenItems()
	showHidden := r.URL.Query().Get("hidden") == "include"

	rows := make([]inventoryRow, 0, len(totals))
	var totalValue float64
	for id, qty := range totals {
		if hidden[id] && !showHidden {
			continue
		}
		row := inventoryRow{ConfigBaseID: id, Name: s.catalog.Name(id), Qty: qty, Hidden: hidden[id]}
		if it, ok := s.catalog.Item(id); ok {
			row.IconURL = it.IconURL
		}
		if price, ok := v.UnitPrice(id); ok {
			row.UnitPrice = price
			row.Value = float64(qty) * price
			row.Priced = true
		}
		rows = append(rows, row)
		totalValue += row.Value
	}

	sortKey := r.URL.Query().Get("sort")
	sort.Slice(rows, func(i, j int) bool {
		// Base currency pins to the top regardless of sort order.
		if rows[i].ConfigBaseID == gamedata.FEConfigBaseID {
			return true
		}
		if rows[j].ConfigBaseID == gamedata.FEConfigBaseID {
			return false
		}
		switch sortKey {
		case "quantity":
			return rows[i].Qty > rows[j].Qty
		case "name":
			return rows[i].Name < rows[j].Name
		default:
			return rows[i].Value > rows[j].Value
		}
	})

	writeJSON(w, map[string]interface{}{
		"items":       rows,
		"total_value": totalValue,
	})
}

func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	prices, err := s.store.LocalPrices(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, map[string]interface{}{"prices": prices})
}

func (s *Server) handlePutPrice(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	var req struct {
		ConfigBaseID int64   `json:"config_base_id"`
		Price        float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfigBaseID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	// The base currency is the unit of account; a price row for it would
	// be circular.
	if req.ConfigBaseID == gamedata.FEConfigBaseID {
		writeError(w, http.StatusBadRequest, "base_currency_not_priceable")
		return
	}
	if req.Price < 0 {
		writeError(w, http.StatusBadRequest, "negative_price")
		return
	}
	p := &db.LocalPrice{
		Scope:        scope,
		ConfigBaseID: req.ConfigBaseID,
		Price:        req.Price,
		Source:       db.PriceSourceManual,
		UpdatedAt:    time.Now(),
	}
	if err := s.store.UpsertLocalPrice(p); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	id, err := pathID(r, "typeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_type_id")
		return
	}
	local, err := s.store.GetLocalPrice(scope, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	quotes, err := s.store.EffectivePrices(scope, s.collector.SeasonID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	resp := map[string]interface{}{
		"config_base_id": id,
		"name":           s.catalog.Name(id),
		"local":          local,
	}
	if q, ok := quotes[id]; ok {
		resp["effective"] = q
	}
	writeJSON(w, resp)
}

func (s *Server) handleDeletePrice(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	id, err := pathID(r, "typeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_type_id")
		return
	}
	if err := s.store.DeleteLocalPrice(scope, id); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleExportPrices(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	prices, err := s.store.LocalPrices(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="prices.json"`)
	json.NewEncoder(w).Encode(prices)
}

func (s *Server) handleMigratePrices(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	var req struct {
		FromScope string `json:"from_scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FromScope == "" {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	if req.FromScope == scope {
		writeError(w, http.StatusBadRequest, "same_scope")
		return
	}
	n, err := s.store.CopyPrices(req.FromScope, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, map[string]interface{}{"imported": n})
}

// historyBucket is one point of the session value series.
type historyBucket struct {
	TS              time.Time `json:"ts"`
	Value           float64   `json:"value"`
	CumulativeValue float64   `json:"cumulative_value"`
	ValuePerHour    float64   `json:"value_per_hour"`
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	hours := queryInt(r, "hours", 8)
	if hours < 1 || hours > 168 {
		hours = 8
	}
	now := time.Now()
	since := now.Add(-time.Duration(hours) * time.Hour)

	deltas, err := s.store.ScopeDeltasSince(scope, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	v, err := s.valuer(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	// Fixed-width buckets, 60 per window. Gains price at the taxed rate,
	// map costs subtract untaxed when the toggle is on.
	const buckets = 60
	width := time.Duration(hours) * time.Hour / buckets
	series := make([]historyBucket, buckets)
	for i := range series {
		series[i].TS = since.Add(time.Duration(i) * width)
	}
	for _, dl := range deltas {
		idx := int(dl.TS.Sub(since) / width)
		if idx < 0 || idx >= buckets {
			continue
		}
		switch dl.Context {
		case parse.ContextPickItems:
			if price, ok := v.UnitPrice(dl.ConfigBaseID); ok {
				series[idx].Value += float64(dl.Delta) * price
			}
		case parse.ContextMapOpen:
			if !v.MapCostEnabled() {
				continue
			}
			if price, ok := v.UnitPriceNoTax(dl.ConfigBaseID); ok {
				qty := dl.Delta
				if qty < 0 {
					qty = -qty
				}
				series[idx].Value -= float64(qty) * price
			}
		}
	}

	// Rolling value/hour over a one-hour trailing window.
	window := int(time.Hour / width)
	if window < 1 {
		window = 1
	}
	cumulative := 0.0
	for i := range series {
		cumulative += series[i].Value
		series[i].CumulativeValue = cumulative
		sum := 0.0
		for j := i; j > i-window && j >= 0; j-- {
			sum += series[j].Value
		}
		series[i].ValuePerHour = sum / (float64(window) * width.Hours())
	}

	writeJSON(w, map[string]interface{}{
		"hours":  hours,
		"series": series,
	})
}
