package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/engine"
)

// runView is a run enriched with its value and presentation durations.
type runView struct {
	*db.Run
	DurationSec    float64         `json:"duration_sec"`
	MapDurationSec float64         `json:"map_duration_sec"`
	Value          engine.RunValue `json:"value"`
	SubRuns        []*db.Run       `json:"sub_runs,omitempty"`
	ConsolidatedOf []int64         `json:"consolidated_of,omitempty"`
}

func (s *Server) buildRunView(run *db.Run, v *engine.Valuer, now time.Time) (*runView, error) {
	children, err := s.store.ChildRuns(run.ID)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.RunDeltaTotals(run.ID, true)
	if err != nil {
		return nil, err
	}
	return &runView{
		Run:            run,
		DurationSec:    run.Duration(now).Seconds(),
		MapDurationSec: engine.MapDuration(run, children, now).Seconds(),
		Value:          v.Value(totals),
		SubRuns:        children,
	}, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)

	runs, err := s.store.ListRuns(scope, time.Time{}, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	total, err := s.store.CountRuns(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	v, err := s.valuer(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	now := time.Now()
	views := make([]*runView, 0, len(runs))
	for _, run := range runs {
		rv, err := s.buildRunView(run, v, now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error")
			return
		}
		views = append(views, rv)
	}
	if r.URL.Query().Get("consolidate") == "true" {
		views = consolidateRuns(views)
	}

	writeJSON(w, map[string]interface{}{
		"runs":   views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// consolidateRuns folds consecutive visits to the same level instance
// (shared levelUid) into one presentation row. Sub-zone runs stay where
// they are, attached to their outer run.
func consolidateRuns(views []*runView) []*runView {
	var out []*runView
	for _, rv := range views {
		if len(out) > 0 {
			last := out[len(out)-1]
			if rv.LevelUID != 0 && rv.LevelUID == last.LevelUID && rv.ZoneSig == last.ZoneSig {
				last.DurationSec += rv.DurationSec
				last.MapDurationSec += rv.MapDurationSec
				last.Value.Gross += rv.Value.Gross
				last.Value.MapCost += rv.Value.MapCost
				last.Value.Net += rv.Value.Net
				last.Value.HasUnpriced = last.Value.HasUnpriced || rv.Value.HasUnpriced
				last.SubRuns = append(last.SubRuns, rv.SubRuns...)
				last.ConsolidatedOf = append(last.ConsolidatedOf, rv.ID)
				// The list is newest-first; the older run carries the start.
				last.StartedAt = rv.StartedAt
				continue
			}
		}
		copied := *rv
		out = append(out, &copied)
	}
	return out
}

func (s *Server) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	open, err := s.store.OpenRuns(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	var outer *db.Run
	for _, run := range open {
		if !run.IsSubZone || run.ParentRunID == nil {
			outer = run
			break
		}
	}
	if outer == nil {
		writeJSON(w, map[string]interface{}{"active": nil})
		return
	}
	v, err := s.valuer(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	rv, err := s.buildRunView(outer, v, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, map[string]interface{}{"active": rv})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_run_id")
		return
	}
	run, err := s.store.GetRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run_not_found")
		return
	}
	v, err := s.valuer(run.Scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	rv, err := s.buildRunView(run, v, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	totals, err := s.store.RunDeltaTotals(run.ID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, map[string]interface{}{
		"run":   rv,
		"items": v.Items(totals, s.catalog.Name),
	})
}

// runStats is the aggregate summary over a scope's closed runs.
type runStats struct {
	Runs         int     `json:"runs"`
	DurationSec  float64 `json:"duration_sec"`
	Gross        float64 `json:"gross"`
	Net          float64 `json:"net"`
	MapCost      float64 `json:"map_cost"`
	ValuePerHour float64 `json:"value_per_hour"`
	AvgPerRun    float64 `json:"avg_per_run"`
	HasUnpriced  bool    `json:"has_unpriced"`
	Realtime     bool    `json:"realtime"`
	Paused       bool    `json:"paused"`
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w)
	if !ok {
		return
	}
	since := time.Time{}
	if hours := queryInt(r, "hours", 0); hours > 0 {
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	runs, err := s.store.ListRuns(scope, since, 10000, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	v, err := s.valuer(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	now := time.Now()
	var st runStats
	var firstStart time.Time
	for _, run := range runs {
		children, err := s.store.ChildRuns(run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error")
			return
		}
		totals, err := s.store.RunDeltaTotals(run.ID, true)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error")
			return
		}
		rv := v.Value(totals)
		st.Runs++
		st.DurationSec += engine.MapDuration(run, children, now).Seconds()
		st.Gross += rv.Gross
		st.Net += rv.Net
		st.MapCost += rv.MapCost
		st.HasUnpriced = st.HasUnpriced || rv.HasUnpriced
		if firstStart.IsZero() || run.StartedAt.Before(firstStart) {
			firstStart = run.StartedAt
		}
	}

	value := st.Gross
	if v.MapCostEnabled() {
		value = st.Net
	}
	st.Realtime = s.store.GetSettingBool("realtime_enabled", false)
	st.Paused = s.store.GetSettingBool(db.SettingRealtimePaused, false)

	hours := st.DurationSec / 3600
	if st.Realtime && !firstStart.IsZero() {
		wall := now.Sub(firstStart).Seconds() - s.pausedSeconds(now)
		if wall > 0 {
			hours = wall / 3600
		}
	}
	if hours > 0 {
		st.ValuePerHour = value / hours
	}
	if st.Runs > 0 {
		st.AvgPerRun = value / float64(st.Runs)
	}
	writeJSON(w, st)
}

// pausedSeconds is the accumulated pause time, including a pause still in
// progress.
func (s *Server) pausedSeconds(now time.Time) float64 {
	total := 0.0
	if raw, err := s.store.GetSetting(settingPausedTotal); err == nil && raw != "" {
		total, _ = strconv.ParseFloat(raw, 64)
	}
	if s.store.GetSettingBool(db.SettingRealtimePaused, false) {
		if start := s.store.GetSettingTime(settingPauseStart); !start.IsZero() && now.After(start) {
			total += now.Sub(start).Seconds()
		}
	}
	return total
}

func (s *Server) handlePauseToggle(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	paused := s.store.GetSettingBool(db.SettingRealtimePaused, false)
	if paused {
		// Resume: fold the elapsed pause into the accumulator.
		total := s.pausedSeconds(now)
		s.store.SetSetting(settingPausedTotal, strconv.FormatFloat(total, 'f', 1, 64))
		s.store.SetSetting(db.SettingRealtimePaused, "false")
		s.store.SetSetting(settingPauseStart, "")
	} else {
		s.store.SetSetting(db.SettingRealtimePaused, "true")
		s.store.SetSettingTime(settingPauseStart, now)
	}
	writeJSON(w, map[string]interface{}{
		"paused":               !paused,
		"total_paused_seconds": s.pausedSeconds(now),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.collector.ResetRuns(); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	s.store.SetSetting(settingPausedTotal, "0")
	s.store.SetSetting(db.SettingRealtimePaused, "false")
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) reportItems(w http.ResponseWriter) ([]engine.ItemValue, bool) {
	scope, ok := s.scope(w)
	if !ok {
		return nil, false
	}
	totals, err := s.store.ScopeDeltaTotalsSince(scope, time.Time{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return nil, false
	}
	v, err := s.valuer(scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return nil, false
	}
	return v.Items(totals, s.catalog.Name), true
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	items, ok := s.reportItems(w)
	if !ok {
		return
	}
	var total float64
	for _, it := range items {
		total += it.Value
	}
	writeJSON(w, map[string]interface{}{"items": items, "total": total})
}

func (s *Server) handleRunReportCSV(w http.ResponseWriter, r *http.Request) {
	items, ok := s.reportItems(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="loot-report.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"config_base_id", "name", "context", "qty", "unit_price", "value", "priced"})
	for _, it := range items {
		cw.Write([]string{
			strconv.FormatInt(it.ConfigBaseID, 10),
			it.Name,
			it.Context,
			strconv.FormatInt(it.Qty, 10),
			fmt.Sprintf("%.4f", it.UnitPrice),
			fmt.Sprintf("%.4f", it.Value),
			strconv.FormatBool(it.Priced),
		})
	}
	cw.Flush()
}
