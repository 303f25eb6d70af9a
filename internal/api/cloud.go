package api

import (
	"net/http"
	"time"

	"ti-tracker/internal/cloud"
	"ti-tracker/internal/db"
)

// minContributors gates crowd aggregates: medians from one or two devices
// are too easy to poison to surface as prices.
const minContributors = 3

func (s *Server) handleCloudStatus(w http.ResponseWriter, r *http.Request) {
	if s.cloud == nil {
		writeJSON(w, cloud.Status{})
		return
	}
	writeJSON(w, s.cloud.Status())
}

func (s *Server) handleCloudEnable(w http.ResponseWriter, r *http.Request) {
	if s.cloud == nil {
		writeError(w, http.StatusServiceUnavailable, "cloud_unconfigured")
		return
	}
	if err := s.store.SetSetting(db.SettingCloudEnabled, "true"); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	s.cloud.SyncNow()
	writeJSON(w, s.cloud.Status())
}

func (s *Server) handleCloudDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetSetting(db.SettingCloudEnabled, "false"); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if s.cloud != nil {
		writeJSON(w, s.cloud.Status())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleCloudSync(w http.ResponseWriter, r *http.Request) {
	if s.cloud == nil {
		writeError(w, http.StatusServiceUnavailable, "cloud_unconfigured")
		return
	}
	scope := s.collector.Scope()
	if err := s.cloud.DownlinkNow(r.Context(), scope); err != nil {
		writeError(w, http.StatusBadGateway, "sync_failed")
		return
	}
	s.cloud.SyncNow()
	writeJSON(w, s.cloud.Status())
}

func (s *Server) handleCloudPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.store.CloudPricesForSeason(s.collector.SeasonID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	trusted := prices[:0]
	for _, p := range prices {
		if p.Contributors >= minContributors {
			trusted = append(trusted, p)
		}
	}
	writeJSON(w, map[string]interface{}{"prices": trusted})
}

func (s *Server) handleCloudHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "typeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_type_id")
		return
	}
	hours := queryInt(r, "hours", 72)
	if hours < 1 || hours > 72 {
		hours = 72
	}
	points, err := s.store.PriceHistory(id, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, map[string]interface{}{
		"config_base_id": id,
		"points":         points,
	})
}
