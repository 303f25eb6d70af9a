package api

import (
	_ "embed"
	"net/http"
	"strings"
)

//go:embed static/index.html
var indexHTML []byte

// handleIndex serves the embedded status page. Unknown non-API paths fall
// back to it so a client-side router can own them.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
