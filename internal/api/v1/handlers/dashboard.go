package handlers

import (
	"net/http"
	"os"

	"github.com/rs/zerolog/hlog"

	"github.com/deepgram/agentdeck/pkg/httpext"
)

// HandleDashboard serves the single page dashboard. The file is read on every
// request so edits show up without a restart.
func HandleDashboard(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := os.ReadFile(path)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("path", path).Msg("Dashboard page unavailable")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("index.html not found"))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(page)
	}
}

// HandleNotFound answers every unmatched route, wrong methods included.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	httpext.JsonError(w, "Not found", http.StatusNotFound)
}
