package httpapi

import (
	"net/http"

	"cloudpico-viewer/internal/hub"
	"cloudpico-viewer/internal/utils"
)

type healthchecker struct {
	conn ConnectionState
}

// handleHealthz is healthy only while the live connection is up. The
// dashboard keeps serving either way.
func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := hub.Disconnected
	if h.conn != nil {
		state = h.conn.State()
	}
	if state != hub.Connected {
		utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":     "degraded",
			"connection": state.String(),
		})
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"connection": state.String(),
	})
}

func registerHealthcheck(mux *http.ServeMux, conn ConnectionState) {
	h := &healthchecker{conn: conn}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
