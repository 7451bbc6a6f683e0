package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cloudpico-viewer/internal/hub"
	"cloudpico-viewer/internal/utils"
	"cloudpico-viewer/internal/views"
)

type dashboard struct {
	metrics map[string]Metric
	order   []string
	conn    ConnectionState
	logger  *slog.Logger
}

func registerDashboard(mux *http.ServeMux, d Deps) {
	h := &dashboard{
		metrics: make(map[string]Metric, len(d.Metrics)),
		conn:    d.Connection,
		logger:  d.Logger,
	}
	for _, m := range d.Metrics {
		h.metrics[m.Name] = m
		h.order = append(h.order, m.Name)
	}

	mux.HandleFunc("GET /{$}", h.handleDashboard)
	mux.HandleFunc("GET /partials/charts", h.handleChartsPartial)
	mux.HandleFunc("GET /charts/{file}", h.handleChart)
	mux.HandleFunc("GET /api/v1/series/{metric}", h.handleSeries)
}

func (h *dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, views.RenderDashboard)
}

func (h *dashboard) handleChartsPartial(w http.ResponseWriter, r *http.Request) {
	h.render(w, views.RenderChartsPartial)
}

func (h *dashboard) render(w http.ResponseWriter, fn func(io.Writer, *views.DashboardData) error) {
	var buf bytes.Buffer
	if err := fn(&buf, h.viewModel()); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *dashboard) viewModel() *views.DashboardData {
	state := hub.Disconnected
	if h.conn != nil {
		state = h.conn.State()
	}
	data := &views.DashboardData{Connection: state.String()}
	for _, name := range h.order {
		m := h.metrics[name]
		card := views.ChartCard{Metric: name, Title: name}
		if m.Series != nil {
			snap := m.Series.Snapshot()
			card.Points = snap.Len()
			card.Label, card.Value, card.HasValue = snap.Latest()
		}
		if m.Chart != nil {
			card.Title = m.Chart.Title()
			_, card.HasImage = m.Chart.PNG()
			card.Version = m.Chart.LastUpdated().UnixNano()
		}
		data.Charts = append(data.Charts, card)
	}
	return data
}

func (h *dashboard) handleChart(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "charts are served as <metric>.png")
		return
	}
	m, ok := h.metrics[name]
	if !ok || m.Chart == nil {
		utils.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown metric %q", name))
		return
	}
	img, ok := m.Chart.PNG()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.WritePNG(w, img)
}

func (h *dashboard) handleSeries(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("metric")
	m, ok := h.metrics[name]
	if !ok || m.Series == nil {
		utils.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown metric %q", name))
		return
	}
	utils.WriteJSON(w, http.StatusOK, m.Series.Snapshot())
}
