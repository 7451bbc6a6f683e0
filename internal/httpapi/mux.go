package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cloudpico-viewer/internal/hub"
	"cloudpico-viewer/internal/series"
)

// ChartImage is a drawn chart.
type ChartImage interface {
	Title() string
	PNG() ([]byte, bool)
	LastUpdated() time.Time
}

// ConnectionState reports the live connection state.
type ConnectionState interface {
	State() hub.State
}

// Metric is one charted series and its image.
type Metric struct {
	Name   string
	Series *series.Series
	Chart  ChartImage
}

type Deps struct {
	// Metrics in display order.
	Metrics    []Metric
	Connection ConnectionState
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

func NewMux(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, d.Connection)
	registerDashboard(mux, d)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
