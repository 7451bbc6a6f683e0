package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cloudpico-viewer/internal/hub"
	"cloudpico-viewer/internal/series"
	"cloudpico-viewer/internal/views"
)

type fakeChart struct {
	title string
	img   []byte
}

func (c *fakeChart) Title() string { return c.title }

func (c *fakeChart) PNG() ([]byte, bool) { return c.img, c.img != nil }

func (c *fakeChart) LastUpdated() time.Time { return time.Unix(0, 42) }

type fixedState hub.State

func (s fixedState) State() hub.State { return hub.State(s) }

type testEnv struct {
	ts          *httptest.Server
	temperature *series.Series
	humidity    *series.Series
}

func newTestServer(t *testing.T, state hub.State) *testEnv {
	t.Helper()

	if err := views.LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates(): %v", err)
	}

	env := &testEnv{
		temperature: series.New("temperature", 0),
		humidity:    series.New("humidity", 0),
	}
	env.temperature.Append("10:2:3", 21.5)
	env.temperature.Append("10:2:4", 21.7)

	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounter(prometheus.CounterOpts{Name: "viewer_test_total", Help: "test"})
	reg.MustRegister(requests)
	requests.Inc()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := NewMux(Deps{
		Metrics: []Metric{
			{Name: "temperature", Series: env.temperature, Chart: &fakeChart{title: "Temperature", img: []byte("\x89PNG-temperature")}},
			{Name: "humidity", Series: env.humidity, Chart: &fakeChart{title: "Humidity"}},
		},
		Connection: fixedState(state),
		Gatherer:   reg,
		Logger:     logger,
	})
	srv := NewServer(":0", mux, logger)
	env.ts = httptest.NewServer(srv.Handler)

	t.Cleanup(env.ts.Close)
	return env
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func mustGetRaw(t *testing.T, client *http.Client, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		state      hub.State
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "connected",
			state:      hub.Connected,
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "ok", "connection": "Connected"},
		},
		{
			name:       "disconnected",
			state:      hub.Disconnected,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"status": "degraded", "connection": "Disconnected"},
		},
		{
			name:       "connecting",
			state:      hub.Connecting,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"status": "degraded", "connection": "Connecting"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, tt.state)

			var body map[string]string
			resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/healthz", &body)

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.wantStatus)
			}
			for k, v := range tt.wantBody {
				if body[k] != v {
					t.Errorf("body.%s=%q want=%q", k, body[k], v)
				}
			}
		})
	}
}

func TestSeries(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	var snap series.Snapshot
	resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/api/v1/series/temperature", &snap)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if snap.Name != "temperature" {
		t.Errorf("name=%q want=%q", snap.Name, "temperature")
	}
	if len(snap.Labels) != 2 || snap.Labels[0] != "10:2:3" || snap.Values[1] != 21.7 {
		t.Errorf("snapshot=%+v want two points starting at 10:2:3", snap)
	}
}

func TestSeries_empty(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	resp, body := mustGetRaw(t, env.ts.Client(), env.ts.URL+"/api/v1/series/humidity")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(string(body), `"labels":[]`) {
		t.Errorf("body=%s want empty labels array", body)
	}
}

func TestSeries_unknownMetric(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	var body map[string]string
	resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/api/v1/series/wind", &body)

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
	if !strings.Contains(body["message"], "wind") {
		t.Errorf("message=%q want it to name the metric", body["message"])
	}
}

func TestChartPNG(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   []byte
	}{
		{name: "drawn", path: "/charts/temperature.png", wantStatus: http.StatusOK, wantBody: []byte("\x89PNG-temperature")},
		{name: "not drawn yet", path: "/charts/humidity.png", wantStatus: http.StatusNoContent},
		{name: "unknown metric", path: "/charts/wind.png", wantStatus: http.StatusNotFound},
		{name: "wrong extension", path: "/charts/temperature.svg", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := mustGetRaw(t, env.ts.Client(), env.ts.URL+tt.path)

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != nil {
				if got := resp.Header.Get("Content-Type"); got != "image/png" {
					t.Errorf("Content-Type=%q want=image/png", got)
				}
				if !bytes.Equal(body, tt.wantBody) {
					t.Errorf("body=%q want=%q", body, tt.wantBody)
				}
			}
		})
	}
}

func TestDashboard(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	resp, body := mustGetRaw(t, env.ts.Client(), env.ts.URL+"/")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type=%q want text/html", got)
	}
	out := string(body)
	for _, want := range []string{"Temperature", "21.70 at 10:2:4", "/charts/temperature.png?v=42", "Humidity", "Connected"} {
		if !strings.Contains(out, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestDashboard_unknownPath(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	resp, _ := mustGetRaw(t, env.ts.Client(), env.ts.URL+"/nope")

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestChartsPartial(t *testing.T) {
	env := newTestServer(t, hub.Disconnected)

	resp, body := mustGetRaw(t, env.ts.Client(), env.ts.URL+"/partials/charts")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if strings.Contains(string(body), "<!DOCTYPE html>") {
		t.Error("partial returned the full page")
	}
	if !strings.Contains(string(body), "Disconnected") {
		t.Error("partial missing connection state")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, hub.Connected)

	resp, body := mustGetRaw(t, env.ts.Client(), env.ts.URL+"/metrics")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(string(body), "viewer_test_total 1") {
		t.Errorf("metrics body missing counter; got %s", body)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := requestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/series/x", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "http request" || entry["path"] != "/api/v1/series/x" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v; want %d", entry["status"], http.StatusTeapot)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v; want INFO for an error status", entry["level"])
	}
}
