// Package render draws series snapshots as PNG line charts.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"cloudpico-viewer/internal/series"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 320

	// maxTicks caps x-axis labels so long series stay readable.
	maxTicks = 10
)

var errTooFewPoints = errors.New("need at least two points to draw a line")

// Style is the title and line colour of one chart.
type Style struct {
	Title string
	Color drawing.Color
}

// Styles holds the chart style for each metric.
var Styles = map[string]Style{
	"temperature": {Title: "Temperature", Color: drawing.Color{R: 255, G: 159, B: 64, A: 255}},
	"pressure":    {Title: "Pressure", Color: drawing.Color{R: 75, G: 192, B: 192, A: 255}},
	"humidity":    {Title: "Humidity", Color: drawing.Color{R: 153, G: 102, B: 255, A: 255}},
}

// Chart is a chart sink. Every Update redraws the whole series and keeps the
// resulting PNG for readers.
type Chart struct {
	style  Style
	width  int
	height int
	logger *slog.Logger

	mu      sync.RWMutex
	png     []byte
	points  int
	updated time.Time
	closed  bool
}

func NewChart(style Style, logger *slog.Logger) *Chart {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chart{
		style:  style,
		width:  DefaultWidth,
		height: DefaultHeight,
		logger: logger,
	}
}

// Title returns the chart title.
func (c *Chart) Title() string { return c.style.Title }

// Update redraws the chart from snap. Updates after Close are ignored; a
// failed render keeps the previous image.
func (c *Chart) Update(snap series.Snapshot) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		c.logger.Debug("chart closed, ignoring update", "chart", c.style.Title)
		return
	}

	img, err := draw(c.style, c.width, c.height, snap)
	if errors.Is(err, errTooFewPoints) {
		return
	}
	if err != nil {
		c.logger.Warn("chart render failed", "chart", c.style.Title, "points", snap.Len(), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.png = img
	c.points = snap.Len()
	c.updated = time.Now()
	c.logger.Debug("chart updated", "chart", c.style.Title, "points", c.points)
}

// PNG returns the latest image, if one has been drawn.
func (c *Chart) PNG() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.png == nil {
		return nil, false
	}
	return c.png, true
}

// LastUpdated returns when the image was last redrawn.
func (c *Chart) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// Close stops redrawing. The last image stays available.
func (c *Chart) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func draw(style Style, width, height int, snap series.Snapshot) ([]byte, error) {
	n := snap.Len()
	if n < 2 {
		return nil, errTooFewPoints
	}

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	line := chart.Style{
		StrokeColor: style.Color,
		StrokeWidth: 2,
		FillColor:   style.Color.WithAlpha(48),
	}

	ch := chart.Chart{
		Title:      style.Title,
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: float64(n - 1)},
			Ticks: labelTicks(snap.Labels),
		},
		YAxis: chart.YAxis{Range: valueRange(snap.Values)},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: style.Title, XValues: xs, YValues: snap.Values, Style: line},
		},
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", style.Title, err)
	}
	return buf.Bytes(), nil
}

// labelTicks places at most maxTicks labels evenly, always including the newest.
func labelTicks(labels []string) []chart.Tick {
	n := len(labels)
	step := 1
	if n > maxTicks {
		step = (n + maxTicks - 1) / maxTicks
	}
	ticks := make([]chart.Tick, 0, maxTicks+1)
	for i := 0; i < n; i += step {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: labels[i]})
	}
	if last := n - 1; last >= 0 && int(ticks[len(ticks)-1].Value) != last {
		ticks = append(ticks, chart.Tick{Value: float64(last), Label: labels[last]})
	}
	return ticks
}

// valueRange pads a flat series so the y-axis has a non-zero span.
func valueRange(values []float64) chart.Range {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo == hi {
		return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	pad := (hi - lo) * 0.1
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}
