// Package dispatch turns inbound messages into series points and chart updates.
package dispatch

import (
	"errors"
	"log/slog"
	"time"

	"cloudpico-viewer/internal/series"
	"cloudpico-viewer/internal/telemetry"
)

// Metric names, in fan-out order.
const (
	Temperature = "temperature"
	Pressure    = "pressure"
	Humidity    = "humidity"
)

// Metrics lists the metric names in the order a reading is fanned out.
var Metrics = []string{Temperature, Pressure, Humidity}

// Sink receives the full series after every append.
type Sink interface {
	Update(series.Snapshot)
}

// Recorder counts pipeline events.
type Recorder interface {
	MessageReceived()
	DecodeFailed()
	ReadingDispatched()
	SinkUpdated(metric string)
}

// Channel pairs a series with the sink that draws it.
type Channel struct {
	Series *series.Series
	Sink   Sink
}

type Channels struct {
	Temperature Channel
	Pressure    Channel
	Humidity    Channel
}

type Options struct {
	// Location is used for x-axis labels; nil means time.Local.
	Location *time.Location
	Logger   *slog.Logger
	Recorder Recorder
}

type Dispatcher struct {
	channels Channels
	loc      *time.Location
	logger   *slog.Logger
	recorder Recorder
}

func New(channels Channels, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Dispatcher{
		channels: channels,
		loc:      opts.Location,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
}

// HandleMessage decodes one inbound payload and dispatches its reading.
// A malformed payload is logged and dropped.
func (d *Dispatcher) HandleMessage(payload []byte) {
	d.recorder.MessageReceived()
	d.logger.Debug("received message", "size", len(payload), "payload", string(payload))

	readings, err := telemetry.Decode(payload)
	if err != nil {
		var decErr *telemetry.DecodeError
		if errors.As(err, &decErr) {
			d.recorder.DecodeFailed()
		}
		d.logger.Warn("dropping malformed message", "error", err, "size", len(payload))
		return
	}
	if len(readings) == 0 {
		d.logger.Debug("message carried no readings")
		return
	}

	for _, r := range readings {
		d.Dispatch(r)
	}
}

// Dispatch appends the reading to the temperature, pressure and humidity
// series in that order, updating each sink right after its series.
func (d *Dispatcher) Dispatch(r telemetry.SensorReading) {
	label := telemetry.FormatLabel(r.Time, d.loc)

	d.push(Temperature, d.channels.Temperature, label, r.Temperature)
	d.push(Pressure, d.channels.Pressure, label, r.Pressure)
	d.push(Humidity, d.channels.Humidity, label, r.Humidity)

	d.recorder.ReadingDispatched()
	d.logger.Debug("dispatched reading",
		"label", label,
		"temperature", r.Temperature,
		"pressure", r.Pressure,
		"humidity", r.Humidity,
	)
}

func (d *Dispatcher) push(metric string, ch Channel, label string, value float64) {
	if ch.Series == nil {
		return
	}
	ch.Series.Append(label, value)
	if ch.Sink == nil {
		return
	}
	ch.Sink.Update(ch.Series.Snapshot())
	d.recorder.SinkUpdated(metric)
}

type nopRecorder struct{}

func (nopRecorder) MessageReceived()   {}
func (nopRecorder) DecodeFailed()      {}
func (nopRecorder) ReadingDispatched() {}
func (nopRecorder) SinkUpdated(string) {}
