package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cloudpico-viewer/internal/config"
	"cloudpico-viewer/internal/dispatch"
	"cloudpico-viewer/internal/httpapi"
	"cloudpico-viewer/internal/hub"
	"cloudpico-viewer/internal/metrics"
	"cloudpico-viewer/internal/negotiate"
	"cloudpico-viewer/internal/render"
	"cloudpico-viewer/internal/series"
)

// Negotiator obtains the URL and access token of a live session.
type Negotiator interface {
	Negotiate(ctx context.Context) (negotiate.Negotiation, error)
}

// options replace the production collaborators in tests.
type options struct {
	transport  hub.Transport
	negotiator Negotiator
	sinks      map[string]dispatch.Sink
	backoff    func() backoff.BackOff
}

// viewer is the wired pipeline: negotiation, live connection, decode,
// fan-out into the three series and their charts.
type viewer struct {
	cfg    config.Config
	logger *slog.Logger

	negotiator Negotiator
	supervisor *hub.Supervisor
	dispatcher *dispatch.Dispatcher
	series     map[string]*series.Series
	charts     []*render.Chart
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	mux        *http.ServeMux
	newBackoff func() backoff.BackOff
}

func newViewer(cfg config.Config, logger *slog.Logger, opts options) *viewer {
	if logger == nil {
		logger = slog.Default()
	}
	v := &viewer{
		cfg:        cfg,
		logger:     logger,
		negotiator: opts.negotiator,
		series:     make(map[string]*series.Series, len(dispatch.Metrics)),
		registry:   prometheus.NewRegistry(),
		newBackoff: opts.backoff,
	}
	if v.negotiator == nil {
		v.negotiator = negotiate.NewClient(cfg.NegotiateURL, nil, cfg.NegotiateTimeout, logger)
	}
	if v.newBackoff == nil {
		v.newBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = cfg.ReconnectMaxElapsed
			return b
		}
	}

	v.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	v.metrics = metrics.New(v.registry)

	channels := make(map[string]dispatch.Channel, len(dispatch.Metrics))
	var endpoints []httpapi.Metric
	for _, name := range dispatch.Metrics {
		s := series.New(name, cfg.SeriesCapacity)
		v.series[name] = s
		ep := httpapi.Metric{Name: name, Series: s}

		sink, ok := opts.sinks[name]
		if !ok {
			chart := render.NewChart(render.Styles[name], logger.With("metric", name))
			v.charts = append(v.charts, chart)
			ep.Chart = chart
			sink = chart
		}
		channels[name] = dispatch.Channel{Series: s, Sink: sink}
		endpoints = append(endpoints, ep)
	}

	v.dispatcher = dispatch.New(dispatch.Channels{
		Temperature: channels[dispatch.Temperature],
		Pressure:    channels[dispatch.Pressure],
		Humidity:    channels[dispatch.Humidity],
	}, dispatch.Options{
		Location: cfg.LabelLocation,
		Logger:   logger,
		Recorder: v.metrics,
	})

	transport := opts.transport
	if transport == nil {
		transport = hub.DefaultTransports(logger, cfg.MQTTClientID)
	}
	v.supervisor = hub.New(transport, hub.Options{
		Event:    cfg.HubEvent,
		Handler:  v.dispatcher.HandleMessage,
		Logger:   logger,
		Observer: v.metrics,
	})

	v.mux = httpapi.NewMux(httpapi.Deps{
		Metrics:    endpoints,
		Connection: v.supervisor,
		Gatherer:   v.registry,
		Logger:     logger,
	})
	return v
}

// runSessions negotiates and runs live sessions until ctx ends. Without
// Reconnect only one session is attempted; failures leave the dashboard
// serving what it already has.
func (v *viewer) runSessions(ctx context.Context) {
	b := v.newBackoff()
	for {
		err := v.session(ctx)
		if ctx.Err() != nil {
			return
		}
		v.metrics.SessionEnded(err)

		if !v.cfg.Reconnect {
			if err != nil {
				v.logger.Warn("live session ended; no further chart updates", "error", err)
			}
			return
		}

		// A session that was up restarts the backoff schedule.
		var terr *hub.TransportError
		if errors.As(err, &terr) && terr.Op == "receive" {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			v.logger.Error("giving up reconnecting", "error", err)
			return
		}
		v.logger.Info("reconnecting", "in", wait.String(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session negotiates afresh, starts the supervisor and waits for the session to end.
func (v *viewer) session(ctx context.Context) error {
	start := time.Now()
	n, err := v.negotiator.Negotiate(ctx)
	v.metrics.NegotiationFinished(time.Since(start), err)
	if err != nil {
		v.logger.Error("negotiation failed", "error", err)
		return err
	}

	if err := v.supervisor.Start(ctx, n); err != nil {
		return err
	}
	return v.supervisor.Wait(ctx)
}

// close stops the live connection for good and freezes the charts.
func (v *viewer) close(ctx context.Context) error {
	err := v.supervisor.Close(ctx)
	for _, c := range v.charts {
		c.Close()
	}
	return err
}
