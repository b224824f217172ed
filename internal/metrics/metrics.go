// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/reaction"
)

const namespace = "resistsim"

// Collector implements engine.Metrics. One Collector may be shared by the
// schedulers of an ensemble; counters aggregate across them and gauges
// show whichever scheduler reported last.
type Collector struct {
	events  [reaction.NumChannelKinds]prometheus.Counter
	runs    *prometheus.CounterVec
	simTime prometheus.Gauge
	lambda  prometheus.Gauge
	cells   prometheus.Gauge
	active  prometheus.Gauge
}

// New registers the collector's metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	eventsByChannel := f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Reaction events applied, by channel kind",
	}, []string{"channel"})

	c := &Collector{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Runs that reached a terminal state, by status",
		}, []string{"status"}),
		simTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "simulated_time",
			Help:      "Simulated time of the most recent event",
		}),
		lambda: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "total_propensity",
			Help:      "Total propensity after the most recent event",
		}),
		cells: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cells",
			Help:      "Cells on the lattice after the most recent event",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_runs",
			Help:      "Schedulers currently running",
		}),
	}
	for k := range c.events {
		c.events[k] = eventsByChannel.WithLabelValues(reaction.ChannelKind(k).String())
	}
	return c
}

// ObserveEvent counts one applied event.
func (c *Collector) ObserveEvent(kind reaction.ChannelKind) {
	if kind >= 0 && int(kind) < len(c.events) {
		c.events[kind].Inc()
	}
}

// ObserveState records the scheduler's position after an event.
func (c *Collector) ObserveState(time, lambda float64, cells int) {
	c.simTime.Set(time)
	c.lambda.Set(lambda)
	c.cells.Set(float64(cells))
}

// ObserveStatus tracks scheduler lifecycle transitions.
func (c *Collector) ObserveStatus(status engine.Status) {
	switch {
	case status == engine.Running:
		c.active.Inc()
	case status.Terminal():
		c.active.Dec()
		c.runs.WithLabelValues(status.String()).Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
