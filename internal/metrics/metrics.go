// Package metrics exposes refresh results as Prometheus gauges.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry holds the poolwatcher gauge set.
type Registry struct {
	registry *prometheus.Registry

	parameterValue *prometheus.GaugeVec
	derivedValue   *prometheus.GaugeVec
	refreshFailure *prometheus.GaugeVec
	lastRefresh    *prometheus.GaugeVec
}

// NewRegistry builds and registers the gauge set on a dedicated registry.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		parameterValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poollab_parameter_value",
				Help: "Latest measured value per device and chemistry parameter",
			},
			[]string{"device", "name", "parameter", "unit"},
		),
		derivedValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poollab_derived_value",
				Help: "Derived chemistry metric per device (e.g. combined chlorine)",
			},
			[]string{"device", "name", "metric"},
		),
		refreshFailure: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poollab_refresh_failure",
				Help: "1 if the last refresh for this device failed, 0 if it succeeded",
			},
			[]string{"device"},
		),
		lastRefresh: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poollab_last_refresh_timestamp_seconds",
				Help: "Unix timestamp of the last successful refresh for this device",
			},
			[]string{"device"},
		),
	}

	r.registry.MustRegister(r.parameterValue, r.derivedValue, r.refreshFailure, r.lastRefresh)
	return r
}

// SetParameter records the latest value of one parameter.
func (r *Registry) SetParameter(device, name, parameter, unit string, value float64) {
	r.parameterValue.WithLabelValues(device, name, parameter, unit).Set(value)
}

// SetDerived records a derived metric; a nil value removes the series so a
// metric that can no longer be computed does not linger as stale data.
func (r *Registry) SetDerived(device, name, metric string, value *float64) {
	if value == nil {
		r.derivedValue.DeleteLabelValues(device, name, metric)
		return
	}
	r.derivedValue.WithLabelValues(device, name, metric).Set(*value)
}

// RecordRefresh records the outcome of one refresh cycle.
func (r *Registry) RecordRefresh(device string, success bool, at time.Time) {
	if success {
		r.refreshFailure.WithLabelValues(device).Set(0)
		r.lastRefresh.WithLabelValues(device).Set(float64(at.Unix()))
		return
	}
	r.refreshFailure.WithLabelValues(device).Set(1)
}

// Handler returns the scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, registry *Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
