package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter publishes collector readings as OpenTelemetry gauges in Prometheus format
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer

	meter            metric.Meter
	statusCountGauge metric.Int64ObservableGauge
	throughputGauge  metric.Int64ObservableGauge
	schedulersGauge  metric.Int64ObservableGauge
}

type ExporterOption func(*OTelExporter)

// WithRegistry registers and serves metrics from reg instead of the default registry
func WithRegistry(reg *prometheus.Registry) ExporterOption {
	return func(oe *OTelExporter) {
		oe.registerer = reg
		oe.gatherer = reg
	}
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector, opts ...ExporterOption) (*OTelExporter, error) {
	oe := &OTelExporter{
		collector:  collector,
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(oe)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(oe.registerer))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	oe.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(oe.meterProvider)

	oe.meter = oe.meterProvider.Meter(
		"webhook-dispatch",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.events.status",
		metric.WithDescription("Number of delivery events by status"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	oe.throughputGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.deliveries.throughput",
		metric.WithDescription("Number of successful delivery attempts over time window"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(oe.observeThroughput),
	)
	if err != nil {
		return fmt.Errorf("creating throughput gauge: %w", err)
	}

	oe.schedulersGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.schedulers.active",
		metric.WithDescription("Number of retry schedulers with a live heartbeat"),
		metric.WithUnit("{schedulers}"),
		metric.WithInt64Callback(oe.observeSchedulers),
	)
	if err != nil {
		return fmt.Errorf("creating active schedulers gauge: %w", err)
	}

	return nil
}

func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.GetStatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("event.status", status),
		))
	}

	return nil
}

func (oe *OTelExporter) observeThroughput(ctx context.Context, observer metric.Int64Observer) error {
	throughput, err := oe.collector.GetThroughput(ctx)
	if err != nil {
		return err
	}

	observer.Observe(throughput.LastMinute, metric.WithAttributes(
		attribute.String("time.window", "1m"),
	))
	observer.Observe(throughput.LastFiveMinutes, metric.WithAttributes(
		attribute.String("time.window", "5m"),
	))
	observer.Observe(throughput.LastFifteenMinutes, metric.WithAttributes(
		attribute.String("time.window", "15m"),
	))

	return nil
}

func (oe *OTelExporter) observeSchedulers(ctx context.Context, observer metric.Int64Observer) error {
	schedulers, err := oe.collector.GetActiveSchedulers(ctx)
	if err != nil {
		return err
	}

	observer.Observe(int64(len(schedulers)))
	return nil
}

// ServeHTTP returns the handler serving Prometheus-formatted metrics
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.HandlerFor(oe.gatherer, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
