package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Push outcomes recorded by the dispatcher.
const (
	PushSent    = "sent"
	PushSkipped = "skipped"
	PushDropped = "dropped"
	PushFailed  = "failed"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Metrics records console activity through an OpenTelemetry meter exported
// to a dedicated Prometheus registry.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	connectionsActive metric.Int64UpDownCounter
	requests          metric.Int64Counter
	pushes            metric.Int64Counter
	tailersActive     metric.Int64UpDownCounter
	pubsubActive      metric.Int64UpDownCounter
}

// NewMetrics creates the collector. A disabled config yields a collector whose
// methods are no-ops and whose Handler serves 404.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if !config.Enabled {
		return &Metrics{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("debugconsole")

	m := &Metrics{provider: provider, registry: registry}

	if m.connectionsActive, err = meter.Int64UpDownCounter(
		"console.connections.active",
		metric.WithDescription("Open dashboard connections"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connections gauge: %w", err)
	}

	if m.requests, err = meter.Int64Counter(
		"console.requests.total",
		metric.WithDescription("Requests received, by call"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	if m.pushes, err = meter.Int64Counter(
		"console.pushes.total",
		metric.WithDescription("Outbound messages, by kind and outcome"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pushes counter: %w", err)
	}

	if m.tailersActive, err = meter.Int64UpDownCounter(
		"console.tailers.active",
		metric.WithDescription("Running log tailers"),
		metric.WithUnit("{tailer}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tailers gauge: %w", err)
	}

	if m.pubsubActive, err = meter.Int64UpDownCounter(
		"console.pubsub.subscriptions.active",
		metric.WithDescription("Upstream pub/sub subscriptions held for connections"),
		metric.WithUnit("{subscription}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pubsub gauge: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus exposition for this collector.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.connectionsActive == nil {
		return
	}
	m.connectionsActive.Add(context.Background(), 1)
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.connectionsActive == nil {
		return
	}
	m.connectionsActive.Add(context.Background(), -1)
}

// RequestReceived counts one inbound request.
func (m *Metrics) RequestReceived(call string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(context.Background(), 1, metric.WithAttributes(attribute.String("call", call)))
}

// PushRecorded counts one outbound message with its outcome.
func (m *Metrics) PushRecorded(kind, outcome string) {
	if m == nil || m.pushes == nil {
		return
	}
	m.pushes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// TailersChanged adjusts the running tailer gauge by delta.
func (m *Metrics) TailersChanged(delta int) {
	if m == nil || m.tailersActive == nil {
		return
	}
	m.tailersActive.Add(context.Background(), int64(delta))
}

// PubSubChanged adjusts the pub/sub subscription gauge by delta.
func (m *Metrics) PubSubChanged(delta int) {
	if m == nil || m.pubsubActive == nil {
		return
	}
	m.pubsubActive.Add(context.Background(), int64(delta))
}
