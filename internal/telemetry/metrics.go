package telemetry

import (
	"context"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterScope = "blockflow"

// Metrics owns the meter provider. When disabled every meter it hands out is
// a no-op and Handler answers 503.
type Metrics struct {
	provider metric.MeterProvider
	sdk      *sdkmetric.MeterProvider
	registry *prom.Registry
	enabled  bool
}

// NewMetrics builds a Prometheus-backed meter provider, or a no-op one when
// enabled is false.
func NewMetrics(ctx context.Context, enabled bool) (*Metrics, error) {
	if !enabled {
		FromContext(ctx).Debug("Metrics disabled, using no-op meter")
		return &Metrics{provider: noop.NewMeterProvider()}, nil
	}

	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	FromContext(ctx).Debug("Metrics initialized")
	return &Metrics{provider: provider, sdk: provider, registry: registry, enabled: true}, nil
}

// Enabled reports whether measurements are exported.
func (m *Metrics) Enabled() bool {
	return m.enabled
}

// Meter returns a meter for the named instrumentation scope.
func (m *Metrics) Meter(name string) metric.Meter {
	if name == "" {
		name = meterScope
	}
	return m.provider.Meter(name)
}

// SetAsGlobal installs the provider as the global otel meter provider.
func (m *Metrics) SetAsGlobal() {
	otel.SetMeterProvider(m.provider)
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics are disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.sdk == nil {
		return nil
	}
	return m.sdk.Shutdown(ctx)
}
