// Package telemetry exposes session metrics through OpenTelemetry with a
// Prometheus exporter.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Recorder receives session events worth counting.
type Recorder interface {
	FrameSent(kind string)
	FrameDropped(kind, reason string)
	FrameReceived(kind string)
	DecodeFailed(kind string)
	StatusChanged(status string)
	PlaybackScheduled(lead time.Duration)
	BreakerChanged(state string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) FrameSent(string)                {}
func (Nop) FrameDropped(string, string)     {}
func (Nop) FrameReceived(string)            {}
func (Nop) DecodeFailed(string)             {}
func (Nop) StatusChanged(string)            {}
func (Nop) PlaybackScheduled(time.Duration) {}
func (Nop) BreakerChanged(string)           {}

// Metrics is an OpenTelemetry-backed Recorder.
type Metrics struct {
	sent        metric.Int64Counter
	dropped     metric.Int64Counter
	received    metric.Int64Counter
	decodeFails metric.Int64Counter
	transitions metric.Int64Counter
	breaker     metric.Int64Counter
	lead        metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.sent, err = meter.Int64Counter("posecoach.frames.sent",
		metric.WithDescription("Outbound frames written to the coaching socket")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("posecoach.frames.dropped",
		metric.WithDescription("Outbound frames dropped before reaching the socket")); err != nil {
		return nil, err
	}
	if m.received, err = meter.Int64Counter("posecoach.frames.received",
		metric.WithDescription("Inbound frames by type")); err != nil {
		return nil, err
	}
	if m.decodeFails, err = meter.Int64Counter("posecoach.decode.failures",
		metric.WithDescription("Inbound payloads dropped as malformed")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("posecoach.session.transitions",
		metric.WithDescription("Session status transitions by target status")); err != nil {
		return nil, err
	}
	if m.breaker, err = meter.Int64Counter("posecoach.reconnect.breaker",
		metric.WithDescription("Reconnect circuit breaker transitions by new state")); err != nil {
		return nil, err
	}
	if m.lead, err = meter.Float64Histogram("posecoach.playback.lead",
		metric.WithDescription("Delay between receiving a chunk and its scheduled start"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) FrameSent(kind string) {
	m.sent.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) FrameDropped(kind, reason string) {
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", kind), attribute.String("reason", reason)))
}

func (m *Metrics) FrameReceived(kind string) {
	m.received.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) DecodeFailed(kind string) {
	m.decodeFails.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) StatusChanged(status string) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) BreakerChanged(state string) {
	m.breaker.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) PlaybackScheduled(lead time.Duration) {
	m.lead.Record(context.Background(), float64(lead)/float64(time.Millisecond))
}

// Provider owns the meter provider and its HTTP handler.
type Provider struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// Setup builds a MeterProvider with a Prometheus reader. When the exporter
// cannot be created the provider still works and Handler returns 404s.
func Setup(serviceName string) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		slog.Warn("failed to initialize prometheus exporter", "error", err)
		return &Provider{
			provider: sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)),
			handler:  http.NotFoundHandler(),
		}, nil
	}
	return &Provider{
		provider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		),
		handler: promhttp.Handler(),
	}, nil
}

// Meter returns a named meter.
func (p *Provider) Meter(name string) metric.Meter { return p.provider.Meter(name) }

// Handler serves the Prometheus scrape endpoint.
func (p *Provider) Handler() http.Handler { return p.handler }

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error { return p.provider.Shutdown(ctx) }
