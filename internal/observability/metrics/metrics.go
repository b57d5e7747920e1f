package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes acquiring domain instruments.
type Metrics struct {
	paymentsCreated metric.Int64Counter
	paymentsFailed  metric.Int64Counter
	refunds         metric.Int64Counter
	webhookOutcomes metric.Int64Counter
	gatewayErrors   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "acquiring"
	}
	meter := provider.Meter(name)

	paymentsCreated, err := meter.Int64Counter("acquiring_payments_created_total")
	if err != nil {
		return nil, err
	}
	paymentsFailed, err := meter.Int64Counter("acquiring_payments_failed_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("acquiring_refunds_total")
	if err != nil {
		return nil, err
	}
	webhookOutcomes, err := meter.Int64Counter("acquiring_webhook_outcomes_total")
	if err != nil {
		return nil, err
	}
	gatewayErrors, err := meter.Int64Counter("acquiring_gateway_errors_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsCreated: paymentsCreated,
		paymentsFailed:  paymentsFailed,
		refunds:         refunds,
		webhookOutcomes: webhookOutcomes,
		gatewayErrors:   gatewayErrors,
	}, nil
}

func (m *Metrics) RecordPaymentCreated(ctx context.Context, acquirer string, replayed bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("acquirer", strings.TrimSpace(acquirer)),
		attribute.Bool("replayed", replayed),
	)
	m.paymentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentFailed(ctx context.Context, acquirer, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("acquirer", strings.TrimSpace(acquirer)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.paymentsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRefund(ctx context.Context, acquirer string, accepted bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("acquirer", strings.TrimSpace(acquirer)),
		attribute.Bool("accepted", accepted),
	)
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookOutcome(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordGatewayError(ctx context.Context, acquirer, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("acquirer", strings.TrimSpace(acquirer)),
		attribute.String("operation", strings.TrimSpace(operation)),
	)
	m.gatewayErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Partner and payment identifiers are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"acquirer":    {},
	"provider":    {},
	"outcome":     {},
	"operation":   {},
	"reason":      {},
	"replayed":    {},
	"accepted":    {},
	"route":       {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
