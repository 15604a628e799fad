package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/patientflow"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount    metric.Int64Counter
	RequestDuration metric.Float64Histogram
	DBQueryDuration metric.Float64Histogram

	// QueueTransitions counts ticket transitions by clinic and target status
	QueueTransitions metric.Int64Counter
	// QueueRejections counts expected rejections such as capacity_full or busy
	QueueRejections metric.Int64Counter
	RoutedPatients  metric.Int64Counter
	PinChecks       metric.Int64Counter
	TickDuration    metric.Float64Histogram
}

// Setup initializes OpenTelemetry tracing, metrics export and runtime metrics
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		GetLogger().Warn().Err(err).Msg("runtime metrics disabled")
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.RequestCount, err = meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.RequestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.DBQueryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.QueueTransitions, err = meter.Int64Counter(
		"queue.ticket.transitions",
		metric.WithDescription("Number of queue ticket status transitions"),
	); err != nil {
		return nil, err
	}

	if m.QueueRejections, err = meter.Int64Counter(
		"queue.rejections",
		metric.WithDescription("Number of expected queue rejections by reason"),
	); err != nil {
		return nil, err
	}

	if m.RoutedPatients, err = meter.Int64Counter(
		"routing.patients.routed",
		metric.WithDescription("Number of patients assigned to a clinic by the load balancer"),
	); err != nil {
		return nil, err
	}

	if m.PinChecks, err = meter.Int64Counter(
		"pin.verifications",
		metric.WithDescription("Number of clinic PIN verifications by outcome"),
	); err != nil {
		return nil, err
	}

	if m.TickDuration, err = meter.Float64Histogram(
		"scheduler.tick.duration",
		metric.WithDescription("Scheduler tick duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records an HTTP request metric
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDBMetric records a database operation metric
func RecordDBMetric(ctx context.Context, metrics *Metrics, operation string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.DBQueryDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("db.operation", operation)))
}

// RecordTransition records a ticket status transition
func RecordTransition(ctx context.Context, metrics *Metrics, clinicID, status string, n int) {
	if metrics == nil || n == 0 {
		return
	}
	metrics.QueueTransitions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("clinic.id", clinicID),
		attribute.String("ticket.status", status),
	))
}

// RecordRejection records an expected, non-exceptional rejection
func RecordRejection(ctx context.Context, metrics *Metrics, operation, reason string) {
	if metrics == nil {
		return
	}
	metrics.QueueRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}

// RecordRouted records a load-balanced clinic assignment
func RecordRouted(ctx context.Context, metrics *Metrics, clinicID string, stepOrder int) {
	if metrics == nil {
		return
	}
	metrics.RoutedPatients.Add(ctx, 1, metric.WithAttributes(
		attribute.String("clinic.id", clinicID),
		attribute.Int("route.step", stepOrder),
	))
}

// RecordPinCheck records the outcome of a PIN verification
func RecordPinCheck(ctx context.Context, metrics *Metrics, clinicID string, ok bool) {
	if metrics == nil {
		return
	}
	metrics.PinChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("clinic.id", clinicID),
		attribute.Bool("pin.valid", ok),
	))
}

// RecordTick records the duration of one scheduler tick
func RecordTick(ctx context.Context, metrics *Metrics, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.TickDuration.Record(ctx, float64(duration.Milliseconds()))
}
