package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Custom attributes live under the "forestry." namespace so they cannot
// collide with OpenTelemetry semantic conventions:
//
//   - forestry.business.action: business action performed ("authority_form_uploaded", ...)
//   - forestry.business.outcome: "success" or "error"
//   - forestry.external.target: downstream system ("postgres", "audit-service", "blob-storage")
//   - forestry.external.operation: operation against that system ("query", "store", "remove")
const (
	attrBusinessAction    = "forestry.business.action"
	attrBusinessOutcome   = "forestry.business.outcome"
	attrExternalTarget    = "forestry.external.target"
	attrExternalOperation = "forestry.external.operation"
)

// defaultBuckets are latency histogram boundaries in seconds.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// instruments holds every metric instrument the service records against.
type instruments struct {
	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
	externalCalls    metric.Int64Counter
	externalErrors   metric.Int64Counter
	externalDuration metric.Float64Histogram
	businessEvents   metric.Int64Counter
}

var (
	inst           instruments
	metricsHandler http.Handler
	initialized    int32
	otelInitOnce   sync.Once
)

// Config controls the OpenTelemetry metrics pipeline.
type Config struct {
	// ExporterType is "prometheus", "otlp", or "none".
	ExporterType   string
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, OTLPHeaders and OTLPTLSInsecure apply to the otlp
	// exporter only. Non-HTTPS endpoints are rejected unless
	// OTEL_EXPORTER_OTLP_INSECURE is set.
	OTLPEndpoint    string
	OTLPHeaders     map[string]string
	OTLPTLSInsecure bool
	// HistogramBuckets overrides the latency bucket boundaries (seconds).
	HistogramBuckets []float64
}

// DefaultConfig reads the exporter selection and OTLP settings from the
// standard OTEL_* environment variables.
func DefaultConfig(serviceName string) Config {
	return Config{
		ExporterType:     getEnvOrDefault("OTEL_METRICS_EXPORTER", "prometheus"),
		ServiceName:      serviceName,
		ServiceVersion:   getEnvOrDefault("SERVICE_VERSION", "dev"),
		OTLPEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPHeaders:      parseHeaders(getEnvOrDefault("OTEL_EXPORTER_OTLP_HEADERS", "")),
		OTLPTLSInsecure:  getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		HistogramBuckets: defaultBuckets,
	}
}

// Initialize sets up the metrics pipeline once. Later calls are no-ops and
// return the outcome of the first.
func Initialize(config Config) error {
	var initErr error
	otelInitOnce.Do(func() {
		initErr = setupPipeline(context.Background(), config)
		if initErr == nil {
			atomic.StoreInt32(&initialized, 1)
		}
	})
	return initErr
}

func setupPipeline(ctx context.Context, config Config) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var reader sdkmetric.Reader
	switch config.ExporterType {
	case "prometheus", "":
		reader, err = newPrometheusReader(config)
	case "otlp":
		reader, err = newOTLPReader(ctx, config)
	case "none":
		reader = sdkmetric.NewManualReader()
		metricsHandler = staticMetricsPage("# Metrics disabled\n")
		slog.Info("OpenTelemetry metrics disabled", "service", config.ServiceName)
	default:
		return fmt.Errorf("unknown exporter type: %s (supported: prometheus, otlp, none)", config.ExporterType)
	}
	if err != nil {
		return err
	}

	buckets := config.HistogramBuckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	}
	for _, name := range []string{"http_request_duration_seconds", "external_call_duration_seconds"} {
		providerOpts = append(providerOpts, sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: buckets},
			},
		)))
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(providerOpts...))

	return createInstruments(otel.Meter("forestry-licensing"))
}

func newPrometheusReader(config Config) (sdkmetric.Reader, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	slog.Info("Initialized OpenTelemetry metrics with Prometheus exporter",
		"service", config.ServiceName)
	return exporter, nil
}

func newOTLPReader(ctx context.Context, config Config) (sdkmetric.Reader, error) {
	if config.OTLPEndpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required when using OTLP exporter")
	}
	endpointURL, err := url.Parse(config.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint URL: %w", err)
	}
	if endpointURL.Scheme != "https" {
		if !config.OTLPTLSInsecure {
			return nil, fmt.Errorf("OTLP endpoint must use HTTPS (got: %s); set OTEL_EXPORTER_OTLP_INSECURE=true to allow insecure connections", endpointURL.Scheme)
		}
		slog.Warn("Using insecure HTTP connection for OTLP endpoint", "endpoint", config.OTLPEndpoint)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpointURL.Host)}
	if config.OTLPTLSInsecure && endpointURL.Scheme == "http" {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(config.OTLPHeaders) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(config.OTLPHeaders))
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	metricsHandler = staticMetricsPage("# Metrics exported via OTLP\n")
	slog.Info("Initialized OpenTelemetry metrics with OTLP exporter",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"insecure", config.OTLPTLSInsecure)
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second)), nil
}

func createInstruments(meter metric.Meter) error {
	var err error

	counter := func(name, desc string) metric.Int64Counter {
		c, cErr := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if cErr != nil && err == nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, cErr)
		}
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, hErr := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if hErr != nil && err == nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, hErr)
		}
		return h
	}

	inst = instruments{
		httpRequests:     counter("http_requests_total", "Total number of HTTP requests"),
		httpDuration:     histogram("http_request_duration_seconds", "HTTP request duration in seconds"),
		externalCalls:    counter("external_calls_total", "Total number of external service calls"),
		externalErrors:   counter("external_call_errors_total", "Total number of failed external service calls"),
		externalDuration: histogram("external_call_duration_seconds", "External service call duration in seconds"),
		businessEvents:   counter("business_events_total", "Total number of business events"),
	}
	return err
}

func staticMetricsPage(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
}

// otelHandler returns the scrape handler for the active exporter.
func otelHandler() http.Handler {
	if atomic.LoadInt32(&initialized) == 0 || metricsHandler == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("# Metrics not initialized\n"))
		})
	}
	return metricsHandler
}

// otelHTTPMetricsMiddleware records a count and latency sample per request.
func otelHTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&initialized) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// 404s collapse to "unknown" so scanners cannot inflate cardinality
		route := normalizeRoute(r.URL.Path)
		if rw.statusCode == http.StatusNotFound {
			route = "unknown"
		}

		ctx := context.Background()
		inst.httpRequests.Add(ctx, 1,
			metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCodeKey.Int(rw.statusCode),
			),
		)
		inst.httpDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(route),
			),
		)
	})
}

func otelRecordExternalCall(target, operation string, duration time.Duration, err error) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String(attrExternalTarget, target),
		attribute.String(attrExternalOperation, operation),
	)

	inst.externalCalls.Add(ctx, 1, attrs)
	inst.externalDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		inst.externalErrors.Add(ctx, 1, attrs)
	}
}

func otelRecordBusinessEvent(action, outcome string) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}

	inst.businessEvents.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(attrBusinessAction, action),
			attribute.String(attrBusinessOutcome, outcome),
		),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseHeaders parses "key1=value1,key2=value2" into a map.
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	value = strings.ToLower(strings.TrimSpace(value))
	return value == "true" || value == "1" || value == "yes" || value == "on"
}
