package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("sessiond/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for authentication operations.
// A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	Logins           metric.Int64Counter
	Refreshes        metric.Int64Counter
	ReuseDetections  metric.Int64Counter
	OIDCCallbacks    metric.Int64Counter
	OIDCExchangeTime metric.Float64Histogram
	CleanupDeleted   metric.Int64Counter
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("sessiond/auth")

	logins, err := meter.Int64Counter(
		"auth.login.count",
		metric.WithDescription("Credential login attempts by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	refreshes, err := meter.Int64Counter(
		"auth.refresh.count",
		metric.WithDescription("Refresh token rotations by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	reuse, err := meter.Int64Counter(
		"auth.refresh.reuse.count",
		metric.WithDescription("Superseded refresh tokens presented again"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	callbacks, err := meter.Int64Counter(
		"auth.oidc.callback.count",
		metric.WithDescription("Federated sign-in callbacks by result"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, err
	}

	exchangeTime, err := meter.Float64Histogram(
		"auth.oidc.exchange.duration",
		metric.WithDescription("Authorization code exchange latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	cleanup, err := meter.Int64Counter(
		"auth.cleanup.deleted",
		metric.WithDescription("Rows removed by the cleanup job"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Logins:           logins,
		Refreshes:        refreshes,
		ReuseDetections:  reuse,
		OIDCCallbacks:    callbacks,
		OIDCExchangeTime: exchangeTime,
		CleanupDeleted:   cleanup,
	}, nil
}

// RecordLogin counts a credential login attempt.
func (a *AuthMetrics) RecordLogin(ctx context.Context, result string) {
	if a == nil {
		return
	}
	a.Logins.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordRefresh counts a rotation attempt.
func (a *AuthMetrics) RecordRefresh(ctx context.Context, result string) {
	if a == nil {
		return
	}
	a.Refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordReuse counts a reuse detection.
func (a *AuthMetrics) RecordReuse(ctx context.Context) {
	if a == nil {
		return
	}
	a.ReuseDetections.Add(ctx, 1)
}

// RecordOIDCCallback counts a federated callback.
func (a *AuthMetrics) RecordOIDCCallback(ctx context.Context, result string) {
	if a == nil {
		return
	}
	a.OIDCCallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordExchange records code exchange latency.
func (a *AuthMetrics) RecordExchange(ctx context.Context, durationMs float64) {
	if a == nil {
		return
	}
	a.OIDCExchangeTime.Record(ctx, durationMs)
}

// RecordCleanup counts rows removed from table.
func (a *AuthMetrics) RecordCleanup(ctx context.Context, table string, n int) {
	if a == nil || n == 0 {
		return
	}
	a.CleanupDeleted.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttrDBTable, table)))
}

// Common metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrDBTable = "db.table"
	AttrResult  = "result"
)
