package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/peerhub"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Verification middleware
	AuthRequestsTotal    metric.Int64Counter
	AuthRejectionsTotal  metric.Int64Counter
	AuthServerErrorTotal metric.Int64Counter
	AuthDuration         metric.Float64Histogram

	// Account endpoints
	LoginsTotal        metric.Int64Counter
	LoginFailuresTotal metric.Int64Counter
	RegistrationsTotal metric.Int64Counter
	TokensIssuedTotal  metric.Int64Counter
	TokensRotatedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.AuthRequestsTotal, _ = meter.Int64Counter(
		"peerhub.auth.requests.total",
		metric.WithDescription("Total number of requests seen by the verification middleware"),
		metric.WithUnit("{request}"),
	)

	m.AuthRejectionsTotal, _ = meter.Int64Counter(
		"peerhub.auth.rejections.total",
		metric.WithDescription("Total number of requests rejected with 401, by reason"),
		metric.WithUnit("{request}"),
	)

	m.AuthServerErrorTotal, _ = meter.Int64Counter(
		"peerhub.auth.server_errors.total",
		metric.WithDescription("Total number of verification attempts that failed with an infrastructure error"),
		metric.WithUnit("{error}"),
	)

	m.AuthDuration, _ = meter.Float64Histogram(
		"peerhub.auth.duration",
		metric.WithDescription("Duration of request verification"),
		metric.WithUnit("ms"),
	)

	m.LoginsTotal, _ = meter.Int64Counter(
		"peerhub.account.logins.total",
		metric.WithDescription("Total number of successful logins"),
		metric.WithUnit("{login}"),
	)

	m.LoginFailuresTotal, _ = meter.Int64Counter(
		"peerhub.account.login_failures.total",
		metric.WithDescription("Total number of rejected login attempts"),
		metric.WithUnit("{login}"),
	)

	m.RegistrationsTotal, _ = meter.Int64Counter(
		"peerhub.account.registrations.total",
		metric.WithDescription("Total number of accounts registered"),
		metric.WithUnit("{user}"),
	)

	m.TokensIssuedTotal, _ = meter.Int64Counter(
		"peerhub.tokens.issued.total",
		metric.WithDescription("Total number of session tokens issued"),
		metric.WithUnit("{token}"),
	)

	m.TokensRotatedTotal, _ = meter.Int64Counter(
		"peerhub.tokens.rotated.total",
		metric.WithDescription("Total number of session tokens rotated on profile fetch"),
		metric.WithUnit("{token}"),
	)

	return m
}
