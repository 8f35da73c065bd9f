package metrics

import (
	"sync"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics interface consumed by services
type Recorder = core.Recorder

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

const (
	resultSuccess = "success"
	resultError   = "error"
	resultFailure = "failure"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Authorization flow
	AuthorizationRequestsTotal *prometheus.CounterVec
	ConsentDecisionsTotal      *prometheus.CounterVec

	// Tokens
	TokensIssuedTotal       *prometheus.CounterVec
	TokensRevokedTotal      *prometheus.CounterVec
	TokensRefreshedTotal    *prometheus.CounterVec
	TokenValidationTotal    *prometheus.CounterVec
	TokenGenerationDuration *prometheus.HistogramVec

	// Grants
	GrantRedemptionsTotal *prometheus.CounterVec
	ReplayDetectedTotal   *prometheus.CounterVec
	GrantsSweptTotal      prometheus.Counter

	// Keys
	KeyRotationsTotal prometheus.Counter

	// Accounts
	LoginsTotal        *prometheus.CounterVec
	LoginDuration      prometheus.Histogram
	RegistrationsTotal *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// Claims
	ClaimsLookupsTotal   *prometheus.CounterVec
	ClaimsLookupDuration *prometheus.HistogramVec

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database Query Metrics
	DatabaseQueryErrorsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag
// If enabled=true, returns Prometheus-based Metrics
// If enabled=false, returns NoopMetrics (zero overhead)
// Uses sync.Once to ensure Prometheus metrics are only registered once
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// GetMetrics returns the process-wide Prometheus metrics, initializing them if needed
func GetMetrics() *Metrics {
	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	return &Metrics{
		AuthorizationRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_authorization_requests_total",
				Help: "Authorization requests by response type and outcome",
			},
			[]string{"response_type", "outcome"}, // suspended, issued, rejected:<reason>
		),
		ConsentDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_consent_decisions_total",
				Help: "Consent decisions submitted by users",
			},
			[]string{"decision"}, // approved, denied
		),

		TokensIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_tokens_issued_total",
				Help: "Total number of tokens issued",
			},
			[]string{"token_type", "grant_type"},
		),
		TokensRevokedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_tokens_revoked_total",
				Help: "Total number of tokens revoked",
			},
			[]string{"token_type", "reason"},
		),
		TokensRefreshedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_tokens_refreshed_total",
				Help: "Total number of refresh token redemptions",
			},
			[]string{"result"},
		),
		TokenValidationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_token_validation_total",
				Help: "Bearer token validations by result",
			},
			[]string{"result"}, // valid, expired, invalid
		),
		TokenGenerationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oidc_token_generation_duration_seconds",
				Help:    "Time spent building and signing tokens",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"grant_type"},
		),

		GrantRedemptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_grant_redemptions_total",
				Help: "Grant redemption attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		ReplayDetectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_replay_detected_total",
				Help: "Reuse of consumed codes or rotated refresh tokens",
			},
			[]string{"kind"},
		),
		GrantsSweptTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "oidc_grants_swept_total",
				Help: "Expired grants removed by the background sweep",
			},
		),

		KeyRotationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "oidc_signing_key_rotations_total",
				Help: "Signing key rotations",
			},
		),

		LoginsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_logins_total",
				Help: "Password logins by result",
			},
			[]string{"result"},
		),
		LoginDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "identity_login_duration_seconds",
				Help:    "Credential verification time",
				Buckets: prometheus.DefBuckets,
			},
		),
		RegistrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_registrations_total",
				Help: "Account registrations by result",
			},
			[]string{"result"},
		),
		NotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_notifications_total",
				Help: "Notifications by kind and result",
			},
			[]string{"kind", "result"},
		),

		ClaimsLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_claims_lookups_total",
				Help: "Claims provider lookups",
			},
			[]string{"provider", "result"},
		),
		ClaimsLookupDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oidc_claims_lookup_duration_seconds",
				Help:    "Claims provider latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		DatabaseQueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation"},
		),
	}
}

func result(success bool) string {
	if success {
		return resultSuccess
	}
	return resultFailure
}

func (m *Metrics) RecordAuthorizationRequest(responseType, outcome string) {
	m.AuthorizationRequestsTotal.WithLabelValues(responseType, outcome).Inc()
}

func (m *Metrics) RecordConsentDecision(approved bool) {
	decision := "approved"
	if !approved {
		decision = "denied"
	}
	m.ConsentDecisionsTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordTokenIssued(tokenType, grantType string, generationTime time.Duration) {
	m.TokensIssuedTotal.WithLabelValues(tokenType, grantType).Inc()
	m.TokenGenerationDuration.WithLabelValues(grantType).Observe(generationTime.Seconds())
}

func (m *Metrics) RecordTokenRevoked(tokenType, reason string) {
	m.TokensRevokedTotal.WithLabelValues(tokenType, reason).Inc()
}

func (m *Metrics) RecordTokenRefresh(success bool) {
	m.TokensRefreshedTotal.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) RecordTokenValidation(result string) {
	m.TokenValidationTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordGrantRedemption(kind, result string) {
	m.GrantRedemptionsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordReplayDetected(kind string) {
	m.ReplayDetectedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordGrantsSwept(count int64) {
	if count > 0 {
		m.GrantsSweptTotal.Add(float64(count))
	}
}

func (m *Metrics) RecordKeyRotation() {
	m.KeyRotationsTotal.Inc()
}

func (m *Metrics) RecordLogin(success bool, duration time.Duration) {
	m.LoginsTotal.WithLabelValues(result(success)).Inc()
	m.LoginDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRegistration(success bool) {
	m.RegistrationsTotal.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) RecordNotification(kind string, success bool) {
	m.NotificationsTotal.WithLabelValues(kind, result(success)).Inc()
}

func (m *Metrics) RecordClaimsLookup(provider string, success bool, duration time.Duration) {
	m.ClaimsLookupsTotal.WithLabelValues(provider, result(success)).Inc()
	m.ClaimsLookupDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) RecordDatabaseQueryError(operation string) {
	m.DatabaseQueryErrorsTotal.WithLabelValues(operation).Inc()
}
