package core

import "time"

// Recorder defines the interface for recording application metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// Authorization flow
	RecordAuthorizationRequest(responseType, outcome string)
	RecordConsentDecision(approved bool)

	// Token operations
	RecordTokenIssued(tokenType, grantType string, generationTime time.Duration)
	RecordTokenRevoked(tokenType, reason string)
	RecordTokenRefresh(success bool)
	RecordTokenValidation(result string)

	// Grant store
	RecordGrantRedemption(kind, result string)
	RecordReplayDetected(kind string)
	RecordGrantsSwept(count int64)

	// Keys
	RecordKeyRotation()

	// Authentication and accounts
	RecordLogin(success bool, duration time.Duration)
	RecordRegistration(success bool)
	RecordNotification(kind string, success bool)

	// Claims
	RecordClaimsLookup(provider string, success bool, duration time.Duration)

	// Database Operations
	RecordDatabaseQueryError(operation string)
}
