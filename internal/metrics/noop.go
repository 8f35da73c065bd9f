package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
// All methods are empty and do nothing, providing zero overhead when metrics are disabled
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordAuthorizationRequest(responseType, outcome string)           {}
func (n *NoopMetrics) RecordConsentDecision(approved bool)                               {}
func (n *NoopMetrics) RecordTokenIssued(tokenType, grantType string, d time.Duration)    {}
func (n *NoopMetrics) RecordTokenRevoked(tokenType, reason string)                       {}
func (n *NoopMetrics) RecordTokenRefresh(success bool)                                   {}
func (n *NoopMetrics) RecordTokenValidation(result string)                               {}
func (n *NoopMetrics) RecordGrantRedemption(kind, result string)                         {}
func (n *NoopMetrics) RecordReplayDetected(kind string)                                  {}
func (n *NoopMetrics) RecordGrantsSwept(count int64)                                     {}
func (n *NoopMetrics) RecordKeyRotation()                                                {}
func (n *NoopMetrics) RecordLogin(success bool, duration time.Duration)                  {}
func (n *NoopMetrics) RecordRegistration(success bool)                                   {}
func (n *NoopMetrics) RecordNotification(kind string, success bool)                      {}
func (n *NoopMetrics) RecordClaimsLookup(provider string, success bool, d time.Duration) {}
func (n *NoopMetrics) RecordDatabaseQueryError(operation string)                         {}
