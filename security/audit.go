package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security-relevant protocol events. Account identifiers
// are hashed before logging; token and secret material never reaches
// the log at all.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a single security audit record.
type Event struct {
	Type      string
	AccountID string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed account identity.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"account_hash", hashForLogging(event.AccountID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs a successful authorization code grant.
func (a *Auditor) LogCodeIssued(accountID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "code_issued",
		AccountID: accountID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs a successful access/refresh pair mint.
func (a *Auditor) LogTokenIssued(accountID, clientID, ipAddress, grantType string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		AccountID: accountID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
		},
	})
}

// LogTokenRevoked logs a revocation that actually deleted records.
func (a *Auditor) LogTokenRevoked(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "token_revoked",
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs a rejected protocol request.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit rejection.
func (a *Auditor) LogRateLimitExceeded(ipAddress, budget string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
		Details: map[string]any{
			"budget": budget,
		},
	})
}

// hashForLogging creates a short SHA256 digest of sensitive data so
// events stay correlatable without exposing the value itself.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
