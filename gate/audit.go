package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AuditAction tags one state transition in a request's lifecycle.
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditApproved AuditAction = "approved"
	AuditRejected AuditAction = "rejected"
	AuditExpired  AuditAction = "expired"
	AuditExecuted AuditAction = "executed"
)

// AuditEvent is one line of the transition log. Parameter values never
// appear here: only a canonical hash and a redacted summary.
type AuditEvent struct {
	EventID   string      `json:"event_id"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"ts"`
	Action    AuditAction `json:"action"`

	Operation   string            `json:"operation"`
	Category    OperationCategory `json:"category,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Risk        RiskLevel         `json:"risk_level"`

	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`

	ParamsHash      string `json:"params_hash,omitempty"`
	SummaryRedacted string `json:"summary_redacted,omitempty"`

	Success  *bool  `json:"success,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// AuditSink receives transition events. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
	Close() error
}

func newEventID(requestID string, action AuditAction, ts time.Time) string {
	seed := fmt.Sprintf("%s|%s|%s", requestID, action, ts.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return "evt_" + hex.EncodeToString(sum[:8])
}
