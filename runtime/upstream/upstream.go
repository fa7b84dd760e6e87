// Package upstream defines the relay's view of an AI inference backend: a
// Dialer that opens one bidirectional Session per client session.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AltairaLabs/LiveInspect/runtime/credentials"
	"github.com/AltairaLabs/LiveInspect/runtime/protocol"
)

// ErrSessionClosed is returned by Send after the session has ended.
var ErrSessionClosed = errors.New("upstream session is closed")

// Dialer opens upstream sessions. Dial must honor ctx, including aborting an
// in-flight handshake when ctx is canceled.
type Dialer interface {
	Dial(ctx context.Context, cred credentials.Credential) (Session, error)
}

// Session is one open upstream conversation.
//
// Send may be called from a single goroutine only; chunks reach the backend in
// the order they were sent. Results is closed when the session ends, after
// which Err reports how: nil for a clean termination, a *Rejected otherwise.
type Session interface {
	Send(ctx context.Context, chunk protocol.Chunk) error
	Results() <-chan json.RawMessage
	Err() error
	// Close ends the session gracefully. It is idempotent.
	Close() error
}

// Reason classifies why the backend refused or ended a session. Reasons are
// logged server-side only; clients see a single UpstreamRejected code.
type Reason string

// Rejection reasons.
const (
	ReasonAuth        Reason = "auth"
	ReasonQuota       Reason = "quota"
	ReasonPolicy      Reason = "policy"
	ReasonUnavailable Reason = "unavailable"
	ReasonProtocol    Reason = "protocol"
)

// Rejected reports a backend refusal or abnormal termination.
type Rejected struct {
	Reason Reason
	// StatusCode is the HTTP handshake status or WebSocket close code.
	StatusCode int
	// Detail is the backend's diagnostic text. It may echo request data and
	// must be redacted before logging.
	Detail string
	Cause  error
}

func (r *Rejected) Error() string {
	msg := fmt.Sprintf("upstream rejected (%s", r.Reason)
	if r.StatusCode != 0 {
		msg += fmt.Sprintf(", status %d", r.StatusCode)
	}
	msg += ")"
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	if r.Cause != nil {
		msg += ": " + r.Cause.Error()
	}
	return msg
}

func (r *Rejected) Unwrap() error { return r.Cause }

// WebSocket close codes the backend uses beyond RFC 6455's.
const (
	closePolicyViolation = 1008
	closeTryAgainLater   = 1013
	closeInternalError   = 1011
	closeServiceRestart  = 1012
	closeQuotaExceeded   = 4029
)

// Classify maps a handshake status or close code plus diagnostic text to a
// Reason.
func Classify(status int, detail string) Reason {
	lower := strings.ToLower(detail)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		strings.Contains(lower, "api key"), strings.Contains(lower, "permission"):
		return ReasonAuth
	case status == http.StatusTooManyRequests, status == closeQuotaExceeded,
		strings.Contains(lower, "quota"), strings.Contains(lower, "resource_exhausted"):
		return ReasonQuota
	case status == closePolicyViolation, strings.Contains(lower, "policy"):
		return ReasonPolicy
	case status == http.StatusServiceUnavailable, status == http.StatusInternalServerError,
		status == closeInternalError, status == closeServiceRestart, status == closeTryAgainLater,
		strings.Contains(lower, "unavailable"):
		return ReasonUnavailable
	default:
		return ReasonProtocol
	}
}

// Reject builds a Rejected with a classified Reason.
func Reject(status int, detail string, cause error) *Rejected {
	return &Rejected{
		Reason:     Classify(status, detail),
		StatusCode: status,
		Detail:     detail,
		Cause:      cause,
	}
}

// ReasonOf returns the Reason carried by err, or ReasonProtocol if err is not
// a *Rejected.
func ReasonOf(err error) Reason {
	var r *Rejected
	if errors.As(err, &r) {
		return r.Reason
	}
	return ReasonProtocol
}
