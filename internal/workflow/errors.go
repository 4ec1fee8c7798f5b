package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tjkivinen/crmflow/internal/crm"
)

// Kind classifies a step failure for retry decisions and reporting.
type Kind string

const (
	// KindResolution is a model failure that is not worth retrying.
	KindResolution Kind = "resolution"
	// KindValidation marks requests rejected before execution.
	KindValidation Kind = "validation"
	// KindRateLimited is a provider 429. Transient.
	KindRateLimited Kind = "rate_limited"
	// KindNetworkTimeout covers timeouts and transport failures. Transient.
	KindNetworkTimeout Kind = "network_timeout"
	// KindAuth is a credential rejection. Never retried.
	KindAuth Kind = "auth"
	// KindValidationRejected is a provider-side payload rejection. Never
	// retried.
	KindValidationRejected Kind = "validation_rejected"
	// KindDependency marks actions skipped because an earlier action they
	// need did not succeed. The call is never attempted.
	KindDependency Kind = "dependency"
	// KindNotify is a notification delivery failure.
	KindNotify Kind = "notify"
)

// Transient reports whether failures of this kind are worth retrying.
func (k Kind) Transient() bool {
	return k == KindRateLimited || k == KindNetworkTimeout
}

// Error is a classified step failure. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON flattens the wrapped error into a message string so runs
// serialize cleanly over the HTTP surface.
func (e *Error) MarshalJSON() ([]byte, error) {
	message := ""
	if e.Err != nil {
		message = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    Kind   `json:"kind"`
		Op      string `json:"op"`
		Message string `json:"message,omitempty"`
	}{Kind: e.Kind, Op: e.Op, Message: message})
}

// KindOf extracts the failure kind from err, or "" when unclassified.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}

// ValidationError reports why a resolved request cannot produce a plan.
type ValidationError struct {
	MissingFields []string `json:"missing_fields,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Detail()
}

// Detail renders the reason without the error prefix, for reports that
// supply their own framing.
func (e *ValidationError) Detail() string {
	switch {
	case len(e.MissingFields) > 0 && e.Reason != "":
		return fmt.Sprintf("missing %s; %s", strings.Join(e.MissingFields, ", "), e.Reason)
	case len(e.MissingFields) > 0:
		return "missing " + strings.Join(e.MissingFields, ", ")
	default:
		return e.Reason
	}
}

// classifyCRMError maps a CRM call failure onto the retry taxonomy.
// Already-classified errors pass through unchanged.
func classifyCRMError(op string, err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}

	var provErr *crm.ProviderError
	if errors.As(err, &provErr) {
		return NewError(kindForStatus(provErr.Status), op, err)
	}

	if isTimeout(err) {
		return NewError(KindNetworkTimeout, op, err)
	}

	// Transport failures without a status code count as timeouts for
	// retry purposes.
	return NewError(KindNetworkTimeout, op, err)
}

// classifyResolveError maps a resolver failure onto the taxonomy. Timeouts
// stay retryable; anything else is a terminal resolution failure.
func classifyResolveError(err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	if isTimeout(err) {
		return NewError(KindNetworkTimeout, "resolve", err)
	}
	return NewError(KindResolution, "resolve", err)
}

// kindForStatus maps provider HTTP status codes onto failure kinds.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500 || status == 0:
		return KindNetworkTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	default:
		return KindValidationRejected
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
