package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies every failure the gateway can surface. Callers never
// see a raw transport error; adapters and engines fold everything into one
// of these kinds so front ends can map them to stable status codes.
type ErrorKind string

const (
	// KindConfiguration - missing or invalid credentials/configuration.
	// Raised at construction or before any network I/O. Never retried.
	KindConfiguration ErrorKind = "configuration_error"

	// KindValidation - malformed unified request. Never retried.
	KindValidation ErrorKind = "validation_error"

	// KindUnsupported - operation rejected by the capability model or by
	// explicit provider policy. No network call is made. Never retried.
	KindUnsupported ErrorKind = "unsupported_operation"

	// KindCommunication - transport failure, non-2xx after retries, or an
	// undecodable response body.
	KindCommunication ErrorKind = "communication_error"

	// KindJobFailed - an async job reached the failed state upstream.
	KindJobFailed ErrorKind = "upstream_job_failed"

	// KindJobCanceled - an async job was canceled upstream. Distinct from
	// caller-initiated cancellation.
	KindJobCanceled ErrorKind = "upstream_job_canceled"

	// KindTimeout - a poll loop or operation exceeded its wall-clock bound.
	KindTimeout ErrorKind = "timeout"

	// KindCanceled - the caller canceled. Propagated immediately, never
	// wrapped into another kind and never retried.
	KindCanceled ErrorKind = "canceled"
)

// GatewayError is the single error shape crossing the gateway boundary.
// Provider and Operation identify where the failure happened so logs and
// problem responses stay diagnosable.
type GatewayError struct {
	Kind       ErrorKind
	Provider   string
	Operation  string
	StatusCode int // upstream HTTP status when one exists
	Message    string
	Err        error // wrapped cause, for errors.Is/As
}

func (e *GatewayError) Error() string {
	switch {
	case e.Provider != "" && e.Operation != "":
		return fmt.Sprintf("%s/%s: %s: %s", e.Provider, e.Operation, e.Kind, e.Message)
	case e.Provider != "":
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to the status code the HTTP surface returns.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindUnsupported:
		return http.StatusNotImplemented
	case KindCommunication:
		if e.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case KindJobFailed, KindJobCanceled:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		// 499 is the de-facto "client closed request" status.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ConfigurationError reports missing or invalid provider configuration.
func ConfigurationError(provider, detail string) *GatewayError {
	return &GatewayError{Kind: KindConfiguration, Provider: provider, Message: detail}
}

// ValidationError reports a malformed unified request.
func ValidationError(detail string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Message: detail}
}

// UnsupportedError reports an operation the provider/model cannot serve.
func UnsupportedError(provider, operation, detail string) *GatewayError {
	return &GatewayError{Kind: KindUnsupported, Provider: provider, Operation: operation, Message: detail}
}

// CommunicationError wraps a transport or decode failure. status is the
// upstream HTTP status, or 0 when the failure happened below HTTP.
func CommunicationError(provider, operation string, status int, cause error) *GatewayError {
	msg := "upstream communication failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &GatewayError{
		Kind:       KindCommunication,
		Provider:   provider,
		Operation:  operation,
		StatusCode: status,
		Message:    msg,
		Err:        cause,
	}
}

// JobFailedError reports a terminal failed async job, carrying the upstream
// error message verbatim.
func JobFailedError(provider, detail string) *GatewayError {
	return &GatewayError{Kind: KindJobFailed, Provider: provider, Operation: "job", Message: detail}
}

// JobCanceledError reports a job canceled by the upstream, not by the caller.
func JobCanceledError(provider string) *GatewayError {
	return &GatewayError{Kind: KindJobCanceled, Provider: provider, Operation: "job", Message: "canceled by upstream"}
}

// TimeoutError reports an exceeded wall-clock bound.
func TimeoutError(provider, operation string, elapsed time.Duration) *GatewayError {
	return &GatewayError{
		Kind:      KindTimeout,
		Provider:  provider,
		Operation: operation,
		Message:   fmt.Sprintf("exceeded time bound after %s", elapsed.Round(time.Millisecond)),
		Err:       context.DeadlineExceeded,
	}
}

// CanceledError reports caller-initiated cancellation. It wraps
// context.Canceled so errors.Is(err, context.Canceled) holds.
func CanceledError(provider, operation string) *GatewayError {
	return &GatewayError{
		Kind:      KindCanceled,
		Provider:  provider,
		Operation: operation,
		Message:   "canceled by caller",
		Err:       context.Canceled,
	}
}

// FromContext converts a context error into the matching taxonomy kind:
// deadline exceeded becomes a timeout, cancellation stays cancellation.
// Returns nil when ctx carries no error.
func FromContext(ctx context.Context, provider, operation string) *GatewayError {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return &GatewayError{
			Kind:      KindTimeout,
			Provider:  provider,
			Operation: operation,
			Message:   "deadline exceeded",
			Err:       context.DeadlineExceeded,
		}
	case context.Canceled:
		return CanceledError(provider, operation)
	default:
		return nil
	}
}

// KindOf extracts the taxonomy kind from any error chain. Unclassified
// errors report KindCommunication, the catch-all for upstream trouble.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCommunication
}

// StatusOf maps any error chain to the HTTP status the surface reports.
func StatusOf(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the resilience policy may retry the error:
// transport-level failures, 5xx, and 429. Anything already classified as a
// non-communication kind is final.
func Retryable(err error) bool {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return false
	}
	if ge.Kind != KindCommunication {
		return false
	}
	// StatusCode 0 means the request never completed (dial/read failure).
	return ge.StatusCode == 0 ||
		ge.StatusCode == http.StatusTooManyRequests ||
		ge.StatusCode >= 500
}

// Problem is the RFC 9457 wire shape the HTTP surface renders errors into.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Provider string `json:"provider,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// AsProblem renders any error as a Problem, preserving the taxonomy kind for
// classified errors and degrading to a 500 for everything else.
func AsProblem(err error) *Problem {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return &Problem{
			Type:     "about:blank",
			Title:    titleFor(ge.Kind),
			Status:   ge.HTTPStatus(),
			Detail:   ge.Message,
			Provider: ge.Provider,
			Kind:     string(ge.Kind),
		}
	}
	return &Problem{
		Type:   "about:blank",
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Detail: "an unexpected error occurred",
	}
}

func titleFor(kind ErrorKind) string {
	switch kind {
	case KindConfiguration:
		return "Configuration Error"
	case KindValidation:
		return "Validation Error"
	case KindUnsupported:
		return "Unsupported Operation"
	case KindCommunication:
		return "Upstream Communication Error"
	case KindJobFailed:
		return "Upstream Job Failed"
	case KindJobCanceled:
		return "Upstream Job Canceled"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Request Canceled"
	default:
		return "Error"
	}
}
