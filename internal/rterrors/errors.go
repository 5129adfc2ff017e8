// Package rterrors defines the router's error taxonomy: the typed error
// variant that retry, breaker and egress logic inspect instead of exception
// classes or HTTP status codes.
package rterrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Class groups error codes by how the dispatcher must treat them.
type Class string

const (
	ClassInput     Class = "input"
	ClassPolicy    Class = "policy"
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
	ClassInternal  Class = "internal"
)

// Code enumerates the router's error taxonomy.
type Code string

const (
	CodeMalformedEvent       Code = "malformed-event"
	CodeUnknownCommunity     Code = "unknown-community"
	CodeInvalidScopeEnvelope Code = "invalid-scope-envelope"

	CodePermissionDenied Code = "permission-denied"
	CodeRateLimited      Code = "rate-limited"
	CodeCircuitOpen      Code = "circuit-open"

	CodeAdapterTimeout   Code = "adapter-timeout"
	CodeAdapterThrottled Code = "adapter-throttled"
	CodeAdapter5xx       Code = "adapter-5xx"
	CodeNetwork          Code = "network"

	CodeAdapter4xx        Code = "adapter-4xx"
	CodeSignatureMismatch Code = "signature-mismatch"
	CodeUnknownFunction   Code = "unknown-function"

	CodeAuditUnavailable Code = "audit-unavailable"
	CodeStoreUnavailable Code = "store-unavailable"
	CodeInternal         Code = "internal"
)

var codeClass = map[Code]Class{
	CodeMalformedEvent:       ClassInput,
	CodeUnknownCommunity:     ClassInput,
	CodeInvalidScopeEnvelope: ClassInput,

	CodePermissionDenied: ClassPolicy,
	CodeRateLimited:      ClassPolicy,
	CodeCircuitOpen:      ClassPolicy,

	CodeAdapterTimeout:   ClassTransient,
	CodeAdapterThrottled: ClassTransient,
	CodeAdapter5xx:       ClassTransient,
	CodeNetwork:          ClassTransient,

	CodeAdapter4xx:        ClassPermanent,
	CodeSignatureMismatch: ClassPermanent,
	CodeUnknownFunction:   ClassPermanent,

	CodeAuditUnavailable: ClassInternal,
	CodeStoreUnavailable: ClassInternal,
	CodeInternal:         ClassInternal,
}

// httpStatus carries a default status for the admin and ingress HTTP
// surfaces; it plays no part in retry/breaker decisions.
var httpStatus = map[Code]int{
	CodeMalformedEvent:       http.StatusBadRequest,
	CodeUnknownCommunity:     http.StatusBadRequest,
	CodeInvalidScopeEnvelope: http.StatusUnauthorized,

	CodePermissionDenied: http.StatusForbidden,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeCircuitOpen:      http.StatusServiceUnavailable,

	CodeAdapterTimeout:   http.StatusGatewayTimeout,
	CodeAdapterThrottled: http.StatusTooManyRequests,
	CodeAdapter5xx:       http.StatusBadGateway,
	CodeNetwork:          http.StatusBadGateway,

	CodeAdapter4xx:        http.StatusBadGateway,
	CodeSignatureMismatch: http.StatusUnauthorized,
	CodeUnknownFunction:   http.StatusNotFound,

	CodeAuditUnavailable: http.StatusServiceUnavailable,
	CodeStoreUnavailable: http.StatusServiceUnavailable,
	CodeInternal:         http.StatusInternalServerError,
}

// RouterError is the typed error variant carried through the dispatcher,
// breaker and retry logic in place of exceptions or bare status codes.
type RouterError struct {
	Code          Code   `json:"code"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	underlying    error
}

func (e *RouterError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RouterError) Unwrap() error {
	return e.underlying
}

// Class returns the taxonomy class this code belongs to.
func (e *RouterError) Class() Class {
	return codeClass[e.Code]
}

// Retryable reports whether the dispatcher's retry policy applies to this
// error. Only transient errors are retryable; policy errors never retry and
// input/permanent/internal errors fail the route (or event) immediately.
func (e *RouterError) Retryable() bool {
	return e.Class() == ClassTransient
}

// HTTPStatus returns the status code used when this error surfaces on the
// synchronous admin/ingress HTTP surface.
func (e *RouterError) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteJSON writes the error as JSON to an HTTP response writer.
func (e *RouterError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	json.NewEncoder(w).Encode(e)
}

// New creates a RouterError for the given code.
func New(code Code, message string) *RouterError {
	return &RouterError{Code: code, Message: message}
}

// Wrap attaches an underlying error for diagnostics without changing the
// taxonomy code used for retry/breaker decisions.
func Wrap(err error, code Code, message string) *RouterError {
	return &RouterError{Code: code, Message: message, underlying: err}
}

// WithDetails returns a copy with Details set.
func (e *RouterError) WithDetails(details string) *RouterError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCorrelationID returns a copy with CorrelationID set.
func (e *RouterError) WithCorrelationID(id string) *RouterError {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// As reports whether err is a *RouterError, returning it if so.
func As(err error) (*RouterError, bool) {
	re, ok := err.(*RouterError)
	return re, ok
}
