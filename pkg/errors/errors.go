package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable error identifier sent to clients.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeOrderNotFound       Code = "ORDER_NOT_FOUND"
	CodeNotEligible         Code = "NOT_ELIGIBLE"
	CodePriceNotFound       Code = "PRICE_NOT_FOUND"
	CodePaymentCreateFailed Code = "PAYMENT_CREATE_FAILED"
	CodeAlreadyDelivered    Code = "ALREADY_DELIVERED"
	CodeOutOfStock          Code = "OUT_OF_STOCK"
	CodeSignatureInvalid    Code = "SIGNATURE_INVALID"
	CodeProviderNotFound    Code = "PROVIDER_NOT_FOUND"
)

// Metadata describes how a Code surfaces over HTTP. PublicMessage is what
// clients see when the error's own message must stay private.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, public string, flags ...flag) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	for _, f := range flags {
		switch f {
		case retryable:
			m.Retryable = true
		case withDetails:
			m.DetailsAllowed = true
		}
	}
	return m
}

type flag int

const (
	retryable flag = iota + 1
	withDetails
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:     meta(http.StatusForbidden, "access denied"),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found"),
	CodeConflict:      meta(http.StatusConflict, "conflict detected"),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", withDetails),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),

	CodeOrderNotFound:       meta(http.StatusNotFound, "order not found"),
	CodeNotEligible:         meta(http.StatusConflict, "order is not eligible for this action", withDetails),
	CodePriceNotFound:       meta(http.StatusUnprocessableEntity, "no price configured for this product and currency", withDetails),
	CodePaymentCreateFailed: meta(http.StatusBadGateway, "payment session could not be created", retryable, withDetails),
	CodeAlreadyDelivered:    meta(http.StatusConflict, "order already delivered", withDetails),
	CodeOutOfStock:          meta(http.StatusConflict, "product out of stock", withDetails),
	CodeSignatureInvalid:    meta(http.StatusUnauthorized, "callback signature invalid"),
	CodeProviderNotFound:    meta(http.StatusNotFound, "payment provider not supported"),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded application error. The message is shown to clients only
// for 4xx codes; cause stays server-side.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches client-visible details; responses drop them unless
// the code allows details.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, New(CodeOutOfStock, ""))
// works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
