// Package service holds the business rules of the storefront: the
// reservation engine, the order lifecycle, the catalog with its
// auto-translation hook, account addresses and email verification.
// Handlers translate *Error values into JSON responses.
package service

import (
	"errors"
	"net/http"
)

// Error is a failure the caller can act on. Status is the HTTP status the
// handler should answer with and Code a stable machine-readable string.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func newError(status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Message: msg}
}

// With returns a copy of e with an extra detail field.
func (e *Error) With(key string, v any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, val := range e.Details {
		cp.Details[k] = val
	}
	cp.Details[key] = v
	return &cp
}

// AsError unwraps err into an *Error if it is one.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Error codes returned to clients.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInstrumentNotFound      = "instrument_not_found"
	CodeInstrumentUnavailable   = "instrument_unavailable"
	CodePriceMismatch           = "price_mismatch"
	CodeReservationLimit        = "reservation_limit_reached"
	CodeReservationInProgress   = "reservation_in_progress"
	CodeOrderNotFound           = "order_not_found"
	CodeInvalidStatus           = "invalid_status"
	CodeInvalidTransition       = "invalid_transition"
	CodeNotFound                = "not_found"
	CodeConflict                = "conflict"
	CodeSlugTaken               = "slug_taken"
	CodeEmailExists             = "email_exists"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeEmailNotVerified        = "email_not_verified"
	CodeOTPInvalid              = "otp_invalid"
	CodeOTPExpired              = "otp_expired"
	CodeInvalidRefresh          = "invalid_refresh"
	CodePaymentsDisabled        = "payments_disabled"
	CodeAddressNotFound         = "address_not_found"
	CodeInstrumentHasReferences = "instrument_referenced"
)

var (
	errOrderNotFound   = newError(http.StatusNotFound, CodeOrderNotFound, "order not found")
	errAddressNotFound = newError(http.StatusNotFound, CodeAddressNotFound, "address not found")
	errNotFound        = newError(http.StatusNotFound, CodeNotFound, "not found")
	errBadCredentials  = newError(http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
	errInvalidRefresh  = newError(http.StatusUnauthorized, CodeInvalidRefresh, "invalid refresh token")
	errOTPInvalid      = newError(http.StatusBadRequest, CodeOTPInvalid, "the code is invalid")

	// ErrPaymentsDisabled is answered by the card payment endpoint while
	// checkout runs on reservations only.
	ErrPaymentsDisabled = newError(http.StatusServiceUnavailable, CodePaymentsDisabled, "online payment is not available, please reserve instead")
)
