package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Reason is the machine-readable failure code surfaced to callers.
type Reason string

const (
	ReasonMissingParameter Reason = "missing_parameter"
	ReasonDeviceNotFound   Reason = "device_not_found"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonReplayDetected   Reason = "replay_attack"
	ReasonRateLimited      Reason = "rate_limit"
	ReasonAwardFailed      Reason = "award_failed"
	ReasonClaimInvalid     Reason = "claim_invalid"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonInternal         Reason = "internal_error"
)

// HTTPStatus maps a reason to the status used when it is rendered as JSON.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonMissingParameter:
		return http.StatusBadRequest
	case ReasonDeviceNotFound:
		return http.StatusNotFound
	case ReasonInvalidSignature, ReasonUnauthorized:
		return http.StatusUnauthorized
	case ReasonReplayDetected:
		return http.StatusConflict
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonClaimInvalid:
		return http.StatusGone
	case ReasonAwardFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// BaseError carries a Reason, a client-safe message and the underlying cause.
// The cause is never rendered.
type BaseError struct {
	Code    Reason `json:"error"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e BaseError) Unwrap() error {
	return e.Err
}

// Is matches any BaseError with the same code, so errors.Is(err, ErrReplay) works
// regardless of message or cause.
func (e BaseError) Is(target error) bool {
	var t BaseError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrMissingParameter = BaseError{Code: ReasonMissingParameter}
	ErrDeviceNotFound   = BaseError{Code: ReasonDeviceNotFound}
	ErrInvalidSignature = BaseError{Code: ReasonInvalidSignature}
	ErrReplayDetected   = BaseError{Code: ReasonReplayDetected}
	ErrRateLimited      = BaseError{Code: ReasonRateLimited}
	ErrAwardFailed      = BaseError{Code: ReasonAwardFailed}
	ErrClaimInvalid     = BaseError{Code: ReasonClaimInvalid}
	ErrUnauthorized     = BaseError{Code: ReasonUnauthorized}
	ErrInternal         = BaseError{Code: ReasonInternal}
)

func New(code Reason, message string, err error) error {
	return BaseError{Code: code, Message: message, Err: err}
}

func MissingParameter(msg string) error {
	return New(ReasonMissingParameter, msg, nil)
}

func DeviceNotFound(err error) error {
	return New(ReasonDeviceNotFound, "device not found", err)
}

func InvalidSignature(err error) error {
	return New(ReasonInvalidSignature, "invalid signature", err)
}

func ReplayDetected(err error) error {
	return New(ReasonReplayDetected, "replay detected", err)
}

func RateLimited() error {
	return New(ReasonRateLimited, "rate limited", nil)
}

func AwardFailed(err error) error {
	return New(ReasonAwardFailed, "failed to award stamp", err)
}

func ClaimInvalid(err error) error {
	return New(ReasonClaimInvalid, "claim is invalid or expired", err)
}

func Unauthorized(msg string, err error) error {
	return New(ReasonUnauthorized, msg, err)
}

func Internal(err error) error {
	return New(ReasonInternal, "internal server error", err)
}

// ReasonOf extracts the Reason of err. Context deadlines and unknown errors map to
// ReasonInternal so nothing unclassified leaks to a client.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var be BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return ReasonInternal
}

// IsTimeout reports whether err came from an expired or cancelled context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
