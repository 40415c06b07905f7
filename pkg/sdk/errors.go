package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failures the session core reports.
// Every error leaving the network boundary is classified into one of these.
type ErrorKind string

const (
	// KindTransport covers an unreachable backend or a non-2xx response.
	KindTransport ErrorKind = "transport"
	// KindMalformedToken means a bearer token could not be decoded.
	KindMalformedToken ErrorKind = "malformed_token"
	// KindPermissionFetch means the permissions endpoint failed.
	KindPermissionFetch ErrorKind = "permission_fetch"
	// KindOTPRejected means a one-time passcode was wrong, expired, or missing.
	KindOTPRejected ErrorKind = "otp_rejected"
	// KindRoleSwitch means the backend rejected a switch or the refresh after it failed.
	KindRoleSwitch ErrorKind = "role_switch"
)

var (
	// ErrStaleIntent is returned when a result was discarded because a newer
	// protocol (role switch, logout, another login) superseded it.
	ErrStaleIntent = errors.New("session intent superseded")

	// ErrNoPendingChallenge is returned by VerifyOTP when no login is awaiting a code.
	ErrNoPendingChallenge = errors.New("no pending OTP challenge")

	// ErrNotAuthenticated is returned when an operation needs an authenticated session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrRoleNotAvailable is returned when a switch targets a role the principal cannot assume.
	ErrRoleNotAvailable = errors.New("role is not available to this principal")
)

// Error is the typed error produced by the session core.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Op is the operation that failed (e.g. "login", "permissions").
	Op string
	// Status is the HTTP status when the backend answered, 0 otherwise.
	Status int
	// Detail is the backend's `detail` message, if any.
	Detail string
	// BackendSwitched is set on role-switch errors raised after the backend
	// already applied the switch (the local permission set is now stale).
	BackendSwitched bool
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindOTPRejected}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// UserMessage returns a short message suitable for display.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindOTPRejected:
		if errors.Is(e.Err, ErrNoPendingChallenge) {
			return "No verification is in progress. Please sign in again."
		}
		return "The verification code was not accepted. Please try again."
	case KindMalformedToken:
		return "The session token is invalid. Please sign in again."
	case KindPermissionFetch:
		return "Your permissions could not be loaded. Some features may be unavailable."
	case KindRoleSwitch:
		if e.BackendSwitched {
			return "Your role was changed but its permissions could not be loaded. Please retry."
		}
		return "Your role could not be changed."
	default:
		if e.Detail != "" {
			return e.Detail
		}
		if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
			return "Sign-in failed. Check your email and password."
		}
		return "The server could not be reached. Please try again."
	}
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func statusError(kind ErrorKind, op string, status int, detail string) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Detail: detail}
}

// KindOf returns the kind of err, or "" if err is not a session error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a session error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// asError coerces err into *Error, classifying unknown errors with fallback.
func asError(err error, fallback ErrorKind, op string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(fallback, op, err)
}
