package vacasa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidCredentials is wrapped by AuthenticationError when the
	// portal rejects the username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoToken means the redirect chain ended without an access token.
	ErrNoToken = errors.New("no access token in redirect chain")
	// ErrNoOwnerID means neither configuration nor the vendor supplied an
	// owner contact id.
	ErrNoOwnerID = errors.New("owner id unavailable")
)

// AuthenticationError is a permanent authentication failure. It is
// surfaced to the user and never retried.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransientNetworkError is a failure worth retrying: connection errors,
// timeouts, 5xx and 429 responses.
type TransientNetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient error (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// TokenExpiredError is returned when the vendor rejects a bearer token
// with 401. The client re-authenticates once before giving up.
type TokenExpiredError struct {
	Op string
}

func (e *TokenExpiredError) Error() string {
	return e.Op + ": token rejected (401)"
}

// DataParseError reports a vendor response that did not match the
// expected shape. Detail never contains credentials or tokens.
type DataParseError struct {
	Op     string
	Detail string
	Err    error
}

func (e *DataParseError) Error() string {
	msg := e.Op + ": unexpected response"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataParseError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// IsAuthentication reports whether err is a permanent authentication failure.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsTokenExpired reports whether err came from a rejected bearer token.
func IsTokenExpired(err error) bool {
	var te *TokenExpiredError
	return errors.As(err, &te)
}

// IsDataParse reports whether err came from a malformed vendor response.
func IsDataParse(err error) bool {
	var de *DataParseError
	return errors.As(err, &de)
}

// classifyTransport turns a transport-level error into a
// TransientNetworkError. Caller cancellation is passed through untouched.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientNetworkError{Op: op, Err: err}
}

// statusError maps a non-success HTTP status to the error taxonomy.
func statusError(op string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &TokenExpiredError{Op: op}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientNetworkError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{Reason: fmt.Sprintf("%s: access denied (status %d)", op, resp.StatusCode)}
	default:
		return &DataParseError{Op: op, Detail: fmt.Sprintf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
