package viabill

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEndpoint       = errors.New("unknown endpoint")
	ErrMissingRequiredField  = errors.New("missing required field")
	ErrMissingSignatureField = errors.New("data is missing a required signature field")
	ErrMissingCredential     = errors.New("missing credential")
	ErrSignatureMismatch     = errors.New("signature mismatch")
	ErrRequestFailed         = errors.New("request failed")
	ErrRedirectMissing       = errors.New("redirect url not found, request already made")
)

// TransportError is a failure to complete an exchange with the gateway:
// dial errors, timeouts, unreadable or undecodable bodies.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("viabill %s: request failed: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrRequestFailed }

// GatewayError is a non-success HTTP status returned by the gateway.
// Body holds the raw response for diagnostics and must not reach end users.
type GatewayError struct {
	Operation  string
	StatusCode int
	Message    string
	Body       string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("viabill %s: status %d (%s)", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("viabill %s: status %d", e.Operation, e.StatusCode)
}

// APIError is the first entry of an `errors` array in a gateway JSON body.
type APIError struct {
	Operation string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("viabill %s: %s", e.Operation, e.Message)
}
