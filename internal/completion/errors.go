package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrCircuitOpen is returned without contacting the provider while the
// circuit breaker is open after repeated provider failures.
var ErrCircuitOpen = errors.New("completion provider unavailable")

// Kind classifies provider failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindOverloaded
	KindAuth
	KindMalformed
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindOverloaded:
		return "provider_overloaded"
	case KindAuth:
		return "auth_error"
	case KindMalformed:
		return "malformed_response"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ProviderError is an upstream failure of a completion call.
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func classifyHTTPError(resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error.Message == "" {
		eb.Error.Message = string(body)
	}
	msg := eb.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := KindUnknown
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		kind = KindRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind = KindOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	}
	return &ProviderError{Kind: kind, StatusCode: resp.StatusCode, Message: msg}
}

// countsAsOutage reports whether err should push the breaker towards open.
// Caller cancellation and credential problems are not provider outages.
func countsAsOutage(err error) bool {
	if err == nil || errors.Is(err, errCallerCanceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == KindAuth {
		return false
	}
	return true
}
