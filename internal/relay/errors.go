package relay

import (
	"errors"
	"net/http"

	"github.com/groexpert13/sheet/internal/upstream"
)

var (
	// ErrConfiguration means the relay cannot call the provider at all.
	ErrConfiguration = errors.New("Missing OPENAI_API_KEY")
	// ErrMalformedRequest means the body was not valid JSON.
	ErrMalformedRequest = errors.New("Invalid JSON")
	// ErrValidation means the body parsed but lacks a usable message list.
	ErrValidation = errors.New("messages[] required")
	// ErrUpstreamUnavailable means the provider could not be reached.
	ErrUpstreamUnavailable = errors.New("Upstream error")
	// ErrRequestTooLarge means the body exceeded the handler's limit.
	ErrRequestTooLarge = errors.New("Request too large")
)

// StatusCode maps a relay error to the HTTP status returned to the client.
func StatusCode(err error) int {
	var rej *upstream.RejectionError
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConfiguration):
		return http.StatusInternalServerError
	case errors.As(err, &tooLarge), errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.As(err, &rej), errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail is the plain-text body sent alongside StatusCode(err). Provider
// rejections pass the provider's own text through.
func Detail(err error) string {
	var rej *upstream.RejectionError
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rej):
		return rej.Detail
	case errors.As(err, &tooLarge):
		return ErrRequestTooLarge.Error()
	}
	for _, sentinel := range []error{ErrConfiguration, ErrMalformedRequest, ErrValidation, ErrUpstreamUnavailable, ErrRequestTooLarge} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Internal error"
}

// reason is the metrics label for a request that never opened a stream.
func reason(err error) string {
	var rej *upstream.RejectionError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.As(err, &tooLarge), errors.Is(err, ErrRequestTooLarge):
		return "too_large"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.As(err, &rej):
		return "upstream_status"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
