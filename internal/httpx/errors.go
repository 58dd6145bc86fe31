package httpx

import (
	"net/http"

	"github.com/sundayezeilo/shortly/internal/errx"
)

type kindMapping struct {
	status int
	code   string
}

var kindMappings = map[errx.Kind]kindMapping{
	errx.NotFound:     {http.StatusNotFound, "not_found"},
	errx.Conflict:     {http.StatusConflict, "conflict"},
	errx.Invalid:      {http.StatusBadRequest, "invalid_input"},
	errx.Unauthorized: {http.StatusUnauthorized, "unauthorized"},
	errx.Forbidden:    {http.StatusForbidden, "forbidden"},
	errx.Unavailable:  {http.StatusServiceUnavailable, "unavailable"},
	errx.Upstream:     {http.StatusBadGateway, "upstream_error"},
	errx.Internal:     {http.StatusInternalServerError, "internal_error"},
}

var fallbackMapping = kindMapping{http.StatusInternalServerError, "internal_error"}

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
// Unmapped kinds, including errx.Unknown, are treated as internal errors.
func ErrorKindToStatus(kind errx.Kind) int {
	if m, ok := kindMappings[kind]; ok {
		return m.status
	}
	return fallbackMapping.status
}

// ErrorKindToCode maps errx.Kind to error codes for JSON responses.
func ErrorKindToCode(kind errx.Kind) string {
	if m, ok := kindMappings[kind]; ok {
		return m.code
	}
	return fallbackMapping.code
}

// ServerSide reports whether errors of kind are the server's fault. Their
// messages should not be echoed to clients.
func ServerSide(kind errx.Kind) bool {
	return ErrorKindToStatus(kind) >= http.StatusInternalServerError
}
