package redpanda

import (
	"context"
	"errors"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

// Stable failure codes stored on analysis rows and used as Prometheus
// labels. They mirror the API error codes so dashboards line up.
const (
	FailureSchemaInvalid     = "SCHEMA_INVALID"
	FailureUpstreamRateLimit = "UPSTREAM_RATE_LIMIT"
	FailureUpstreamTimeout   = "UPSTREAM_TIMEOUT"
	FailureNotFound          = "NOT_FOUND"
	FailureInvalidArgument   = "INVALID_ARGUMENT"
	FailureInternal          = "INTERNAL"
)

// FailureCodeForError maps a processing error to a stable failure code.
// Sentinel matches win; everything else falls back to message sniffing,
// which also covers reasons that crossed the queue as plain text.
func FailureCodeForError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrSchemaInvalid):
		return FailureSchemaInvalid
	case errors.Is(err, domain.ErrUpstreamRateLimit), errors.Is(err, domain.ErrRateLimited):
		return FailureUpstreamRateLimit
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureUpstreamTimeout
	case errors.Is(err, domain.ErrNotFound):
		return FailureNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return FailureInvalidArgument
	}
	return classifyFailureMessage(err.Error())
}

// classifyFailureMessage maps an error message to a failure code when only
// the text survives, e.g. a DLQ reason written by another process.
func classifyFailureMessage(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	if s == "" {
		return FailureInternal
	}
	switch {
	case strings.Contains(s, "schema invalid"),
		strings.Contains(s, "invalid json"),
		strings.Contains(s, "out of range"):
		return FailureSchemaInvalid
	case strings.Contains(s, "rate limit"):
		return FailureUpstreamRateLimit
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "deadline exceeded"):
		return FailureUpstreamTimeout
	case strings.Contains(s, "not found"):
		return FailureNotFound
	case strings.Contains(s, "invalid argument"):
		return FailureInvalidArgument
	default:
		return FailureInternal
	}
}

// isUpstreamBackpressure reports whether a code signals that the inference
// endpoint asked us to slow down rather than that the run itself is broken.
func isUpstreamBackpressure(code string) bool {
	return code == FailureUpstreamRateLimit || code == FailureUpstreamTimeout
}

// isTerminalFailure reports whether retrying the same payload can never
// succeed.
func isTerminalFailure(code string) bool {
	switch code {
	case FailureNotFound, FailureInvalidArgument, FailureSchemaInvalid:
		return true
	default:
		return false
	}
}
