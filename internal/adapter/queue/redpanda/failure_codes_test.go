package redpanda

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talentsift/screener/internal/domain"
)

func TestFailureCodeForError_Sentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"schema invalid", fmt.Errorf("score run: %w", domain.ErrSchemaInvalid), FailureSchemaInvalid},
		{"upstream rate limit", fmt.Errorf("generate: %w", domain.ErrUpstreamRateLimit), FailureUpstreamRateLimit},
		{"local rate limit", fmt.Errorf("gate: %w", domain.ErrRateLimited), FailureUpstreamRateLimit},
		{"upstream timeout", fmt.Errorf("generate: %w", domain.ErrUpstreamTimeout), FailureUpstreamTimeout},
		{"deadline exceeded", fmt.Errorf("wait: %w", context.DeadlineExceeded), FailureUpstreamTimeout},
		{"not found", fmt.Errorf("load job: %w", domain.ErrNotFound), FailureNotFound},
		{"invalid argument", fmt.Errorf("validate: %w", domain.ErrInvalidArgument), FailureInvalidArgument},
		{"plain error", fmt.Errorf("pool closed"), FailureInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FailureCodeForError(tc.err))
		})
	}
}

func TestClassifyFailureMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want string
	}{
		{"", FailureInternal},
		{"   ", FailureInternal},
		{"response schema invalid", FailureSchemaInvalid},
		{"invalid json in model output", FailureSchemaInvalid},
		{"score out of range", FailureSchemaInvalid},
		{"upstream rate limit hit", FailureUpstreamRateLimit},
		{"request timeout after 120s", FailureUpstreamTimeout},
		{"context deadline exceeded", FailureUpstreamTimeout},
		{"job not found", FailureNotFound},
		{"invalid argument: concurrency", FailureInvalidArgument},
		{"connection reset by peer", FailureInternal},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyFailureMessage(tc.msg))
		})
	}
}

func TestFailureRouting(t *testing.T) {
	t.Parallel()

	assert.True(t, isUpstreamBackpressure(FailureUpstreamRateLimit))
	assert.True(t, isUpstreamBackpressure(FailureUpstreamTimeout))
	assert.False(t, isUpstreamBackpressure(FailureInternal))

	assert.True(t, isTerminalFailure(FailureNotFound))
	assert.True(t, isTerminalFailure(FailureInvalidArgument))
	assert.True(t, isTerminalFailure(FailureSchemaInvalid))
	assert.False(t, isTerminalFailure(FailureInternal))
	assert.False(t, isTerminalFailure(FailureUpstreamTimeout))
}
