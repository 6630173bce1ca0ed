package redact_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/redact"
)

const fixture = `Jane Doe
Email: hr@acme.com
Phone: (555) 123-4567
Address: 123 Main St
Profile: https://example.com/in/jane
SSN: 123-45-6789
DOB: 01/02/1990
Candidate is 34 years old, marital status: married, parent of two.`

func TestRedactCategories(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)

	out, audit := r.Redact(context.Background(), fixture)

	for _, placeholder := range []string{
		"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_ADDRESS]",
		"[REDACTED_URL]", "[REDACTED_SSN]", "[REDACTED_DATE]", "[REDACTED_BIAS]",
	} {
		require.Contains(t, out, placeholder)
	}
	for _, raw := range []string{
		"hr@acme.com", "555", "Main St", "example.com", "123-45-6789", "01/02/1990",
		"years old", "marital status", "parent",
	} {
		require.NotContains(t, out, raw)
	}

	require.Equal(t, len(audit.PIISpans), audit.PIIRedacted)
	require.GreaterOrEqual(t, audit.PIIRedacted, 6)
	require.Equal(t, 0, audit.EntityRedacted)
	require.ElementsMatch(t, []string{"years old", "marital status", "parent"}, audit.BiasSpans)
	require.Equal(t, 3, audit.BiasRedacted)
}

func TestRedactIdempotent(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)
	ctx := context.Background()

	once, _ := r.Redact(ctx, fixture)
	twice, audit := r.Redact(ctx, once)

	require.Equal(t, once, twice)
	require.Equal(t, 0, audit.PIIRedacted)
	require.Equal(t, 0, audit.BiasRedacted)
	require.Equal(t, 0, audit.EntityRedacted)
}

func TestRedactEmptyInput(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)

	out, audit := r.Redact(context.Background(), "")

	require.Empty(t, out)
	require.Zero(t, audit.PIIRedacted)
	require.Zero(t, audit.BiasRedacted)
	require.Empty(t, audit.PIISpans)
}

func TestRedactBiasAuditedOncePerTerm(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)

	out, audit := r.Redact(context.Background(), "a parent here and a PARENT there")

	require.Equal(t, 2, strings.Count(out, "[REDACTED_BIAS]"))
	require.Equal(t, []string{"parent"}, audit.BiasSpans)
	require.Equal(t, 1, audit.BiasRedacted)
}

func TestRedactCustomBiasTerms(t *testing.T) {
	t.Parallel()
	r := redact.New([]string{"ninja"}, nil)

	out, audit := r.Redact(context.Background(), "rockstar ninja, age 30")

	require.Contains(t, out, "[REDACTED_BIAS]")
	require.NotContains(t, out, "ninja")
	// Default terms are replaced by the custom list, not merged with it.
	require.Contains(t, out, "age")
	require.Equal(t, []string{"ninja"}, audit.BiasSpans)
}

func TestRedactWordBoundaries(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)

	out, _ := r.Redact(context.Background(), "manager of pages and racecars")

	// "man", "age" and "race" only match as whole words.
	require.Equal(t, "manager of pages and racecars", out)
}

type stubDetector struct {
	spans []domain.EntitySpan
	err   error
}

func (s stubDetector) DetectEntities(_ domain.Context, _ string) ([]domain.EntitySpan, error) {
	return s.spans, s.err
}

func TestRedactWithEntityDetector(t *testing.T) {
	t.Parallel()
	det := stubDetector{spans: []domain.EntitySpan{
		{Label: "person", Text: "Jane Doe"},
		{Label: "ORG", Text: "Acme Corp"},
		{Label: "GPE", Text: "not present"},
	}}
	r := redact.New(nil, det)

	out, audit := r.Redact(context.Background(), "Jane Doe worked at Acme Corp. Jane Doe led a team.")

	require.Equal(t, 2, strings.Count(out, "[REDACTED_PERSON]"))
	require.Contains(t, out, "[REDACTED_ORG]")
	require.NotContains(t, out, "Jane Doe")
	require.NotContains(t, out, "Acme Corp")
	require.Equal(t, 3, audit.EntityRedacted)
}

func TestRedactEntityDetectorFailure(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, stubDetector{err: errors.New("ner offline")})

	out, audit := r.Redact(context.Background(), "Reach me at hr@acme.com")

	require.Contains(t, out, "[REDACTED_EMAIL]")
	require.Equal(t, 0, audit.EntityRedacted)
}

func TestRedactPhoneForms(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)
	ctx := context.Background()

	for _, tc := range []string{
		"(555) 123-4567",
		"555-123-4567",
		"555.123.4567",
		"5551234567",
		"+31612345678",
	} {
		out, _ := r.Redact(ctx, "call "+tc+" now")
		require.Contains(t, out, "[REDACTED_PHONE]", "input %q", tc)
	}
}

func TestRedactDateForms(t *testing.T) {
	t.Parallel()
	r := redact.New(nil, nil)
	ctx := context.Background()

	for _, tc := range []string{"01/02/1990", "1-2-90", "1990-01-02", "1990/1/2"} {
		out, _ := r.Redact(ctx, "born "+tc)
		require.Contains(t, out, "[REDACTED_DATE]", "input %q", tc)
	}
}
