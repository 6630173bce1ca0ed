package htmlreport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/adapter/report/htmlreport"
	"github.com/talentsift/screener/internal/domain"
)

func TestRenderProducesStandaloneDocument(t *testing.T) {
	t.Parallel()
	exp, err := htmlreport.New()
	require.NoError(t, err)

	out, err := exp.Render(context.Background(), domain.Report{
		Title:       "Candidate Ranking Report",
		GeneratedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		JobSummary:  "Senior Go engineer, payments team.",
		Body:        "1. Candidate001 (alice.pdf) — score 0.92\n\n2. Candidate002 (bob.docx) — score 0.74",
	})
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "<title>Candidate Ranking Report</title>")
	assert.Contains(t, html, "2026-03-01 09:30 UTC")
	assert.Contains(t, html, "Senior Go engineer, payments team.")
	assert.Contains(t, html, "Candidate001 (alice.pdf)")
	assert.Contains(t, html, "Candidate002 (bob.docx)")
}

func TestRenderEscapesMarkup(t *testing.T) {
	t.Parallel()
	exp, err := htmlreport.New()
	require.NoError(t, err)

	out, err := exp.Render(context.Background(), domain.Report{
		Title:       "Report <script>alert(1)</script>",
		GeneratedAt: time.Now(),
		Body:        "body",
	})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>alert(1)</script>")
}

func TestRenderRejectsEmptyTitle(t *testing.T) {
	t.Parallel()
	exp, err := htmlreport.New()
	require.NoError(t, err)

	_, err = exp.Render(context.Background(), domain.Report{Body: "body"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRenderHonorsCancelledContext(t *testing.T) {
	t.Parallel()
	exp, err := htmlreport.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exp.Render(ctx, domain.Report{Title: "t", Body: "b"})
	require.Error(t, err)
}
