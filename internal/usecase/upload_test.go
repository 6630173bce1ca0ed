package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/usecase"
)

func TestIngestJobRedactsAndStores(t *testing.T) {
	t.Parallel()
	jobs := &memJobs{}
	red := &passRedactor{}
	svc := usecase.NewUploadService(jobs, &memResumes{}, red)

	j, err := svc.IngestJob(context.Background(), "  hiring a Go engineer  ", "job.txt", "")
	require.NoError(t, err)

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, "hiring a Go engineer", j.Text)
	assert.Equal(t, "[R]hiring a Go engineer", j.RedactedText)
	assert.Equal(t, domain.LangEN, j.Language)
	assert.Equal(t, 1, j.PIIRedacted)
	assert.Equal(t, 1, red.calls)

	stored, err := jobs.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, j.ID, stored.ID)
}

func TestIngestJobRejectsEmptyText(t *testing.T) {
	t.Parallel()
	svc := usecase.NewUploadService(&memJobs{}, &memResumes{}, &passRedactor{})

	_, err := svc.IngestJob(context.Background(), "   \x00  ", "job.pdf", domain.LangEN)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestIngestResumesAssignsLabelsByUploadOrder(t *testing.T) {
	t.Parallel()
	svc := usecase.NewUploadService(&memJobs{}, &memResumes{}, &passRedactor{})

	created, err := svc.IngestResumes(context.Background(), []usecase.ResumeUpload{
		{Filename: "alice.pdf", Text: "golang services"},
		{Filename: "bob.docx", Text: "kubernetes operators"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.Equal(t, "Candidate001", created[0].Label())
	assert.Equal(t, "alice.pdf", created[0].Filename)
	assert.Equal(t, "Candidate002", created[1].Label())
	assert.Equal(t, "bob.docx", created[1].Filename)
}

func TestIngestResumesToleratesEmptyExtractedText(t *testing.T) {
	t.Parallel()
	red := &passRedactor{}
	svc := usecase.NewUploadService(&memJobs{}, &memResumes{}, red)

	created, err := svc.IngestResumes(context.Background(), []usecase.ResumeUpload{
		{Filename: "scan.pdf", Text: ""},
		{Filename: "ok.txt", Text: "golang"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	// The unreadable document is stored as a valid, empty resume and never
	// hits the redactor.
	assert.Empty(t, created[0].Text)
	assert.Empty(t, created[0].RedactedText)
	assert.Equal(t, "[R]golang", created[1].RedactedText)
	assert.Equal(t, 1, red.calls)
}

func TestIngestResumesRejectsEmptyBatch(t *testing.T) {
	t.Parallel()
	svc := usecase.NewUploadService(&memJobs{}, &memResumes{}, &passRedactor{})

	_, err := svc.IngestResumes(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
