// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"time"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/pkg/textx"
)

// Redactor removes PII and bias-correlated vocabulary from free text. It is
// the only door through which uploaded text may reach a prompt.
type Redactor interface {
	Redact(ctx domain.Context, text string) (string, domain.RedactionAudit)
}

// Condenser shortens a job description without touching resumes.
type Condenser interface {
	Condense(text string) string
}

// ResumeUpload is one extracted resume handed over by the transport layer.
// Text may be empty: an unreadable document is a valid (if useless) resume
// and must not abort the batch.
type ResumeUpload struct {
	Filename string
	Text     string
	Language domain.Language
}

// UploadService ingests extracted texts, redacts them and persists them.
type UploadService struct {
	Jobs     domain.JobRepository
	Resumes  domain.ResumeRepository
	Redactor Redactor
}

// NewUploadService constructs an UploadService with its dependencies.
func NewUploadService(j domain.JobRepository, r domain.ResumeRepository, red Redactor) UploadService {
	return UploadService{Jobs: j, Resumes: r, Redactor: red}
}

// IngestJob redacts and stores text as the new current job description.
// Replacing the job resets the session: resumes, rankings and analyses of
// the previous job are cleared by the repository in one transaction.
func (s UploadService) IngestJob(ctx domain.Context, text, filename string, lang domain.Language) (domain.JobDescription, error) {
	text = textx.SanitizeText(text)
	if text == "" {
		return domain.JobDescription{}, fmt.Errorf("%w: empty job description text", domain.ErrInvalidArgument)
	}
	if lang == "" {
		lang = domain.LangEN
	}
	redacted, audit := s.Redactor.Redact(ctx, text)
	j := domain.JobDescription{
		Text:         text,
		RedactedText: redacted,
		Filename:     filename,
		Language:     lang,
		PIIRedacted:  audit.PIIRedacted + audit.EntityRedacted,
		BiasRedacted: audit.BiasRedacted,
		CreatedAt:    time.Now().UTC(),
	}
	id, err := s.Jobs.Replace(ctx, j)
	if err != nil {
		return domain.JobDescription{}, err
	}
	j.ID = id
	observability.UploadsTotal.WithLabelValues("job").Inc()
	observability.ObserveRedaction(audit.PIIRedacted, audit.EntityRedacted, audit.BiasRedacted)
	return j, nil
}

// IngestResumes stores the batch in the given order. Upload sequence (and
// with it the candidate label) is assigned by the repository at insert time,
// before any analysis work can observe the resumes.
func (s UploadService) IngestResumes(ctx domain.Context, uploads []ResumeUpload) ([]domain.Resume, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: no resume files provided", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	rs := make([]domain.Resume, 0, len(uploads))
	for _, u := range uploads {
		text := textx.SanitizeText(u.Text)
		var redacted string
		var audit domain.RedactionAudit
		if text != "" {
			redacted, audit = s.Redactor.Redact(ctx, text)
		}
		lang := u.Language
		if lang == "" {
			lang = domain.LangEN
		}
		rs = append(rs, domain.Resume{
			Filename:     u.Filename,
			Text:         text,
			RedactedText: redacted,
			Language:     lang,
			PIIRedacted:  audit.PIIRedacted + audit.EntityRedacted,
			BiasRedacted: audit.BiasRedacted,
			CreatedAt:    now,
		})
		observability.ObserveRedaction(audit.PIIRedacted, audit.EntityRedacted, audit.BiasRedacted)
	}
	created, err := s.Resumes.CreateBatch(ctx, rs)
	if err != nil {
		return nil, err
	}
	observability.UploadsTotal.WithLabelValues("resume").Add(float64(len(created)))
	return created, nil
}

// CurrentJob returns the session's job description.
func (s UploadService) CurrentJob(ctx domain.Context) (domain.JobDescription, error) {
	return s.Jobs.Current(ctx)
}

// ListResumes returns the session's resumes in upload order.
func (s UploadService) ListResumes(ctx domain.Context) ([]domain.Resume, error) {
	return s.Resumes.List(ctx)
}
