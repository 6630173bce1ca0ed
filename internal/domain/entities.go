package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrRateLimited          = errors.New("rate limited")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrUpstreamRateLimit    = errors.New("upstream rate limit")
	ErrInferenceUnavailable = errors.New("inference unavailable")
	ErrSchemaInvalid        = errors.New("schema invalid")
	ErrInternal             = errors.New("internal error")
)

// Language tags accepted on uploads.
type Language string

const (
	LangEN Language = "en"
	LangNL Language = "nl"
	LangDE Language = "de"
	LangFR Language = "fr"
)

// Scoring methods. A ranked list never mixes methods.
const (
	MethodModel   = "model"
	MethodKeyword = "keyword"
)

//go:generate mockery --name=JobRepository --with-expecter --filename=job_repository_mock.go
//go:generate mockery --name=ResumeRepository --with-expecter --filename=resume_repository_mock.go
//go:generate mockery --name=RankingRepository --with-expecter --filename=ranking_repository_mock.go
//go:generate mockery --name=AnalysisRepository --with-expecter --filename=analysis_repository_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
//go:generate mockery --name=InferenceClient --with-expecter --filename=inference_client_mock.go

// JobDescription is the single "current" job of a session.
// Invariants: RedactedText and Summary are each populated at most once;
// replacing the job clears every resume, ranking and analysis of the session.
type JobDescription struct {
	ID           string
	Text         string
	RedactedText string
	Summary      string
	Filename     string
	Language     Language
	PIIRedacted  int
	BiasRedacted int
	CreatedAt    time.Time
}

// Resume is one uploaded candidate document.
// UploadSeq is assigned by insertion order and drives both the candidate
// label and ranking tie-breaks; it never changes within a session.
type Resume struct {
	ID           string
	Filename     string
	Text         string
	RedactedText string
	Language     Language
	UploadSeq    int64
	PIIRedacted  int
	BiasRedacted int
	CreatedAt    time.Time
}

// Label returns the display-stable candidate identifier for the resume.
func (r Resume) Label() string { return CandidateLabel(r.UploadSeq) }

// CandidateLabel formats an upload-order sequence as the evaluator-facing
// label (Candidate001, Candidate002, ...).
func CandidateLabel(seq int64) string { return fmt.Sprintf("Candidate%03d", seq) }

// CandidateRanking is the scored outcome for one (job, resume) pair.
// Invariant: at most one ranking per pair; rows are never mutated, only
// superseded by a forced method change.
type CandidateRanking struct {
	ID          string
	JobID       string
	ResumeID    string
	Score       float64 // [0,1]
	Explanation string
	Citations   []string
	Method      string
	ModelName   string
	CreatedAt   time.Time
}

// ScoreResult is what a scoring strategy produces for one pair.
type ScoreResult struct {
	Score       float64
	Explanation string
	Citations   []string
}

// RedactedSpan is one literal span removed by the redactor, kept for
// compliance logging only. Never shown to the model or evaluators.
type RedactedSpan struct {
	Category string
	Text     string
}

// RedactionAudit records what a redaction pass removed.
type RedactionAudit struct {
	PIIRedacted    int
	BiasRedacted   int
	EntityRedacted int
	PIISpans       []RedactedSpan
	BiasSpans      []string
}

// AnalysisStatus is the lifecycle of a batch analysis run.
type AnalysisStatus string

const (
	AnalysisQueued     AnalysisStatus = "queued"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Analysis is one batch ranking run over the session's resumes.
// Completed/Total are monotonic progress counters updated as units finish.
type Analysis struct {
	ID          string
	JobID       string
	Method      string
	Status      AnalysisStatus
	Completed   int
	Total       int
	Concurrency int
	FailureCode string
	Error       string
	RetryCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repositories (ports)

type JobRepository interface {
	// Replace stores j as the new current job and clears all resumes,
	// rankings and analyses of the previous session in one transaction.
	Replace(ctx Context, j JobDescription) (string, error)
	Current(ctx Context) (JobDescription, error)
	Get(ctx Context, id string) (JobDescription, error)
	SetSummary(ctx Context, id, summary string) error
}

type ResumeRepository interface {
	// CreateBatch inserts resumes in the given order, assigning UploadSeq
	// values that continue the session's sequence.
	CreateBatch(ctx Context, rs []Resume) ([]Resume, error)
	Get(ctx Context, id string) (Resume, error)
	// List returns the session's resumes in upload order.
	List(ctx Context) ([]Resume, error)
	Count(ctx Context) (int, error)
	SetRedacted(ctx Context, id, redacted string, piiCount, biasCount int) error
}

type RankingRepository interface {
	// Create inserts r; a concurrent or prior ranking for the same
	// (job, resume) pair yields ErrConflict and leaves the row untouched.
	Create(ctx Context, r CandidateRanking) (CandidateRanking, error)
	Get(ctx Context, jobID, resumeID string) (CandidateRanking, error)
	// ListByJob returns rankings sorted by score descending, ties broken
	// by resume upload order.
	ListByJob(ctx Context, jobID string) ([]CandidateRanking, error)
	GetByID(ctx Context, id string) (CandidateRanking, error)
	DistinctMethods(ctx Context, jobID string) ([]string, error)
	DeleteByJob(ctx Context, jobID string) error
}

type AnalysisRepository interface {
	Create(ctx Context, a Analysis) (string, error)
	Get(ctx Context, id string) (Analysis, error)
	UpdateStatus(ctx Context, id string, status AnalysisStatus, failureCode, errMsg *string) error
	// SetProgress persists completed/total; implementations must never let
	// the completed counter go backwards.
	SetProgress(ctx Context, id string, completed, total int) error
	IncRetry(ctx Context, id string) error
	FindStuck(ctx Context, olderThan time.Duration, limit int) ([]Analysis, error)
	ListRecent(ctx Context, limit int) ([]Analysis, error)
}

// SessionRepository clears the whole session (job, resumes, rankings,
// analyses) in one transaction.
type SessionRepository interface {
	Reset(ctx Context) error
}

// Queue (port)

type Queue interface {
	EnqueueAnalysis(ctx Context, payload AnalyzeTaskPayload) (string, error)
}

// GenerateOptions control sampling on a single inference call.
type GenerateOptions struct {
	Temperature   float64
	RepeatPenalty float64
}

// InferenceClient (port)
// Generate performs exactly one generation call and never retries; retry
// policy lives with the scoring strategy so backoff is applied per pair in
// one place.
type InferenceClient interface {
	Generate(ctx Context, prompt string, opts GenerateOptions) (string, error)
	// Models lists the model names the endpoint currently serves.
	Models(ctx Context) ([]string, error)
}

// Scorer (port)
// Score never fails on inference or parse trouble for a single pair; those
// are folded into a zero-score result. Errors are reserved for broken
// invariants (nil dependencies, cancelled context).
type Scorer interface {
	Score(ctx Context, jobText, resumeText string) (ScoreResult, error)
	Method() string
}

// TextExtractor (port)
// ExtractPath extracts plain text from a file at path with the provided
// original filename. Unrecoverable parse failure is reported as an error;
// callers of the pipeline convert it to empty text rather than aborting.
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// EntitySpan is one named entity found by an EntityDetector.
type EntitySpan struct {
	Label string
	Text  string
}

// EntityDetector (port)
// Optional capability for person/org/location detection. The redactor works
// without one; absence degrades to pattern-only redaction with a zero
// entity count in the audit.
type EntityDetector interface {
	DetectEntities(ctx Context, text string) ([]EntitySpan, error)
}

// Report is the input of the export collaborator; the pipeline does not
// depend on the rendered layout.
type Report struct {
	Title       string
	GeneratedAt time.Time
	JobSummary  string
	Body        string
}

// ReportExporter (port)

type ReportExporter interface {
	Render(ctx Context, rep Report) ([]byte, error)
}

// AnalyzeTaskPayload is the queue message for one analysis run.
type AnalyzeTaskPayload struct {
	AnalysisID  string
	JobID       string
	Method      string
	Concurrency int
}

// Context is an alias to allow decoupling from std context in domain.
// Adapters and usecases pass context.Context through.
type Context = context.Context
