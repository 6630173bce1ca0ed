package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

// ScorerSet holds the two interchangeable scoring strategies. A run uses
// exactly one of them; a ranked list never mixes methods.
type ScorerSet struct {
	Model   domain.Scorer
	Keyword domain.Scorer
}

// For resolves a method tag to its strategy.
func (ss ScorerSet) For(method string) (domain.Scorer, error) {
	switch method {
	case domain.MethodModel:
		if ss.Model == nil {
			return nil, fmt.Errorf("%w: model scorer not configured", domain.ErrInvalidArgument)
		}
		return ss.Model, nil
	case domain.MethodKeyword:
		if ss.Keyword == nil {
			return nil, fmt.Errorf("%w: keyword scorer not configured", domain.ErrInvalidArgument)
		}
		return ss.Keyword, nil
	default:
		return nil, fmt.Errorf("%w: unknown scoring method %q", domain.ErrInvalidArgument, method)
	}
}

// ProgressFunc receives completed/total after each unit finishes. Completed
// is monotonically increasing and never exceeds total.
type ProgressFunc func(completed, total int)

// AnalyzeService owns the batch orchestrator: it accepts analysis requests,
// fans resumes out across a bounded worker pool and aggregates the scored
// results into a ranking.
type AnalyzeService struct {
	Jobs     domain.JobRepository
	Resumes  domain.ResumeRepository
	Rankings domain.RankingRepository
	Analyses domain.AnalysisRepository
	Queue    domain.Queue
	Scorers  ScorerSet
	Redactor Redactor
	// Drift compares model scores against the keyword baseline; nil disables.
	Drift              *observability.ScoreDriftMonitor
	ModelName          string
	DefaultConcurrency int
	MaxConcurrency     int
}

// NewAnalyzeService constructs an AnalyzeService with its dependencies.
func NewAnalyzeService(j domain.JobRepository, r domain.ResumeRepository, rk domain.RankingRepository, a domain.AnalysisRepository, q domain.Queue, scorers ScorerSet, red Redactor) AnalyzeService {
	return AnalyzeService{
		Jobs: j, Resumes: r, Rankings: rk, Analyses: a, Queue: q,
		Scorers: scorers, Redactor: red,
		DefaultConcurrency: 4, MaxConcurrency: 16,
	}
}

// Request validates an analysis request synchronously, creates the run and
// enqueues it. Validation failures consume no inference budget: they are
// reported before any work starts.
func (s AnalyzeService) Request(ctx domain.Context, method string, concurrency int, force bool) (domain.Analysis, error) {
	switch method {
	case "":
		method = domain.MethodModel
	case domain.MethodModel, domain.MethodKeyword:
	default:
		return domain.Analysis{}, fmt.Errorf("%w: unknown scoring method %q", domain.ErrInvalidArgument, method)
	}

	job, err := s.Jobs.Current(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Analysis{}, fmt.Errorf("%w: no job description uploaded", domain.ErrInvalidArgument)
		}
		return domain.Analysis{}, err
	}
	total, err := s.Resumes.Count(ctx)
	if err != nil {
		return domain.Analysis{}, err
	}
	if total == 0 {
		return domain.Analysis{}, fmt.Errorf("%w: no resumes uploaded", domain.ErrInvalidArgument)
	}

	if concurrency <= 0 {
		concurrency = s.DefaultConcurrency
	}
	if s.MaxConcurrency > 0 && concurrency > s.MaxConcurrency {
		concurrency = s.MaxConcurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}

	// A ranked list never mixes strategies: switching methods against stored
	// rankings requires force, which supersedes them before the run.
	methods, err := s.Rankings.DistinctMethods(ctx, job.ID)
	if err != nil {
		return domain.Analysis{}, err
	}
	mismatch := false
	for _, m := range methods {
		if m != method {
			mismatch = true
			break
		}
	}
	if mismatch && !force {
		return domain.Analysis{}, fmt.Errorf("%w: job already ranked with a different method; set force to supersede", domain.ErrConflict)
	}
	if force && len(methods) > 0 {
		if err := s.Rankings.DeleteByJob(ctx, job.ID); err != nil {
			return domain.Analysis{}, err
		}
	}

	a := domain.Analysis{
		ID:          ulid.Make().String(),
		JobID:       job.ID,
		Method:      method,
		Status:      domain.AnalysisQueued,
		Total:       total,
		Concurrency: concurrency,
	}
	id, err := s.Analyses.Create(ctx, a)
	if err != nil {
		return domain.Analysis{}, err
	}
	a.ID = id

	payload := domain.AnalyzeTaskPayload{AnalysisID: a.ID, JobID: job.ID, Method: method, Concurrency: concurrency}
	if _, err := s.Queue.EnqueueAnalysis(ctx, payload); err != nil {
		msg := "enqueue failed"
		_ = s.Analyses.UpdateStatus(ctx, a.ID, domain.AnalysisFailed, nil, &msg)
		return domain.Analysis{}, err
	}
	return a, nil
}

// Get loads one analysis run for status reporting.
func (s AnalyzeService) Get(ctx domain.Context, id string) (domain.Analysis, error) {
	return s.Analyses.Get(ctx, id)
}

// HandleAnalysis executes one queued run. It is the queue consumer's handler:
// an error return hands the run to the retry manager, so only batch-level
// failures may surface here. Replays of completed runs are no-ops.
func (s AnalyzeService) HandleAnalysis(ctx domain.Context, payload domain.AnalyzeTaskPayload) error {
	a, err := s.Analyses.Get(ctx, payload.AnalysisID)
	if err != nil {
		return err
	}
	if a.Status == domain.AnalysisCompleted {
		return nil
	}

	scorer, err := s.Scorers.For(a.Method)
	if err != nil {
		s.markFailed(ctx, a, "INVALID_ARGUMENT", err)
		return err
	}
	job, err := s.Jobs.Get(ctx, a.JobID)
	if err != nil {
		// The session rotated under the run; nothing left to rank.
		s.markFailed(ctx, a, "NOT_FOUND", err)
		return err
	}
	resumes, err := s.Resumes.List(ctx)
	if err != nil {
		return err
	}
	if len(resumes) == 0 {
		err := fmt.Errorf("%w: session has no resumes", domain.ErrNotFound)
		s.markFailed(ctx, a, "NOT_FOUND", err)
		return err
	}

	if err := s.Analyses.UpdateStatus(ctx, a.ID, domain.AnalysisProcessing, nil, nil); err != nil {
		return err
	}
	observability.StartProcessingAnalysis(a.Method)

	start := time.Now()
	rankings, err := s.AnalyzeAll(ctx, job, resumes, scorer, a.Concurrency, func(completed, total int) {
		if perr := s.Analyses.SetProgress(ctx, a.ID, completed, total); perr != nil {
			slog.Warn("progress update failed", slog.String("analysis_id", a.ID), slog.Any("error", perr))
		}
	})
	if err != nil {
		observability.FailAnalysis(a.Method)
		msg := err.Error()
		_ = s.Analyses.UpdateStatus(ctx, a.ID, domain.AnalysisFailed, nil, &msg)
		return err
	}

	if err := s.Analyses.UpdateStatus(ctx, a.ID, domain.AnalysisCompleted, nil, nil); err != nil {
		observability.FailAnalysis(a.Method)
		return err
	}
	observability.CompleteAnalysis(a.Method)
	slog.Info("analysis completed",
		slog.String("analysis_id", a.ID),
		slog.String("method", a.Method),
		slog.Int("candidates", len(rankings)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// AnalyzeAll fans the resumes out across a bounded worker pool and collects
// one ranking per resume. A single unit's failure is recorded as a zero
// score with an explanation naming the failure; the batch continues. The
// returned slice is sorted by score descending, ties broken by upload order,
// so callers never observe worker-race artifacts.
//
// Cancellation stops dispatching new units and lets in-flight units finish;
// a cancelled run returns the context error so the retry manager can requeue
// it without half a ranking pretending to be complete.
func (s AnalyzeService) AnalyzeAll(ctx domain.Context, job domain.JobDescription, resumes []domain.Resume, scorer domain.Scorer, concurrency int, progress ProgressFunc) ([]domain.CandidateRanking, error) {
	if job.ID == "" {
		return nil, fmt.Errorf("%w: missing job description", domain.ErrInvalidArgument)
	}
	if len(resumes) == 0 {
		return nil, fmt.Errorf("%w: empty resume set", domain.ErrInvalidArgument)
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: nil scorer", domain.ErrInvalidArgument)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(resumes) {
		concurrency = len(resumes)
	}
	total := len(resumes)

	units := make(chan domain.Resume)
	results := make(chan domain.CandidateRanking)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for resume := range units {
				results <- s.processUnit(ctx, job, resume, scorer)
			}
		}()
	}
	go func() {
		defer close(units)
		for _, resume := range resumes {
			select {
			case units <- resume:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single-consumer aggregation: completion order is non-deterministic,
	// the count below is the only shared progress state.
	out := make([]domain.CandidateRanking, 0, total)
	for r := range results {
		out = append(out, r)
		if progress != nil {
			progress(len(out), total)
		}
	}
	if len(out) < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("op=analyze.all: %w: %d of %d units finished", domain.ErrInternal, len(out), total)
	}

	sortRankings(out, resumes)
	return out, nil
}

// processUnit runs extraction-repair, redaction and scoring for one resume.
// It never returns an error: failures become a zero-score ranking naming
// the failure, so one broken candidate cannot hide the others.
func (s AnalyzeService) processUnit(ctx domain.Context, job domain.JobDescription, resume domain.Resume, scorer domain.Scorer) (ranking domain.CandidateRanking) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("analysis unit panicked",
				slog.String("resume_id", resume.ID),
				slog.String("label", resume.Label()),
				slog.Any("recover", rec))
			ranking = s.failedRanking(job, resume, scorer.Method(), fmt.Sprintf("internal failure: %v", rec))
		}
	}()

	if resume.RedactedText == "" && resume.Text != "" && s.Redactor != nil {
		redacted, audit := s.Redactor.Redact(ctx, resume.Text)
		resume.RedactedText = redacted
		if err := s.Resumes.SetRedacted(ctx, resume.ID, redacted, audit.PIIRedacted+audit.EntityRedacted, audit.BiasRedacted); err != nil {
			slog.Warn("storing redacted resume text failed",
				slog.String("resume_id", resume.ID), slog.Any("error", err))
		}
	}

	r, err := s.GetOrCompute(ctx, job, resume, scorer)
	if err != nil {
		slog.Warn("unit failed, recording zero score",
			slog.String("resume_id", resume.ID),
			slog.String("label", resume.Label()),
			slog.Any("error", err))
		return s.failedRanking(job, resume, scorer.Method(), "processing failed: "+err.Error())
	}
	return r
}

// GetOrCompute returns the stored ranking for the (job, resume) pair or
// computes and persists a new one. Re-analysis is idempotent: an existing
// row is returned unchanged and the scorer is not invoked. The
// check-then-write race resolves at the store's unique key; the losing
// racer re-reads the winner.
func (s AnalyzeService) GetOrCompute(ctx domain.Context, job domain.JobDescription, resume domain.Resume, scorer domain.Scorer) (domain.CandidateRanking, error) {
	existing, err := s.Rankings.Get(ctx, job.ID, resume.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.CandidateRanking{}, err
	}

	jobText := job.RedactedText
	if jobText == "" {
		jobText = job.Text
	}
	res, err := scorer.Score(ctx, jobText, resume.RedactedText)
	if err != nil {
		return domain.CandidateRanking{}, err
	}
	if scorer.Method() == domain.MethodModel && s.Drift != nil && s.Scorers.Keyword != nil {
		if base, berr := s.Scorers.Keyword.Score(ctx, jobText, resume.RedactedText); berr == nil {
			s.Drift.Record(res.Score, base.Score)
		}
	}

	r := domain.CandidateRanking{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		ResumeID:    resume.ID,
		Score:       res.Score,
		Explanation: res.Explanation,
		Citations:   res.Citations,
		Method:      scorer.Method(),
		CreatedAt:   time.Now().UTC(),
	}
	if r.Method == domain.MethodModel {
		r.ModelName = s.ModelName
	}

	created, err := s.Rankings.Create(ctx, r)
	if errors.Is(err, domain.ErrConflict) {
		return s.Rankings.Get(ctx, job.ID, resume.ID)
	}
	if err != nil {
		return domain.CandidateRanking{}, err
	}
	observability.ObserveRanking(created.Score)
	return created, nil
}

func (s AnalyzeService) failedRanking(job domain.JobDescription, resume domain.Resume, method, explanation string) domain.CandidateRanking {
	return domain.CandidateRanking{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		ResumeID:    resume.ID,
		Score:       0,
		Explanation: explanation,
		Method:      method,
		CreatedAt:   time.Now().UTC(),
	}
}

func (s AnalyzeService) markFailed(ctx domain.Context, a domain.Analysis, code string, err error) {
	msg := err.Error()
	_ = s.Analyses.UpdateStatus(ctx, a.ID, domain.AnalysisFailed, &code, &msg)
}

// sortRankings orders by score descending with ties broken by the resume's
// upload sequence, matching the store's read order.
func sortRankings(rankings []domain.CandidateRanking, resumes []domain.Resume) {
	seq := make(map[string]int64, len(resumes))
	for _, r := range resumes {
		seq[r.ID] = r.UploadSeq
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		return seq[rankings[i].ResumeID] < seq[rankings[j].ResumeID]
	})
}
