package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/prompt"
	"github.com/talentsift/screener/pkg/textx"
)

// RankedCandidate is one row of the evaluator-facing ranking: the stored
// ranking enriched with the candidate label, the source filename and the
// competition rank (1 + number of strictly greater scores).
type RankedCandidate struct {
	Ranking  domain.CandidateRanking
	Label    string
	Filename string
	Rank     int
}

// SessionStats summarizes the current session for the admin surface.
type SessionStats struct {
	HasJob       bool
	JobFilename  string
	JobUploaded  time.Time
	Resumes      int
	Rankings     int
	PIIRedacted  int
	BiasRedacted int
}

// ResultService reads ranked results and drives the generation-backed
// read paths (summary, explanation expansion, custom analysis, report
// export) plus the explicit session reset.
type ResultService struct {
	Jobs      domain.JobRepository
	Resumes   domain.ResumeRepository
	Rankings  domain.RankingRepository
	Analyses  domain.AnalysisRepository
	Session   domain.SessionRepository
	Inference domain.InferenceClient
	Condenser Condenser
	Exporter  domain.ReportExporter
	GenOpts   domain.GenerateOptions
}

// NewResultService constructs a ResultService with its dependencies.
func NewResultService(j domain.JobRepository, r domain.ResumeRepository, rk domain.RankingRepository, a domain.AnalysisRepository, sess domain.SessionRepository, inf domain.InferenceClient, cond Condenser, exp domain.ReportExporter, opts domain.GenerateOptions) ResultService {
	return ResultService{Jobs: j, Resumes: r, Rankings: rk, Analyses: a, Session: sess, Inference: inf, Condenser: cond, Exporter: exp, GenOpts: opts}
}

// TopRankings returns the session's ranking sorted by score descending,
// ties in upload order, truncated to top entries when top > 0.
func (s ResultService) TopRankings(ctx domain.Context, top int) ([]RankedCandidate, error) {
	job, err := s.Jobs.Current(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.Rankings.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if top > 0 && len(list) > top {
		list = list[:top]
	}
	resumes, err := s.Resumes.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Resume, len(resumes))
	for _, r := range resumes {
		byID[r.ID] = r
	}

	out := make([]RankedCandidate, 0, len(list))
	rank := 1
	for i, r := range list {
		if i > 0 && r.Score < list[i-1].Score {
			rank = i + 1
		}
		res := byID[r.ResumeID]
		out = append(out, RankedCandidate{
			Ranking:  r,
			Label:    res.Label(),
			Filename: res.Filename,
			Rank:     rank,
		})
	}
	return out, nil
}

// Summary returns the three-section model summary of the current job. It is
// computed at most once per job: the first successful call stores it, later
// calls return the stored text. The job text runs through the condenser
// first so prompt size stays bounded without touching any resume.
func (s ResultService) Summary(ctx domain.Context) (string, error) {
	job, err := s.Jobs.Current(ctx)
	if err != nil {
		return "", err
	}
	if job.Summary != "" {
		return job.Summary, nil
	}

	out, err := s.Inference.Generate(ctx, prompt.JobSummary(s.condensedJobText(job)), s.GenOpts)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out)
	if summary == "" {
		return "", fmt.Errorf("op=result.summary: %w: empty summary", domain.ErrSchemaInvalid)
	}

	if err := s.Jobs.SetSummary(ctx, job.ID, summary); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent call won the write-once column; serve its text.
			if j, gerr := s.Jobs.Get(ctx, job.ID); gerr == nil && j.Summary != "" {
				return j.Summary, nil
			}
			return summary, nil
		}
		return "", err
	}
	return summary, nil
}

// Explain produces the expanded rationale for one stored ranking, citing
// both texts against the prior score.
func (s ResultService) Explain(ctx domain.Context, rankingID string) (string, error) {
	r, err := s.Rankings.GetByID(ctx, rankingID)
	if err != nil {
		return "", err
	}
	job, err := s.Jobs.Get(ctx, r.JobID)
	if err != nil {
		return "", err
	}
	resume, err := s.Resumes.Get(ctx, r.ResumeID)
	if err != nil {
		return "", err
	}

	out, err := s.Inference.Generate(ctx, prompt.Explanation(redactedOr(job.RedactedText, job.Text), redactedOr(resume.RedactedText, ""), r.Score), s.GenOpts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CustomAnalysis runs a free-form instruction over the labeled resume set in
// the context of the job. An empty instruction falls back to the stock
// overall-fit question.
func (s ResultService) CustomAnalysis(ctx domain.Context, instruction string) (string, error) {
	instruction = textx.SanitizeText(instruction)
	if instruction == "" {
		instruction = prompt.OverallFitInstruction()
	}
	job, err := s.Jobs.Current(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no job description uploaded", domain.ErrInvalidArgument)
		}
		return "", err
	}
	resumes, err := s.Resumes.List(ctx)
	if err != nil {
		return "", err
	}
	if len(resumes) == 0 {
		return "", fmt.Errorf("%w: no resumes uploaded", domain.ErrInvalidArgument)
	}

	jobContext := job.Summary
	if jobContext == "" {
		jobContext = s.condensedJobText(job)
	}
	cands := make([]prompt.CandidateText, 0, len(resumes))
	for _, r := range resumes {
		cands = append(cands, prompt.CandidateText{Label: r.Label(), Text: redactedOr(r.RedactedText, "")})
	}

	out, err := s.Inference.Generate(ctx, prompt.CustomAnalysis(jobContext, cands, instruction), s.GenOpts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RankingsReport renders the exportable ranking report for the current job.
// The exporter owns the layout; this only assembles title, summary and body.
func (s ResultService) RankingsReport(ctx domain.Context, top int) ([]byte, error) {
	job, err := s.Jobs.Current(ctx)
	if err != nil {
		return nil, err
	}
	ranked, err := s.TopRankings(ctx, top)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no rankings for current job", domain.ErrNotFound)
	}

	var body strings.Builder
	for _, rc := range ranked {
		fmt.Fprintf(&body, "%d. %s (%s) — score %.2f\n", rc.Rank, rc.Label, rc.Filename, rc.Ranking.Score)
		if rc.Ranking.Explanation != "" {
			body.WriteString(rc.Ranking.Explanation)
			body.WriteString("\n")
		}
		if len(rc.Ranking.Citations) > 0 {
			fmt.Fprintf(&body, "Evidence: %s\n", strings.Join(rc.Ranking.Citations, "; "))
		}
		body.WriteString("\n")
	}

	rep := domain.Report{
		Title:       "Candidate Ranking Report",
		GeneratedAt: time.Now().UTC(),
		JobSummary:  job.Summary,
		Body:        strings.TrimRight(body.String(), "\n"),
	}
	return s.Exporter.Render(ctx, rep)
}

// ResetSession clears the job, resumes, rankings and analyses in one
// transaction.
func (s ResultService) ResetSession(ctx domain.Context) error {
	return s.Session.Reset(ctx)
}

// Stats assembles the admin dashboard counters for the current session.
func (s ResultService) Stats(ctx domain.Context) (SessionStats, error) {
	var st SessionStats
	job, err := s.Jobs.Current(ctx)
	switch {
	case err == nil:
		st.HasJob = true
		st.JobFilename = job.Filename
		st.JobUploaded = job.CreatedAt
		st.PIIRedacted += job.PIIRedacted
		st.BiasRedacted += job.BiasRedacted
	case errors.Is(err, domain.ErrNotFound):
		// Empty session is a valid state.
	default:
		return SessionStats{}, err
	}

	resumes, err := s.Resumes.List(ctx)
	if err != nil {
		return SessionStats{}, err
	}
	st.Resumes = len(resumes)
	for _, r := range resumes {
		st.PIIRedacted += r.PIIRedacted
		st.BiasRedacted += r.BiasRedacted
	}

	if st.HasJob {
		rankings, err := s.Rankings.ListByJob(ctx, job.ID)
		if err != nil {
			return SessionStats{}, err
		}
		st.Rankings = len(rankings)
	}
	return st, nil
}

// RecentAnalyses lists the newest analysis runs for the admin surface.
func (s ResultService) RecentAnalyses(ctx domain.Context, limit int) ([]domain.Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.Analyses.ListRecent(ctx, limit)
}

func (s ResultService) condensedJobText(job domain.JobDescription) string {
	text := redactedOr(job.RedactedText, job.Text)
	if s.Condenser != nil {
		return s.Condenser.Condense(text)
	}
	return text
}

// redactedOr prefers the redacted text and falls back only when redaction
// has not run; the fallback must never reach a prompt for resumes, so
// resume callers pass an empty fallback.
func redactedOr(redacted, fallback string) string {
	if redacted != "" {
		return redacted
	}
	return fallback
}
