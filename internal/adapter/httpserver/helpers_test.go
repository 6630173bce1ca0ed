package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/adapter/httpserver"
	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/usecase"
)

// In-memory fakes mirroring the repository contracts: unique (job, resume)
// pair, upload-order sequences, sorted ranking reads.

type memJobs struct {
	mu      sync.Mutex
	current domain.JobDescription
	nextID  int
}

func (m *memJobs) Replace(_ domain.Context, j domain.JobDescription) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	j.ID = fmt.Sprintf("job-%d", m.nextID)
	j.CreatedAt = time.Now().UTC()
	m.current = j
	return j.ID, nil
}

func (m *memJobs) Current(_ domain.Context) (domain.JobDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.ID == "" {
		return domain.JobDescription{}, fmt.Errorf("op=jobs.current: %w", domain.ErrNotFound)
	}
	return m.current, nil
}

func (m *memJobs) Get(_ domain.Context, id string) (domain.JobDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.ID != id {
		return domain.JobDescription{}, fmt.Errorf("op=jobs.get: %w", domain.ErrNotFound)
	}
	return m.current, nil
}

func (m *memJobs) SetSummary(_ domain.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.ID != id {
		return fmt.Errorf("op=jobs.set_summary: %w", domain.ErrNotFound)
	}
	if m.current.Summary != "" {
		return fmt.Errorf("op=jobs.set_summary: %w", domain.ErrConflict)
	}
	m.current.Summary = summary
	return nil
}

type memResumes struct {
	mu      sync.Mutex
	items   []domain.Resume
	nextID  int
	nextSeq int64
}

func (m *memResumes) CreateBatch(_ domain.Context, rs []domain.Resume) ([]domain.Resume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Resume, 0, len(rs))
	for _, r := range rs {
		m.nextID++
		m.nextSeq++
		r.ID = fmt.Sprintf("res-%d", m.nextID)
		r.UploadSeq = m.nextSeq
		r.CreatedAt = time.Now().UTC()
		m.items = append(m.items, r)
		out = append(out, r)
	}
	return out, nil
}

func (m *memResumes) Get(_ domain.Context, id string) (domain.Resume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Resume{}, fmt.Errorf("op=resumes.get: %w", domain.ErrNotFound)
}

func (m *memResumes) List(_ domain.Context) ([]domain.Resume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Resume, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *memResumes) Count(_ domain.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *memResumes) SetRedacted(_ domain.Context, id, redacted string, piiCount, biasCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].RedactedText = redacted
			m.items[i].PIIRedacted = piiCount
			m.items[i].BiasRedacted = biasCount
			return nil
		}
	}
	return fmt.Errorf("op=resumes.set_redacted: %w", domain.ErrNotFound)
}

type memRankings struct {
	mu    sync.Mutex
	items map[string]domain.CandidateRanking // key job|resume
	seq   map[string]int64
}

func newMemRankings() *memRankings {
	return &memRankings{items: map[string]domain.CandidateRanking{}, seq: map[string]int64{}}
}

func (m *memRankings) Create(_ domain.Context, r domain.CandidateRanking) (domain.CandidateRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := r.JobID + "|" + r.ResumeID
	if _, ok := m.items[k]; ok {
		return domain.CandidateRanking{}, fmt.Errorf("op=rankings.create: %w", domain.ErrConflict)
	}
	m.items[k] = r
	return r, nil
}

func (m *memRankings) Get(_ domain.Context, jobID, resumeID string) (domain.CandidateRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.items[jobID+"|"+resumeID]; ok {
		return r, nil
	}
	return domain.CandidateRanking{}, fmt.Errorf("op=rankings.get: %w", domain.ErrNotFound)
}

func (m *memRankings) GetByID(_ domain.Context, id string) (domain.CandidateRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.CandidateRanking{}, fmt.Errorf("op=rankings.get_by_id: %w", domain.ErrNotFound)
}

func (m *memRankings) ListByJob(_ domain.Context, jobID string) ([]domain.CandidateRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CandidateRanking
	for _, r := range m.items {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return m.seq[out[i].ResumeID] < m.seq[out[j].ResumeID]
	})
	return out, nil
}

func (m *memRankings) DistinctMethods(_ domain.Context, jobID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range m.items {
		if r.JobID == jobID && !seen[r.Method] {
			seen[r.Method] = true
			out = append(out, r.Method)
		}
	}
	return out, nil
}

func (m *memRankings) DeleteByJob(_ domain.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.items {
		if r.JobID == jobID {
			delete(m.items, k)
		}
	}
	return nil
}

type memAnalyses struct {
	mu     sync.Mutex
	items  map[string]domain.Analysis
	nextID int
}

func newMemAnalyses() *memAnalyses { return &memAnalyses{items: map[string]domain.Analysis{}} }

func (m *memAnalyses) Create(_ domain.Context, a domain.Analysis) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		m.nextID++
		a.ID = fmt.Sprintf("an-%d", m.nextID)
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = a
	return a.ID, nil
}

func (m *memAnalyses) Get(_ domain.Context, id string) (domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.items[id]; ok {
		return a, nil
	}
	return domain.Analysis{}, fmt.Errorf("op=analyses.get: %w", domain.ErrNotFound)
}

func (m *memAnalyses) UpdateStatus(_ domain.Context, id string, status domain.AnalysisStatus, failureCode, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return fmt.Errorf("op=analyses.update_status: %w", domain.ErrNotFound)
	}
	a.Status = status
	if failureCode != nil {
		a.FailureCode = *failureCode
	}
	if errMsg != nil {
		a.Error = *errMsg
	}
	m.items[id] = a
	return nil
}

func (m *memAnalyses) SetProgress(_ domain.Context, id string, completed, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.items[id]
	if completed > a.Completed {
		a.Completed = completed
	}
	a.Total = total
	m.items[id] = a
	return nil
}

func (m *memAnalyses) IncRetry(_ domain.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.items[id]
	a.RetryCount++
	m.items[id] = a
	return nil
}

func (m *memAnalyses) FindStuck(_ domain.Context, _ time.Duration, _ int) ([]domain.Analysis, error) {
	return nil, nil
}

func (m *memAnalyses) ListRecent(_ domain.Context, limit int) ([]domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Analysis
	for _, a := range m.items {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memQueue struct {
	mu       sync.Mutex
	payloads []domain.AnalyzeTaskPayload
}

func (m *memQueue) EnqueueAnalysis(_ domain.Context, p domain.AnalyzeTaskPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, p)
	return p.AnalysisID, nil
}

type memSession struct {
	mu     sync.Mutex
	resets int
}

func (m *memSession) Reset(_ domain.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return nil
}

// stubInference replies from a prompt-prefix keyed map; unmatched prompts
// get the fallback.
type stubInference struct {
	mu       sync.Mutex
	replies  map[string]string
	fallback string
	fail     error
	calls    int
}

func (s *stubInference) Generate(_ domain.Context, prompt string, _ domain.GenerateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return "", s.fail
	}
	for prefix, reply := range s.replies {
		if strings.HasPrefix(prompt, prefix) {
			return reply, nil
		}
	}
	if s.fallback != "" {
		return s.fallback, nil
	}
	return "generated text", nil
}

func (s *stubInference) Models(_ domain.Context) ([]string, error) { return []string{"stub"}, nil }

type passRedactor struct{}

func (passRedactor) Redact(_ domain.Context, text string) (string, domain.RedactionAudit) {
	return "[R]" + text, domain.RedactionAudit{PIIRedacted: 1}
}

type stubCondenser struct{}

func (stubCondenser) Condense(text string) string { return text }

type stubExporter struct{}

func (stubExporter) Render(_ domain.Context, rep domain.Report) ([]byte, error) {
	return []byte("REPORT:" + rep.Title + "\n" + rep.Body), nil
}

type fixedScorer struct{ method string }

func (f fixedScorer) Method() string { return f.method }

func (f fixedScorer) Score(_ domain.Context, _, resumeText string) (domain.ScoreResult, error) {
	return domain.ScoreResult{Score: float64(len(resumeText)%10) / 10, Explanation: "stub", Citations: []string{"stub"}}, nil
}

type env struct {
	jobs      *memJobs
	resumes   *memResumes
	rankings  *memRankings
	analyses  *memAnalyses
	queue     *memQueue
	session   *memSession
	inference *stubInference
	srv       *httpserver.Server
	router    chi.Router
}

func testConfig() config.Config {
	return config.Config{AppEnv: "test", MaxUploadMB: 1}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		jobs:      &memJobs{},
		resumes:   &memResumes{},
		rankings:  newMemRankings(),
		analyses:  newMemAnalyses(),
		queue:     &memQueue{},
		session:   &memSession{},
		inference: &stubInference{replies: map[string]string{}},
	}
	uploads := usecase.NewUploadService(e.jobs, e.resumes, passRedactor{})
	scorers := usecase.ScorerSet{
		Model:   fixedScorer{method: domain.MethodModel},
		Keyword: fixedScorer{method: domain.MethodKeyword},
	}
	analyze := usecase.NewAnalyzeService(e.jobs, e.resumes, e.rankings, e.analyses, e.queue, scorers, passRedactor{})
	results := usecase.NewResultService(e.jobs, e.resumes, e.rankings, e.analyses, e.session, e.inference, stubCondenser{}, stubExporter{}, domain.GenerateOptions{})
	e.srv = httpserver.NewServer(testConfig(), uploads, analyze, results, nil)

	r := chi.NewRouter()
	r.Post("/v1/jobs", e.srv.JobUploadHandler())
	r.Get("/v1/jobs/current", e.srv.CurrentJobHandler())
	r.Get("/v1/jobs/current/summary", e.srv.JobSummaryHandler())
	r.Post("/v1/resumes", e.srv.ResumesUploadHandler())
	r.Get("/v1/resumes", e.srv.ListResumesHandler())
	r.Post("/v1/analyses", e.srv.AnalyzeHandler())
	r.Post("/v1/analyses/custom", e.srv.CustomAnalysisHandler())
	r.Get("/v1/analyses/{id}", e.srv.AnalysisStatusHandler())
	r.Get("/v1/rankings", e.srv.RankingsHandler())
	r.Post("/v1/rankings/{id}/explanation", e.srv.ExplanationHandler())
	r.Get("/v1/reports/rankings", e.srv.ReportHandler())
	r.Post("/v1/session/reset", e.srv.SessionResetHandler())
	r.Get("/healthz", e.srv.HealthzHandler())
	r.Get("/readyz", e.srv.ReadyzHandler())
	e.router = r
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.do(req)
}

type filePart struct {
	field, filename, content string
}

func multipartRequest(t *testing.T, path string, parts []filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// uploadJobText seeds the session with a current job.
func (e *env) uploadJobText(t *testing.T, text string) {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/v1/jobs", map[string]string{"text": text, "filename": "job.txt"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// uploadResumes seeds resumes in the given order.
func (e *env) uploadResumes(t *testing.T, files ...[2]string) {
	t.Helper()
	parts := make([]filePart, 0, len(files))
	for _, f := range files {
		parts = append(parts, filePart{field: "files[]", filename: f[0], content: f[1]})
	}
	w := e.do(multipartRequest(t, "/v1/resumes", parts, nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
