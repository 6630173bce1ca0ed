package usecase_test

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talentsift/screener/internal/domain"
)

// In-memory fakes. The interesting assertions live in the tests; these only
// have to honor the repository contracts (unique pair key, upload order,
// sorted reads).

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
	mu          sync.Mutex
	items       map[string]domain.CandidateRanking // key job|resume
	seq         map[string]int64                   // resume id -> upload seq, for sorted reads
	fail        error                              // when set, Create fails
	missNextGet int                                // force this many Get misses, for race tests
}

func newMemRankings() *memRankings {
	return &memRankings{items: map[string]domain.CandidateRanking{}, seq: map[string]int64{}}
}

func pairKey(jobID, resumeID string) string { return jobID + "|" + resumeID }

func (m *memRankings) Create(_ domain.Context, r domain.CandidateRanking) (domain.CandidateRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return domain.CandidateRanking{}, m.fail
	}
	k := pairKey(r.JobID, r.ResumeID)
	if _, ok := m.items[k]; ok {
		return domain.CandidateRanking{}, fmt.Errorf("op=rankings.create: %w", domain.ErrConflict)
	}
	m.items[k] = r
	return r, nil
}

func (m *memRankings) Get(_ domain.Context, jobID, resumeID string) (domain.CandidateRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missNextGet > 0 {
		m.missNextGet--
		return domain.CandidateRanking{}, fmt.Errorf("op=rankings.get: %w", domain.ErrNotFound)
	}
	if r, ok := m.items[pairKey(jobID, resumeID)]; ok {
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
	// progress snapshots in call order, for monotonicity assertions
	progress [][2]int
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
	a.UpdatedAt = time.Now().UTC()
	m.items[id] = a
	return nil
}

func (m *memAnalyses) SetProgress(_ domain.Context, id string, completed, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return fmt.Errorf("op=analyses.set_progress: %w", domain.ErrNotFound)
	}
	if completed > a.Completed {
		a.Completed = completed
	}
	a.Total = total
	m.items[id] = a
	m.progress = append(m.progress, [2]int{a.Completed, total})
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
	fail     error
}

func (m *memQueue) EnqueueAnalysis(_ domain.Context, p domain.AnalyzeTaskPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	m.payloads = append(m.payloads, p)
	return p.AnalysisID, nil
}

// passRedactor marks text so tests can see redaction ran without pulling in
// the real pattern tables.
type passRedactor struct{ calls int }

func (p *passRedactor) Redact(_ domain.Context, text string) (string, domain.RedactionAudit) {
	p.calls++
	return "[R]" + text, domain.RedactionAudit{PIIRedacted: 1}
}

// countingScorer returns canned scores per resume text and counts calls.
type countingScorer struct {
	mu     sync.Mutex
	calls  int
	method string
	scores map[string]float64 // keyed by resume text
	errFor string             // resume text that errors
}

func (c *countingScorer) Method() string {
	if c.method == "" {
		return domain.MethodKeyword
	}
	return c.method
}

func (c *countingScorer) Score(_ domain.Context, _, resumeText string) (domain.ScoreResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.errFor != "" && resumeText == c.errFor {
		return domain.ScoreResult{}, fmt.Errorf("op=scorer: %w", domain.ErrInternal)
	}
	score := c.scores[resumeText]
	return domain.ScoreResult{
		Score:       score,
		Explanation: fmt.Sprintf("scored %.2f", score),
		Citations:   []string{"stubbed"},
	}, nil
}
