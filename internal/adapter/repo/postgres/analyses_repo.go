package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// AnalysisRepo persists and loads batch analysis runs.
type AnalysisRepo struct{ Pool PgxPool }

// NewAnalysisRepo constructs an AnalysisRepo with the given pool.
func NewAnalysisRepo(p PgxPool) *AnalysisRepo { return &AnalysisRepo{Pool: p} }

const analysisColumns = `id, job_id, method, status, completed, total, concurrency, failure_code, error, retry_count, created_at, updated_at`

// Create inserts a new analysis run and returns its id.
func (r *AnalysisRepo) Create(ctx domain.Context, a domain.Analysis) (string, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Create")
	defer span.End()

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO analyses (` + analysisColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.Pool.Exec(ctx, q, id, a.JobID, a.Method, a.Status, a.Completed, a.Total, a.Concurrency, a.FailureCode, a.Error, a.RetryCount, now, now)
	if err != nil {
		return "", fmt.Errorf("op=analysis.create: %w", err)
	}
	return id, nil
}

// Get loads an analysis by id.
func (r *AnalysisRepo) Get(ctx domain.Context, id string) (domain.Analysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Get")
	defer span.End()

	q := `SELECT ` + analysisColumns + ` FROM analyses WHERE id=$1`
	a, err := scanAnalysis(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Analysis{}, fmt.Errorf("op=analysis.get: %w", domain.ErrNotFound)
		}
		return domain.Analysis{}, fmt.Errorf("op=analysis.get: %w", err)
	}
	return a, nil
}

// UpdateStatus moves an analysis through its lifecycle and stores the
// failure code and message. Nil pointers leave empty values in place.
func (r *AnalysisRepo) UpdateStatus(ctx domain.Context, id string, status domain.AnalysisStatus, failureCode, errMsg *string) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.UpdateStatus")
	defer span.End()

	// Map nil to empty string to satisfy the NOT NULL columns
	codeVal, errVal := "", ""
	if failureCode != nil {
		codeVal = *failureCode
	}
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE analyses SET status=$2, failure_code=$3, error=$4, updated_at=$5 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, codeVal, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=analysis.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=analysis.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// SetProgress stores completed/total. GREATEST keeps the completed counter
// monotonic when slow unit updates land out of order.
func (r *AnalysisRepo) SetProgress(ctx domain.Context, id string, completed, total int) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.SetProgress")
	defer span.End()

	q := `UPDATE analyses SET completed=GREATEST(completed,$2), total=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, completed, total, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=analysis.set_progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=analysis.set_progress: %w", domain.ErrNotFound)
	}
	return nil
}

// IncRetry bumps the retry counter after a failed delivery.
func (r *AnalysisRepo) IncRetry(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.IncRetry")
	defer span.End()

	q := `UPDATE analyses SET retry_count=retry_count+1, updated_at=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=analysis.inc_retry: %w", err)
	}
	return nil
}

// FindStuck returns runs still queued or processing whose last update is
// older than the given age, oldest first.
func (r *AnalysisRepo) FindStuck(ctx domain.Context, olderThan time.Duration, limit int) ([]domain.Analysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.FindStuck")
	defer span.End()

	cutoff := time.Now().UTC().Add(-olderThan)
	q := `SELECT ` + analysisColumns + ` FROM analyses
	WHERE status IN ($1,$2) AND updated_at < $3
	ORDER BY updated_at ASC LIMIT $4`
	rows, err := r.Pool.Query(ctx, q, domain.AnalysisQueued, domain.AnalysisProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.find_stuck: %w", err)
	}
	defer rows.Close()
	return collectAnalyses(rows, "analysis.find_stuck")
}

// ListRecent returns the newest runs first.
func (r *AnalysisRepo) ListRecent(ctx domain.Context, limit int) ([]domain.Analysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ListRecent")
	defer span.End()

	q := `SELECT ` + analysisColumns + ` FROM analyses ORDER BY created_at DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.list_recent: %w", err)
	}
	defer rows.Close()
	return collectAnalyses(rows, "analysis.list_recent")
}

func collectAnalyses(rows pgx.Rows, op string) ([]domain.Analysis, error) {
	var out []domain.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s: %w", op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	return out, nil
}

func scanAnalysis(row pgx.Row) (domain.Analysis, error) {
	var a domain.Analysis
	err := row.Scan(&a.ID, &a.JobID, &a.Method, &a.Status, &a.Completed, &a.Total, &a.Concurrency, &a.FailureCode, &a.Error, &a.RetryCount, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
