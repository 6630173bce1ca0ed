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

// RankingRepo persists and loads per-pair candidate rankings.
type RankingRepo struct{ Pool PgxPool }

// NewRankingRepo constructs a RankingRepo with the given pool.
func NewRankingRepo(p PgxPool) *RankingRepo { return &RankingRepo{Pool: p} }

// Create inserts r. The (job_id, resume_id) pair is unique; when another
// writer got there first the insert is a no-op and ErrConflict tells the
// caller to load the winning row instead.
func (r *RankingRepo) Create(ctx domain.Context, rk domain.CandidateRanking) (domain.CandidateRanking, error) {
	tracer := otel.Tracer("repo.rankings")
	ctx, span := tracer.Start(ctx, "rankings.Create")
	defer span.End()

	if rk.ID == "" {
		rk.ID = uuid.New().String()
	}
	rk.CreatedAt = time.Now().UTC()
	citations := rk.Citations
	if citations == nil {
		citations = []string{}
	}

	q := `INSERT INTO rankings (id, job_id, resume_id, score, explanation, citations, method, model_name, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (job_id, resume_id) DO NOTHING`
	tag, err := r.Pool.Exec(ctx, q, rk.ID, rk.JobID, rk.ResumeID, rk.Score, rk.Explanation, citations, rk.Method, rk.ModelName, rk.CreatedAt)
	if err != nil {
		return domain.CandidateRanking{}, fmt.Errorf("op=ranking.create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.CandidateRanking{}, fmt.Errorf("op=ranking.create: %w", domain.ErrConflict)
	}
	return rk, nil
}

// Get loads the ranking for one (job, resume) pair.
func (r *RankingRepo) Get(ctx domain.Context, jobID, resumeID string) (domain.CandidateRanking, error) {
	tracer := otel.Tracer("repo.rankings")
	ctx, span := tracer.Start(ctx, "rankings.Get")
	defer span.End()

	q := `SELECT id, job_id, resume_id, score, explanation, citations, method, model_name, created_at
	FROM rankings WHERE job_id=$1 AND resume_id=$2`
	rk, err := scanRanking(r.Pool.QueryRow(ctx, q, jobID, resumeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CandidateRanking{}, fmt.Errorf("op=ranking.get: %w", domain.ErrNotFound)
		}
		return domain.CandidateRanking{}, fmt.Errorf("op=ranking.get: %w", err)
	}
	return rk, nil
}

// GetByID loads a ranking by its id.
func (r *RankingRepo) GetByID(ctx domain.Context, id string) (domain.CandidateRanking, error) {
	tracer := otel.Tracer("repo.rankings")
	ctx, span := tracer.Start(ctx, "rankings.GetByID")
	defer span.End()

	q := `SELECT id, job_id, resume_id, score, explanation, citations, method, model_name, created_at
	FROM rankings WHERE id=$1`
	rk, err := scanRanking(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CandidateRanking{}, fmt.Errorf("op=ranking.get_by_id: %w", domain.ErrNotFound)
		}
		return domain.CandidateRanking{}, fmt.Errorf("op=ranking.get_by_id: %w", err)
	}
	return rk, nil
}

// ListByJob returns the job's rankings best first. Equal scores keep the
// candidates' upload order.
func (r *RankingRepo) ListByJob(ctx domain.Context, jobID string) ([]domain.CandidateRanking, error) {
	tracer := otel.Tracer("repo.rankings")
	ctx, span := tracer.Start(ctx, "rankings.ListByJob")
	defer span.End()

	q := `SELECT r.id, r.job_id, r.resume_id, r.score, r.explanation, r.citations, r.method, r.model_name, r.created_at
	FROM rankings r
	JOIN resumes c ON c.id = r.resume_id
	WHERE r.job_id=$1
	ORDER BY r.score DESC, c.upload_seq ASC`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=ranking.list_by_job: %w", err)
	}
	defer rows.Close()

	var out []domain.CandidateRanking
	for rows.Next() {
		rk, err := scanRanking(rows)
		if err != nil {
			return nil, fmt.Errorf("op=ranking.list_by_job: %w", err)
		}
		out = append(out, rk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=ranking.list_by_job: %w", err)
	}
	return out, nil
}

// DistinctMethods returns the scoring methods present for a job.
func (r *RankingRepo) DistinctMethods(ctx domain.Context, jobID string) ([]string, error) {
	tracer := otel.Tracer("repo.rankings")
	ctx, span := tracer.Start(ctx, "rankings.DistinctMethods")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT DISTINCT method FROM rankings WHERE job_id=$1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=ranking.distinct_methods: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("op=ranking.distinct_methods: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=ranking.distinct_methods: %w", err)
	}
	return out, nil
}

// DeleteByJob removes every ranking of a job. Used when a forced method
// change supersedes the stored list.
func (r *RankingRepo) DeleteByJob(ctx domain.Context, jobID string) error {
	tracer := otel.Tracer("repo.rankings")
	ctx, span := tracer.Start(ctx, "rankings.DeleteByJob")
	defer span.End()

	if _, err := r.Pool.Exec(ctx, `DELETE FROM rankings WHERE job_id=$1`, jobID); err != nil {
		return fmt.Errorf("op=ranking.delete_by_job: %w", err)
	}
	return nil
}

func scanRanking(row pgx.Row) (domain.CandidateRanking, error) {
	var rk domain.CandidateRanking
	err := row.Scan(&rk.ID, &rk.JobID, &rk.ResumeID, &rk.Score, &rk.Explanation, &rk.Citations, &rk.Method, &rk.ModelName, &rk.CreatedAt)
	return rk, err
}
