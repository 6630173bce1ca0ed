// Package postgres provides PostgreSQL database adapters.
//
// It implements the repository ports for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talentsift/screener/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx domain.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx domain.Context, sql string, args ...any) pgx.Row
	Query(ctx domain.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx domain.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func spanAttrs(span trace.Span, op, table string) {
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", table),
	)
}

// JobRepo persists and loads the session's job description.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, text, redacted_text, summary, filename, language, pii_redacted, bias_redacted, created_at`

// Replace stores j as the new current job. The previous session's resumes,
// rankings and analyses are cleared in the same transaction, so readers
// never observe a new job next to stale candidates.
func (r *JobRepo) Replace(ctx domain.Context, j domain.JobDescription) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Replace")
	defer span.End()
	spanAttrs(span, "INSERT", "jobs")

	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=job.replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Child tables first; jobs cascade would cover rankings and analyses
	// but resumes have no job reference.
	for _, q := range []string{
		`DELETE FROM rankings`,
		`DELETE FROM analyses`,
		`DELETE FROM resumes`,
		`DELETE FROM jobs`,
	} {
		if _, err := tx.Exec(ctx, q); err != nil {
			return "", fmt.Errorf("op=job.replace: %w", err)
		}
	}

	q := `INSERT INTO jobs (` + jobColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = tx.Exec(ctx, q, id, j.Text, j.RedactedText, j.Summary, j.Filename, j.Language, j.PIIRedacted, j.BiasRedacted, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=job.replace: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=job.replace: %w", err)
	}
	return id, nil
}

// Current loads the session's job or ErrNotFound when none was uploaded.
func (r *JobRepo) Current(ctx domain.Context) (domain.JobDescription, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Current")
	defer span.End()
	spanAttrs(span, "SELECT", "jobs")

	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC LIMIT 1`
	return scanJob(r.Pool.QueryRow(ctx, q), "job.current")
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.JobDescription, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	spanAttrs(span, "SELECT", "jobs")

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	return scanJob(r.Pool.QueryRow(ctx, q, id), "job.get")
}

// SetSummary stores the model summary for a job. The column is written at
// most once; a second writer gets ErrConflict and should reload the winner.
func (r *JobRepo) SetSummary(ctx domain.Context, id, summary string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetSummary")
	defer span.End()
	spanAttrs(span, "UPDATE", "jobs")

	q := `UPDATE jobs SET summary=$2 WHERE id=$1 AND summary=''`
	tag, err := r.Pool.Exec(ctx, q, id, summary)
	if err != nil {
		return fmt.Errorf("op=job.set_summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.set_summary: %w", domain.ErrConflict)
	}
	return nil
}

func scanJob(row pgx.Row, op string) (domain.JobDescription, error) {
	var j domain.JobDescription
	err := row.Scan(&j.ID, &j.Text, &j.RedactedText, &j.Summary, &j.Filename, &j.Language, &j.PIIRedacted, &j.BiasRedacted, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobDescription{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.JobDescription{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return j, nil
}
