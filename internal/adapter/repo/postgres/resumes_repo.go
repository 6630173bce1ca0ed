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

// ResumeRepo persists and loads candidate resumes.
type ResumeRepo struct{ Pool PgxPool }

// NewResumeRepo constructs a ResumeRepo with the given pool.
func NewResumeRepo(p PgxPool) *ResumeRepo { return &ResumeRepo{Pool: p} }

const resumeColumns = `id, filename, text, redacted_text, language, upload_seq, pii_redacted, bias_redacted, created_at`

// CreateBatch inserts resumes in the given order inside one transaction.
// upload_seq continues from the table's current maximum, so the first
// resume of a fresh session gets sequence 1 and the candidate labels
// follow upload order.
func (r *ResumeRepo) CreateBatch(ctx domain.Context, rs []domain.Resume) ([]domain.Resume, error) {
	tracer := otel.Tracer("repo.resumes")
	ctx, span := tracer.Start(ctx, "resumes.CreateBatch")
	defer span.End()
	spanAttrs(span, "INSERT", "resumes")

	if len(rs) == 0 {
		return nil, nil
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=resume.create_batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO resumes (` + resumeColumns + `)
	SELECT $1, $2, $3, $4, $5, COALESCE(MAX(upload_seq),0)+1, $6, $7, $8 FROM resumes
	RETURNING upload_seq`

	out := make([]domain.Resume, 0, len(rs))
	for _, res := range rs {
		if res.ID == "" {
			res.ID = uuid.New().String()
		}
		res.CreatedAt = time.Now().UTC()
		err := tx.QueryRow(ctx, q,
			res.ID, res.Filename, res.Text, res.RedactedText, res.Language,
			res.PIIRedacted, res.BiasRedacted, res.CreatedAt,
		).Scan(&res.UploadSeq)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("op=resume.create_batch: %w", domain.ErrConflict)
			}
			return nil, fmt.Errorf("op=resume.create_batch: %w", err)
		}
		out = append(out, res)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=resume.create_batch: %w", err)
	}
	return out, nil
}

// Get loads a resume by id.
func (r *ResumeRepo) Get(ctx domain.Context, id string) (domain.Resume, error) {
	tracer := otel.Tracer("repo.resumes")
	ctx, span := tracer.Start(ctx, "resumes.Get")
	defer span.End()
	spanAttrs(span, "SELECT", "resumes")

	q := `SELECT ` + resumeColumns + ` FROM resumes WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	res, err := scanResume(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Resume{}, fmt.Errorf("op=resume.get: %w", domain.ErrNotFound)
		}
		return domain.Resume{}, fmt.Errorf("op=resume.get: %w", err)
	}
	return res, nil
}

// List returns the session's resumes in upload order.
func (r *ResumeRepo) List(ctx domain.Context) ([]domain.Resume, error) {
	tracer := otel.Tracer("repo.resumes")
	ctx, span := tracer.Start(ctx, "resumes.List")
	defer span.End()
	spanAttrs(span, "SELECT", "resumes")

	q := `SELECT ` + resumeColumns + ` FROM resumes ORDER BY upload_seq ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=resume.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Resume
	for rows.Next() {
		res, err := scanResume(rows)
		if err != nil {
			return nil, fmt.Errorf("op=resume.list: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=resume.list: %w", err)
	}
	return out, nil
}

// Count returns the number of resumes in the session.
func (r *ResumeRepo) Count(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.resumes")
	ctx, span := tracer.Start(ctx, "resumes.Count")
	defer span.End()
	spanAttrs(span, "COUNT", "resumes")

	var count int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM resumes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("op=resume.count: %w", err)
	}
	return count, nil
}

// SetRedacted stores the redacted text and audit counters for a resume.
func (r *ResumeRepo) SetRedacted(ctx domain.Context, id, redacted string, piiCount, biasCount int) error {
	tracer := otel.Tracer("repo.resumes")
	ctx, span := tracer.Start(ctx, "resumes.SetRedacted")
	defer span.End()
	spanAttrs(span, "UPDATE", "resumes")

	q := `UPDATE resumes SET redacted_text=$2, pii_redacted=$3, bias_redacted=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, redacted, piiCount, biasCount)
	if err != nil {
		return fmt.Errorf("op=resume.set_redacted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=resume.set_redacted: %w", domain.ErrNotFound)
	}
	return nil
}

func scanResume(row pgx.Row) (domain.Resume, error) {
	var res domain.Resume
	err := row.Scan(&res.ID, &res.Filename, &res.Text, &res.RedactedText, &res.Language, &res.UploadSeq, &res.PIIRedacted, &res.BiasRedacted, &res.CreatedAt)
	return res, err
}
