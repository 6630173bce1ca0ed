package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// SessionRepo clears the whole screening session in one transaction.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// Reset deletes the job, resumes, rankings and analyses together, so a
// half-cleared session is never observable.
func (r *SessionRepo) Reset(ctx domain.Context) error {
	tracer := otel.Tracer("repo.session")
	ctx, span := tracer.Start(ctx, "session.Reset")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=session.reset: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM rankings`,
		`DELETE FROM analyses`,
		`DELETE FROM resumes`,
		`DELETE FROM jobs`,
	} {
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=session.reset: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=session.reset: %w", err)
	}
	return nil
}
