package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/adapter/repo/postgres"
)

func TestSessionRepo_Reset(t *testing.T) {
	tx := &txStub{}
	pool := &poolStub{tx: tx}
	repo := postgres.NewSessionRepo(pool)

	require.NoError(t, repo.Reset(context.Background()))
	assert.True(t, tx.committed)
	assert.Equal(t, []string{
		`DELETE FROM rankings`,
		`DELETE FROM analyses`,
		`DELETE FROM resumes`,
		`DELETE FROM jobs`,
	}, tx.execs)
}

func TestSessionRepo_ResetRollsBackOnError(t *testing.T) {
	tx := &txStub{exec: func(sql string, _ ...any) (pgconn.CommandTag, error) {
		if sql == `DELETE FROM resumes` {
			return pgconn.CommandTag{}, assert.AnError
		}
		return pgconn.CommandTag{}, nil
	}}
	pool := &poolStub{tx: tx}
	repo := postgres.NewSessionRepo(pool)

	err := repo.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.reset")
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestSessionRepo_ResetBeginError(t *testing.T) {
	pool := &poolStub{beginErr: assert.AnError}
	repo := postgres.NewSessionRepo(pool)

	err := repo.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=session.reset")
}
