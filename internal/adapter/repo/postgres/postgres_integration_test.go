package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/talentsift/screener/internal/adapter/repo/postgres"
	"github.com/talentsift/screener/internal/domain"
)

// isDockerAvailable reports whether testcontainers can run here.
func isDockerAvailable() (ok bool) {
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// testcontainers panics (rather than returning an error) when no Docker
	// host can be resolved at all; treat that as Docker being unavailable.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	_, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{Image: "hello-world"},
		Started:          false,
	})
	return err == nil
}

// startPostgres boots a throwaway Postgres, applies the schema and returns a
// connected pool, or skips the test when Docker is unavailable.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if !isDockerAvailable() {
		t.Skip("Docker not available, skipping testcontainers test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "screener",
				"POSTGRES_PASSWORD": "screener",
				"POSTGRES_DB":       "screener",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("no postgres container available: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://screener:screener@%s:%s/screener?sslmode=disable", host, port.Port())

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		p, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return false
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return false
		}
		pool = p
		return true
	}, 30*time.Second, time.Second)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	return pool
}

// Analysis ids come off the queue path as ULIDs, while jobs keep UUIDs. Both
// must survive a round trip through the bootstrapped schema.
func TestAnalysisULIDRoundTrip(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	jobs := postgres.NewJobRepo(pool)
	jobID, err := jobs.Replace(ctx, domain.JobDescription{
		Text:         "hiring a platform engineer",
		RedactedText: "hiring a platform engineer",
	})
	require.NoError(t, err)

	analyses := postgres.NewAnalysisRepo(pool)
	id := ulid.Make().String()
	got, err := analyses.Create(ctx, domain.Analysis{
		ID:          id,
		JobID:       jobID,
		Method:      domain.MethodModel,
		Status:      domain.AnalysisQueued,
		Total:       3,
		Concurrency: 2,
	})
	require.NoError(t, err)
	require.Equal(t, id, got)

	a, err := analyses.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, jobID, a.JobID)
	assert.Equal(t, domain.AnalysisQueued, a.Status)
	assert.Equal(t, 3, a.Total)
}
