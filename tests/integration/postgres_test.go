//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/postgres"
)

func newRepo(t *testing.T) postgres.RequestRepository {
	t.Helper()
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(context.Background(), "TRUNCATE task_runs, requests CASCADE") //nolint:errcheck
		pool.Close()
	})
	return postgres.NewRepository(pool)
}

func newStoredRequest(prompt string) *domain.Request {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Request{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Status:    domain.RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	req := newStoredRequest("write a function that reverses a string")
	require.NoError(t, repo.Create(ctx, req))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Prompt, got.Prompt)
	assert.Equal(t, domain.RequestPending, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.CompletedAt)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	var notFound *domain.RequestNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRepository_UpdateStatusSetsCompletedAt(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	req := newStoredRequest("sort a list of numbers")
	require.NoError(t, repo.Create(ctx, req))

	require.NoError(t, repo.UpdateStatus(ctx, req.ID, domain.RequestInProgress, ""))
	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestInProgress, got.Status)
	assert.Nil(t, got.CompletedAt, "non-terminal status must not set completed_at")

	require.NoError(t, repo.UpdateStatus(ctx, req.ID, domain.RequestFailed, "analyze exhausted 3 attempts"))
	got, err = repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFailed, got.Status)
	assert.Equal(t, "analyze exhausted 3 attempts", got.FailureReason)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.CompletedAt, 10*time.Second)
}

func TestRepository_SetResultRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	req := newStoredRequest("write a function that reverses a string")
	require.NoError(t, repo.Create(ctx, req))

	result := &domain.Result{
		Code:          "def reverse_string(s):\n    return s[::-1]\n",
		Language:      "python",
		Documentation: "Reverses the characters of a string.",
		Verification:  domain.VerificationReport{Pass: true},
	}
	require.NoError(t, repo.SetResult(ctx, req.ID, result))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, result.Code, got.Result.Code)
	assert.Equal(t, "python", got.Result.Language)
	assert.True(t, got.Result.Verification.Pass)
}

func TestRepository_RecordTaskRun(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	req := newStoredRequest("write a function that reverses a string")
	require.NoError(t, repo.Create(ctx, req))

	run := &domain.TaskRun{
		RequestID:  req.ID,
		TaskID:     uuid.New().String(),
		Role:       domain.RoleGenerate,
		Attempt:    2,
		State:      domain.TaskCompleted,
		DurationMs: 840,
	}
	require.NoError(t, repo.RecordTaskRun(ctx, run))
	assert.NotEmpty(t, run.ID, "RecordTaskRun should assign an ID")
	assert.False(t, run.RecordedAt.IsZero())

	// A second run for the same task (retry history) must not conflict.
	run2 := &domain.TaskRun{
		RequestID: req.ID,
		TaskID:    run.TaskID,
		Role:      domain.RoleGenerate,
		Attempt:   3,
		State:     domain.TaskFailed,
		Error:     "timeout waiting for agent reply",
	}
	require.NoError(t, repo.RecordTaskRun(ctx, run2))
	assert.NotEqual(t, run.ID, run2.ID)
}

func TestRepository_ListByStatus(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := newStoredRequest("prompt")
		req.Status = domain.RequestCompleted
		require.NoError(t, repo.Create(ctx, req))
	}
	pending := newStoredRequest("still running")
	require.NoError(t, repo.Create(ctx, pending))

	completed, err := repo.ListByStatus(ctx, domain.RequestCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, completed, 3)
	for _, req := range completed {
		assert.Equal(t, domain.RequestCompleted, req.Status)
	}

	limited, err := repo.ListByStatus(ctx, domain.RequestCompleted, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
