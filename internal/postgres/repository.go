package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bngesp/MultiCoder/internal/domain"
)

// RequestRepository abstracts all database access for request history.
// Postgres is the audit trail: the ledger and Redis serve the live path,
// so repository failures are logged, never fatal.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, failureReason string) error
	SetResult(ctx context.Context, id string, result *domain.Result) error
	RecordTaskRun(ctx context.Context, run *domain.TaskRun) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	ListByStatus(ctx context.Context, status domain.RequestStatus, limit int) ([]*domain.Request, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the RequestRepository interface.
func NewRepository(pool *pgxpool.Pool) RequestRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) Create(ctx context.Context, req *domain.Request) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO requests
			(id, prompt, status, failure_reason, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6)
	`,
		req.ID, req.Prompt, string(req.Status), req.FailureReason,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create request %s: %w", req.ID, err)
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, failureReason string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsTerminal() {
		t := now
		completedAt = &t
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE requests
		SET status = $1, failure_reason = $2, updated_at = $3, completed_at = $4
		WHERE id = $5
	`, string(status), failureReason, now, completedAt, id)
	if err != nil {
		return fmt.Errorf("update status for request %s: %w", id, err)
	}
	return nil
}

func (r *repository) SetResult(ctx context.Context, id string, result *domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for request %s: %w", id, err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE requests SET result = $1, updated_at = $2 WHERE id = $3
	`, data, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set result for request %s: %w", id, err)
	}
	return nil
}

func (r *repository) RecordTaskRun(ctx context.Context, run *domain.TaskRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.RecordedAt.IsZero() {
		run.RecordedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_runs
			(id, request_id, task_id, role, attempt, state, duration_ms, error, recorded_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		run.ID, run.RequestID, run.TaskID, string(run.Role), run.Attempt,
		string(run.State), run.DurationMs, run.Error, run.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record task run for %s: %w", run.TaskID, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, prompt, status, failure_reason, result,
		       created_at, updated_at, completed_at
		FROM requests
		WHERE id = $1
	`, id)

	return scanRequest(row)
}

func (r *repository) ListByStatus(ctx context.Context, status domain.RequestStatus, limit int) ([]*domain.Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, prompt, status, failure_reason, result,
		       created_at, updated_at, completed_at
		FROM requests
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list requests by status %s: %w", status, err)
	}
	defer rows.Close()

	var reqs []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// scanRequest reads a request row from any pgx row type.
func scanRequest(row interface {
	Scan(...any) error
}) (*domain.Request, error) {
	var req domain.Request
	var statusStr string
	var resultRaw []byte
	err := row.Scan(
		&req.ID, &req.Prompt, &statusStr, &req.FailureReason, &resultRaw,
		&req.CreatedAt, &req.UpdatedAt, &req.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.RequestNotFoundError{RequestID: "unknown"}
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	req.Status = domain.RequestStatus(statusStr)
	if len(resultRaw) > 0 {
		var res domain.Result
		if err := json.Unmarshal(resultRaw, &res); err != nil {
			return nil, fmt.Errorf("unmarshal request result: %w", err)
		}
		req.Result = &res
	}
	return &req, nil
}
