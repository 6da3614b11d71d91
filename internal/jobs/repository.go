package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Repository persists the durable job queue.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new job repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a PENDING job. It is called inside the transaction of the
// triggering mutation, so a rollback never leaks a job.
func (r *Repository) Enqueue(ctx context.Context, scope tenant.Context, jobType string, payload interface{}) (*Job, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:       uuid.New().String(),
		TenantID: scope.TenantID,
		Type:     jobType,
		Payload:  body,
		Status:   StatusPending,
	}

	query := `
		INSERT INTO jobs (id, tenant_id, type, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = r.db.Querier(ctx).QueryRowxContext(ctx, query,
		job.ID, job.TenantID, job.Type, []byte(job.Payload), job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FetchPending returns up to batchSize PENDING jobs, oldest first. The worker
// crosses tenants; each row carries the tenant it acts for.
func (r *Repository) FetchPending(ctx context.Context, batchSize int) ([]*Job, error) {
	var jobs []*Job
	query := `
		SELECT id, tenant_id, type, payload, status, result, error, retries,
		       leased_until, created_at, updated_at, processed_at
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &jobs, query, StatusPending, batchSize); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Claim transitions a job PENDING -> PROCESSING and stamps its lease.
// The predicate on status makes the claim optimistic: a competing worker
// simply sees zero rows affected.
func (r *Repository) Claim(ctx context.Context, jobID string, leaseDuration time.Duration) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2, leased_until = NOW() + $3::interval, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query,
		jobID, StatusProcessing, leaseDuration.String(), StatusPending,
	)
	if err != nil {
		return false, err
	}

	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// Complete marks a job COMPLETED with its result.
func (r *Repository) Complete(ctx context.Context, jobID string, result interface{}) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET status = $2, result = $3, error = NULL, leased_until = NULL,
		    processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err = r.db.Querier(ctx).ExecContext(ctx, query, jobID, StatusCompleted, body)
	return err
}

// MarkFailure applies the retry budget: below maxRetries the job goes back to
// PENDING with retries+1, otherwise it lands in FAILED with the error stored.
func (r *Repository) MarkFailure(ctx context.Context, job *Job, jobErr error, maxRetries int) error {
	msg := jobErr.Error()

	if job.Retries < maxRetries {
		query := `
			UPDATE jobs
			SET status = $2, retries = retries + 1, error = $3,
			    leased_until = NULL, updated_at = NOW()
			WHERE id = $1
		`
		_, err := r.db.Querier(ctx).ExecContext(ctx, query, job.ID, StatusPending, msg)
		return err
	}

	query := `
		UPDATE jobs
		SET status = $2, error = $3, leased_until = NULL,
		    processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Querier(ctx).ExecContext(ctx, query, job.ID, StatusFailed, msg)
	return err
}

// ReclaimExpired re-queues PROCESSING jobs whose lease has lapsed. A crashed
// worker strands jobs in PROCESSING; the sweep gives them back to the pool.
func (r *Repository) ReclaimExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1, leased_until = NULL, updated_at = NOW()
		WHERE status = $2 AND leased_until IS NOT NULL AND leased_until < NOW()
	`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, StatusPending, StatusProcessing)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// GetByID fetches a job row. Used by tests and the worker's logging.
func (r *Repository) GetByID(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	query := `
		SELECT id, tenant_id, type, payload, status, result, error, retries,
		       leased_until, created_at, updated_at, processed_at
		FROM jobs WHERE id = $1
	`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &job, query, jobID); err != nil {
		return nil, err
	}
	return &job, nil
}
