package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// OutboxRepository handles the automation job outbox. Jobs are enqueued in
// the same transaction as the state change that triggered them and drained
// by a background worker.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts a pending job
func (r *OutboxRepository) Enqueue(tx *sql.Tx, job *models.AutomationJob) error {
	query := `
		INSERT INTO automation_jobs (request_id, automation_id, trigger_event, status, run_after)
		VALUES (?, ?, ?, ?, ?)
	`
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = time.Now().UTC()
	}

	result, err := conn(r.db, tx).Exec(query,
		job.RequestID, job.AutomationID, string(job.Trigger), job.Status, job.RunAfter)
	if err != nil {
		r.logger.Error("Failed to enqueue automation job",
			zap.Int64("request_id", job.RequestID),
			zap.Int64("automation_id", job.AutomationID),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue automation job: %w", err)
	}
	job.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// Due retrieves pending and retryable jobs whose run_after has passed
func (r *OutboxRepository) Due(limit int) ([]*models.AutomationJob, error) {
	query := `
		SELECT id, request_id, automation_id, trigger_event, status, attempts,
			run_after, last_error, created_at, updated_at
		FROM automation_jobs
		WHERE status IN (?, ?) AND run_after <= ?
		ORDER BY run_after ASC, id ASC
		LIMIT ?
	`
	rows, err := r.db.Query(query, models.JobPending, models.JobFailed, time.Now().UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to query due jobs", zap.Error(err))
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AutomationJob
	for rows.Next() {
		var j models.AutomationJob
		err := rows.Scan(&j.ID, &j.RequestID, &j.AutomationID, &j.Trigger, &j.Status,
			&j.Attempts, &j.RunAfter, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// MarkDone marks a job as successfully executed
func (r *OutboxRepository) MarkDone(jobID int64) error {
	_, err := r.db.Exec(`
		UPDATE automation_jobs
		SET status = ?, attempts = attempts + 1, last_error = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, models.JobDone, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the retry
func (r *OutboxRepository) MarkFailed(jobID int64, lastError string, nextRun time.Time) error {
	_, err := r.db.Exec(`
		UPDATE automation_jobs
		SET status = ?, attempts = attempts + 1, last_error = ?, run_after = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, models.JobFailed, lastError, nextRun, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkDead parks a job after exhausting its attempts
func (r *OutboxRepository) MarkDead(jobID int64, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE automation_jobs
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, models.JobDead, lastError, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	return nil
}
