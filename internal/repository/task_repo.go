package repository

import (
	"database/sql"
	"fmt"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// TaskRepository handles follow-up tasks created by automations
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new task
func (r *TaskRepository) Create(tx *sql.Tx, task *models.Task) error {
	query := `
		INSERT INTO tasks (request_id, assignee_id, title, description, status)
		VALUES (?, ?, ?, ?, ?)
	`
	var assignee interface{}
	if task.AssigneeID != nil {
		assignee = *task.AssigneeID
	}
	if task.Status == "" {
		task.Status = "open"
	}

	result, err := conn(r.db, tx).Exec(query,
		task.RequestID, assignee, task.Title, task.Description, task.Status)
	if err != nil {
		r.logger.Error("Failed to create task",
			zap.Int64("request_id", task.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}
	task.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// ListByRequest retrieves tasks for a request
func (r *TaskRepository) ListByRequest(requestID int64) ([]*models.Task, error) {
	query := `
		SELECT id, request_id, assignee_id, title, description, status, created_at
		FROM tasks
		WHERE request_id = ?
		ORDER BY id
	`
	rows, err := r.db.Query(query, requestID)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		var assignee sql.NullInt64
		err := rows.Scan(&t.ID, &t.RequestID, &assignee, &t.Title, &t.Description, &t.Status, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if assignee.Valid {
			t.AssigneeID = &assignee.Int64
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
