package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// AssignmentRepository handles the append-only accountant assignment ledger.
// Reason policy (required for reassignment/escalation) is enforced by callers.
type AssignmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *sql.DB, logger *zap.Logger) *AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a new assignment entry
func (r *AssignmentRepository) Create(tx *sql.Tx, entry *models.AssignmentHistory) error {
	query := `
		INSERT INTO assignment_history (
			request_id, from_user_id, to_user_id, assigned_by,
			assignment_type, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var fromUser interface{}
	if entry.FromUserID != nil {
		fromUser = *entry.FromUserID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := conn(r.db, tx).Exec(query,
		entry.RequestID, fromUser, entry.ToUserID, entry.AssignedBy,
		string(entry.AssignmentType), entry.Reason, entry.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create assignment entry",
			zap.Int64("request_id", entry.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to create assignment entry: %w", err)
	}
	entry.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// ListByRequest retrieves all assignment entries for a request in order
func (r *AssignmentRepository) ListByRequest(requestID int64) ([]*models.AssignmentHistory, error) {
	query := `
		SELECT id, request_id, from_user_id, to_user_id, assigned_by,
			assignment_type, reason, created_at
		FROM assignment_history
		WHERE request_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(query, requestID)
	if err != nil {
		r.logger.Error("Failed to list assignments",
			zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var entries []*models.AssignmentHistory
	for rows.Next() {
		var e models.AssignmentHistory
		var fromUser sql.NullInt64
		err := rows.Scan(&e.ID, &e.RequestID, &fromUser, &e.ToUserID,
			&e.AssignedBy, &e.AssignmentType, &e.Reason, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment entry: %w", err)
		}
		if fromUser.Valid {
			e.FromUserID = &fromUser.Int64
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
