package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// RequestRepository handles service request database operations. Status is a
// read-time projection of the current step's name; the stored status column
// only backs legacy rows without a current_step_id.
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestSelect = `
	SELECT r.id, r.company_id, r.client_id, r.request_number, r.workflow_id,
		r.current_step_id, COALESCE(s.name, r.status) AS status,
		r.assigned_accountant_id, r.invoice_raised, r.invoice_paid,
		r.invoice_amount, r.priority, r.internal_notes, r.completed_at,
		r.created_at, r.updated_at
	FROM service_requests r
	LEFT JOIN workflow_steps s ON s.id = r.current_step_id`

// GetByID retrieves a request with its derived status
func (r *RequestRepository) GetByID(id int64) (*models.ServiceRequest, error) {
	requests, err := r.queryRequests(requestSelect+" WHERE r.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return requests[0], nil
}

func (r *RequestRepository) queryRequests(query string, args ...interface{}) ([]*models.ServiceRequest, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query requests", zap.Error(err))
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.ServiceRequest
	for rows.Next() {
		var req models.ServiceRequest
		var workflowID, stepID, accountantID sql.NullInt64
		var completedAt sql.NullTime
		err := rows.Scan(&req.ID, &req.CompanyID, &req.ClientID, &req.RequestNumber,
			&workflowID, &stepID, &req.Status, &accountantID,
			&req.InvoiceRaised, &req.InvoicePaid, &req.InvoiceAmount,
			&req.Priority, &req.InternalNotes, &completedAt,
			&req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		if workflowID.Valid {
			req.WorkflowID = &workflowID.Int64
		}
		if stepID.Valid {
			req.CurrentStepID = &stepID.Int64
		}
		if accountantID.Valid {
			req.AssignedAccountantID = &accountantID.Int64
		}
		if completedAt.Valid {
			req.CompletedAt = &completedAt.Time
		}
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

// Create inserts a new service request
func (r *RequestRepository) Create(tx *sql.Tx, req *models.ServiceRequest) error {
	query := `
		INSERT INTO service_requests (
			company_id, client_id, request_number, workflow_id, current_step_id,
			status, assigned_accountant_id, invoice_raised, invoice_paid,
			invoice_amount, priority, internal_notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var workflowID, stepID, accountantID interface{}
	if req.WorkflowID != nil {
		workflowID = *req.WorkflowID
	}
	if req.CurrentStepID != nil {
		stepID = *req.CurrentStepID
	}
	if req.AssignedAccountantID != nil {
		accountantID = *req.AssignedAccountantID
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	result, err := conn(r.db, tx).Exec(query,
		req.CompanyID, req.ClientID, req.RequestNumber, workflowID, stepID,
		req.Status, accountantID, req.InvoiceRaised, req.InvoicePaid,
		req.InvoiceAmount, req.Priority, req.InternalNotes)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// UpdateStep moves the request to a new step. The step name is written to the
// legacy status column in the same statement so there is no dual-write window.
func (r *RequestRepository) UpdateStep(tx *sql.Tx, requestID, stepID int64, stepName string, completedAt *time.Time) error {
	query := `
		UPDATE service_requests
		SET current_step_id = ?, status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	var completed interface{}
	if completedAt != nil {
		completed = *completedAt
	}
	_, err := conn(r.db, tx).Exec(query, stepID, stepName, completed, requestID)
	if err != nil {
		r.logger.Error("Failed to update request step",
			zap.Int64("request_id", requestID),
			zap.Int64("step_id", stepID),
			zap.Error(err))
		return fmt.Errorf("failed to update request step: %w", err)
	}
	return nil
}

// UpdateAssignment sets the assigned accountant
func (r *RequestRepository) UpdateAssignment(tx *sql.Tx, requestID, accountantID int64) error {
	query := `
		UPDATE service_requests
		SET assigned_accountant_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err := conn(r.db, tx).Exec(query, accountantID, requestID)
	if err != nil {
		r.logger.Error("Failed to update request assignment",
			zap.Int64("request_id", requestID),
			zap.Int64("accountant_id", accountantID),
			zap.Error(err))
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

// UpdatePriority sets the request priority (update_field automation allow-list)
func (r *RequestRepository) UpdatePriority(tx *sql.Tx, requestID int64, priority string) error {
	_, err := conn(r.db, tx).Exec(
		"UPDATE service_requests SET priority = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		priority, requestID)
	if err != nil {
		return fmt.Errorf("failed to update priority: %w", err)
	}
	return nil
}

// UpdateInternalNotes sets the internal notes (update_field automation allow-list)
func (r *RequestRepository) UpdateInternalNotes(tx *sql.Tx, requestID int64, notes string) error {
	_, err := conn(r.db, tx).Exec(
		"UPDATE service_requests SET internal_notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		notes, requestID)
	if err != nil {
		return fmt.Errorf("failed to update internal notes: %w", err)
	}
	return nil
}

// CountOpenByAccountant counts the accountant's requests whose status is
// outside the terminal set. Used by the least_busy strategy.
func (r *RequestRepository) CountOpenByAccountant(accountantID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM service_requests r
		LEFT JOIN workflow_steps s ON s.id = r.current_step_id
		WHERE r.assigned_accountant_id = ?
			AND COALESCE(s.name, r.status) NOT IN (?, ?)
	`
	var count int
	err := r.db.QueryRow(query, accountantID, models.StatusCompleted, models.StatusCancelled).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count open requests",
			zap.Int64("accountant_id", accountantID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count open requests: %w", err)
	}
	return count, nil
}

// LatestAssignedAccountant returns the accountant on the most recently created
// request in the tenant that has any assignee, or nil if none exists. Used by
// the round_robin strategy.
func (r *RequestRepository) LatestAssignedAccountant(companyID int64) (*int64, error) {
	query := `
		SELECT assigned_accountant_id
		FROM service_requests
		WHERE company_id = ? AND assigned_accountant_id IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var accountantID int64
	err := r.db.QueryRow(query, companyID).Scan(&accountantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest assigned accountant",
			zap.Int64("company_id", companyID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get latest assigned accountant: %w", err)
	}
	return &accountantID, nil
}
