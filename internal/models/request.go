package models

import "time"

// Role names
const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleUser       = "user" // client role
)

// Priority values for service requests
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Terminal status names. "completed" additionally stamps completed_at when
// entered through an END step of that name.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// User is the directory projection of a tenant member
type User struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
}

// ServiceRequest is the workflow-governed entity. Status is derived from the
// current step's name on read; the stored column only backs legacy rows that
// predate current_step_id.
type ServiceRequest struct {
	ID                   int64      `json:"id"`
	CompanyID            int64      `json:"company_id"`
	ClientID             int64      `json:"client_id"`
	RequestNumber        string     `json:"request_number"`
	WorkflowID           *int64     `json:"workflow_id,omitempty"`
	CurrentStepID        *int64     `json:"current_step_id,omitempty"`
	Status               string     `json:"status"`
	AssignedAccountantID *int64     `json:"assigned_accountant_id,omitempty"`
	InvoiceRaised        bool       `json:"invoice_raised"`
	InvoicePaid          bool       `json:"invoice_paid"`
	InvoiceAmount        float64    `json:"invoice_amount"`
	Priority             string     `json:"priority"`
	InternalNotes        string     `json:"internal_notes,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsAssigned returns true if the request has an assigned accountant
func (r *ServiceRequest) IsAssigned() bool {
	return r.AssignedAccountantID != nil
}

// IsOpen returns true if the request is not in a terminal status
func (r *ServiceRequest) IsOpen() bool {
	return r.Status != StatusCompleted && r.Status != StatusCancelled
}

// Task is a follow-up item created by a create_task automation
type Task struct {
	ID          int64     `json:"id"`
	RequestID   int64     `json:"request_id"`
	AssigneeID  *int64    `json:"assignee_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
