package models

import "time"

// StateHistory is one append-only entry in the request's transition ledger.
// FromState and DurationSeconds are nil only on the very first entry.
type StateHistory struct {
	ID              int64     `json:"id"`
	RequestID       int64     `json:"request_id"`
	FromState       *string   `json:"from_state,omitempty"`
	ToState         string    `json:"to_state"`
	ChangedBy       *int64    `json:"changed_by,omitempty"`
	ChangedAt       time.Time `json:"changed_at"`
	DurationSeconds *int64    `json:"duration_in_previous_state,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// AssignmentType classifies an assignment ledger entry
type AssignmentType string

const (
	AssignmentInitial      AssignmentType = "initial"
	AssignmentReassignment AssignmentType = "reassignment"
	AssignmentEscalation   AssignmentType = "escalation"
)

// RequiresReason returns true for assignment types that must carry a reason
func (t AssignmentType) RequiresReason() bool {
	return t == AssignmentReassignment || t == AssignmentEscalation
}

// AssignmentHistory is one append-only entry in the accountant assignment ledger
type AssignmentHistory struct {
	ID             int64          `json:"id"`
	RequestID      int64          `json:"request_id"`
	FromUserID     *int64         `json:"from_user,omitempty"`
	ToUserID       int64          `json:"to_user"`
	AssignedBy     int64          `json:"assigned_by"`
	AssignmentType AssignmentType `json:"assignment_type"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Automation job (outbox) statuses
const (
	JobPending = "pending"
	JobDone    = "done"
	JobFailed  = "failed"
	JobDead    = "dead"
)

// AutomationJob is one pending automation execution, written in the same
// transaction as the state change that triggered it and drained asynchronously.
type AutomationJob struct {
	ID           int64             `json:"id"`
	RequestID    int64             `json:"request_id"`
	AutomationID int64             `json:"automation_id"`
	Trigger      AutomationTrigger `json:"trigger"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	RunAfter     time.Time         `json:"run_after"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// StateDurationStats aggregates dwell time for one state across requests
type StateDurationStats struct {
	State      string  `json:"state"`
	Count      int64   `json:"count"`
	AvgSeconds float64 `json:"avg_seconds"`
	MinSeconds int64   `json:"min_seconds"`
	MaxSeconds int64   `json:"max_seconds"`
}
