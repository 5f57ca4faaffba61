package models

import (
	"encoding/json"
	"time"
)

// StepType classifies a workflow step
type StepType string

const (
	StepTypeStart  StepType = "START"
	StepTypeNormal StepType = "NORMAL"
	StepTypeQuery  StepType = "QUERY"
	StepTypeEnd    StepType = "END"
)

var validStepTypes = map[StepType]bool{
	StepTypeStart:  true,
	StepTypeNormal: true,
	StepTypeQuery:  true,
	StepTypeEnd:    true,
}

// IsValid returns true if the step type is a known type
func (t StepType) IsValid() bool {
	return validStepTypes[t]
}

// String returns the string representation of the step type
func (t StepType) String() string {
	return string(t)
}

// Workflow is a named graph of steps, transitions and automations governing a
// service request's lifecycle. CompanyID is nil for the system default.
type Workflow struct {
	ID        int64     `json:"id"`
	CompanyID *int64    `json:"company_id,omitempty"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Steps       []*Step       `json:"steps,omitempty"`
	Transitions []*Transition `json:"transitions,omitempty"`
	Automations []*Automation `json:"automations,omitempty"`
}

// Step is a node in the workflow graph. Name is the stable internal
// identifier and doubles as the request's status string.
type Step struct {
	ID           int64    `json:"id"`
	WorkflowID   int64    `json:"workflow_id"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	StepType     StepType `json:"step_type"`
	Order        int      `json:"order"`
	AllowedRoles []string `json:"allowed_roles"`
	NotifyRoles  bool     `json:"notify_roles"`
	NotifyClient bool     `json:"notify_client"`
	AutoAssign   bool     `json:"auto_assign"`
}

// AllowsRole returns true if the role may act while a request sits on this step
func (s *Step) AllowsRole(role string) bool {
	for _, r := range s.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Transition is a directed, gated, role-restricted edge between two steps
type Transition struct {
	ID                    int64    `json:"id"`
	WorkflowID            int64    `json:"workflow_id"`
	FromStepID            int64    `json:"from_step_id"`
	ToStepID              int64    `json:"to_step_id"`
	DisplayName           string   `json:"display_name"`
	RequiresInvoiceRaised bool     `json:"requires_invoice_raised"`
	RequiresInvoicePaid   bool     `json:"requires_invoice_paid"`
	RequiresAssignment    bool     `json:"requires_assignment"`
	AllowedRoles          []string `json:"allowed_roles"`
	SendNotification      bool     `json:"send_notification"`
	NotificationTemplate  string   `json:"notification_template,omitempty"`
}

// AllowsRole returns true if the role may execute this transition
func (t *Transition) AllowsRole(role string) bool {
	for _, r := range t.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// MarshalRoles encodes a role list for storage
func MarshalRoles(roles []string) string {
	if roles == nil {
		roles = []string{}
	}
	b, _ := json.Marshal(roles)
	return string(b)
}

// UnmarshalRoles decodes a stored role list
func UnmarshalRoles(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return []string{}
	}
	return roles
}
