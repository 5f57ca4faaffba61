package repository

import (
	"database/sql"
	"fmt"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// WorkflowRepository handles workflow graph database operations
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a workflow without its graph
func (r *WorkflowRepository) GetByID(id int64) (*models.Workflow, error) {
	query := `
		SELECT id, company_id, name, is_active, created_by, created_at, updated_at
		FROM workflows
		WHERE id = ?
	`
	wf, err := r.scanWorkflow(r.db.QueryRow(query, id))
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// GetGraph retrieves a workflow with its steps, transitions and automations
func (r *WorkflowRepository) GetGraph(id int64) (*models.Workflow, error) {
	wf, err := r.GetByID(id)
	if err != nil || wf == nil {
		return wf, err
	}

	if wf.Steps, err = r.StepsByWorkflow(id); err != nil {
		return nil, err
	}
	if wf.Transitions, err = r.TransitionsByWorkflow(id); err != nil {
		return nil, err
	}
	if wf.Automations, err = r.AutomationsByWorkflow(id); err != nil {
		return nil, err
	}
	return wf, nil
}

// GetDefault retrieves the active system default workflow (company_id IS NULL)
func (r *WorkflowRepository) GetDefault() (*models.Workflow, error) {
	query := `
		SELECT id, company_id, name, is_active, created_by, created_at, updated_at
		FROM workflows
		WHERE company_id IS NULL AND is_active = 1
		ORDER BY id
		LIMIT 1
	`
	return r.scanWorkflow(r.db.QueryRow(query))
}

// GetActiveByCompany retrieves the tenant's active workflow, if any
func (r *WorkflowRepository) GetActiveByCompany(companyID int64) (*models.Workflow, error) {
	query := `
		SELECT id, company_id, name, is_active, created_by, created_at, updated_at
		FROM workflows
		WHERE company_id = ? AND is_active = 1
		ORDER BY id
		LIMIT 1
	`
	return r.scanWorkflow(r.db.QueryRow(query, companyID))
}

func (r *WorkflowRepository) scanWorkflow(row *sql.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var companyID, createdBy sql.NullInt64
	err := row.Scan(&wf.ID, &companyID, &wf.Name, &wf.IsActive, &createdBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to scan workflow", zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if companyID.Valid {
		wf.CompanyID = &companyID.Int64
	}
	if createdBy.Valid {
		wf.CreatedBy = &createdBy.Int64
	}
	return &wf, nil
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(tx *sql.Tx, wf *models.Workflow) error {
	query := `
		INSERT INTO workflows (company_id, name, is_active, created_by)
		VALUES (?, ?, ?, ?)
	`
	var companyID, createdBy interface{}
	if wf.CompanyID != nil {
		companyID = *wf.CompanyID
	}
	if wf.CreatedBy != nil {
		createdBy = *wf.CreatedBy
	}

	result, err := conn(r.db, tx).Exec(query, companyID, wf.Name, wf.IsActive, createdBy)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	wf.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// Deactivate soft-deactivates a workflow. Workflows referenced by in-flight
// requests are never hard-deleted.
func (r *WorkflowRepository) Deactivate(tx *sql.Tx, id int64) error {
	_, err := conn(r.db, tx).Exec(
		"UPDATE workflows SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to deactivate workflow", zap.Int64("workflow_id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate workflow: %w", err)
	}
	return nil
}

// GetStep retrieves a single step by id
func (r *WorkflowRepository) GetStep(id int64) (*models.Step, error) {
	query := stepSelect + " WHERE id = ?"
	steps, err := r.querySteps(query, id)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}
	return steps[0], nil
}

// GetStepByName retrieves a step by its internal name within a workflow
func (r *WorkflowRepository) GetStepByName(workflowID int64, name string) (*models.Step, error) {
	query := stepSelect + " WHERE workflow_id = ? AND name = ?"
	steps, err := r.querySteps(query, workflowID, name)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}
	return steps[0], nil
}

// StepsByWorkflow retrieves all steps of a workflow in step order
func (r *WorkflowRepository) StepsByWorkflow(workflowID int64) ([]*models.Step, error) {
	query := stepSelect + " WHERE workflow_id = ? ORDER BY step_order, id"
	return r.querySteps(query, workflowID)
}

const stepSelect = `
	SELECT id, workflow_id, name, display_name, step_type, step_order,
		allowed_roles, notify_roles, notify_client, auto_assign
	FROM workflow_steps`

func (r *WorkflowRepository) querySteps(query string, args ...interface{}) ([]*models.Step, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query steps", zap.Error(err))
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var s models.Step
		var roles string
		err := rows.Scan(&s.ID, &s.WorkflowID, &s.Name, &s.DisplayName, &s.StepType,
			&s.Order, &roles, &s.NotifyRoles, &s.NotifyClient, &s.AutoAssign)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.AllowedRoles = models.UnmarshalRoles(roles)
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

// CreateStep inserts a new step
func (r *WorkflowRepository) CreateStep(tx *sql.Tx, s *models.Step) error {
	query := `
		INSERT INTO workflow_steps (
			workflow_id, name, display_name, step_type, step_order,
			allowed_roles, notify_roles, notify_client, auto_assign
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := conn(r.db, tx).Exec(query,
		s.WorkflowID, s.Name, s.DisplayName, string(s.StepType), s.Order,
		models.MarshalRoles(s.AllowedRoles), s.NotifyRoles, s.NotifyClient, s.AutoAssign)
	if err != nil {
		r.logger.Error("Failed to create step", zap.Error(err))
		return fmt.Errorf("failed to create step: %w", err)
	}
	s.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetTransition retrieves a single transition by id
func (r *WorkflowRepository) GetTransition(id int64) (*models.Transition, error) {
	query := transitionSelect + " WHERE id = ?"
	transitions, err := r.queryTransitions(query, id)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, nil
	}
	return transitions[0], nil
}

// TransitionsByWorkflow retrieves all transitions of a workflow
func (r *WorkflowRepository) TransitionsByWorkflow(workflowID int64) ([]*models.Transition, error) {
	query := transitionSelect + " WHERE workflow_id = ? ORDER BY id"
	return r.queryTransitions(query, workflowID)
}

// TransitionsFromStep retrieves transitions whose source is the given step
func (r *WorkflowRepository) TransitionsFromStep(stepID int64) ([]*models.Transition, error) {
	query := transitionSelect + " WHERE from_step_id = ? ORDER BY id"
	return r.queryTransitions(query, stepID)
}

const transitionSelect = `
	SELECT id, workflow_id, from_step_id, to_step_id, display_name,
		requires_invoice_raised, requires_invoice_paid, requires_assignment,
		allowed_roles, send_notification, notification_template
	FROM workflow_transitions`

func (r *WorkflowRepository) queryTransitions(query string, args ...interface{}) ([]*models.Transition, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query transitions", zap.Error(err))
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*models.Transition
	for rows.Next() {
		var t models.Transition
		var roles string
		err := rows.Scan(&t.ID, &t.WorkflowID, &t.FromStepID, &t.ToStepID, &t.DisplayName,
			&t.RequiresInvoiceRaised, &t.RequiresInvoicePaid, &t.RequiresAssignment,
			&roles, &t.SendNotification, &t.NotificationTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.AllowedRoles = models.UnmarshalRoles(roles)
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

// CreateTransition inserts a new transition
func (r *WorkflowRepository) CreateTransition(tx *sql.Tx, t *models.Transition) error {
	query := `
		INSERT INTO workflow_transitions (
			workflow_id, from_step_id, to_step_id, display_name,
			requires_invoice_raised, requires_invoice_paid, requires_assignment,
			allowed_roles, send_notification, notification_template
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := conn(r.db, tx).Exec(query,
		t.WorkflowID, t.FromStepID, t.ToStepID, t.DisplayName,
		t.RequiresInvoiceRaised, t.RequiresInvoicePaid, t.RequiresAssignment,
		models.MarshalRoles(t.AllowedRoles), t.SendNotification, t.NotificationTemplate)
	if err != nil {
		r.logger.Error("Failed to create transition", zap.Error(err))
		return fmt.Errorf("failed to create transition: %w", err)
	}
	t.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetAutomation retrieves a single automation by id
func (r *WorkflowRepository) GetAutomation(id int64) (*models.Automation, error) {
	query := automationSelect + " WHERE id = ?"
	automations, err := r.queryAutomations(query, id)
	if err != nil {
		return nil, err
	}
	if len(automations) == 0 {
		return nil, nil
	}
	return automations[0], nil
}

// AutomationsByWorkflow retrieves all automations of a workflow
func (r *WorkflowRepository) AutomationsByWorkflow(workflowID int64) ([]*models.Automation, error) {
	query := automationSelect + " WHERE workflow_id = ? ORDER BY id"
	return r.queryAutomations(query, workflowID)
}

// ActiveAutomationsForStep retrieves active automations for a step and trigger,
// including workflow-scoped automations (step_id IS NULL) of the same trigger.
func (r *WorkflowRepository) ActiveAutomationsForStep(workflowID, stepID int64, trigger models.AutomationTrigger) ([]*models.Automation, error) {
	query := automationSelect + `
		WHERE workflow_id = ? AND trigger_event = ? AND is_active = 1
			AND (step_id = ? OR step_id IS NULL)
		ORDER BY id`
	return r.queryAutomations(query, workflowID, string(trigger), stepID)
}

const automationSelect = `
	SELECT id, workflow_id, step_id, trigger_event, action_type, action_config,
		conditions, delay_minutes, is_active
	FROM workflow_automations`

func (r *WorkflowRepository) queryAutomations(query string, args ...interface{}) ([]*models.Automation, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query automations", zap.Error(err))
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}
	defer rows.Close()

	var automations []*models.Automation
	for rows.Next() {
		var a models.Automation
		var stepID sql.NullInt64
		err := rows.Scan(&a.ID, &a.WorkflowID, &stepID, &a.Trigger, &a.ActionType,
			&a.RawConfig, &a.RawConditions, &a.DelayMinutes, &a.IsActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		if stepID.Valid {
			a.StepID = &stepID.Int64
		}
		automations = append(automations, &a)
	}
	return automations, rows.Err()
}

// CreateAutomation inserts a new automation after authoring-time validation
func (r *WorkflowRepository) CreateAutomation(tx *sql.Tx, a *models.Automation) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid automation: %w", err)
	}

	query := `
		INSERT INTO workflow_automations (
			workflow_id, step_id, trigger_event, action_type, action_config,
			conditions, delay_minutes, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var stepID interface{}
	if a.StepID != nil {
		stepID = *a.StepID
	}
	rawConfig := a.RawConfig
	if rawConfig == "" {
		rawConfig = "{}"
	}
	rawConditions := a.RawConditions
	if rawConditions == "" {
		rawConditions = "{}"
	}

	result, err := conn(r.db, tx).Exec(query,
		a.WorkflowID, stepID, string(a.Trigger), string(a.ActionType),
		rawConfig, rawConditions, a.DelayMinutes, a.IsActive)
	if err != nil {
		r.logger.Error("Failed to create automation", zap.Error(err))
		return fmt.Errorf("failed to create automation: %w", err)
	}
	a.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}
