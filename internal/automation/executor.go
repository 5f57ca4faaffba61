// Package automation evaluates and dispatches the side effects configured on
// workflow steps: notifications, auto-assignment, webhooks, emails, field
// updates and follow-up tasks.
package automation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/notification"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/internal/workflow"
	"github.com/practicehq/crm/pkg/database"
	"go.uber.org/zap"
)

// Executor runs a single automation against a request. Each execution is
// independent: a failure here never affects the already-committed transition
// or the other automations on the same trigger.
type Executor struct {
	db             *database.DB
	requestRepo    *repository.RequestRepository
	userRepo       *repository.UserRepository
	taskRepo       *repository.TaskRepository
	assignmentRepo *repository.AssignmentRepository
	assigner       *workflow.Assigner
	notifier       notification.Notifier
	webhooks       *WebhookClient
	logger         *zap.Logger
}

// NewExecutor creates a new automation executor
func NewExecutor(
	db *database.DB,
	requestRepo *repository.RequestRepository,
	userRepo *repository.UserRepository,
	taskRepo *repository.TaskRepository,
	assignmentRepo *repository.AssignmentRepository,
	assigner *workflow.Assigner,
	notifier notification.Notifier,
	webhooks *WebhookClient,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		db:             db,
		requestRepo:    requestRepo,
		userRepo:       userRepo,
		taskRepo:       taskRepo,
		assignmentRepo: assignmentRepo,
		assigner:       assigner,
		notifier:       notifier,
		webhooks:       webhooks,
		logger:         logger,
	}
}

// Execute evaluates the automation's conditions against the request's current
// state and dispatches the configured action. An unmet condition is a silent
// skip, not an error.
func (e *Executor) Execute(ctx context.Context, automation *models.Automation, request *models.ServiceRequest) error {
	conditions, err := automation.Conditions()
	if err != nil {
		return fmt.Errorf("automation %d: %w", automation.ID, err)
	}
	if !conditionsMet(&conditions, request) {
		e.logger.Debug("Automation conditions not met, skipping",
			zap.Int64("automation_id", automation.ID),
			zap.Int64("request_id", request.ID))
		return nil
	}

	cfg, err := automation.Config()
	if err != nil {
		return fmt.Errorf("automation %d: %w", automation.ID, err)
	}

	switch automation.ActionType {
	case models.ActionNotify:
		return e.notify(ctx, cfg.Notify, request)
	case models.ActionAutoAssign:
		return e.autoAssign(ctx, cfg.Assign, request)
	case models.ActionWebhook:
		return e.webhooks.Dispatch(ctx, cfg.Webhook, request)
	case models.ActionEmail:
		return e.email(ctx, cfg.Email, request)
	case models.ActionUpdateField:
		return e.updateField(ctx, cfg.UpdateField, request)
	case models.ActionCreateTask:
		return e.createTask(cfg.Task, request)
	default:
		return fmt.Errorf("automation %d: unknown action type %s", automation.ID, automation.ActionType)
	}
}

// conditionsMet evaluates the gating predicates; nil pointers impose no
// constraint.
func conditionsMet(c *models.AutomationConditions, request *models.ServiceRequest) bool {
	if c.RequiresInvoiceRaised != nil && request.InvoiceRaised != *c.RequiresInvoiceRaised {
		return false
	}
	if c.RequiresInvoicePaid != nil && request.InvoicePaid != *c.RequiresInvoicePaid {
		return false
	}
	if c.RequiresAssignment != nil && request.IsAssigned() != *c.RequiresAssignment {
		return false
	}
	if c.Priority != nil && request.Priority != *c.Priority {
		return false
	}
	return true
}

func (e *Executor) notify(ctx context.Context, cfg *models.NotifyConfig, request *models.ServiceRequest) error {
	recipients, err := e.resolveRecipients(cfg.To, request)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		e.logger.Warn("Notify automation resolved no recipients",
			zap.Int64("request_id", request.ID),
			zap.String("to", cfg.To))
		return nil
	}
	return e.notifier.SendAutomationNotification(ctx, request, recipients, cfg.Subject, cfg.Template)
}

func (e *Executor) resolveRecipients(to string, request *models.ServiceRequest) ([]*models.User, error) {
	switch to {
	case "client":
		client, err := e.userRepo.GetByID(request.ClientID)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, nil
		}
		return []*models.User{client}, nil
	case "assigned_accountant":
		if request.AssignedAccountantID == nil {
			return nil, nil
		}
		accountant, err := e.userRepo.GetByID(*request.AssignedAccountantID)
		if err != nil {
			return nil, err
		}
		if accountant == nil {
			return nil, nil
		}
		return []*models.User{accountant}, nil
	case "admins":
		return e.userRepo.ActiveByRole(request.CompanyID, models.RoleAdmin)
	default:
		return nil, fmt.Errorf("unknown notify target: %s", to)
	}
}

// autoAssign assigns an accountant per the configured strategy. No-op when
// the request is already assigned. Assignment write, ledger entry and
// candidate read run inside one transaction.
func (e *Executor) autoAssign(ctx context.Context, cfg *models.AssignConfig, request *models.ServiceRequest) error {
	if request.IsAssigned() {
		return nil
	}

	var picked *models.User
	err := e.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		picked, err = e.assigner.PickAccountant(request.CompanyID, cfg)
		if err != nil {
			return err
		}
		if picked == nil {
			return nil
		}

		if err := e.requestRepo.UpdateAssignment(tx, request.ID, picked.ID); err != nil {
			return err
		}
		return e.assignmentRepo.Create(tx, &models.AssignmentHistory{
			RequestID:      request.ID,
			ToUserID:       picked.ID,
			AssignedBy:     0, // system
			AssignmentType: models.AssignmentInitial,
		})
	})
	if err != nil {
		return err
	}
	if picked == nil {
		e.logger.Warn("Auto-assign found no candidate",
			zap.Int64("request_id", request.ID),
			zap.String("strategy", string(cfg.Strategy)))
		return nil
	}

	e.logger.Info("Request auto-assigned",
		zap.Int64("request_id", request.ID),
		zap.Int64("accountant_id", picked.ID),
		zap.String("strategy", string(cfg.Strategy)))

	request.AssignedAccountantID = &picked.ID
	if err := e.notifier.SendAssignmentNotification(ctx, request, picked); err != nil {
		e.logger.Error("Failed to send assignment notification",
			zap.Int64("request_id", request.ID), zap.Error(err))
	}
	return nil
}

func (e *Executor) email(ctx context.Context, cfg *models.EmailConfig, request *models.ServiceRequest) error {
	to := cfg.To
	if to == "" {
		client, err := e.userRepo.GetByID(request.ClientID)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("request %d has no resolvable owner for email", request.ID)
		}
		to = client.Email
	}

	renderCtx := map[string]interface{}{
		"request_id":     request.ID,
		"request_number": request.RequestNumber,
		"status":         request.Status,
		"priority":       request.Priority,
	}
	return e.notifier.SendCustomEmail(ctx, to, cfg.Subject, cfg.Template, cfg.Body, renderCtx)
}

// updateField applies a field mutation. Only priority and internal_notes are
// writable through automations; anything else is rejected and logged. The
// rejection is not an error: a misconfigured field name stays wrong on every
// attempt, so retrying the job would never succeed.
func (e *Executor) updateField(ctx context.Context, cfg *models.UpdateFieldConfig, request *models.ServiceRequest) error {
	switch cfg.Field {
	case "priority":
		return e.requestRepo.UpdatePriority(nil, request.ID, cfg.Value)
	case "internal_notes":
		return e.requestRepo.UpdateInternalNotes(nil, request.ID, cfg.Value)
	default:
		e.logger.Warn("update_field automation rejected non-writable field",
			zap.Int64("request_id", request.ID),
			zap.String("field", cfg.Field))
		return nil
	}
}

func (e *Executor) createTask(cfg *models.TaskConfig, request *models.ServiceRequest) error {
	title := cfg.Title
	if title == "" {
		title = fmt.Sprintf("Follow up on request %s", request.RequestNumber)
	}
	assignee := cfg.AssigneeID
	if assignee == nil {
		assignee = request.AssignedAccountantID
	}
	return e.taskRepo.Create(nil, &models.Task{
		RequestID:   request.ID,
		AssigneeID:  assignee,
		Title:       title,
		Description: cfg.Description,
	})
}
