// Package workflow implements the configurable service-request workflow
// engine: per-tenant step graphs, role-gated transitions, transactional
// state changes and the automation hand-off.
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/history"
	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/notification"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/pkg/database"
	"go.uber.org/zap"
)

// Service resolves workflows and steps for requests, computes legal
// transitions and executes them transactionally.
type Service struct {
	db             *database.DB
	workflowRepo   *repository.WorkflowRepository
	requestRepo    *repository.RequestRepository
	userRepo       *repository.UserRepository
	outboxRepo     *repository.OutboxRepository
	assignmentRepo *repository.AssignmentRepository
	historySvc     *history.Service
	assigner       *Assigner
	notifier       notification.Notifier
	logger         *zap.Logger

	now func() time.Time
}

// NewService creates a new workflow service
func NewService(
	db *database.DB,
	workflowRepo *repository.WorkflowRepository,
	requestRepo *repository.RequestRepository,
	userRepo *repository.UserRepository,
	outboxRepo *repository.OutboxRepository,
	assignmentRepo *repository.AssignmentRepository,
	historySvc *history.Service,
	assigner *Assigner,
	notifier notification.Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:             db,
		workflowRepo:   workflowRepo,
		requestRepo:    requestRepo,
		userRepo:       userRepo,
		outboxRepo:     outboxRepo,
		assignmentRepo: assignmentRepo,
		historySvc:     historySvc,
		assigner:       assigner,
		notifier:       notifier,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WorkflowForRequest resolves the workflow governing a request: the current
// step's owning workflow if set, else the request's configured workflow,
// else the company's active workflow, else the system default. Never
// returns "no workflow".
func (s *Service) WorkflowForRequest(request *models.ServiceRequest) (*models.Workflow, error) {
	if request.CurrentStepID != nil {
		step, err := s.workflowRepo.GetStep(*request.CurrentStepID)
		if err != nil {
			return nil, err
		}
		if step != nil {
			wf, err := s.workflowRepo.GetByID(step.WorkflowID)
			if err != nil {
				return nil, err
			}
			if wf != nil {
				return wf, nil
			}
		}
	}

	if request.WorkflowID != nil {
		wf, err := s.workflowRepo.GetByID(*request.WorkflowID)
		if err != nil {
			return nil, err
		}
		if wf != nil {
			return wf, nil
		}
	}

	wf, err := s.workflowRepo.GetActiveByCompany(request.CompanyID)
	if err != nil {
		return nil, err
	}
	if wf != nil {
		return wf, nil
	}

	wf, err = s.workflowRepo.GetDefault()
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: no default workflow configured", ErrNotFound)
	}
	return wf, nil
}

// CurrentStep resolves the request's current step: direct lookup by
// current_step_id, with a fallback matching the legacy status string against
// a step name in the resolved workflow.
func (s *Service) CurrentStep(request *models.ServiceRequest) (*models.Step, error) {
	if request.CurrentStepID != nil {
		step, err := s.workflowRepo.GetStep(*request.CurrentStepID)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return step, nil
		}
	}

	if request.Status != "" {
		wf, err := s.WorkflowForRequest(request)
		if err != nil {
			return nil, err
		}
		step, err := s.workflowRepo.GetStepByName(wf.ID, request.Status)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return step, nil
		}
	}

	return nil, fmt.Errorf("%w: request %d has no resolvable step", ErrStepNotFound, request.ID)
}

// AvailableTransitions returns the transitions out of the request's current
// step that the actor may execute and whose gating predicates hold.
func (s *Service) AvailableTransitions(request *models.ServiceRequest, actor *models.User) ([]*models.Transition, error) {
	step, err := s.CurrentStep(request)
	if err != nil {
		return nil, err
	}

	transitions, err := s.workflowRepo.TransitionsFromStep(step.ID)
	if err != nil {
		return nil, err
	}

	available := make([]*models.Transition, 0, len(transitions))
	for _, t := range transitions {
		if !s.actorMayExecute(t, request, actor) {
			continue
		}
		if !gatesSatisfied(t, request) {
			continue
		}
		available = append(available, t)
	}
	return available, nil
}

// actorMayExecute checks the transition's role allow-list. The 'user' role is
// special-cased: only the request's own client may act through it, so clients
// can respond to query steps on their requests and nobody else's.
func (s *Service) actorMayExecute(t *models.Transition, request *models.ServiceRequest, actor *models.User) bool {
	if actor.Role == models.RoleUser {
		return actor.ID == request.ClientID && t.AllowsRole(models.RoleUser)
	}
	return t.AllowsRole(actor.Role)
}

func gatesSatisfied(t *models.Transition, request *models.ServiceRequest) bool {
	if t.RequiresInvoiceRaised && !request.InvoiceRaised {
		return false
	}
	if t.RequiresInvoicePaid && !request.InvoicePaid {
		return false
	}
	if t.RequiresAssignment && !request.IsAssigned() {
		return false
	}
	return true
}

// ExecuteTransition validates and executes a named transition on a request.
// The step change, its history entry and the triggered automation jobs commit
// in one transaction; the transition notification runs best-effort afterwards.
func (s *Service) ExecuteTransition(ctx context.Context, requestID, transitionID int64, actor *models.User, notes string) (*models.ServiceRequest, error) {
	request, err := s.requestRepo.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, fmt.Errorf("%w: request %d", ErrNotFound, requestID)
	}

	transition, err := s.workflowRepo.GetTransition(transitionID)
	if err != nil {
		return nil, err
	}
	if transition == nil {
		return nil, fmt.Errorf("%w: transition %d", ErrNotFound, transitionID)
	}

	currentStep, err := s.CurrentStep(request)
	if err != nil {
		return nil, err
	}

	if transition.FromStepID != currentStep.ID {
		return nil, fmt.Errorf("%w: transition %d starts from step %d, request is on step %d",
			ErrInvalidTransition, transition.ID, transition.FromStepID, currentStep.ID)
	}

	if !s.actorMayExecute(transition, request, actor) {
		return nil, fmt.Errorf("%w: role %s may not execute transition %q",
			ErrForbidden, actor.Role, transition.DisplayName)
	}

	if !gatesSatisfied(transition, request) {
		return nil, fmt.Errorf("%w: transition %q gating predicates failed",
			ErrConditionNotMet, transition.DisplayName)
	}

	toStep, err := s.workflowRepo.GetStep(transition.ToStepID)
	if err != nil {
		return nil, err
	}
	if toStep == nil {
		return nil, fmt.Errorf("%w: step %d", ErrNotFound, transition.ToStepID)
	}

	oldStatus := request.Status

	var completedAt *time.Time
	if toStep.StepType == models.StepTypeEnd && toStep.Name == models.StatusCompleted {
		t := s.now()
		completedAt = &t
	} else {
		completedAt = request.CompletedAt
	}

	var autoAssigned *models.User
	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.requestRepo.UpdateStep(tx, request.ID, toStep.ID, toStep.Name, completedAt); err != nil {
			return err
		}

		if toStep.AutoAssign && !request.IsAssigned() {
			picked, err := s.applyStepAutoAssign(tx, request)
			if err != nil {
				return err
			}
			autoAssigned = picked
		}

		fromState := oldStatus
		if _, err := s.historySvc.RecordStateChange(tx, request.ID, &fromState, toStep.Name, &actor.ID, notes); err != nil {
			return err
		}

		if err := s.enqueueStepAutomations(tx, request.ID, currentStep, models.TriggerOnExit); err != nil {
			return err
		}
		if err := s.enqueueStepAutomations(tx, request.ID, toStep, models.TriggerOnEnter); err != nil {
			return err
		}
		return s.enqueueStepAutomations(tx, request.ID, toStep, models.TriggerAfterDuration)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transition executed",
		zap.Int64("request_id", request.ID),
		zap.String("transition", transition.DisplayName),
		zap.String("from", oldStatus),
		zap.String("to", toStep.Name),
		zap.Int64("actor_id", actor.ID))

	updated, err := s.requestRepo.GetByID(request.ID)
	if err != nil {
		return nil, err
	}

	// Committed; notification failures are logged, never surfaced
	if autoAssigned != nil {
		if err := s.notifier.SendAssignmentNotification(ctx, updated, autoAssigned); err != nil {
			s.logger.Error("Failed to send assignment notification",
				zap.Int64("request_id", updated.ID), zap.Error(err))
		}
	}
	if transition.SendNotification {
		s.sendTransitionNotification(ctx, updated, transition, toStep, actor)
	}

	return updated, nil
}

// applyStepAutoAssign fills an unassigned request entering a step flagged
// auto_assign, using the least-busy strategy with admin fallback. A missing
// candidate is a logged no-op, never an error.
func (s *Service) applyStepAutoAssign(tx *sql.Tx, request *models.ServiceRequest) (*models.User, error) {
	picked, err := s.assigner.PickAccountant(request.CompanyID, &models.AssignConfig{
		Strategy:        models.StrategyLeastBusy,
		FallbackToAdmin: true,
	})
	if err != nil {
		return nil, err
	}
	if picked == nil {
		s.logger.Warn("Step auto-assign found no candidate",
			zap.Int64("request_id", request.ID),
			zap.Int64("company_id", request.CompanyID))
		return nil, nil
	}

	if err := s.requestRepo.UpdateAssignment(tx, request.ID, picked.ID); err != nil {
		return nil, err
	}
	if err := s.assignmentRepo.Create(tx, &models.AssignmentHistory{
		RequestID:      request.ID,
		ToUserID:       picked.ID,
		AssignedBy:     0, // system
		AssignmentType: models.AssignmentInitial,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Request auto-assigned on step entry",
		zap.Int64("request_id", request.ID),
		zap.Int64("accountant_id", picked.ID))
	return picked, nil
}

// enqueueStepAutomations writes one outbox job per active automation of the
// step and trigger, inside the transition's transaction. after_duration jobs
// are deferred by the automation's configured delay.
func (s *Service) enqueueStepAutomations(tx *sql.Tx, requestID int64, step *models.Step, trigger models.AutomationTrigger) error {
	automations, err := s.workflowRepo.ActiveAutomationsForStep(step.WorkflowID, step.ID, trigger)
	if err != nil {
		return err
	}

	for _, a := range automations {
		runAfter := s.now()
		if trigger == models.TriggerAfterDuration {
			runAfter = runAfter.Add(time.Duration(a.DelayMinutes) * time.Minute)
		}
		job := &models.AutomationJob{
			RequestID:    requestID,
			AutomationID: a.ID,
			Trigger:      trigger,
			RunAfter:     runAfter,
		}
		if err := s.outboxRepo.Enqueue(tx, job); err != nil {
			return err
		}
	}
	return nil
}

// sendTransitionNotification resolves recipients (client, role members,
// assigned accountant), deduplicates, excludes the actor and dispatches.
func (s *Service) sendTransitionNotification(ctx context.Context, request *models.ServiceRequest, transition *models.Transition, toStep *models.Step, actor *models.User) {
	seen := make(map[int64]bool)
	var recipients []*models.User

	add := func(u *models.User) {
		if u == nil || seen[u.ID] || u.ID == actor.ID {
			return
		}
		seen[u.ID] = true
		recipients = append(recipients, u)
	}

	if toStep.NotifyClient {
		client, err := s.userRepo.GetByID(request.ClientID)
		if err != nil {
			s.logger.Warn("Failed to resolve client recipient",
				zap.Int64("request_id", request.ID), zap.Error(err))
		} else {
			add(client)
		}
	}

	if toStep.NotifyRoles {
		for _, role := range toStep.AllowedRoles {
			if role == models.RoleUser {
				continue
			}
			members, err := s.userRepo.ActiveByRole(request.CompanyID, role)
			if err != nil {
				s.logger.Warn("Failed to resolve role recipients",
					zap.String("role", role), zap.Error(err))
				continue
			}
			for _, m := range members {
				add(m)
			}
		}
	}

	if request.AssignedAccountantID != nil {
		accountant, err := s.userRepo.GetByID(*request.AssignedAccountantID)
		if err != nil {
			s.logger.Warn("Failed to resolve assigned accountant recipient",
				zap.Int64("request_id", request.ID), zap.Error(err))
		} else {
			add(accountant)
		}
	}

	if len(recipients) == 0 {
		return
	}

	err := s.notifier.SendWorkflowTransitionNotification(ctx, request, recipients,
		transition.DisplayName, toStep.Name, actor)
	if err != nil {
		s.logger.Error("Failed to send transition notification",
			zap.Int64("request_id", request.ID),
			zap.String("transition", transition.DisplayName),
			zap.Error(err))
	}
}

// InitializeRequest places a newly created request on its workflow's START
// step and writes the first history entry. Called exactly once per request.
func (s *Service) InitializeRequest(ctx context.Context, request *models.ServiceRequest) error {
	wf, err := s.WorkflowForRequest(request)
	if err != nil {
		return err
	}

	steps, err := s.workflowRepo.StepsByWorkflow(wf.ID)
	if err != nil {
		return err
	}

	var start *models.Step
	for _, step := range steps {
		if step.StepType == models.StepTypeStart {
			start = step
			break
		}
	}
	if start == nil {
		return fmt.Errorf("%w: workflow %d has no START step", ErrValidation, wf.ID)
	}

	var autoAssigned *models.User
	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.requestRepo.UpdateStep(tx, request.ID, start.ID, start.Name, nil); err != nil {
			return err
		}
		if start.AutoAssign && !request.IsAssigned() {
			picked, err := s.applyStepAutoAssign(tx, request)
			if err != nil {
				return err
			}
			autoAssigned = picked
		}
		if _, err := s.historySvc.RecordStateChange(tx, request.ID, nil, start.Name, nil, ""); err != nil {
			return err
		}
		if err := s.enqueueStepAutomations(tx, request.ID, start, models.TriggerOnEnter); err != nil {
			return err
		}
		return s.enqueueStepAutomations(tx, request.ID, start, models.TriggerAfterDuration)
	})
	if err != nil {
		return err
	}

	if autoAssigned != nil {
		request.AssignedAccountantID = &autoAssigned.ID
		if err := s.notifier.SendAssignmentNotification(ctx, request, autoAssigned); err != nil {
			s.logger.Error("Failed to send assignment notification",
				zap.Int64("request_id", request.ID), zap.Error(err))
		}
	}
	return nil
}
