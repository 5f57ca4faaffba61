package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// DuplicateWorkflow deep-copies a workflow graph under a new name and owner.
// Steps are copied first to build the old-id to new-id map, then transitions
// and automations are rewritten through it so the topology is preserved
// exactly. The whole copy commits as one transaction or not at all.
func (s *Service) DuplicateWorkflow(ctx context.Context, sourceID int64, newName string, companyID, authorID *int64) (*models.Workflow, error) {
	source, err := s.workflowRepo.GetGraph(sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: workflow %d", ErrNotFound, sourceID)
	}
	if newName == "" {
		return nil, fmt.Errorf("%w: duplicate needs a name", ErrValidation)
	}

	copy := &models.Workflow{
		CompanyID: companyID,
		Name:      newName,
		IsActive:  true,
		CreatedBy: authorID,
	}

	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.workflowRepo.Create(tx, copy); err != nil {
			return err
		}

		stepIDMap := make(map[int64]int64, len(source.Steps))
		for _, step := range source.Steps {
			newStep := &models.Step{
				WorkflowID:   copy.ID,
				Name:         step.Name,
				DisplayName:  step.DisplayName,
				StepType:     step.StepType,
				Order:        step.Order,
				AllowedRoles: append([]string{}, step.AllowedRoles...),
				NotifyRoles:  step.NotifyRoles,
				NotifyClient: step.NotifyClient,
				AutoAssign:   step.AutoAssign,
			}
			if err := s.workflowRepo.CreateStep(tx, newStep); err != nil {
				return err
			}
			stepIDMap[step.ID] = newStep.ID
			copy.Steps = append(copy.Steps, newStep)
		}

		for _, t := range source.Transitions {
			fromID, ok := stepIDMap[t.FromStepID]
			if !ok {
				return fmt.Errorf("%w: transition %d references unknown step %d", ErrValidation, t.ID, t.FromStepID)
			}
			toID, ok := stepIDMap[t.ToStepID]
			if !ok {
				return fmt.Errorf("%w: transition %d references unknown step %d", ErrValidation, t.ID, t.ToStepID)
			}
			newTransition := &models.Transition{
				WorkflowID:            copy.ID,
				FromStepID:            fromID,
				ToStepID:              toID,
				DisplayName:           t.DisplayName,
				RequiresInvoiceRaised: t.RequiresInvoiceRaised,
				RequiresInvoicePaid:   t.RequiresInvoicePaid,
				RequiresAssignment:    t.RequiresAssignment,
				AllowedRoles:          append([]string{}, t.AllowedRoles...),
				SendNotification:      t.SendNotification,
				NotificationTemplate:  t.NotificationTemplate,
			}
			if err := s.workflowRepo.CreateTransition(tx, newTransition); err != nil {
				return err
			}
			copy.Transitions = append(copy.Transitions, newTransition)
		}

		for _, a := range source.Automations {
			newAutomation := &models.Automation{
				WorkflowID:    copy.ID,
				Trigger:       a.Trigger,
				ActionType:    a.ActionType,
				RawConfig:     a.RawConfig,
				RawConditions: a.RawConditions,
				DelayMinutes:  a.DelayMinutes,
				IsActive:      a.IsActive,
			}
			if a.StepID != nil {
				newStepID, ok := stepIDMap[*a.StepID]
				if !ok {
					return fmt.Errorf("%w: automation %d references unknown step %d", ErrValidation, a.ID, *a.StepID)
				}
				newAutomation.StepID = &newStepID
			}
			if err := s.workflowRepo.CreateAutomation(tx, newAutomation); err != nil {
				return err
			}
			copy.Automations = append(copy.Automations, newAutomation)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow duplicated",
		zap.Int64("source_id", sourceID),
		zap.Int64("copy_id", copy.ID),
		zap.String("name", newName))

	return copy, nil
}
