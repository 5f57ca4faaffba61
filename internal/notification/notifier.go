// Package notification defines the contract with the notification
// collaborator. The core supplies recipient lists and rendering context;
// template resolution and actual delivery are the collaborator's concern.
package notification

import (
	"context"

	"github.com/practicehq/crm/internal/models"
)

// Notifier is the external notification collaborator
type Notifier interface {
	// SendAssignmentNotification tells the assigned accountant about a new assignment
	SendAssignmentNotification(ctx context.Context, request *models.ServiceRequest, accountant *models.User) error

	// SendWorkflowTransitionNotification notifies recipients about an executed transition
	SendWorkflowTransitionNotification(ctx context.Context, request *models.ServiceRequest, recipients []*models.User, transitionName, newStatus string, triggeredBy *models.User) error

	// SendAutomationNotification delivers a notify-automation message
	SendAutomationNotification(ctx context.Context, request *models.ServiceRequest, recipients []*models.User, subject, template string) error

	// SendCustomEmail delivers an email-automation message
	SendCustomEmail(ctx context.Context, to, subject, template, body string, renderCtx map[string]interface{}) error
}
