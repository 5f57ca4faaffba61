package notification

import (
	"context"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// LogNotifier is the default Notifier implementation. It records every
// notification through the structured logger; deployments swap in a real
// delivery collaborator behind the same interface.
type LogNotifier struct {
	senderName string
	logger     *zap.Logger
}

// NewLogNotifier creates a new log-backed notifier
func NewLogNotifier(senderName string, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{
		senderName: senderName,
		logger:     logger,
	}
}

// SendAssignmentNotification logs an assignment notification
func (n *LogNotifier) SendAssignmentNotification(ctx context.Context, request *models.ServiceRequest, accountant *models.User) error {
	n.logger.Info("Assignment notification",
		zap.String("sender", n.senderName),
		zap.Int64("request_id", request.ID),
		zap.String("request_number", request.RequestNumber),
		zap.Int64("accountant_id", accountant.ID),
		zap.String("accountant_email", accountant.Email))
	return nil
}

// SendWorkflowTransitionNotification logs a transition notification
func (n *LogNotifier) SendWorkflowTransitionNotification(ctx context.Context, request *models.ServiceRequest, recipients []*models.User, transitionName, newStatus string, triggeredBy *models.User) error {
	emails := make([]string, 0, len(recipients))
	for _, u := range recipients {
		emails = append(emails, u.Email)
	}
	var actorID int64
	if triggeredBy != nil {
		actorID = triggeredBy.ID
	}
	n.logger.Info("Workflow transition notification",
		zap.Int64("request_id", request.ID),
		zap.String("transition", transitionName),
		zap.String("new_status", newStatus),
		zap.Int64("triggered_by", actorID),
		zap.Strings("recipients", emails))
	return nil
}

// SendAutomationNotification logs an automation notification
func (n *LogNotifier) SendAutomationNotification(ctx context.Context, request *models.ServiceRequest, recipients []*models.User, subject, template string) error {
	emails := make([]string, 0, len(recipients))
	for _, u := range recipients {
		emails = append(emails, u.Email)
	}
	n.logger.Info("Automation notification",
		zap.Int64("request_id", request.ID),
		zap.String("subject", subject),
		zap.String("template", template),
		zap.Strings("recipients", emails))
	return nil
}

// SendCustomEmail logs a custom email
func (n *LogNotifier) SendCustomEmail(ctx context.Context, to, subject, template, body string, renderCtx map[string]interface{}) error {
	n.logger.Info("Custom email",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("template", template),
		zap.Any("context", renderCtx))
	return nil
}
