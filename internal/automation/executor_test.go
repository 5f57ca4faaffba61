package automation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/internal/workflow"
	"github.com/practicehq/crm/pkg/database"
)

// recordingNotifier captures outbound notifications for assertions
type recordingNotifier struct {
	assignments []int64
	automations []string
	emails      []string
}

func (n *recordingNotifier) SendAssignmentNotification(ctx context.Context, request *models.ServiceRequest, accountant *models.User) error {
	n.assignments = append(n.assignments, accountant.ID)
	return nil
}

func (n *recordingNotifier) SendWorkflowTransitionNotification(ctx context.Context, request *models.ServiceRequest, recipients []*models.User, transitionName, newStatus string, triggeredBy *models.User) error {
	return nil
}

func (n *recordingNotifier) SendAutomationNotification(ctx context.Context, request *models.ServiceRequest, recipients []*models.User, subject, template string) error {
	n.automations = append(n.automations, subject)
	return nil
}

func (n *recordingNotifier) SendCustomEmail(ctx context.Context, to, subject, template, body string, renderCtx map[string]interface{}) error {
	n.emails = append(n.emails, to)
	return nil
}

type executorEnv struct {
	db             *database.DB
	requestRepo    *repository.RequestRepository
	userRepo       *repository.UserRepository
	taskRepo       *repository.TaskRepository
	assignmentRepo *repository.AssignmentRepository
	notifier       *recordingNotifier
	executor       *Executor
	companyID      int64
	seq            int64
}

func newExecutorEnv(t *testing.T) *executorEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "crm.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations(context.Background(), "../../migrations"))

	res, err := db.Exec(`INSERT INTO companies (name) VALUES ('Test Practice')`)
	require.NoError(t, err)
	companyID, err := res.LastInsertId()
	require.NoError(t, err)

	requestRepo := repository.NewRequestRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)
	taskRepo := repository.NewTaskRepository(db.DB, logger)
	assignmentRepo := repository.NewAssignmentRepository(db.DB, logger)

	notifier := &recordingNotifier{}
	assigner := workflow.NewAssigner(requestRepo, userRepo, logger)
	webhooks := NewWebhookClient(5*time.Second, logger)
	executor := NewExecutor(db, requestRepo, userRepo, taskRepo, assignmentRepo, assigner, notifier, webhooks, logger)

	return &executorEnv{
		db:             db,
		requestRepo:    requestRepo,
		userRepo:       userRepo,
		taskRepo:       taskRepo,
		assignmentRepo: assignmentRepo,
		notifier:       notifier,
		executor:       executor,
		companyID:      companyID,
	}
}

func (e *executorEnv) createUser(t *testing.T, name, role string) *models.User {
	t.Helper()
	u := &models.User{
		CompanyID: e.companyID,
		Name:      name,
		Email:     name + "@test.local",
		Role:      role,
		IsActive:  true,
	}
	require.NoError(t, e.userRepo.Create(nil, u))
	return u
}

func (e *executorEnv) createRequest(t *testing.T, client *models.User, mutate func(*models.ServiceRequest)) *models.ServiceRequest {
	t.Helper()
	e.seq++
	req := &models.ServiceRequest{
		CompanyID:     e.companyID,
		ClientID:      client.ID,
		RequestNumber: fmt.Sprintf("SR-%04d", e.seq),
		Status:        "pending",
	}
	if mutate != nil {
		mutate(req)
	}
	require.NoError(t, e.requestRepo.Create(nil, req))
	got, err := e.requestRepo.GetByID(req.ID)
	require.NoError(t, err)
	return got
}

func notifyAutomation(rawConditions string) *models.Automation {
	return &models.Automation{
		ID:            1,
		WorkflowID:    1,
		Trigger:       models.TriggerOnEnter,
		ActionType:    models.ActionNotify,
		RawConfig:     `{"to":"admins","subject":"heads up"}`,
		RawConditions: rawConditions,
		IsActive:      true,
	}
}

func TestConditionsMet(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }
	strPtr := func(s string) *string { return &s }
	accountantID := int64(5)

	assigned := &models.ServiceRequest{
		AssignedAccountantID: &accountantID,
		InvoiceRaised:        true,
		Priority:             models.PriorityUrgent,
	}
	bare := &models.ServiceRequest{Priority: models.PriorityNormal}

	tests := []struct {
		name       string
		conditions models.AutomationConditions
		request    *models.ServiceRequest
		expected   bool
	}{
		{"empty conditions always pass", models.AutomationConditions{}, bare, true},
		{"invoice raised required and set", models.AutomationConditions{RequiresInvoiceRaised: boolPtr(true)}, assigned, true},
		{"invoice raised required and missing", models.AutomationConditions{RequiresInvoiceRaised: boolPtr(true)}, bare, false},
		{"invoice explicitly not raised", models.AutomationConditions{RequiresInvoiceRaised: boolPtr(false)}, bare, true},
		{"assignment required and present", models.AutomationConditions{RequiresAssignment: boolPtr(true)}, assigned, true},
		{"assignment required and absent", models.AutomationConditions{RequiresAssignment: boolPtr(true)}, bare, false},
		{"priority matches", models.AutomationConditions{Priority: strPtr(models.PriorityUrgent)}, assigned, true},
		{"priority mismatch", models.AutomationConditions{Priority: strPtr(models.PriorityUrgent)}, bare, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, conditionsMet(&tt.conditions, tt.request))
		})
	}
}

func TestExecutor_SkipsWhenConditionsNotMet(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	env.createUser(t, "admin", models.RoleAdmin)
	req := env.createRequest(t, client, nil)

	err := env.executor.Execute(context.Background(), notifyAutomation(`{"priority":"urgent"}`), req)

	require.NoError(t, err, "unmet conditions are a silent skip")
	assert.Empty(t, env.notifier.automations)
}

func TestExecutor_Notify(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	env.createUser(t, "admin", models.RoleAdmin)
	req := env.createRequest(t, client, nil)

	err := env.executor.Execute(context.Background(), notifyAutomation(""), req)

	require.NoError(t, err)
	assert.Equal(t, []string{"heads up"}, env.notifier.automations)
}

func TestExecutor_AutoAssign(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	accountant := env.createUser(t, "alice", models.RoleAccountant)
	req := env.createRequest(t, client, nil)

	auto := &models.Automation{
		WorkflowID: 1,
		Trigger:    models.TriggerOnEnter,
		ActionType: models.ActionAutoAssign,
		RawConfig:  `{"strategy":"least_busy"}`,
		IsActive:   true,
	}

	require.NoError(t, env.executor.Execute(context.Background(), auto, req))

	updated, err := env.requestRepo.GetByID(req.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedAccountantID)
	assert.Equal(t, accountant.ID, *updated.AssignedAccountantID)

	ledger, err := env.assignmentRepo.ListByRequest(req.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, accountant.ID, ledger[0].ToUserID)
	assert.Equal(t, int64(0), ledger[0].AssignedBy, "system assignments carry no user id")
	assert.Equal(t, models.AssignmentInitial, ledger[0].AssignmentType)

	assert.Equal(t, []int64{accountant.ID}, env.notifier.assignments)
}

func TestExecutor_AutoAssign_AlreadyAssignedIsNoop(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	accountant := env.createUser(t, "alice", models.RoleAccountant)
	env.createUser(t, "bob", models.RoleAccountant)

	req := env.createRequest(t, client, func(r *models.ServiceRequest) {
		r.AssignedAccountantID = &accountant.ID
	})

	auto := &models.Automation{
		WorkflowID: 1,
		Trigger:    models.TriggerOnEnter,
		ActionType: models.ActionAutoAssign,
		RawConfig:  `{"strategy":"round_robin"}`,
		IsActive:   true,
	}

	require.NoError(t, env.executor.Execute(context.Background(), auto, req))

	updated, err := env.requestRepo.GetByID(req.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedAccountantID)
	assert.Equal(t, accountant.ID, *updated.AssignedAccountantID)

	ledger, err := env.assignmentRepo.ListByRequest(req.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)
	assert.Empty(t, env.notifier.assignments)
}

func TestExecutor_UpdateField(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	req := env.createRequest(t, client, nil)

	run := func(field, value string) error {
		auto := &models.Automation{
			WorkflowID: 1,
			Trigger:    models.TriggerOnEnter,
			ActionType: models.ActionUpdateField,
			RawConfig:  fmt.Sprintf(`{"field":%q,"value":%q}`, field, value),
			IsActive:   true,
		}
		return env.executor.Execute(context.Background(), auto, req)
	}

	require.NoError(t, run("priority", models.PriorityUrgent))
	require.NoError(t, run("internal_notes", "escalated by automation"))

	updated, err := env.requestRepo.GetByID(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, updated.Priority)
	assert.Equal(t, "escalated by automation", updated.InternalNotes)

	// Everything outside the allow-list is rejected without error, so a
	// config typo never churns through outbox retries
	require.NoError(t, run("status", "completed"))
	unchanged, err := env.requestRepo.GetByID(req.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Status, unchanged.Status)
}

func TestExecutor_CreateTask(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	accountant := env.createUser(t, "alice", models.RoleAccountant)

	req := env.createRequest(t, client, func(r *models.ServiceRequest) {
		r.AssignedAccountantID = &accountant.ID
	})

	auto := &models.Automation{
		WorkflowID: 1,
		Trigger:    models.TriggerOnEnter,
		ActionType: models.ActionCreateTask,
		RawConfig:  `{"description":"chase the client"}`,
		IsActive:   true,
	}

	require.NoError(t, env.executor.Execute(context.Background(), auto, req))

	tasks, err := env.taskRepo.ListByRequest(req.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, fmt.Sprintf("Follow up on request %s", req.RequestNumber), tasks[0].Title)
	assert.Equal(t, "chase the client", tasks[0].Description)
	require.NotNil(t, tasks[0].AssigneeID, "defaults to the assigned accountant")
	assert.Equal(t, accountant.ID, *tasks[0].AssigneeID)
	assert.Equal(t, "open", tasks[0].Status)
}

func TestExecutor_Email_FallsBackToClient(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	req := env.createRequest(t, client, nil)

	auto := &models.Automation{
		WorkflowID: 1,
		Trigger:    models.TriggerOnEnter,
		ActionType: models.ActionEmail,
		RawConfig:  `{"subject":"Update on your request"}`,
		IsActive:   true,
	}

	require.NoError(t, env.executor.Execute(context.Background(), auto, req))
	assert.Equal(t, []string{"client@test.local"}, env.notifier.emails)
}

func TestExecutor_UnknownActionType(t *testing.T) {
	env := newExecutorEnv(t)
	client := env.createUser(t, "client", models.RoleUser)
	req := env.createRequest(t, client, nil)

	auto := &models.Automation{
		WorkflowID: 1,
		Trigger:    models.TriggerOnEnter,
		ActionType: "teleport",
		IsActive:   true,
	}

	err := env.executor.Execute(context.Background(), auto, req)
	require.Error(t, err)
}
