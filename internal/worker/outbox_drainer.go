package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/practicehq/crm/internal/automation"
	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/repository"
	"go.uber.org/zap"
)

// OutboxDrainer polls the automation job outbox and executes due jobs.
// Failed jobs retry with exponential backoff until MaxAttempts, then park as
// dead. One failing job never blocks the others in a batch.
type OutboxDrainer struct {
	outboxRepo   *repository.OutboxRepository
	workflowRepo *repository.WorkflowRepository
	requestRepo  *repository.RequestRepository
	executor     *automation.Executor
	logger       *zap.Logger

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseBackoff  time.Duration

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// DrainerConfig holds outbox drainer configuration
type DrainerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
}

// NewOutboxDrainer creates a new outbox drainer
func NewOutboxDrainer(
	outboxRepo *repository.OutboxRepository,
	workflowRepo *repository.WorkflowRepository,
	requestRepo *repository.RequestRepository,
	executor *automation.Executor,
	cfg DrainerConfig,
	logger *zap.Logger,
) *OutboxDrainer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	return &OutboxDrainer{
		outboxRepo:   outboxRepo,
		workflowRepo: workflowRepo,
		requestRepo:  requestRepo,
		executor:     executor,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		baseBackoff:  cfg.BaseBackoff,
	}
}

// Start starts the drain loop
func (d *OutboxDrainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("outbox drainer is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.isRunning = true

	d.logger.Info("OutboxDrainer started",
		zap.Duration("poll_interval", d.pollInterval),
		zap.Int("batch_size", d.batchSize),
		zap.Int("max_attempts", d.maxAttempts))

	go d.drainLoop()
	return nil
}

// Stop stops the drain loop
func (d *OutboxDrainer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return
	}
	d.isRunning = false
	if d.cancel != nil {
		d.cancel()
	}
}

// Name returns the worker name
func (d *OutboxDrainer) Name() string {
	return "OutboxDrainer"
}

func (d *OutboxDrainer) drainLoop() {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.DrainOnce(d.ctx)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(d.ctx)
		}
	}
}

// DrainOnce claims and executes one batch of due jobs
func (d *OutboxDrainer) DrainOnce(ctx context.Context) {
	jobs, err := d.outboxRepo.Due(d.batchSize)
	if err != nil {
		d.logger.Error("Failed to fetch due automation jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.runJob(ctx, job)
	}
}

// runJob executes one job; its failure is recorded on the job row only.
func (d *OutboxDrainer) runJob(ctx context.Context, job *models.AutomationJob) {
	err := d.executeJob(ctx, job)
	if err == nil {
		if markErr := d.outboxRepo.MarkDone(job.ID); markErr != nil {
			d.logger.Error("Failed to mark job done", zap.Int64("job_id", job.ID), zap.Error(markErr))
		}
		return
	}

	d.logger.Error("Automation job failed",
		zap.Int64("job_id", job.ID),
		zap.Int64("automation_id", job.AutomationID),
		zap.Int64("request_id", job.RequestID),
		zap.String("trigger", string(job.Trigger)),
		zap.Int("attempt", job.Attempts+1),
		zap.Error(err))

	if job.Attempts+1 >= d.maxAttempts {
		if markErr := d.outboxRepo.MarkDead(job.ID, err.Error()); markErr != nil {
			d.logger.Error("Failed to mark job dead", zap.Int64("job_id", job.ID), zap.Error(markErr))
		}
		return
	}

	// Exponential backoff: base * 2^attempts
	backoff := d.baseBackoff << uint(job.Attempts)
	nextRun := time.Now().UTC().Add(backoff)
	if markErr := d.outboxRepo.MarkFailed(job.ID, err.Error(), nextRun); markErr != nil {
		d.logger.Error("Failed to mark job failed", zap.Int64("job_id", job.ID), zap.Error(markErr))
	}
}

func (d *OutboxDrainer) executeJob(ctx context.Context, job *models.AutomationJob) error {
	auto, err := d.workflowRepo.GetAutomation(job.AutomationID)
	if err != nil {
		return err
	}
	if auto == nil || !auto.IsActive {
		// Automation deleted or deactivated since enqueue
		return nil
	}

	request, err := d.requestRepo.GetByID(job.RequestID)
	if err != nil {
		return err
	}
	if request == nil {
		return fmt.Errorf("request %d no longer exists", job.RequestID)
	}

	// A delayed job is scoped to the step the request was on at enqueue
	// time. If the request has moved on before the delay elapsed, the
	// trigger is stale and must not fire.
	if job.Trigger == models.TriggerAfterDuration && auto.StepID != nil {
		if request.CurrentStepID == nil || *request.CurrentStepID != *auto.StepID {
			d.logger.Debug("Skipping delayed automation, request left the step",
				zap.Int64("job_id", job.ID),
				zap.Int64("automation_id", auto.ID),
				zap.Int64("request_id", request.ID))
			return nil
		}
	}

	return d.executor.Execute(ctx, auto, request)
}
