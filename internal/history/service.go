// Package history maintains the append-only state-duration ledger used for
// workflow analytics.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/repository"
	"go.uber.org/zap"
)

// Service records state changes and replays them into duration buckets
type Service struct {
	historyRepo *repository.HistoryRepository
	logger      *zap.Logger

	now func() time.Time
}

// NewService creates a new history service
func NewService(historyRepo *repository.HistoryRepository, logger *zap.Logger) *Service {
	return &Service{
		historyRepo: historyRepo,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RecordStateChange appends one ledger entry. The duration in the previous
// state is floor(now - last.changed_at) seconds, nil on the first entry ever
// for the request. Runs inside the caller's transaction when tx is non-nil.
func (s *Service) RecordStateChange(tx *sql.Tx, requestID int64, fromState *string, toState string, actorID *int64, notes string) (*models.StateHistory, error) {
	last, err := s.historyRepo.Latest(tx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest history entry: %w", err)
	}

	now := s.now()
	entry := &models.StateHistory{
		RequestID: requestID,
		FromState: fromState,
		ToState:   toState,
		ChangedBy: actorID,
		ChangedAt: now,
		Notes:     notes,
	}
	if last != nil {
		duration := int64(now.Sub(last.ChangedAt).Seconds())
		entry.DurationSeconds = &duration
	}

	if err := s.historyRepo.Create(tx, entry); err != nil {
		return nil, err
	}

	s.logger.Debug("Recorded state change",
		zap.Int64("request_id", requestID),
		zap.String("to_state", toState))
	return entry, nil
}

// History retrieves a request's full ledger in chronological order
func (s *Service) History(requestID int64) ([]*models.StateHistory, error) {
	return s.historyRepo.ListByRequest(requestID)
}

// StateDurations replays a request's ledger and accumulates, per state, the
// time spent in it. The last entry accrues up to now, so the buckets sum
// exactly to now - first_entry.changed_at.
func (s *Service) StateDurations(requestID int64) (map[string]time.Duration, error) {
	entries, err := s.historyRepo.ListByRequest(requestID)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]time.Duration)
	for i, entry := range entries {
		var until time.Time
		if i+1 < len(entries) {
			until = entries[i+1].ChangedAt
		} else {
			until = s.now()
		}
		buckets[entry.ToState] += until.Sub(entry.ChangedAt)
	}
	return buckets, nil
}

// AverageStateDurations aggregates dwell statistics per state, optionally
// scoped to a tenant and windowed to the trailing days.
func (s *Service) AverageStateDurations(companyID *int64, days int) ([]*models.StateDurationStats, error) {
	return s.historyRepo.AverageDurations(companyID, days)
}
