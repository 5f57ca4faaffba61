package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// HistoryRepository handles the append-only request state history ledger.
// Entries are never updated or deleted.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a new history entry
func (r *HistoryRepository) Create(tx *sql.Tx, entry *models.StateHistory) error {
	query := `
		INSERT INTO request_state_history (
			request_id, from_state, to_state, changed_by, changed_at,
			duration_in_previous_state, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var fromState, changedBy, duration interface{}
	if entry.FromState != nil {
		fromState = *entry.FromState
	}
	if entry.ChangedBy != nil {
		changedBy = *entry.ChangedBy
	}
	if entry.DurationSeconds != nil {
		duration = *entry.DurationSeconds
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	result, err := conn(r.db, tx).Exec(query,
		entry.RequestID, fromState, entry.ToState, changedBy, entry.ChangedAt,
		duration, entry.Notes)
	if err != nil {
		r.logger.Error("Failed to create state history entry",
			zap.Int64("request_id", entry.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	entry.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// Latest retrieves the most recent entry for a request, or nil if none exists
func (r *HistoryRepository) Latest(tx *sql.Tx, requestID int64) (*models.StateHistory, error) {
	query := historySelect + `
		WHERE request_id = ?
		ORDER BY changed_at DESC, id DESC
		LIMIT 1`
	rows, err := conn(r.db, tx).Query(query, requestID)
	if err != nil {
		r.logger.Error("Failed to get latest history entry",
			zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get latest history entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// ListByRequest retrieves all entries for a request in chronological order
func (r *HistoryRepository) ListByRequest(requestID int64) ([]*models.StateHistory, error) {
	query := historySelect + `
		WHERE request_id = ?
		ORDER BY changed_at ASC, id ASC`
	rows, err := r.db.Query(query, requestID)
	if err != nil {
		r.logger.Error("Failed to list history",
			zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

const historySelect = `
	SELECT id, request_id, from_state, to_state, changed_by, changed_at,
		duration_in_previous_state, notes
	FROM request_state_history`

func scanHistory(rows *sql.Rows) ([]*models.StateHistory, error) {
	var entries []*models.StateHistory
	for rows.Next() {
		var e models.StateHistory
		var fromState sql.NullString
		var changedBy, duration sql.NullInt64
		err := rows.Scan(&e.ID, &e.RequestID, &fromState, &e.ToState,
			&changedBy, &e.ChangedAt, &duration, &e.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if fromState.Valid {
			e.FromState = &fromState.String
		}
		if changedBy.Valid {
			e.ChangedBy = &changedBy.Int64
		}
		if duration.Valid {
			e.DurationSeconds = &duration.Int64
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AverageDurations aggregates count/avg/min/max dwell seconds per state over
// entries with a non-null duration, optionally windowed to the trailing days
// and scoped to a tenant via the owning request.
//
// duration_in_previous_state is the time accrued in the state being left, so
// the stats group by from_state: each bucket reports how long requests sat in
// that state before moving on.
func (r *HistoryRepository) AverageDurations(companyID *int64, days int) ([]*models.StateDurationStats, error) {
	query := `
		SELECT h.from_state, COUNT(*),
			AVG(h.duration_in_previous_state),
			MIN(h.duration_in_previous_state),
			MAX(h.duration_in_previous_state)
		FROM request_state_history h
		JOIN service_requests r ON r.id = h.request_id
		WHERE h.duration_in_previous_state IS NOT NULL
			AND h.from_state IS NOT NULL
	`
	var args []interface{}
	if companyID != nil {
		query += " AND r.company_id = ?"
		args = append(args, *companyID)
	}
	if days > 0 {
		query += " AND h.changed_at >= ?"
		args = append(args, time.Now().UTC().AddDate(0, 0, -days))
	}
	query += " GROUP BY h.from_state ORDER BY h.from_state"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to aggregate state durations", zap.Error(err))
		return nil, fmt.Errorf("failed to aggregate state durations: %w", err)
	}
	defer rows.Close()

	var stats []*models.StateDurationStats
	for rows.Next() {
		var s models.StateDurationStats
		err := rows.Scan(&s.State, &s.Count, &s.AvgSeconds, &s.MinSeconds, &s.MaxSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duration stats: %w", err)
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}
