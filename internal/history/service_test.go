package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/pkg/database"
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "crm.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations(context.Background(), "../../migrations"))

	// History rows need a real request behind the foreign keys
	_, err = db.Exec(`INSERT INTO companies (name) VALUES ('Test Practice')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (company_id, name, email, role) VALUES (1, 'client', 'client@test.local', 'user')`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO service_requests (company_id, client_id, request_number, status, priority)
		VALUES (1, 1, 'SR-0001', 'pending', 'normal')`)
	require.NoError(t, err)

	svc := NewService(repository.NewHistoryRepository(db.DB, logger), logger)
	return svc, db
}

func TestService_RecordStateChange_Durations(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	first, err := svc.RecordStateChange(nil, 1, nil, "pending", nil, "")
	require.NoError(t, err)
	assert.Nil(t, first.FromState)
	assert.Nil(t, first.DurationSeconds, "first entry has no previous state to measure")

	clock = base.Add(90 * time.Second)
	from := "pending"
	actor := int64(1)
	second, err := svc.RecordStateChange(nil, 1, &from, "assigned", &actor, "picked up")
	require.NoError(t, err)
	require.NotNil(t, second.DurationSeconds)
	assert.Equal(t, int64(90), *second.DurationSeconds)

	// Sub-second remainders floor away
	clock = clock.Add(30*time.Second + 700*time.Millisecond)
	from = "assigned"
	third, err := svc.RecordStateChange(nil, 1, &from, "processing", &actor, "")
	require.NoError(t, err)
	require.NotNil(t, third.DurationSeconds)
	assert.Equal(t, int64(30), *third.DurationSeconds)

	entries, err := svc.History(1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "pending", entries[0].ToState)
	assert.Equal(t, "processing", entries[2].ToState)
}

func TestService_StateDurations(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	_, err := svc.RecordStateChange(nil, 1, nil, "pending", nil, "")
	require.NoError(t, err)

	clock = base.Add(10 * time.Minute)
	from := "pending"
	_, err = svc.RecordStateChange(nil, 1, &from, "processing", nil, "")
	require.NoError(t, err)

	clock = base.Add(25 * time.Minute)
	from = "processing"
	_, err = svc.RecordStateChange(nil, 1, &from, "query", nil, "")
	require.NoError(t, err)

	clock = base.Add(30 * time.Minute)
	from = "query"
	_, err = svc.RecordStateChange(nil, 1, &from, "processing", nil, "")
	require.NoError(t, err)

	clock = base.Add(42 * time.Minute)

	buckets, err := svc.StateDurations(1)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, buckets["pending"])
	// Two processing stints: 15 minutes, then 12 minutes accruing to now
	assert.Equal(t, 27*time.Minute, buckets["processing"])
	assert.Equal(t, 5*time.Minute, buckets["query"])

	var total time.Duration
	for _, d := range buckets {
		total += d
	}
	assert.Equal(t, 42*time.Minute, total, "buckets sum to now minus the first entry")
}

func TestService_StateDurations_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	buckets, err := svc.StateDurations(1)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestService_AverageStateDurations(t *testing.T) {
	svc, db := newTestService(t)

	// Second request in the same tenant
	_, err := db.Exec(`
		INSERT INTO service_requests (company_id, client_id, request_number, status, priority)
		VALUES (1, 1, 'SR-0002', 'pending', 'normal')`)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	for reqID := int64(1); reqID <= 2; reqID++ {
		clock = base
		_, err := svc.RecordStateChange(nil, reqID, nil, "pending", nil, "")
		require.NoError(t, err)

		// Request 1 dwells 100s in pending, request 2 dwells 300s
		if reqID == 1 {
			clock = base.Add(100 * time.Second)
		} else {
			clock = base.Add(300 * time.Second)
		}
		from := "pending"
		_, err = svc.RecordStateChange(nil, reqID, &from, "assigned", nil, "")
		require.NoError(t, err)
	}

	companyID := int64(1)
	stats, err := svc.AverageStateDurations(&companyID, 0)
	require.NoError(t, err)

	var pending *models.StateDurationStats
	for _, s := range stats {
		if s.State == "pending" {
			pending = s
		}
	}
	require.NotNil(t, pending)
	assert.Equal(t, int64(2), pending.Count)
	assert.InDelta(t, 200, pending.AvgSeconds, 0.01)
	assert.Equal(t, int64(100), pending.MinSeconds)
	assert.Equal(t, int64(300), pending.MaxSeconds)
}
