// Package report renders workflow analytics into Excel workbooks.
package report

import (
	"fmt"
	"time"

	"github.com/practicehq/crm/internal/history"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DurationReporter exports average state-duration statistics as a workbook
type DurationReporter struct {
	historySvc *history.Service
	logger     *zap.Logger
}

// NewDurationReporter creates a new duration reporter
func NewDurationReporter(historySvc *history.Service, logger *zap.Logger) *DurationReporter {
	return &DurationReporter{
		historySvc: historySvc,
		logger:     logger,
	}
}

// Workbook builds an xlsx workbook of per-state dwell statistics, optionally
// scoped to a tenant and windowed to the trailing days. The caller owns the
// returned file and must Close it.
func (r *DurationReporter) Workbook(companyID *int64, days int) (*excelize.File, error) {
	stats, err := r.historySvc.AverageStateDurations(companyID, days)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "State Durations"
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headers := []string{"State", "Transitions", "Avg (hours)", "Min (hours)", "Max (hours)"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, s := range stats {
		values := []interface{}{
			s.State,
			s.Count,
			s.AvgSeconds / 3600,
			float64(s.MinSeconds) / 3600,
			float64(s.MaxSeconds) / 3600,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	r.logger.Info("Built state duration report",
		zap.Int("states", len(stats)),
		zap.Int("window_days", days),
		zap.Time("generated_at", time.Now().UTC()))
	return f, nil
}
