package workflow

import (
	"fmt"

	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/repository"
	"go.uber.org/zap"
)

// Assigner picks the accountant for auto-assignment. Candidate sets come
// from the directory in stable company order; the strategies depend on that
// ordering for tie-breaks and wrap-around.
type Assigner struct {
	requestRepo *repository.RequestRepository
	userRepo    *repository.UserRepository
	logger      *zap.Logger
}

// NewAssigner creates a new assigner
func NewAssigner(requestRepo *repository.RequestRepository, userRepo *repository.UserRepository, logger *zap.Logger) *Assigner {
	return &Assigner{
		requestRepo: requestRepo,
		userRepo:    userRepo,
		logger:      logger,
	}
}

// PickAccountant selects a candidate per the configured strategy. Returns
// nil (no error) when no candidate exists and no admin fallback applies.
//
// Two concurrent auto-assignments can observe the same open-request counts
// and pick the same accountant; SQLite's single-writer model narrows but
// does not close that window.
func (a *Assigner) PickAccountant(companyID int64, cfg *models.AssignConfig) (*models.User, error) {
	var picked *models.User
	var err error

	switch cfg.Strategy {
	case models.StrategyLeastBusy:
		picked, err = a.leastBusy(companyID)
	case models.StrategyRoundRobin:
		picked, err = a.roundRobin(companyID)
	case models.StrategySpecific:
		picked, err = a.userRepo.GetByID(cfg.AccountantID)
	default:
		return nil, fmt.Errorf("unknown assignment strategy: %s", cfg.Strategy)
	}
	if err != nil {
		return nil, err
	}

	if picked == nil && cfg.FallbackToAdmin {
		admins, err := a.userRepo.ActiveByRole(companyID, models.RoleAdmin)
		if err != nil {
			return nil, err
		}
		if len(admins) > 0 {
			picked = admins[0]
			a.logger.Info("Auto-assign falling back to admin",
				zap.Int64("company_id", companyID),
				zap.Int64("admin_id", picked.ID))
		}
	}

	return picked, nil
}

// leastBusy picks the accountant with the fewest open requests. Ties break
// by iteration order over the company's accountant list: first encountered
// wins.
func (a *Assigner) leastBusy(companyID int64) (*models.User, error) {
	accountants, err := a.userRepo.ActiveByRole(companyID, models.RoleAccountant)
	if err != nil {
		return nil, err
	}
	if len(accountants) == 0 {
		return nil, nil
	}

	var best *models.User
	bestCount := -1
	for _, accountant := range accountants {
		count, err := a.requestRepo.CountOpenByAccountant(accountant.ID)
		if err != nil {
			return nil, err
		}
		if best == nil || count < bestCount {
			best = accountant
			bestCount = count
		}
	}
	return best, nil
}

// roundRobin picks the accountant after the one most recently assigned in
// the company (wrapping to the first), defaulting to the first accountant
// when no prior assignment exists.
func (a *Assigner) roundRobin(companyID int64) (*models.User, error) {
	accountants, err := a.userRepo.ActiveByRole(companyID, models.RoleAccountant)
	if err != nil {
		return nil, err
	}
	if len(accountants) == 0 {
		return nil, nil
	}

	lastID, err := a.requestRepo.LatestAssignedAccountant(companyID)
	if err != nil {
		return nil, err
	}
	if lastID == nil {
		return accountants[0], nil
	}

	for i, accountant := range accountants {
		if accountant.ID == *lastID {
			return accountants[(i+1)%len(accountants)], nil
		}
	}
	// Last assignee no longer in the candidate list (deactivated or demoted)
	return accountants[0], nil
}
