package repository

import (
	"database/sql"
	"fmt"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// UserRepository is the directory collaborator: lookup of active users by
// role and tenant.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userSelect = `
	SELECT id, company_id, name, email, role, is_active
	FROM users`

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(id int64) (*models.User, error) {
	users, err := r.queryUsers(userSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

// ActiveByRole retrieves the tenant's active users of a role in stable
// company order (ascending id). Assignment strategies depend on this ordering.
func (r *UserRepository) ActiveByRole(companyID int64, role string) ([]*models.User, error) {
	query := userSelect + " WHERE company_id = ? AND role = ? AND is_active = 1 ORDER BY id"
	return r.queryUsers(query, companyID, role)
}

// Create inserts a new user
func (r *UserRepository) Create(tx *sql.Tx, u *models.User) error {
	query := `
		INSERT INTO users (company_id, name, email, role, is_active)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := conn(r.db, tx).Exec(query, u.CompanyID, u.Name, u.Email, u.Role, u.IsActive)
	if err != nil {
		r.logger.Error("Failed to create user", zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

func (r *UserRepository) queryUsers(query string, args ...interface{}) ([]*models.User, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		err := rows.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.Role, &u.IsActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
