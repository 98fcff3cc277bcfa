package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
)

type UserRepository interface {
	Insert(ctx context.Context, user *models.User) (string, error)
	GetOne(ctx context.Context, id string) (*models.User, bool, error)
	GetByEmail(ctx context.Context, email string) (*models.User, bool, error)

	// ListWithoutApplications returns users created between from and to that never applied.
	ListWithoutApplications(ctx context.Context, from, to time.Time) ([]models.User, error)
}

type UserRepositoryImpl struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (repo *UserRepositoryImpl) Insert(ctx context.Context, user *models.User) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	role := user.Role
	if role == "" {
		role = models.UserRoleBorrower
	}

	var id string
	query := `
		INSERT INTO users (first_name, last_name, email, role, phone_number, hashed_password)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := repo.db.GetContext(ctx, &id, query,
		user.FirstName,
		user.LastName,
		user.Email,
		role,
		user.PhoneNumber,
		user.HashedPassword,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicate
		}
		return "", err
	}

	return id, nil
}

func (repo *UserRepositoryImpl) GetOne(ctx context.Context, id string) (*models.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var user models.User

	query := `SELECT * FROM users WHERE id = $1 AND deleted_at IS NULL`

	err := repo.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &user, true, nil
}

func (repo *UserRepositoryImpl) GetByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var user models.User

	query := `SELECT * FROM users WHERE email = $1 AND deleted_at IS NULL`

	err := repo.db.GetContext(ctx, &user, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &user, true, nil
}

func (repo *UserRepositoryImpl) ListWithoutApplications(ctx context.Context, from, to time.Time) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var users []models.User

	query := `
		SELECT u.* FROM users u
		WHERE u.deleted_at IS NULL
			AND u.role = $1
			AND u.created_at >= $2 AND u.created_at <= $3
			AND NOT EXISTS (SELECT 1 FROM loan_applications a WHERE a.user_id = u.id)
		ORDER BY u.created_at`

	err := repo.db.SelectContext(ctx, &users, query, models.UserRoleBorrower, from, to)
	if err != nil {
		return nil, err
	}

	return users, nil
}
