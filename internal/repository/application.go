package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type ApplicationRepository interface {
	Insert(ctx context.Context, app *models.Application) (*models.Application, error)
	GetOne(ctx context.Context, id string) (*models.Application, bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.Application, error)
	ListByStatus(ctx context.Context, statuses ...models.ApplicationStatus) ([]models.Application, error)

	// CompareAndSwap writes next only while the stored status still equals expected.
	// It reports false when another writer moved the row first.
	CompareAndSwap(ctx context.Context, next *models.Application, expected models.ApplicationStatus) (bool, error)
}

type ApplicationRepositoryImpl struct {
	db *sqlx.DB
}

func NewApplicationRepository(db *sqlx.DB) ApplicationRepository {
	return &ApplicationRepositoryImpl{db: db}
}

func (repo *ApplicationRepositoryImpl) Insert(ctx context.Context, app *models.Application) (*models.Application, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created models.Application

	query := `
		INSERT INTO loan_applications (user_id, tracking_number, requested_amount, loan_purpose, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`

	err := repo.db.GetContext(ctx, &created, query,
		app.UserID,
		app.TrackingNumber,
		app.RequestedAmount,
		app.LoanPurpose,
		models.ApplicationPending,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return &created, nil
}

func (repo *ApplicationRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Application, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var app models.Application

	query := `SELECT * FROM loan_applications WHERE id = $1`

	err := repo.db.GetContext(ctx, &app, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &app, true, nil
}

func (repo *ApplicationRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.Application, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var apps []models.Application

	query := `SELECT * FROM loan_applications WHERE user_id = $1 ORDER BY created_at DESC`

	err := repo.db.SelectContext(ctx, &apps, query, userID)
	if err != nil {
		return nil, err
	}

	return apps, nil
}

func (repo *ApplicationRepositoryImpl) ListByStatus(ctx context.Context, statuses ...models.ApplicationStatus) ([]models.Application, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	var apps []models.Application

	query := `SELECT * FROM loan_applications WHERE status = ANY($1) ORDER BY created_at`

	err := repo.db.SelectContext(ctx, &apps, query, pq.Array(values))
	if err != nil {
		return nil, err
	}

	return apps, nil
}

func (repo *ApplicationRepositoryImpl) CompareAndSwap(ctx context.Context, next *models.Application, expected models.ApplicationStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE loan_applications SET
			status = $1,
			approved_amount = $2,
			processing_fee_amount = $3,
			fee_payment_verified = $4,
			fee_verified_at = $5,
			fee_verified_by = $6,
			rejection_reason = $7,
			admin_notes = $8,
			approved_at = $9,
			fee_paid_at = $10,
			disbursed_at = $11,
			cancelled_at = $12,
			updated_at = $13
		WHERE id = $14 AND status = $15`

	result, err := repo.db.ExecContext(ctx, query,
		next.Status,
		next.ApprovedAmount,
		next.ProcessingFeeAmount,
		next.FeePaymentVerified,
		next.FeeVerifiedAt,
		next.FeeVerifiedBy,
		next.RejectionReason,
		next.AdminNotes,
		next.ApprovedAt,
		next.FeePaidAt,
		next.DisbursedAt,
		next.CancelledAt,
		next.UpdatedAt,
		next.ID,
		expected,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}
