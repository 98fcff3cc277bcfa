package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
)

type DisbursementRepository interface {
	Insert(ctx context.Context, disbursement *models.Disbursement) (*models.Disbursement, error)
	GetByApplication(ctx context.Context, applicationID string) (*models.Disbursement, bool, error)

	// MarkCompleted finalizes an open disbursement. It reports false when the record is
	// already completed or failed.
	MarkCompleted(ctx context.Context, applicationID string, ref models.Disbursement, at time.Time) (bool, error)
}

type DisbursementRepositoryImpl struct {
	db *sqlx.DB
}

func NewDisbursementRepository(db *sqlx.DB) DisbursementRepository {
	return &DisbursementRepositoryImpl{db: db}
}

func (repo *DisbursementRepositoryImpl) Insert(ctx context.Context, d *models.Disbursement) (*models.Disbursement, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created models.Disbursement

	query := `
		INSERT INTO disbursements (
			application_id, user_id, amount, account_holder_name, account_number, routing_number,
			admin_notes, initiated_by, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *`

	err := repo.db.GetContext(ctx, &created, query,
		d.ApplicationID,
		d.UserID,
		d.Amount,
		d.AccountHolderName,
		d.AccountNumber,
		d.RoutingNumber,
		d.AdminNotes,
		d.InitiatedBy,
		models.DisbursementPending,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return &created, nil
}

func (repo *DisbursementRepositoryImpl) GetByApplication(ctx context.Context, applicationID string) (*models.Disbursement, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var d models.Disbursement

	query := `SELECT * FROM disbursements WHERE application_id = $1`

	err := repo.db.GetContext(ctx, &d, query, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &d, true, nil
}

func (repo *DisbursementRepositoryImpl) MarkCompleted(ctx context.Context, applicationID string, ref models.Disbursement, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE disbursements SET
			status = $1,
			tracking_number = COALESCE($2, tracking_number),
			tracking_company = COALESCE($3, tracking_company),
			transaction_id = COALESCE($4, transaction_id),
			admin_notes = COALESCE($5, admin_notes),
			completed_at = $6
		WHERE application_id = $7 AND status IN ($8, $9)`

	result, err := repo.db.ExecContext(ctx, query,
		models.DisbursementCompleted,
		ref.TrackingNumber,
		ref.TrackingCompany,
		ref.TransactionID,
		ref.AdminNotes,
		at,
		applicationID,
		models.DisbursementPending,
		models.DisbursementProcessing,
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
