package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const outstandingFeeIndex = "idx_payments_outstanding_fee"

type PaymentRepository interface {
	Insert(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	GetOne(ctx context.Context, id string) (*models.Payment, bool, error)
	ListByApplication(ctx context.Context, applicationID string) ([]models.Payment, error)
	LatestSucceeded(ctx context.Context, applicationID string, paymentType models.PaymentType) (*models.Payment, bool, error)

	// Resolve moves a payment out of one of the from statuses. found is false when the
	// payment is missing or no longer in any of them.
	Resolve(ctx context.Context, id string, from []models.PaymentStatus, res models.PaymentResolution) (*models.Payment, bool, error)
}

type PaymentRepositoryImpl struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &PaymentRepositoryImpl{db: db}
}

func (repo *PaymentRepositoryImpl) Insert(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created models.Payment

	query := `
		INSERT INTO payments (
			application_id, user_id, type, amount, currency, method, provider, idempotency_key,
			crypto_currency, crypto_address, crypto_amount, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *`

	currency := payment.Currency
	if currency == "" {
		currency = "USD"
	}

	err := repo.db.GetContext(ctx, &created, query,
		payment.ApplicationID,
		payment.UserID,
		payment.Type,
		payment.Amount,
		currency,
		payment.Method,
		payment.Provider,
		payment.IdempotencyKey,
		payment.CryptoCurrency,
		payment.CryptoAddress,
		payment.CryptoAmount,
		payment.Status,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == outstandingFeeIndex {
				return nil, ErrOutstandingPayment
			}
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return &created, nil
}

func (repo *PaymentRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Payment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var payment models.Payment

	query := `SELECT * FROM payments WHERE id = $1`

	err := repo.db.GetContext(ctx, &payment, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &payment, true, nil
}

func (repo *PaymentRepositoryImpl) ListByApplication(ctx context.Context, applicationID string) ([]models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var payments []models.Payment

	query := `SELECT * FROM payments WHERE application_id = $1 ORDER BY created_at DESC`

	err := repo.db.SelectContext(ctx, &payments, query, applicationID)
	if err != nil {
		return nil, err
	}

	return payments, nil
}

func (repo *PaymentRepositoryImpl) LatestSucceeded(ctx context.Context, applicationID string, paymentType models.PaymentType) (*models.Payment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var payment models.Payment

	query := `
		SELECT * FROM payments
		WHERE application_id = $1 AND type = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`

	err := repo.db.GetContext(ctx, &payment, query, applicationID, paymentType, models.PaymentSucceeded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &payment, true, nil
}

func (repo *PaymentRepositoryImpl) Resolve(ctx context.Context, id string, from []models.PaymentStatus, res models.PaymentResolution) (*models.Payment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	at := res.At
	if at.IsZero() {
		at = time.Now()
	}

	var completedAt, verifiedAt any
	if res.Status.IsTerminal() {
		completedAt = at
	}
	if res.VerifiedBy != "" {
		verifiedAt = at
	}

	fromValues := make([]string, len(from))
	for i, s := range from {
		fromValues[i] = string(s)
	}

	var payment models.Payment

	query := `
		UPDATE payments SET
			status = $1,
			provider_tx_id = COALESCE($2, provider_tx_id),
			crypto_tx_hash = COALESCE($3, crypto_tx_hash),
			failure_reason = COALESCE($4, failure_reason),
			admin_notes = COALESCE($5, admin_notes),
			verified_by = COALESCE($6::uuid, verified_by),
			verified_at = COALESCE($7::timestamptz, verified_at),
			completed_at = COALESCE($8::timestamptz, completed_at),
			updated_at = $9
		WHERE id = $10 AND status = ANY($11)
		RETURNING *`

	err := repo.db.GetContext(ctx, &payment, query,
		res.Status,
		nullString(res.ProviderTxID),
		nullString(res.CryptoTxHash),
		nullString(res.FailureReason),
		nullString(res.AdminNotes),
		nullString(res.VerifiedBy),
		verifiedAt,
		completedAt,
		at,
		id,
		pq.Array(fromValues),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &payment, true, nil
}
