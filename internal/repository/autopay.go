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

type AutoPayRepository interface {
	Insert(ctx context.Context, setting *models.AutoPaySetting) (*models.AutoPaySetting, error)
	GetOne(ctx context.Context, id string) (*models.AutoPaySetting, bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.AutoPaySetting, error)

	// ListDue returns enabled settings anchored on one of days whose loan has been disbursed.
	ListDue(ctx context.Context, days []int) ([]models.AutoPaySetting, error)

	// ListScheduled returns settings of disbursed loans that have a next payment date and
	// are either enabled or were stopped by failed charges.
	ListScheduled(ctx context.Context) ([]models.AutoPaySetting, error)

	// ClaimAttempt stamps last_attempt_at unless the setting was already attempted at or
	// after dayStart. Only one caller per day gets true.
	ClaimAttempt(ctx context.Context, id string, at, dayStart time.Time) (bool, error)
	RecordSuccess(ctx context.Context, id string, paidAt, next time.Time) error

	// RecordFailure increments the consecutive failure counter and disables the setting
	// once it reaches maxAttempts. The updated row is returned.
	RecordFailure(ctx context.Context, id string, maxAttempts int) (*models.AutoPaySetting, error)

	// SetEnabled toggles a setting owned by userID. Re-enabling clears the failure counter.
	SetEnabled(ctx context.Context, id, userID string, enabled bool) (bool, error)
}

type AutoPayRepositoryImpl struct {
	db *sqlx.DB
}

func NewAutoPayRepository(db *sqlx.DB) AutoPayRepository {
	return &AutoPayRepositoryImpl{db: db}
}

func (repo *AutoPayRepositoryImpl) Insert(ctx context.Context, setting *models.AutoPaySetting) (*models.AutoPaySetting, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created models.AutoPaySetting

	query := `
		INSERT INTO auto_pay_settings (user_id, application_id, amount, payment_day, is_enabled, next_payment_date)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING *`

	err := repo.db.GetContext(ctx, &created, query,
		setting.UserID,
		setting.ApplicationID,
		setting.Amount,
		setting.PaymentDay,
		setting.NextPaymentDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return &created, nil
}

func (repo *AutoPayRepositoryImpl) GetOne(ctx context.Context, id string) (*models.AutoPaySetting, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var setting models.AutoPaySetting

	query := `SELECT * FROM auto_pay_settings WHERE id = $1`

	err := repo.db.GetContext(ctx, &setting, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &setting, true, nil
}

func (repo *AutoPayRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.AutoPaySetting, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var settings []models.AutoPaySetting

	query := `SELECT * FROM auto_pay_settings WHERE user_id = $1 ORDER BY created_at DESC`

	err := repo.db.SelectContext(ctx, &settings, query, userID)
	if err != nil {
		return nil, err
	}

	return settings, nil
}

func (repo *AutoPayRepositoryImpl) ListDue(ctx context.Context, days []int) ([]models.AutoPaySetting, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var settings []models.AutoPaySetting

	query := `
		SELECT s.* FROM auto_pay_settings s
		JOIN loan_applications a ON a.id = s.application_id
		WHERE s.is_enabled AND s.payment_day = ANY($1) AND a.status = $2
		ORDER BY s.created_at`

	err := repo.db.SelectContext(ctx, &settings, query, pq.Array(days), models.ApplicationDisbursed)
	if err != nil {
		return nil, err
	}

	return settings, nil
}

func (repo *AutoPayRepositoryImpl) ListScheduled(ctx context.Context) ([]models.AutoPaySetting, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var settings []models.AutoPaySetting

	query := `
		SELECT s.* FROM auto_pay_settings s
		JOIN loan_applications a ON a.id = s.application_id
		WHERE (s.is_enabled OR s.failed_attempts > 0)
			AND s.next_payment_date IS NOT NULL
			AND a.status = $1
		ORDER BY s.next_payment_date`

	err := repo.db.SelectContext(ctx, &settings, query, models.ApplicationDisbursed)
	if err != nil {
		return nil, err
	}

	return settings, nil
}

func (repo *AutoPayRepositoryImpl) ClaimAttempt(ctx context.Context, id string, at, dayStart time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE auto_pay_settings SET last_attempt_at = $1, updated_at = $1
		WHERE id = $2 AND is_enabled AND (last_attempt_at IS NULL OR last_attempt_at < $3)`

	result, err := repo.db.ExecContext(ctx, query, at, id, dayStart)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (repo *AutoPayRepositoryImpl) RecordSuccess(ctx context.Context, id string, paidAt, next time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE auto_pay_settings SET
			failed_attempts = 0,
			last_payment_date = $1,
			next_payment_date = $2,
			updated_at = $3
		WHERE id = $4`

	_, err := repo.db.ExecContext(ctx, query, paidAt, next, time.Now(), id)
	return err
}

func (repo *AutoPayRepositoryImpl) RecordFailure(ctx context.Context, id string, maxAttempts int) (*models.AutoPaySetting, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var setting models.AutoPaySetting

	query := `
		UPDATE auto_pay_settings SET
			failed_attempts = failed_attempts + 1,
			is_enabled = CASE WHEN failed_attempts + 1 >= $1 THEN FALSE ELSE is_enabled END,
			updated_at = $2
		WHERE id = $3
		RETURNING *`

	err := repo.db.GetContext(ctx, &setting, query, maxAttempts, time.Now(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return &setting, nil
}

func (repo *AutoPayRepositoryImpl) SetEnabled(ctx context.Context, id, userID string, enabled bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE auto_pay_settings SET
			is_enabled = $1,
			failed_attempts = CASE WHEN $1 THEN 0 ELSE failed_attempts END,
			updated_at = $2
		WHERE id = $3 AND user_id = $4`

	result, err := repo.db.ExecContext(ctx, query, enabled, time.Now(), id, userID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}
