package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "postgres"), mock
}

func TestApplicationCompareAndSwap(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "status still matches", affected: 1, want: true},
		{name: "another writer moved first", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewApplicationRepository(db)

			now := time.Now()
			next := &models.Application{
				ID:             "app-1",
				Status:         models.ApplicationApproved,
				ApprovedAmount: sql.NullInt64{Int64: 250000, Valid: true},
				ApprovedAt:     sql.NullTime{Time: now, Valid: true},
				UpdatedAt:      now,
			}

			mock.ExpectExec("UPDATE loan_applications SET").
				WithArgs(
					models.ApplicationApproved,
					sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg(), sqlmock.AnyArg(),
					sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
					sqlmock.AnyArg(), sqlmock.AnyArg(),
					"app-1",
					models.ApplicationUnderReview,
				).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			swapped, err := repo.CompareAndSwap(context.Background(), next, models.ApplicationUnderReview)
			require.NoError(t, err)
			require.Equal(t, tt.want, swapped)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPaymentInsert_OutstandingFee(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery("INSERT INTO payments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: outstandingFeeIndex})

	_, err := repo.Insert(context.Background(), &models.Payment{
		ApplicationID: "app-1",
		UserID:        "user-1",
		Type:          models.PaymentTypeProcessingFee,
		Amount:        8750,
		Method:        models.PaymentMethodCard,
		Provider:      models.ProviderAuthorizeNet,
		Status:        models.PaymentProcessing,
	})
	require.ErrorIs(t, err, ErrOutstandingPayment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentInsert_DuplicateIdempotencyKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery("INSERT INTO payments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_idempotency_key_key"})

	_, err := repo.Insert(context.Background(), &models.Payment{ApplicationID: "app-1"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestPaymentResolve_AlreadyTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery("UPDATE payments SET").WillReturnError(sql.ErrNoRows)

	payment, found, err := repo.Resolve(context.Background(), "pay-1", models.OpenPaymentStatuses, models.PaymentResolution{
		Status:     models.PaymentSucceeded,
		VerifiedBy: "admin-1",
	})
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, payment)
}

var autoPayColumns = []string{
	"id", "user_id", "application_id", "amount", "payment_day", "is_enabled", "next_payment_date",
	"last_payment_date", "last_attempt_at", "failed_attempts", "created_at", "updated_at",
}

func TestAutoPayRecordFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAutoPayRepository(db)

	now := time.Now()
	mock.ExpectQuery("UPDATE auto_pay_settings SET").
		WithArgs(3, sqlmock.AnyArg(), "set-1").
		WillReturnRows(sqlmock.NewRows(autoPayColumns).
			AddRow("set-1", "user-1", "app-1", 5000, 15, false, nil, nil, now, 3, now, now))

	setting, err := repo.RecordFailure(context.Background(), "set-1", 3)
	require.NoError(t, err)
	require.Equal(t, 3, setting.FailedAttempts)
	require.False(t, setting.IsEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoPayListScheduled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAutoPayRepository(db)

	now := time.Now()
	due := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT s\.\* FROM auto_pay_settings s\s+JOIN loan_applications a`).
		WithArgs("disbursed").
		WillReturnRows(sqlmock.NewRows(autoPayColumns).
			AddRow("set-1", "user-1", "app-1", 5000, 15, true, due, nil, nil, 0, now, now).
			AddRow("set-2", "user-2", "app-2", 7000, 15, false, due, nil, now, 3, now, now))

	settings, err := repo.ListScheduled(context.Background())
	require.NoError(t, err)
	require.Len(t, settings, 2)
	require.True(t, settings[0].NextPaymentDate.Valid)
	require.Equal(t, 3, settings[1].FailedAttempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoPayClaimAttempt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAutoPayRepository(db)

	now := time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC)
	dayStart := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE auto_pay_settings SET last_attempt_at").
		WithArgs(now, "set-1", dayStart).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE auto_pay_settings SET last_attempt_at").
		WithArgs(now, "set-1", dayStart).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.ClaimAttempt(context.Background(), "set-1", now, dayStart)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = repo.ClaimAttempt(context.Background(), "set-1", now, dayStart)
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceEmailEnabled_DefaultsToTrue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPreferenceRepository(db)

	mock.ExpectQuery("SELECT email_enabled FROM notification_preferences").
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)

	enabled, err := repo.EmailEnabled(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestDisbursementInsert_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisbursementRepository(db)

	mock.ExpectQuery("INSERT INTO disbursements").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "disbursements_application_id_key"})

	_, err := repo.Insert(context.Background(), &models.Disbursement{ApplicationID: "app-1", Amount: 250000})
	require.ErrorIs(t, err, ErrDuplicate)
}
