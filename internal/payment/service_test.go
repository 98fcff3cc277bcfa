package payment

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cradoe/lendflow/internal/helper"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/mocks"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/notification"
	"github.com/cradoe/lendflow/internal/provider/card"
	"github.com/cradoe/lendflow/internal/provider/crypto"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/testutil/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const btcHash = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

type fixture struct {
	db       *memstore.Store
	notifier *mocks.Notifier
	tasks    *helper.HelperRepository
	machine  *lifecycle.Machine
	service  *Service
}

func newFixture(t *testing.T, cards card.Provider) *fixture {
	t.Helper()

	store := memstore.New()
	return buildFixture(t, cards, store, store)
}

// buildFixture wires the service over db, which reads and writes through store.
func buildFixture(t *testing.T, cards card.Provider, store *memstore.Store, db repository.Database) *fixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	store.PutUser(models.User{ID: "user-1", FirstName: "Ada", LastName: "Obi", Email: "ada@example.com"})
	store.PutUser(models.User{ID: "admin-1", FirstName: "Ops", Email: "ops@example.com", Role: models.UserRoleAdmin})

	notifier := &mocks.Notifier{}
	tasks := helper.New("http://localhost", logger)
	effects := lifecycle.NewSideEffects(db, notifier, nil, tasks, logger)
	effects.RetryDelay = 0
	machine := lifecycle.NewMachine(db, effects, logger)

	if cards == nil {
		cards = card.NewSandbox()
	}
	resolver := crypto.NewStaticResolver(map[string]string{"BTC": "bc1qtestaddress", "ETH": "0xTestEthAddress"})

	return &fixture{
		db:       store,
		notifier: notifier,
		tasks:    tasks,
		machine:  machine,
		service:  NewService(db, machine, cards, resolver, time.Second, logger),
	}
}

func (f *fixture) putApproved(id string) {
	f.db.PutApplication(models.Application{
		ID:                  id,
		UserID:              "user-1",
		TrackingNumber:      "AL-20250301-" + strings.ToUpper(id[len(id)-1:]) + "AAAA",
		RequestedAmount:     250000,
		ApprovedAmount:      sql.NullInt64{Int64: 250000, Valid: true},
		ProcessingFeeAmount: sql.NullInt64{Int64: 8750, Valid: true},
		Status:              models.ApplicationApproved,
	})
}

func (f *fixture) status(t *testing.T, id string) models.ApplicationStatus {
	t.Helper()

	app, found, err := f.db.Application().GetOne(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	return app.Status
}

func TestHappyPath_CardFeeToDisbursement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	app, err := f.machine.Submit(ctx, "user-1", 250000, "inventory")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationPending, app.Status)

	_, err = f.machine.Transition(ctx, app.ID, lifecycle.Approve(250000, 8750).By("admin-1"))
	require.NoError(t, err)

	payment, err := f.service.PayFeeByCard(ctx, app.ID, "user-1", "tok_visa")
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, payment.Status)
	require.Equal(t, int64(8750), payment.Amount)
	require.True(t, payment.ProviderTxID.Valid)
	require.True(t, payment.IdempotencyKey.Valid)

	stored, _, _ := f.db.Application().GetOne(ctx, app.ID)
	require.Equal(t, models.ApplicationFeePaid, stored.Status)
	require.True(t, stored.FeePaymentVerified)

	details := lifecycle.DisbursementDetails{AccountHolderName: "Ada Obi", AccountNumber: "0123456789"}
	_, err = f.machine.Transition(ctx, app.ID, lifecycle.InitiateDisbursement(details).By("admin-1"))
	require.NoError(t, err)
	f.tasks.Wait()

	final, err := f.machine.Transition(ctx, app.ID, lifecycle.CompleteDisbursement(lifecycle.DisbursementDetails{TransactionID: "wire-9"}).By("admin-1"))
	require.NoError(t, err)
	f.tasks.Wait()

	require.Equal(t, models.ApplicationDisbursed, final.Status)
	require.True(t, final.DisbursedAt.Valid)
	require.Equal(t, int64(250000), final.ApprovedAmount.Int64)

	// a second completion is not applied again
	_, err = f.machine.Transition(ctx, app.ID, lifecycle.CompleteDisbursement(lifecycle.DisbursementDetails{}))
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	require.Equal(t, 1, f.notifier.Count(notification.DisbursementDone))
	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentConfirmed))
}

func TestPayFeeByCard_Declined(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCard(ctx, "loan-1", "user-1", "tok_decline_insufficient")
	require.ErrorIs(t, err, lifecycle.ErrProviderError)
	require.ErrorIs(t, err, card.ErrDeclined)
	require.NotNil(t, payment)
	require.Equal(t, models.PaymentFailed, payment.Status)
	require.Equal(t, models.ApplicationApproved, f.status(t, "loan-1"))

	// the failed attempt does not block a retry
	payment, err = f.service.PayFeeByCard(ctx, "loan-1", "user-1", "tok_visa")
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, payment.Status)
	require.Equal(t, models.ApplicationFeePaid, f.status(t, "loan-1"))
	f.tasks.Wait()

	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentRejected))
}

func TestPayFeeByCard_Timeout(t *testing.T) {
	cards := new(mocks.MockCardProvider)
	cards.On("Charge", mock.Anything, mock.MatchedBy(func(req card.ChargeRequest) bool {
		return req.IdempotencyKey != "" && req.Amount == 8750 && req.Token == "tok_visa"
	})).Return(card.ChargeResult{}, card.ErrTimeout).Once()

	f := newFixture(t, cards)
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCard(context.Background(), "loan-1", "user-1", "tok_visa")
	require.ErrorIs(t, err, lifecycle.ErrProviderError)
	require.Equal(t, models.PaymentFailed, payment.Status)
	require.Equal(t, card.ErrTimeout.Error(), payment.FailureReason.String)
	require.Equal(t, models.ApplicationApproved, f.status(t, "loan-1"))

	cards.AssertExpectations(t)
}

func TestPayFeeByCard_Guards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putApproved("loan-1")

	_, err := f.service.PayFeeByCard(ctx, "loan-1", "user-2", "tok_visa")
	require.ErrorIs(t, err, lifecycle.ErrForbidden)

	_, err = f.service.PayFeeByCard(ctx, "missing", "user-1", "tok_visa")
	require.ErrorIs(t, err, lifecycle.ErrNotFound)

	_, err = f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "BTC")
	require.NoError(t, err)

	_, err = f.service.PayFeeByCard(ctx, "loan-1", "user-1", "tok_visa")
	require.ErrorIs(t, err, lifecycle.ErrPaymentOutstanding)
}

func TestPayFeeByCard_ConcurrentAttemptsChargeOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.putApproved("loan-1")

	const callers = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid = make(map[string]bool)
	)

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			p, err := f.service.PayFeeByCard(context.Background(), "loan-1", "user-1", "tok_visa")
			if err == nil {
				mu.Lock()
				paid[p.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// every caller that reports success reports the one charge
	require.Len(t, paid, 1)

	payments, err := f.db.Payment().ListByApplication(context.Background(), "loan-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, models.ApplicationFeePaid, f.status(t, "loan-1"))
}

func TestCrypto_RejectionLoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "btc")
	require.NoError(t, err)
	require.Equal(t, models.PaymentPending, payment.Status)
	require.Equal(t, "bc1qtestaddress", payment.CryptoAddress.String)
	require.Equal(t, "0.00134615", payment.CryptoAmount.String)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))

	_, err = f.service.SubmitCryptoTxHash(ctx, payment.ID, "user-1", "not-a-hash")
	require.ErrorIs(t, err, crypto.ErrInvalidTxHash)

	payment, err = f.service.SubmitCryptoTxHash(ctx, payment.ID, "user-1", btcHash)
	require.NoError(t, err)
	require.Equal(t, models.PaymentProcessing, payment.Status)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))

	rejected, err := f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", false, "hash not on chain")
	require.NoError(t, err)
	require.Equal(t, models.PaymentFailed, rejected.Status)
	require.Equal(t, "admin-1", rejected.VerifiedBy.String)
	require.Equal(t, models.ApplicationApproved, f.status(t, "loan-1"))
	f.tasks.Wait()

	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentRejected))
	sent := f.notifier.Sent()
	require.Equal(t, "hash not on chain", sent[len(sent)-1].Data["Reason"])

	again, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "ETH")
	require.NoError(t, err)
	require.Equal(t, models.PaymentPending, again.Status)
	require.Equal(t, "0.027344", again.CryptoAmount.String)
}

func TestCrypto_DoubleVerifyIsAlreadyResolved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "BTC")
	require.NoError(t, err)
	_, err = f.service.SubmitCryptoTxHash(ctx, payment.ID, "user-1", btcHash)
	require.NoError(t, err)

	verified, err := f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", true, "seen 6 confirmations")
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, verified.Status)
	f.tasks.Wait()

	app, _, _ := f.db.Application().GetOne(ctx, "loan-1")
	require.Equal(t, models.ApplicationFeePaid, app.Status)
	require.True(t, app.FeePaymentVerified)
	require.Equal(t, "admin-1", app.FeeVerifiedBy.String)

	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", true, "")
	require.ErrorIs(t, err, lifecycle.ErrAlreadyResolved)

	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", false, "")
	require.ErrorIs(t, err, lifecycle.ErrAlreadyResolved)
	f.tasks.Wait()

	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentConfirmed))
	require.Zero(t, f.notifier.Count(notification.FeePaymentRejected))
	require.Equal(t, models.ApplicationFeePaid, f.status(t, "loan-1"))
}

func TestCrypto_VerifyPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "BTC")
	require.NoError(t, err)

	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", true, "")
	require.ErrorIs(t, err, lifecycle.ErrInvalidEvent)

	_, err = f.service.VerifyCryptoPayment(ctx, "missing", "admin-1", true, "")
	require.ErrorIs(t, err, lifecycle.ErrNotFound)

	_, err = f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "DOGE")
	require.ErrorIs(t, err, crypto.ErrUnsupportedCurrency)

	f.putApproved("loan-2")
	_, err = f.service.PayFeeByCard(ctx, "loan-2", "user-1", "tok_visa")
	require.NoError(t, err)

	payments, _ := f.db.Payment().ListByApplication(ctx, "loan-2")
	require.Len(t, payments, 1)
	_, err = f.service.VerifyCryptoPayment(ctx, payments[0].ID, "admin-1", true, "")
	require.ErrorIs(t, err, lifecycle.ErrInvalidEvent)
}

func TestEnableAutoPay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.service.now = func() time.Time { return time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC) }

	f.putApproved("loan-1")
	_, err := f.service.EnableAutoPay(ctx, "user-1", "loan-1", 25000, 5)
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	f.db.PutApplication(models.Application{
		ID:             "loan-2",
		UserID:         "user-1",
		ApprovedAmount: sql.NullInt64{Int64: 250000, Valid: true},
		Status:         models.ApplicationDisbursed,
	})

	_, err = f.service.EnableAutoPay(ctx, "user-1", "loan-2", 25000, 32)
	require.ErrorIs(t, err, ErrInvalidPaymentDay)

	setting, err := f.service.EnableAutoPay(ctx, "user-1", "loan-2", 25000, 5)
	require.NoError(t, err)
	require.True(t, setting.IsEnabled)
	require.Equal(t, time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC), setting.NextPaymentDate.Time)

	_, err = f.service.EnableAutoPay(ctx, "user-1", "loan-2", 25000, 5)
	require.ErrorIs(t, err, lifecycle.ErrAlreadyResolved)

	require.NoError(t, f.service.SetAutoPayEnabled(ctx, setting.ID, "user-1", false))
	require.ErrorIs(t, f.service.SetAutoPayEnabled(ctx, setting.ID, "user-2", false), lifecycle.ErrNotFound)
}

func TestSchedule(t *testing.T) {
	utc := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		got  time.Time
		want time.Time
	}{
		{name: "first later this month", got: FirstPaymentDate(utc(2025, 3, 10).Add(14*time.Hour), 15), want: utc(2025, 3, 15)},
		{name: "first same day rolls over", got: FirstPaymentDate(utc(2025, 3, 10).Add(14*time.Hour), 10), want: utc(2025, 4, 10)},
		{name: "next clamps to february", got: NextPaymentDate(utc(2025, 1, 31), 31), want: utc(2025, 2, 28)},
		{name: "next leap february", got: NextPaymentDate(utc(2024, 1, 30), 30), want: utc(2024, 2, 29)},
		{name: "next restores anchor", got: NextPaymentDate(utc(2025, 2, 28), 31), want: utc(2025, 3, 31)},
		{name: "next crosses year", got: NextPaymentDate(utc(2025, 12, 15), 15), want: utc(2026, 1, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.got)
		})
	}

	require.Equal(t, []int{28, 29, 30, 31}, DueDays(utc(2025, 2, 28)))
	require.Equal(t, []int{28}, DueDays(utc(2024, 2, 28)))
	require.Equal(t, []int{30, 31}, DueDays(utc(2025, 4, 30)))
	require.Equal(t, []int{15}, DueDays(utc(2025, 4, 15)))
}

// swapFailingStore fails the next application writes into one status.
type swapFailingStore struct {
	*memstore.Store
	into     models.ApplicationStatus
	failures atomic.Int32
}

func (s *swapFailingStore) Application() repository.ApplicationRepository {
	return swapFailingApplications{ApplicationRepository: s.Store.Application(), store: s}
}

type swapFailingApplications struct {
	repository.ApplicationRepository
	store *swapFailingStore
}

func (r swapFailingApplications) CompareAndSwap(ctx context.Context, next *models.Application, expected models.ApplicationStatus) (bool, error) {
	if next.Status == r.store.into && r.store.failures.Add(-1) >= 0 {
		return false, errors.New("connection reset by peer")
	}
	return r.ApplicationRepository.CompareAndSwap(ctx, next, expected)
}

func newSwapFailingFixture(t *testing.T, into models.ApplicationStatus) *fixture {
	t.Helper()

	store := &swapFailingStore{Store: memstore.New(), into: into}
	store.failures.Store(1)
	return buildFixture(t, nil, store.Store, store)
}

func TestCrypto_VerifyRetryConfirmsStrandedApplication(t *testing.T) {
	f := newSwapFailingFixture(t, models.ApplicationFeePaid)
	ctx := context.Background()
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "BTC")
	require.NoError(t, err)
	_, err = f.service.SubmitCryptoTxHash(ctx, payment.ID, "user-1", btcHash)
	require.NoError(t, err)

	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", true, "")
	require.ErrorContains(t, err, "connection reset")
	require.NotErrorIs(t, err, lifecycle.ErrAlreadyResolved)

	stored, _, _ := f.db.Payment().GetOne(ctx, payment.ID)
	require.Equal(t, models.PaymentSucceeded, stored.Status)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))

	verified, err := f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", true, "")
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, verified.Status)

	app, _, _ := f.db.Application().GetOne(ctx, "loan-1")
	require.Equal(t, models.ApplicationFeePaid, app.Status)
	require.True(t, app.FeePaymentVerified)
	require.Equal(t, "admin-1", app.FeeVerifiedBy.String)

	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", true, "")
	require.ErrorIs(t, err, lifecycle.ErrAlreadyResolved)
	f.tasks.Wait()

	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentConfirmed))
}

func TestCrypto_StrandedRejectionAllowsNewAttempt(t *testing.T) {
	f := newSwapFailingFixture(t, models.ApplicationApproved)
	ctx := context.Background()
	f.putApproved("loan-1")

	payment, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "BTC")
	require.NoError(t, err)
	_, err = f.service.SubmitCryptoTxHash(ctx, payment.ID, "user-1", btcHash)
	require.NoError(t, err)

	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", false, "hash not on chain")
	require.Error(t, err)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))

	again, err := f.service.PayFeeByCrypto(ctx, "loan-1", "user-1", "ETH")
	require.NoError(t, err)
	require.NotEqual(t, payment.ID, again.ID)
	require.Equal(t, models.PaymentPending, again.Status)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))
	f.tasks.Wait()

	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentRejected))

	// the old rejection must not revert the application that now has an open payment
	_, err = f.service.VerifyCryptoPayment(ctx, payment.ID, "admin-1", false, "")
	require.ErrorIs(t, err, lifecycle.ErrAlreadyResolved)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))
}

func TestPayFeeByCard_RetryConfirmsWithoutSecondCharge(t *testing.T) {
	cards := new(mocks.MockCardProvider)
	cards.On("Charge", mock.Anything, mock.Anything).
		Return(card.ChargeResult{ProviderTxID: "txn-1"}, nil).Once()

	store := &swapFailingStore{Store: memstore.New(), into: models.ApplicationFeePaid}
	store.failures.Store(1)
	f := buildFixture(t, cards, store.Store, store)
	ctx := context.Background()
	f.putApproved("loan-1")

	first, err := f.service.PayFeeByCard(ctx, "loan-1", "user-1", "tok_visa")
	require.Error(t, err)
	require.Equal(t, models.PaymentSucceeded, first.Status)
	require.Equal(t, models.ApplicationFeePending, f.status(t, "loan-1"))

	second, err := f.service.PayFeeByCard(ctx, "loan-1", "user-1", "tok_visa")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, models.ApplicationFeePaid, f.status(t, "loan-1"))

	payments, err := f.db.Payment().ListByApplication(ctx, "loan-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	f.tasks.Wait()

	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentConfirmed))
	cards.AssertExpectations(t)
}
