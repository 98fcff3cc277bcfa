package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/cradoe/lendflow/internal/helper"
	"github.com/cradoe/lendflow/internal/mocks"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/notification"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/testutil/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var allStatuses = []models.ApplicationStatus{
	models.ApplicationPending,
	models.ApplicationUnderReview,
	models.ApplicationApproved,
	models.ApplicationFeePending,
	models.ApplicationFeePaid,
	models.ApplicationDisbursed,
	models.ApplicationRejected,
	models.ApplicationCancelled,
}

var allEvents = []Event{
	BeginReview(),
	Approve(250000, 8750),
	Reject("insufficient income"),
	MarkFeePending(),
	ConfirmFeePaid(true),
	RevertToApproved("hash not found"),
	InitiateDisbursement(DisbursementDetails{AccountHolderName: "Ada Obi", AccountNumber: "0123456789"}),
	CompleteDisbursement(DisbursementDetails{TransactionID: "wire-1"}),
	Cancel("requested by borrower"),
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// appIn returns an application that satisfies the approved-amount rule for status.
func appIn(status models.ApplicationStatus) models.Application {
	app := models.Application{ID: "app-1", UserID: "user-1", Status: status, RequestedAmount: 250000}
	if status.HoldsApprovedAmount() {
		app.ApprovedAmount.Int64, app.ApprovedAmount.Valid = 250000, true
		app.ProcessingFeeAmount.Int64, app.ProcessingFeeAmount.Valid = 8750, true
	}
	return app
}

func TestApply_EdgeTable(t *testing.T) {
	legal := map[EventKind][]models.ApplicationStatus{
		EventBeginReview:          {models.ApplicationPending},
		EventApprove:              {models.ApplicationPending, models.ApplicationUnderReview},
		EventReject:               {models.ApplicationPending, models.ApplicationUnderReview},
		EventMarkFeePending:       {models.ApplicationApproved},
		EventConfirmFeePaid:       {models.ApplicationFeePending},
		EventRevertToApproved:     {models.ApplicationFeePending},
		EventInitiateDisbursement: {models.ApplicationFeePaid},
		EventCompleteDisbursement: {models.ApplicationFeePaid},
		EventCancel: {
			models.ApplicationPending, models.ApplicationUnderReview, models.ApplicationApproved,
			models.ApplicationFeePending, models.ApplicationFeePaid,
		},
	}

	now := time.Now()
	for _, ev := range allEvents {
		for _, status := range allStatuses {
			next, err := Apply(appIn(status), ev, now)

			want := false
			for _, s := range legal[ev.Kind] {
				if s == status {
					want = true
				}
			}

			if !want {
				require.ErrorIs(t, err, ErrIllegalTransition, "%s from %s", ev.Kind, status)
				continue
			}

			require.NoError(t, err, "%s from %s", ev.Kind, status)
			require.Equal(t, next.Status.HoldsApprovedAmount(), next.ApprovedAmount.Valid,
				"approved amount after %s from %s", ev.Kind, status)
			require.Equal(t, next.Status == models.ApplicationDisbursed, next.DisbursedAt.Valid)
		}
	}
}

func TestApply_Validation(t *testing.T) {
	now := time.Now()
	pending := appIn(models.ApplicationPending)

	tests := []struct {
		name string
		ev   Event
	}{
		{name: "zero amount", ev: Approve(0, 10)},
		{name: "zero fee", ev: Approve(250000, 0)},
		{name: "fee above amount", ev: Approve(1000, 1000)},
		{name: "unknown event", ev: Event{Kind: "teleport"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(pending, tt.ev, now)
			require.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	_, err := Apply(appIn(models.ApplicationFeePaid), InitiateDisbursement(DisbursementDetails{}), now)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestApply_ApproveSetsMoney(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	next, err := Apply(appIn(models.ApplicationUnderReview), Approve(250000, 8750).WithNotes("good history"), now)
	require.NoError(t, err)
	require.Equal(t, models.ApplicationApproved, next.Status)
	require.Equal(t, int64(250000), next.ApprovedAmount.Int64)
	require.Equal(t, int64(8750), next.ProcessingFeeAmount.Int64)
	require.Equal(t, now, next.ApprovedAt.Time)
	require.Equal(t, "good history", next.AdminNotes.String)
}

func TestDefaultProcessingFee(t *testing.T) {
	require.Equal(t, int64(5000), DefaultProcessingFee(250000))
	require.Equal(t, int64(2), DefaultProcessingFee(99))
	require.Equal(t, int64(1), DefaultProcessingFee(74))
}

type fixture struct {
	db       *memstore.Store
	notifier *mocks.Notifier
	tasks    *helper.HelperRepository
	machine  *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := memstore.New()
	db.PutUser(models.User{ID: "user-1", FirstName: "Ada", LastName: "Obi", Email: "ada@example.com"})

	notifier := &mocks.Notifier{}
	tasks := helper.New("http://localhost", discardLogger())
	effects := NewSideEffects(db, notifier, nil, tasks, discardLogger())
	effects.RetryDelay = 0

	return &fixture{
		db:       db,
		notifier: notifier,
		tasks:    tasks,
		machine:  NewMachine(db, effects, discardLogger()),
	}
}

func (f *fixture) submit(t *testing.T) *models.Application {
	t.Helper()

	app, err := f.machine.Submit(context.Background(), "user-1", 250000, "school fees")
	require.NoError(t, err)
	return app
}

func TestMachine_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.submit(t)
	require.Equal(t, models.ApplicationPending, app.Status)
	require.Regexp(t, regexp.MustCompile(`^AL-\d{8}-[A-Z0-9]{5}$`), app.TrackingNumber)

	steps := []struct {
		ev   Event
		want models.ApplicationStatus
	}{
		{ev: BeginReview().By("admin-1"), want: models.ApplicationUnderReview},
		{ev: Approve(250000, 8750).By("admin-1"), want: models.ApplicationApproved},
		{ev: MarkFeePending(), want: models.ApplicationFeePending},
		{ev: ConfirmFeePaid(true), want: models.ApplicationFeePaid},
		{ev: InitiateDisbursement(DisbursementDetails{AccountHolderName: "Ada Obi", AccountNumber: "0123456789"}).By("admin-1"), want: models.ApplicationFeePaid},
	}

	for _, step := range steps {
		next, err := f.machine.Transition(ctx, app.ID, step.ev)
		require.NoError(t, err, string(step.ev.Kind))
		require.Equal(t, step.want, next.Status)
	}

	// the disbursement record is written after the initiate transition commits
	f.tasks.Wait()

	next, err := f.machine.Transition(ctx, app.ID, CompleteDisbursement(DisbursementDetails{TransactionID: "wire-1"}))
	require.NoError(t, err)
	require.Equal(t, models.ApplicationDisbursed, next.Status)
	require.True(t, next.DisbursedAt.Valid)
	require.True(t, next.FeePaymentVerified)
	f.tasks.Wait()

	d, found, err := f.db.Disbursement().GetByApplication(ctx, app.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, models.DisbursementCompleted, d.Status)
	require.Equal(t, int64(250000), d.Amount)
	require.Equal(t, "wire-1", d.TransactionID.String)

	require.Equal(t, 1, f.notifier.Count(notification.ApplicationApproved))
	require.Equal(t, 1, f.notifier.Count(notification.FeePaymentConfirmed))
	require.Equal(t, 1, f.notifier.Count(notification.DisbursementDone))

	logs, err := f.db.Activity().ListByEntity(ctx, models.ActivityLogApplicationEntity, app.ID)
	require.NoError(t, err)
	require.Len(t, logs, 6)
}

func TestMachine_ExpectingStaleStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t)

	_, err := f.machine.Transition(ctx, app.ID, Approve(250000, 8750))
	require.NoError(t, err)

	// a second admin still looking at the pending application
	_, err = f.machine.Transition(ctx, app.ID, Reject("duplicate").Expecting(models.ApplicationPending))
	require.ErrorIs(t, err, ErrStateConflict)

	stored, _, _ := f.db.Application().GetOne(ctx, app.ID)
	require.Equal(t, models.ApplicationApproved, stored.Status)
}

func TestMachine_IllegalTransition(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t)

	_, err := f.machine.Transition(context.Background(), app.ID, ConfirmFeePaid(true))
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = f.machine.Transition(context.Background(), "missing", Approve(1000, 20))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMachine_Disbursement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := appIn(models.ApplicationFeePaid)
	f.db.PutApplication(paid)

	_, err := f.machine.Transition(ctx, paid.ID, CompleteDisbursement(DisbursementDetails{}))
	require.ErrorIs(t, err, ErrIllegalTransition)

	details := DisbursementDetails{AccountHolderName: "Ada Obi", AccountNumber: "0123456789"}
	_, err = f.machine.Transition(ctx, paid.ID, InitiateDisbursement(details))
	require.NoError(t, err)
	f.tasks.Wait()

	_, err = f.machine.Transition(ctx, paid.ID, InitiateDisbursement(details))
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestMachine_NotificationFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.Fail = map[notification.Kind]bool{notification.ApplicationApproved: true}
	app := f.submit(t)

	next, err := f.machine.Transition(context.Background(), app.ID, Approve(250000, 8750))
	require.NoError(t, err)
	f.tasks.Wait()

	require.Equal(t, models.ApplicationApproved, next.Status)
	require.Zero(t, f.notifier.Count(notification.ApplicationApproved))

	stored, _, _ := f.db.Application().GetOne(context.Background(), app.ID)
	require.Equal(t, models.ApplicationApproved, stored.Status)
}

func TestMachine_CancelClearsApprovedAmount(t *testing.T) {
	f := newFixture(t)
	f.db.PutApplication(appIn(models.ApplicationFeePending))

	next, err := f.machine.Transition(context.Background(), "app-1", Cancel("changed my mind").By("user-1"))
	require.NoError(t, err)
	require.Equal(t, models.ApplicationCancelled, next.Status)
	require.False(t, next.ApprovedAmount.Valid)
	require.True(t, next.CancelledAt.Valid)
}

func TestMachine_CancelClosesPendingFeePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.PutApplication(appIn(models.ApplicationFeePending))

	payment, err := f.db.Payment().Insert(ctx, &models.Payment{
		ApplicationID: "app-1",
		UserID:        "user-1",
		Type:          models.PaymentTypeProcessingFee,
		Method:        models.PaymentMethodCrypto,
		Provider:      models.ProviderCrypto,
		Status:        models.PaymentPending,
		Amount:        8750,
	})
	require.NoError(t, err)

	next, err := f.machine.Transition(ctx, "app-1", Cancel("changed my mind").By("user-1"))
	require.NoError(t, err)
	require.Equal(t, models.ApplicationCancelled, next.Status)

	stored, _, err := f.db.Payment().GetOne(ctx, payment.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentCancelled, stored.Status)
	require.True(t, stored.CompletedAt.Valid)
	require.Equal(t, "application cancelled", stored.FailureReason.String)
}

func TestMachine_CancelRefusedWhileFeeIsCharging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.PutApplication(appIn(models.ApplicationFeePending))

	payment, err := f.db.Payment().Insert(ctx, &models.Payment{
		ApplicationID: "app-1",
		UserID:        "user-1",
		Type:          models.PaymentTypeProcessingFee,
		Method:        models.PaymentMethodCard,
		Provider:      models.ProviderAuthorizeNet,
		Status:        models.PaymentProcessing,
		Amount:        8750,
	})
	require.NoError(t, err)

	_, err = f.machine.Transition(ctx, "app-1", Cancel("").By("user-1"))
	require.ErrorIs(t, err, ErrPaymentOutstanding)

	stored, _, _ := f.db.Application().GetOne(ctx, "app-1")
	require.Equal(t, models.ApplicationFeePending, stored.Status)

	open, _, _ := f.db.Payment().GetOne(ctx, payment.ID)
	require.Equal(t, models.PaymentProcessing, open.Status)
}

type losingStore struct {
	*memstore.Store
}

func (s losingStore) Application() repository.ApplicationRepository {
	return losingApplications{s.Store.Application()}
}

type losingApplications struct {
	repository.ApplicationRepository
}

func (losingApplications) CompareAndSwap(context.Context, *models.Application, models.ApplicationStatus) (bool, error) {
	return false, nil
}

func TestMachine_BoundedRetryOnConflict(t *testing.T) {
	db := losingStore{memstore.New()}
	db.PutApplication(appIn(models.ApplicationPending))

	machine := NewMachine(db, nil, discardLogger())

	_, err := machine.Transition(context.Background(), "app-1", Approve(250000, 8750))
	require.ErrorIs(t, err, ErrStateConflict)

	logs := db.ActivityLogs()
	require.Len(t, logs, 1)
	require.Contains(t, logs[0].Description, "transition conflict")
}

func TestSideEffects_PublishesToStream(t *testing.T) {
	db := memstore.New()
	db.PutUser(models.User{ID: "user-1", Email: "ada@example.com"})
	db.PutApplication(appIn(models.ApplicationPending))

	publisher := new(mocks.MockPublisher)
	publisher.On("ProduceMessage", Topic, mock.MatchedBy(func(body string) bool {
		return regexp.MustCompile(`"event":"approve".*"from":"pending","to":"approved"`).MatchString(body)
	})).Return(nil).Once()

	tasks := helper.New("", discardLogger())
	effects := NewSideEffects(db, &mocks.Notifier{}, publisher, tasks, discardLogger())
	machine := NewMachine(db, effects, discardLogger())

	_, err := machine.Transition(context.Background(), "app-1", Approve(250000, 8750))
	require.NoError(t, err)
	tasks.Wait()

	publisher.AssertExpectations(t)
	require.Empty(t, db.ActivityLogs())
}
