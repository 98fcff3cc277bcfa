package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/repository"
)

const (
	maxTransitionAttempts = 3
	maxTrackingAttempts   = 10
)

// Effects runs the consequences of a committed transition. Implementations must not
// block the caller and must not undo the transition when they fail.
type Effects interface {
	AfterCommit(prev, next models.Application, ev Event)
}

// Machine is the only writer of application status.
type Machine struct {
	db      repository.Database
	effects Effects
	logger  *slog.Logger
	now     func() time.Time
}

func NewMachine(db repository.Database, effects Effects, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Machine{
		db:      db,
		effects: effects,
		logger:  logger,
		now:     time.Now,
	}
}

// Transition applies ev to the stored application with a compare-and-swap on its
// current status. A lost race is retried from a fresh read a bounded number of times.
func (m *Machine) Transition(ctx context.Context, applicationID string, ev Event) (*models.Application, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		app, found, err := m.db.Application().GetOne(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: application %s", ErrNotFound, applicationID)
		}

		if ev.expected != "" && app.Status != ev.expected {
			m.recordConflict(ctx, app, ev)
			return nil, fmt.Errorf("%w: application is %s, expected %s", ErrStateConflict, app.Status, ev.expected)
		}

		if err := m.precheck(ctx, app, ev); err != nil {
			return nil, err
		}

		next, err := Apply(*app, ev, m.now())
		if err != nil {
			if attempt > 1 && errors.Is(err, ErrIllegalTransition) {
				m.recordConflict(ctx, app, ev)
				return nil, fmt.Errorf("%w: %w", ErrStateConflict, err)
			}
			return nil, err
		}

		swapped, err := m.db.Application().CompareAndSwap(ctx, &next, app.Status)
		if err != nil {
			return nil, err
		}

		if swapped {
			m.logger.Info("application transitioned",
				"application_id", app.ID,
				"event", string(ev.Kind),
				"from", string(app.Status),
				"to", string(next.Status),
			)

			if m.effects != nil {
				m.effects.AfterCommit(*app, next, ev)
			}
			return &next, nil
		}

		m.logger.Warn("application changed during transition",
			"application_id", app.ID,
			"event", string(ev.Kind),
			"attempt", attempt,
		)
	}

	app, _, _ := m.db.Application().GetOne(ctx, applicationID)
	if app != nil {
		m.recordConflict(ctx, app, ev)
	}

	return nil, fmt.Errorf("%w: gave up on %s after %d attempts", ErrStateConflict, ev.Kind, maxTransitionAttempts)
}

func (m *Machine) precheck(ctx context.Context, app *models.Application, ev Event) error {
	switch ev.Kind {
	case EventInitiateDisbursement, EventCompleteDisbursement:
		if app.Status != models.ApplicationFeePaid {
			return nil
		}

		d, found, err := m.db.Disbursement().GetByApplication(ctx, app.ID)
		if err != nil {
			return err
		}

		if ev.Kind == EventInitiateDisbursement && found {
			return fmt.Errorf("%w: disbursement %s already initiated", ErrAlreadyResolved, d.ID)
		}
		if ev.Kind == EventCompleteDisbursement && !found {
			return fmt.Errorf("%w: disbursement has not been initiated", ErrIllegalTransition)
		}
	case EventCancel:
		if app.Status == models.ApplicationFeePending {
			return m.releaseFeePayment(ctx, app.ID)
		}
	}

	return nil
}

// releaseFeePayment closes the open fee payment of an application that is being
// cancelled. A payment that is already being charged or checked on chain blocks the
// cancellation until it resolves.
func (m *Machine) releaseFeePayment(ctx context.Context, applicationID string) error {
	payments, err := m.db.Payment().ListByApplication(ctx, applicationID)
	if err != nil {
		return err
	}

	for _, p := range payments {
		if p.Type != models.PaymentTypeProcessingFee || p.Status.IsTerminal() {
			continue
		}
		if p.Status != models.PaymentPending {
			return fmt.Errorf("%w: payment %s is %s", ErrPaymentOutstanding, p.ID, p.Status)
		}

		_, ok, err := m.db.Payment().Resolve(ctx, p.ID, []models.PaymentStatus{models.PaymentPending}, models.PaymentResolution{
			Status:        models.PaymentCancelled,
			FailureReason: "application cancelled",
			At:            m.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payment %s changed while cancelling", ErrPaymentOutstanding, p.ID)
		}

		m.logger.Info("fee payment cancelled with application", "application_id", applicationID, "payment_id", p.ID)
	}

	return nil
}

func (m *Machine) recordConflict(ctx context.Context, app *models.Application, ev Event) {
	_, err := m.db.Activity().Insert(ctx, &models.ActivityLog{
		UserID:      ev.Actor,
		Entity:      models.ActivityLogApplicationEntity,
		EntityId:    app.ID,
		Description: fmt.Sprintf("transition conflict: %s while %s", ev.Kind, app.Status),
	})
	if err != nil {
		m.logger.Error("could not record transition conflict", "application_id", app.ID, "error", err.Error())
	}
}

// Submit creates a pending application with a fresh tracking number.
func (m *Machine) Submit(ctx context.Context, userID string, amount int64, purpose string) (*models.Application, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: requested amount must be positive", ErrInvalidEvent)
	}

	for i := 0; i < maxTrackingAttempts; i++ {
		app, err := m.db.Application().Insert(ctx, &models.Application{
			UserID:          userID,
			TrackingNumber:  TrackingNumber(m.now()),
			RequestedAmount: amount,
			LoanPurpose:     purpose,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m.logger.Info("application submitted", "application_id", app.ID, "tracking_number", app.TrackingNumber)
		return app, nil
	}

	return nil, errors.New("could not generate a unique tracking number")
}

const trackingChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TrackingNumber formats as AL-YYYYMMDD-XXXXX.
func TrackingNumber(at time.Time) string {
	code := make([]byte, 5)
	for i := range code {
		code[i] = trackingChars[rand.IntN(len(trackingChars))]
	}
	return fmt.Sprintf("AL-%s-%s", at.Format("20060102"), code)
}
