package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/notification"
	"github.com/cradoe/lendflow/internal/payment"
	"github.com/cradoe/lendflow/internal/provider/card"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/google/uuid"
)

const autoPayLeaseKey = "autopay-sweep"

var (
	ErrSweepInProgress = errors.New("auto-pay sweep already in progress")
	errNoPaymentMethod = errors.New("no saved payment method")
)

type AutoPayConfig struct {
	// MaxFailures consecutive failed charges disable a setting.
	MaxFailures   int
	ChargeTimeout time.Duration

	// LeaseTTL bounds how long a crashed instance can block other instances' sweeps.
	LeaseTTL time.Duration
}

// SweepStats is what one run did. Skipped counts settings already attempted today.
type SweepStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type SweepStatus struct {
	Running      bool       `json:"running"`
	LastRunAt    *time.Time `json:"last_run_at"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Last         SweepStats `json:"last"`
	Runs         int        `json:"runs"`
}

// AutoPayReconciler charges the day's due auto-pay settings. At most one sweep runs at a
// time: in process through an atomic flag and across instances through the Locker lease.
type AutoPayReconciler struct {
	db       repository.Database
	cards    card.Provider
	vault    card.PaymentMethodVault
	notifier notification.Gateway
	locker   Locker
	cfg      AutoPayConfig
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	status SweepStatus
}

// NewAutoPayReconciler builds the reconciler. locker may be nil for a single instance.
func NewAutoPayReconciler(db repository.Database, cards card.Provider, vault card.PaymentMethodVault, notifier notification.Gateway, locker Locker, cfg AutoPayConfig, logger *slog.Logger) *AutoPayReconciler {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 30 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &AutoPayReconciler{
		db:       db,
		cards:    cards,
		vault:    vault,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		logger:   logger.With("component", "autopay"),
		now:      time.Now,
	}
}

// RunDailyAutoPaySweep charges every enabled setting due today. Overlapping calls are
// rejected with ErrSweepInProgress, never queued. A failing setting does not stop the
// others; a storage failure ends this run only.
func (r *AutoPayReconciler) RunDailyAutoPaySweep(ctx context.Context) (stats SweepStats, err error) {
	if !r.running.CompareAndSwap(false, true) {
		return stats, ErrSweepInProgress
	}
	defer r.running.Store(false)

	if r.locker != nil {
		token, ok, lockErr := r.locker.Acquire(ctx, autoPayLeaseKey, r.cfg.LeaseTTL)
		if lockErr != nil {
			r.logger.Error("could not acquire sweep lease", "error", lockErr.Error())
			return stats, lockErr
		}
		if !ok {
			r.logger.Info("sweep lease held by another instance")
			return stats, ErrSweepInProgress
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), autoPayLeaseKey, token); err != nil {
				r.logger.Warn("could not release sweep lease", "error", err.Error())
			}
		}()
	}

	started := r.now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("auto-pay sweep panicked: %v", p)
		}
		r.finish(started, stats, err)
	}()

	dayStart := time.Date(started.Year(), started.Month(), started.Day(), 0, 0, 0, 0, started.Location())

	settings, err := r.db.AutoPay().ListDue(ctx, payment.DueDays(started))
	if err != nil {
		return stats, fmt.Errorf("list due auto-pay settings: %w", err)
	}

	for _, setting := range settings {
		switch r.processSetting(ctx, setting, dayStart) {
		case outcomeSkipped:
			stats.Skipped++
		case outcomeSucceeded:
			stats.Attempted++
			stats.Succeeded++
		case outcomeFailed:
			stats.Attempted++
			stats.Failed++
		}
	}

	return stats, nil
}

func (r *AutoPayReconciler) finish(started time.Time, stats SweepStats, err error) {
	duration := r.now().Sub(started)

	r.mu.Lock()
	r.status.LastRunAt = &started
	r.status.LastDuration = duration.String()
	r.status.Last = stats
	r.status.Runs++
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("auto-pay sweep failed", "error", err.Error(), "duration", duration.String())
		return
	}

	r.logger.Info("auto-pay sweep finished",
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", duration.String(),
	)
}

// Status reports the last completed run and whether one is in progress.
func (r *AutoPayReconciler) Status() SweepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.status
	s.Running = r.running.Load()
	return s
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)

func (r *AutoPayReconciler) processSetting(ctx context.Context, setting models.AutoPaySetting, dayStart time.Time) (result outcome) {
	log := r.logger.With("setting_id", setting.ID, "application_id", setting.ApplicationID)

	defer func() {
		if p := recover(); p != nil {
			log.Error("auto-pay setting panicked", "error", fmt.Sprintf("%v", p))
			result = outcomeFailed
		}
	}()

	claimed, err := r.db.AutoPay().ClaimAttempt(ctx, setting.ID, r.now(), dayStart)
	if err != nil {
		log.Error("could not claim auto-pay attempt", "error", err.Error())
		return outcomeFailed
	}
	if !claimed {
		return outcomeSkipped
	}

	p, chargeErr := r.charge(ctx, setting)
	if p == nil && chargeErr != nil && !isChargeFailure(chargeErr) {
		// nothing reached the provider and nothing was recorded
		log.Error("auto-pay attempt not recorded", "error", chargeErr.Error())
		return outcomeFailed
	}

	if chargeErr != nil {
		r.recordFailure(ctx, setting, p, chargeErr, log)
		return outcomeFailed
	}

	paidAt := r.now()
	next := payment.NextPaymentDate(paidAt, setting.PaymentDay)
	if err := r.db.AutoPay().RecordSuccess(ctx, setting.ID, paidAt, next); err != nil {
		log.Error("charged but could not advance auto-pay setting", "payment_id", p.ID, "error", err.Error())
	}

	r.logActivity(ctx, setting, fmt.Sprintf("auto-pay charged %d, payment %s", setting.Amount, p.ID))
	r.notify(ctx, notification.AutoPayReceipt, setting, map[string]any{
		"PaymentID":       p.ID,
		"NextPaymentDate": next,
	})

	log.Info("auto-pay charged", "payment_id", p.ID, "amount", setting.Amount)
	return outcomeSucceeded
}

type chargeFailure struct{ err error }

func (f chargeFailure) Error() string { return f.err.Error() }
func (f chargeFailure) Unwrap() error { return f.err }

func isChargeFailure(err error) bool {
	var f chargeFailure
	return errors.As(err, &f)
}

// charge records an installment payment and charges the saved card. A chargeFailure
// counts toward the disable policy; any other error means nothing was attempted.
func (r *AutoPayReconciler) charge(ctx context.Context, setting models.AutoPaySetting) (*models.Payment, error) {
	method, found, err := r.vault.Default(ctx, setting.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, chargeFailure{errNoPaymentMethod}
	}

	p, err := r.db.Payment().Insert(ctx, &models.Payment{
		ApplicationID:  setting.ApplicationID,
		UserID:         setting.UserID,
		Type:           models.PaymentTypeInstallment,
		Amount:         setting.Amount,
		Currency:       "USD",
		Method:         models.PaymentMethodCard,
		Provider:       models.ProviderAuthorizeNet,
		Status:         models.PaymentProcessing,
		IdempotencyKey: sql.NullString{String: uuid.NewString(), Valid: true},
	})
	if err != nil {
		return nil, err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, r.cfg.ChargeTimeout)
	result, err := r.cards.Charge(chargeCtx, card.ChargeRequest{
		Token:          method.Token,
		Amount:         setting.Amount,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey.String,
		Description:    "Auto-pay " + setting.ID,
	})
	cancel()

	if err != nil {
		return p, chargeFailure{err}
	}

	resolved, ok, err := r.db.Payment().Resolve(ctx, p.ID, models.OpenPaymentStatuses, models.PaymentResolution{
		Status:       models.PaymentSucceeded,
		ProviderTxID: result.ProviderTxID,
		At:           r.now(),
	})
	if err != nil {
		// the money moved; the processing row and the provider id in the log are the trail
		r.logger.Error("charged but payment not marked succeeded",
			"payment_id", p.ID,
			"provider_tx_id", result.ProviderTxID,
			"error", err.Error(),
		)
		return p, nil
	}
	if ok {
		p = resolved
	}

	return p, nil
}

func (r *AutoPayReconciler) recordFailure(ctx context.Context, setting models.AutoPaySetting, p *models.Payment, chargeErr error, log *slog.Logger) {
	if p != nil {
		_, _, err := r.db.Payment().Resolve(ctx, p.ID, models.OpenPaymentStatuses, models.PaymentResolution{
			Status:        models.PaymentFailed,
			FailureReason: chargeErr.Error(),
			At:            r.now(),
		})
		if err != nil {
			log.Error("could not mark auto-pay payment failed", "payment_id", p.ID, "error", err.Error())
		}
	}

	updated, err := r.db.AutoPay().RecordFailure(ctx, setting.ID, r.cfg.MaxFailures)
	if err != nil {
		log.Error("could not record auto-pay failure", "error", err.Error())
		return
	}

	log.Warn("auto-pay charge failed",
		"failed_attempts", updated.FailedAttempts,
		"enabled", updated.IsEnabled,
		"error", chargeErr.Error(),
	)

	data := map[string]any{
		"FailedAttempts": updated.FailedAttempts,
		"MaxAttempts":    r.cfg.MaxFailures,
		"Reason":         chargeErr.Error(),
	}

	if !updated.IsEnabled {
		r.logActivity(ctx, setting, fmt.Sprintf("auto-pay disabled after %d consecutive failures", updated.FailedAttempts))
		r.notify(ctx, notification.AutoPayDisabled, setting, data)
		return
	}

	r.logActivity(ctx, setting, fmt.Sprintf("auto-pay failed (%d/%d): %s", updated.FailedAttempts, r.cfg.MaxFailures, chargeErr))
	r.notify(ctx, notification.AutoPayFailed, setting, data)
}

func (r *AutoPayReconciler) logActivity(ctx context.Context, setting models.AutoPaySetting, description string) {
	_, err := r.db.Activity().Insert(ctx, &models.ActivityLog{
		Entity:      models.ActivityLogAutoPayEntity,
		EntityId:    setting.ID,
		Description: description,
	})
	if err != nil {
		r.logger.Error("could not log auto-pay activity", "setting_id", setting.ID, "error", err.Error())
	}
}

func (r *AutoPayReconciler) notify(ctx context.Context, kind notification.Kind, setting models.AutoPaySetting, extra map[string]any) {
	user, found, err := r.db.User().GetOne(ctx, setting.UserID)
	if err != nil || !found {
		r.logger.Warn("no user to notify", "setting_id", setting.ID, "user_id", setting.UserID)
		return
	}

	data := map[string]any{
		"Name":          user.FullName(),
		"Amount":        setting.Amount,
		"ApplicationID": setting.ApplicationID,
	}
	if app, found, err := r.db.Application().GetOne(ctx, setting.ApplicationID); err == nil && found {
		data["TrackingNumber"] = app.TrackingNumber
	}
	for k, v := range extra {
		data[k] = v
	}

	if res := r.notifier.Send(ctx, kind, user.Email, data); !res.Success {
		r.logger.Warn("auto-pay notification not delivered", "kind", string(kind), "setting_id", setting.ID, "error", fmt.Sprint(res.Err))
	}
}
