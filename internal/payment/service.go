// Package payment collects processing fees and manages auto-pay enrolment. Card fees are
// confirmed by the provider response; crypto fees wait for an admin to check the chain.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/provider/card"
	"github.com/cradoe/lendflow/internal/provider/crypto"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/google/uuid"
)

const defaultChargeTimeout = 30 * time.Second

type Service struct {
	db            repository.Database
	machine       *lifecycle.Machine
	cards         card.Provider
	resolver      crypto.Resolver
	logger        *slog.Logger
	chargeTimeout time.Duration
	now           func() time.Time
}

func NewService(db repository.Database, machine *lifecycle.Machine, cards card.Provider, resolver crypto.Resolver, chargeTimeout time.Duration, logger *slog.Logger) *Service {
	if chargeTimeout <= 0 {
		chargeTimeout = defaultChargeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		db:            db,
		machine:       machine,
		cards:         cards,
		resolver:      resolver,
		logger:        logger,
		chargeTimeout: chargeTimeout,
		now:           time.Now,
	}
}

func (s *Service) ownedApplication(ctx context.Context, applicationID, userID string) (*models.Application, error) {
	app, found, err := s.db.Application().GetOne(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: application %s", lifecycle.ErrNotFound, applicationID)
	}
	if app.UserID != userID {
		return nil, fmt.Errorf("%w: application %s", lifecycle.ErrForbidden, applicationID)
	}
	return app, nil
}

// startFeePayment moves the application to fee_pending. Exactly one caller wins the
// approved -> fee_pending swap; everybody else gets ErrPaymentOutstanding.
func (s *Service) startFeePayment(ctx context.Context, app *models.Application, userID string) (*models.Application, error) {
	if app.Status == models.ApplicationFeePending {
		return nil, lifecycle.ErrPaymentOutstanding
	}

	next, err := s.machine.Transition(ctx, app.ID, lifecycle.MarkFeePending().By(userID))
	if err == nil {
		return next, nil
	}

	if errors.Is(err, lifecycle.ErrIllegalTransition) || errors.Is(err, lifecycle.ErrStateConflict) {
		current, found, getErr := s.db.Application().GetOne(ctx, app.ID)
		if getErr == nil && found && current.Status == models.ApplicationFeePending {
			return nil, fmt.Errorf("%w: %w", lifecycle.ErrPaymentOutstanding, err)
		}
	}

	return nil, err
}

// abandonFeePayment puts the application back to approved after a payment row could not
// be written.
func (s *Service) abandonFeePayment(ctx context.Context, applicationID, reason string) {
	_, err := s.machine.Transition(ctx, applicationID, lifecycle.RevertToApproved(reason))
	if err != nil {
		s.logger.Error("could not revert fee payment", "application_id", applicationID, "error", err.Error())
	}
}

func (s *Service) insertFeePayment(ctx context.Context, app *models.Application, p models.Payment) (*models.Payment, error) {
	p.ApplicationID = app.ID
	p.UserID = app.UserID
	p.Type = models.PaymentTypeProcessingFee
	p.Amount = app.ProcessingFeeAmount.Int64
	p.Currency = "USD"
	p.IdempotencyKey = sql.NullString{String: uuid.NewString(), Valid: true}

	created, err := s.db.Payment().Insert(ctx, &p)
	if errors.Is(err, repository.ErrOutstandingPayment) {
		return nil, fmt.Errorf("%w: %w", lifecycle.ErrPaymentOutstanding, err)
	}
	if err != nil {
		s.abandonFeePayment(ctx, app.ID, "payment could not be recorded")
		return nil, err
	}

	return created, nil
}

// settleFeePayment applies the application transition owed by the last resolved fee
// payment when the payment outcome was stored but the transition was not. It returns the
// payment it settled from, or nil when the application needed nothing.
func (s *Service) settleFeePayment(ctx context.Context, applicationID, actor string) (*models.Payment, error) {
	app, found, err := s.db.Application().GetOne(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !found || app.Status != models.ApplicationFeePending {
		return nil, nil
	}

	payments, err := s.db.Payment().ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var last *models.Payment
	for i := range payments {
		p := &payments[i]
		if p.Type != models.PaymentTypeProcessingFee {
			continue
		}
		if !p.Status.IsTerminal() {
			return nil, nil
		}
		if last == nil || resolvedAt(p).After(resolvedAt(last)) {
			last = p
		}
	}
	if last == nil {
		return nil, nil
	}

	var ev lifecycle.Event
	switch last.Status {
	case models.PaymentSucceeded:
		// the fee was verified by whoever resolved the payment, not by this caller
		ev = lifecycle.ConfirmFeePaid(true).By(last.VerifiedBy.String)
	default:
		reason := last.FailureReason.String
		if reason == "" {
			reason = "fee payment " + string(last.Status)
		}
		ev = lifecycle.RevertToApproved(reason).By(actor)
	}

	if _, err := s.machine.Transition(ctx, applicationID, ev.Expecting(models.ApplicationFeePending)); err != nil {
		return nil, err
	}

	s.logger.Warn("application settled from resolved fee payment",
		"application_id", applicationID,
		"payment_id", last.ID,
		"payment_status", string(last.Status),
	)
	return last, nil
}

// feeConfirmed reports whether the application reached fee_paid, possibly through a
// concurrent settlement.
func (s *Service) feeConfirmed(ctx context.Context, applicationID string) bool {
	app, found, err := s.db.Application().GetOne(ctx, applicationID)
	return err == nil && found && app.Status == models.ApplicationFeePaid
}

func resolvedAt(p *models.Payment) time.Time {
	if p.CompletedAt.Valid {
		return p.CompletedAt.Time
	}
	return p.CreatedAt
}

// resumeFeePayment settles a stranded fee_pending application before a new attempt. It
// returns the paid fee payment when there is nothing left to charge.
func (s *Service) resumeFeePayment(ctx context.Context, app *models.Application, userID string) (*models.Application, *models.Payment, error) {
	if app.Status != models.ApplicationFeePending {
		return app, nil, nil
	}

	settled, err := s.settleFeePayment(ctx, app.ID, userID)
	if err != nil || settled == nil {
		return app, nil, err
	}
	if settled.Status == models.PaymentSucceeded {
		return nil, settled, nil
	}

	current, err := s.ownedApplication(ctx, app.ID, userID)
	return current, nil, err
}

// PayFeeByCard charges the processing fee synchronously. The returned payment is always the
// durable record of the attempt, also when the error is non-nil.
func (s *Service) PayFeeByCard(ctx context.Context, applicationID, userID, token string) (*models.Payment, error) {
	app, err := s.ownedApplication(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}

	app, paid, err := s.resumeFeePayment(ctx, app, userID)
	if err != nil {
		return nil, err
	}
	if paid != nil {
		return paid, nil
	}

	app, err = s.startFeePayment(ctx, app, userID)
	if err != nil {
		return nil, err
	}

	payment, err := s.insertFeePayment(ctx, app, models.Payment{
		Method:   models.PaymentMethodCard,
		Provider: models.ProviderAuthorizeNet,
		Status:   models.PaymentProcessing,
	})
	if err != nil {
		return nil, err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	result, chargeErr := s.cards.Charge(chargeCtx, card.ChargeRequest{
		Token:          token,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: payment.IdempotencyKey.String,
		Description:    "Processing fee " + app.TrackingNumber,
	})
	cancel()

	if chargeErr != nil {
		return s.failCardPayment(ctx, payment, chargeErr)
	}

	resolved, ok, err := s.db.Payment().Resolve(ctx, payment.ID, models.OpenPaymentStatuses, models.PaymentResolution{
		Status:       models.PaymentSucceeded,
		ProviderTxID: result.ProviderTxID,
		At:           s.now(),
	})
	if err != nil {
		return payment, err
	}
	if !ok {
		return payment, fmt.Errorf("%w: payment %s", lifecycle.ErrAlreadyResolved, payment.ID)
	}

	if _, err := s.machine.Transition(ctx, app.ID, lifecycle.ConfirmFeePaid(true)); err != nil {
		if s.feeConfirmed(ctx, app.ID) {
			return resolved, nil
		}
		s.logger.Error("card charged but application not confirmed",
			"application_id", app.ID,
			"payment_id", resolved.ID,
			"provider_tx_id", result.ProviderTxID,
			"error", err.Error(),
		)
		return resolved, err
	}

	s.logger.Info("processing fee paid by card", "application_id", app.ID, "payment_id", resolved.ID)
	return resolved, nil
}

func (s *Service) failCardPayment(ctx context.Context, payment *models.Payment, chargeErr error) (*models.Payment, error) {
	s.logger.Warn("card charge failed", "application_id", payment.ApplicationID, "payment_id", payment.ID, "error", chargeErr.Error())

	failed, ok, err := s.db.Payment().Resolve(ctx, payment.ID, models.OpenPaymentStatuses, models.PaymentResolution{
		Status:        models.PaymentFailed,
		FailureReason: chargeErr.Error(),
		At:            s.now(),
	})
	if err != nil {
		return payment, err
	}
	if ok {
		payment = failed
	}

	if _, err := s.machine.Transition(ctx, payment.ApplicationID, lifecycle.RevertToApproved("card payment failed")); err != nil {
		s.logger.Error("could not revert application after failed charge", "application_id", payment.ApplicationID, "error", err.Error())
	}

	return payment, fmt.Errorf("%w: %w", lifecycle.ErrProviderError, chargeErr)
}

// PayFeeByCrypto opens a pending crypto payment with the address and amount the borrower
// has to send.
func (s *Service) PayFeeByCrypto(ctx context.Context, applicationID, userID, currency string) (*models.Payment, error) {
	c, err := crypto.ParseCurrency(currency)
	if err != nil {
		return nil, err
	}

	app, err := s.ownedApplication(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}
	if !app.ProcessingFeeAmount.Valid {
		return nil, fmt.Errorf("%w: no processing fee assessed", lifecycle.ErrIllegalTransition)
	}

	address, err := s.resolver.GetDepositAddress(ctx, c)
	if err != nil {
		return nil, err
	}

	amount, err := s.resolver.Convert(app.ProcessingFeeAmount.Int64, c)
	if err != nil {
		return nil, err
	}

	app, paid, err := s.resumeFeePayment(ctx, app, userID)
	if err != nil {
		return nil, err
	}
	if paid != nil {
		return paid, fmt.Errorf("%w: processing fee already paid", lifecycle.ErrAlreadyResolved)
	}

	app, err = s.startFeePayment(ctx, app, userID)
	if err != nil {
		return nil, err
	}

	payment, err := s.insertFeePayment(ctx, app, models.Payment{
		Method:         models.PaymentMethodCrypto,
		Provider:       models.ProviderCrypto,
		Status:         models.PaymentPending,
		CryptoCurrency: sql.NullString{String: string(c), Valid: true},
		CryptoAddress:  sql.NullString{String: address, Valid: true},
		CryptoAmount:   sql.NullString{String: amount, Valid: true},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("crypto fee payment opened", "application_id", app.ID, "payment_id", payment.ID, "currency", string(c))
	return payment, nil
}

// SubmitCryptoTxHash records the borrower's transaction hash. It never advances the
// application; that waits for VerifyCryptoPayment.
func (s *Service) SubmitCryptoTxHash(ctx context.Context, paymentID, userID, txHash string) (*models.Payment, error) {
	payment, found, err := s.db.Payment().GetOne(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: payment %s", lifecycle.ErrNotFound, paymentID)
	}
	if payment.UserID != userID {
		return nil, fmt.Errorf("%w: payment %s", lifecycle.ErrForbidden, paymentID)
	}
	if payment.Method != models.PaymentMethodCrypto {
		return nil, fmt.Errorf("%w: payment %s is not a crypto payment", lifecycle.ErrInvalidEvent, paymentID)
	}

	if err := crypto.ValidateTxHash(crypto.Currency(payment.CryptoCurrency.String), txHash); err != nil {
		return nil, err
	}

	updated, ok, err := s.db.Payment().Resolve(ctx, paymentID, []models.PaymentStatus{models.PaymentPending}, models.PaymentResolution{
		Status:       models.PaymentProcessing,
		CryptoTxHash: txHash,
		At:           s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: payment %s already has a transaction hash", lifecycle.ErrAlreadyResolved, paymentID)
	}

	return updated, nil
}

// VerifyCryptoPayment resolves a crypto payment on an admin's word. A payment that is
// already terminal yields ErrAlreadyResolved, unless its application was left in
// fee_pending, in which case the owed transition is applied again.
func (s *Service) VerifyCryptoPayment(ctx context.Context, paymentID, adminID string, verified bool, notes string) (*models.Payment, error) {
	payment, found, err := s.db.Payment().GetOne(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: payment %s", lifecycle.ErrNotFound, paymentID)
	}
	if payment.Method != models.PaymentMethodCrypto {
		return nil, fmt.Errorf("%w: payment %s is not a crypto payment", lifecycle.ErrInvalidEvent, paymentID)
	}
	if payment.Status.IsTerminal() {
		return s.settleResolved(ctx, payment, adminID)
	}
	if !payment.CryptoTxHash.Valid {
		return nil, fmt.Errorf("%w: no transaction hash has been submitted", lifecycle.ErrInvalidEvent)
	}

	res := models.PaymentResolution{
		Status:     models.PaymentSucceeded,
		AdminNotes: notes,
		VerifiedBy: adminID,
		At:         s.now(),
	}
	if !verified {
		res.Status = models.PaymentFailed
		res.FailureReason = "transaction could not be verified"
	}

	resolved, ok, err := s.db.Payment().Resolve(ctx, paymentID, models.OpenPaymentStatuses, res)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, _, err := s.db.Payment().GetOne(ctx, paymentID)
		if err != nil || current == nil {
			return payment, fmt.Errorf("%w: payment %s", lifecycle.ErrAlreadyResolved, paymentID)
		}
		return s.settleResolved(ctx, current, adminID)
	}

	ev := lifecycle.ConfirmFeePaid(true)
	if !verified {
		reason := notes
		if reason == "" {
			reason = res.FailureReason
		}
		ev = lifecycle.RevertToApproved(reason)
	}

	if _, err := s.machine.Transition(ctx, resolved.ApplicationID, ev.By(adminID)); err != nil {
		if verified && s.feeConfirmed(ctx, resolved.ApplicationID) {
			return resolved, nil
		}
		s.logger.Error("payment resolved but application not moved",
			"payment_id", resolved.ID,
			"application_id", resolved.ApplicationID,
			"verified", verified,
			"error", err.Error(),
		)
		return resolved, err
	}

	s.logger.Info("crypto payment verified", "payment_id", resolved.ID, "verified", verified, "admin_id", adminID)
	return resolved, nil
}

// settleResolved answers a verification of a payment that is already terminal.
func (s *Service) settleResolved(ctx context.Context, payment *models.Payment, adminID string) (*models.Payment, error) {
	settled, err := s.settleFeePayment(ctx, payment.ApplicationID, adminID)
	if err != nil {
		return payment, err
	}
	if settled != nil && settled.ID == payment.ID {
		return payment, nil
	}

	return payment, fmt.Errorf("%w: payment %s is %s", lifecycle.ErrAlreadyResolved, payment.ID, payment.Status)
}
