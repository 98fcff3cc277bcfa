package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/lendflow/internal/helper"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/notification"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/stream"
)

// Topic carries one Message per committed transition.
const Topic = "loan.lifecycle"

const effectTimeout = 10 * time.Second

type Message struct {
	ApplicationID string                   `json:"application_id"`
	UserID        string                   `json:"user_id"`
	Event         EventKind                `json:"event"`
	From          models.ApplicationStatus `json:"from"`
	To            models.ApplicationStatus `json:"to"`
	Actor         string                   `json:"actor,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	At            time.Time                `json:"at"`
}

func (msg Message) Description() string {
	d := fmt.Sprintf("%s: %s -> %s", msg.Event, msg.From, msg.To)
	if msg.Reason != "" {
		d += " (" + msg.Reason + ")"
	}
	return d
}

// SideEffects publishes the transition, maintains the disbursement record and emails the
// borrower. Each effect runs in the background and is retried on its own.
type SideEffects struct {
	db         repository.Database
	notifier   notification.Gateway
	publisher  stream.Publisher
	tasks      *helper.HelperRepository
	logger     *slog.Logger
	Attempts   int
	RetryDelay time.Duration
}

// NewSideEffects builds the post-commit runner. With a nil publisher the audit entry is
// written straight to the activity log.
func NewSideEffects(db repository.Database, notifier notification.Gateway, publisher stream.Publisher, tasks *helper.HelperRepository, logger *slog.Logger) *SideEffects {
	return &SideEffects{
		db:         db,
		notifier:   notifier,
		publisher:  publisher,
		tasks:      tasks,
		logger:     logger,
		Attempts:   3,
		RetryDelay: 2 * time.Second,
	}
}

func (s *SideEffects) AfterCommit(prev, next models.Application, ev Event) {
	msg := Message{
		ApplicationID: next.ID,
		UserID:        next.UserID,
		Event:         ev.Kind,
		From:          prev.Status,
		To:            next.Status,
		Actor:         ev.Actor,
		Reason:        ev.Reason,
		At:            next.UpdatedAt,
	}

	s.run("publish "+string(ev.Kind), func(ctx context.Context) error {
		return s.publish(ctx, msg)
	})

	switch ev.Kind {
	case EventInitiateDisbursement:
		s.run("create disbursement", func(ctx context.Context) error {
			return s.createDisbursement(ctx, next, ev)
		})
	case EventCompleteDisbursement:
		s.run("complete disbursement", func(ctx context.Context) error {
			_, err := s.db.Disbursement().MarkCompleted(ctx, next.ID, completionRef(ev.Disbursement), next.UpdatedAt)
			return err
		})
	}

	if kind, ok := notificationFor(ev.Kind); ok {
		s.run("notify "+string(kind), func(ctx context.Context) error {
			return s.notify(ctx, kind, next, ev)
		})
	}
}

func (s *SideEffects) run(name string, fn func(ctx context.Context) error) {
	s.tasks.BackgroundTask(name, func() error {
		return helper.Retry(s.Attempts, s.RetryDelay, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
			defer cancel()
			return fn(ctx)
		})
	})
}

func (s *SideEffects) publish(ctx context.Context, msg Message) error {
	if s.publisher == nil {
		_, err := s.db.Activity().Insert(ctx, &models.ActivityLog{
			UserID:      msg.Actor,
			Entity:      models.ActivityLogApplicationEntity,
			EntityId:    msg.ApplicationID,
			Description: msg.Description(),
		})
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.publisher.ProduceMessage(Topic, string(body))
}

func (s *SideEffects) createDisbursement(ctx context.Context, app models.Application, ev Event) error {
	d := ev.Disbursement
	_, err := s.db.Disbursement().Insert(ctx, &models.Disbursement{
		ApplicationID:     app.ID,
		UserID:            app.UserID,
		Amount:            app.ApprovedAmount.Int64,
		AccountHolderName: d.AccountHolderName,
		AccountNumber:     d.AccountNumber,
		RoutingNumber:     d.RoutingNumber,
		AdminNotes:        sql.NullString{String: ev.Notes, Valid: ev.Notes != ""},
		InitiatedBy:       sql.NullString{String: ev.Actor, Valid: ev.Actor != ""},
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

func completionRef(d DisbursementDetails) models.Disbursement {
	return models.Disbursement{
		TrackingNumber:  sql.NullString{String: d.TrackingNumber, Valid: d.TrackingNumber != ""},
		TrackingCompany: sql.NullString{String: d.TrackingCompany, Valid: d.TrackingCompany != ""},
		TransactionID:   sql.NullString{String: d.TransactionID, Valid: d.TransactionID != ""},
	}
}

func notificationFor(kind EventKind) (notification.Kind, bool) {
	switch kind {
	case EventApprove:
		return notification.ApplicationApproved, true
	case EventReject:
		return notification.ApplicationRejected, true
	case EventCancel:
		return notification.ApplicationCancelled, true
	case EventConfirmFeePaid:
		return notification.FeePaymentConfirmed, true
	case EventRevertToApproved:
		return notification.FeePaymentRejected, true
	case EventCompleteDisbursement:
		return notification.DisbursementDone, true
	}
	return "", false
}

func (s *SideEffects) notify(ctx context.Context, kind notification.Kind, app models.Application, ev Event) error {
	user, found, err := s.db.User().GetOne(ctx, app.UserID)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Warn("no user to notify", "application_id", app.ID, "user_id", app.UserID)
		return nil
	}

	data := s.tasks.NewEmailData()
	data["Name"] = user.FullName()
	data["ApplicationID"] = app.ID
	data["TrackingNumber"] = app.TrackingNumber
	data["ApprovedAmount"] = app.ApprovedAmount.Int64
	data["ProcessingFee"] = app.ProcessingFeeAmount.Int64
	data["Reason"] = ev.Reason
	data["TrackingCompany"] = ev.Disbursement.TrackingCompany
	data["CarrierTrackingNumber"] = ev.Disbursement.TrackingNumber

	res := s.notifier.Send(ctx, kind, user.Email, data)
	if !res.Success {
		return fmt.Errorf("%w: %s to %s: %w", ErrNotificationFailure, kind, user.Email, res.Err)
	}
	return nil
}
