package lifecycle

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/cradoe/lendflow/internal/models"
)

type EventKind string

const (
	EventBeginReview          EventKind = "begin_review"
	EventApprove              EventKind = "approve"
	EventReject               EventKind = "reject"
	EventMarkFeePending       EventKind = "mark_fee_pending"
	EventConfirmFeePaid       EventKind = "confirm_fee_paid"
	EventRevertToApproved     EventKind = "revert_to_approved"
	EventInitiateDisbursement EventKind = "initiate_disbursement"
	EventCompleteDisbursement EventKind = "complete_disbursement"
	EventCancel               EventKind = "cancel"
)

// DisbursementDetails is where approved funds go, plus the payout reference once sent.
type DisbursementDetails struct {
	AccountHolderName string `json:"account_holder_name"`
	AccountNumber     string `json:"account_number"`
	RoutingNumber     string `json:"routing_number"`
	TrackingNumber    string `json:"tracking_number"`
	TrackingCompany   string `json:"tracking_company"`
	TransactionID     string `json:"transaction_id"`
}

type Event struct {
	Kind         EventKind
	Amount       int64
	Fee          int64
	Verified     bool
	Reason       string
	Notes        string
	Actor        string
	Disbursement DisbursementDetails

	expected models.ApplicationStatus
}

func BeginReview() Event {
	return Event{Kind: EventBeginReview}
}

func Approve(amount, fee int64) Event {
	return Event{Kind: EventApprove, Amount: amount, Fee: fee}
}

func Reject(reason string) Event {
	return Event{Kind: EventReject, Reason: reason}
}

func MarkFeePending() Event {
	return Event{Kind: EventMarkFeePending}
}

func ConfirmFeePaid(verified bool) Event {
	return Event{Kind: EventConfirmFeePaid, Verified: verified}
}

func RevertToApproved(reason string) Event {
	return Event{Kind: EventRevertToApproved, Reason: reason}
}

func InitiateDisbursement(details DisbursementDetails) Event {
	return Event{Kind: EventInitiateDisbursement, Disbursement: details}
}

func CompleteDisbursement(ref DisbursementDetails) Event {
	return Event{Kind: EventCompleteDisbursement, Disbursement: ref}
}

func Cancel(reason string) Event {
	return Event{Kind: EventCancel, Reason: reason}
}

// By records who triggered the event.
func (e Event) By(actor string) Event {
	e.Actor = actor
	return e
}

func (e Event) WithNotes(notes string) Event {
	e.Notes = notes
	return e
}

// Expecting pins the status the caller last saw. If the application has moved since,
// the transition fails with ErrStateConflict instead of applying to the new status.
func (e Event) Expecting(status models.ApplicationStatus) Event {
	e.expected = status
	return e
}

var preDisbursed = []models.ApplicationStatus{
	models.ApplicationPending,
	models.ApplicationUnderReview,
	models.ApplicationApproved,
	models.ApplicationFeePending,
	models.ApplicationFeePaid,
}

type edge struct {
	from []models.ApplicationStatus
	to   models.ApplicationStatus
}

// transitions is the complete set of legal status changes.
var transitions = map[EventKind]edge{
	EventBeginReview:          {from: []models.ApplicationStatus{models.ApplicationPending}, to: models.ApplicationUnderReview},
	EventApprove:              {from: []models.ApplicationStatus{models.ApplicationPending, models.ApplicationUnderReview}, to: models.ApplicationApproved},
	EventReject:               {from: []models.ApplicationStatus{models.ApplicationPending, models.ApplicationUnderReview}, to: models.ApplicationRejected},
	EventMarkFeePending:       {from: []models.ApplicationStatus{models.ApplicationApproved}, to: models.ApplicationFeePending},
	EventConfirmFeePaid:       {from: []models.ApplicationStatus{models.ApplicationFeePending}, to: models.ApplicationFeePaid},
	EventRevertToApproved:     {from: []models.ApplicationStatus{models.ApplicationFeePending}, to: models.ApplicationApproved},
	EventInitiateDisbursement: {from: []models.ApplicationStatus{models.ApplicationFeePaid}, to: models.ApplicationFeePaid},
	EventCompleteDisbursement: {from: []models.ApplicationStatus{models.ApplicationFeePaid}, to: models.ApplicationDisbursed},
	EventCancel:               {from: preDisbursed, to: models.ApplicationCancelled},
}

// CanApply reports whether kind is legal from status.
func CanApply(status models.ApplicationStatus, kind EventKind) bool {
	e, ok := transitions[kind]
	return ok && slices.Contains(e.from, status)
}

func validate(ev Event) error {
	switch ev.Kind {
	case EventApprove:
		if ev.Amount <= 0 {
			return fmt.Errorf("%w: approved amount must be positive", ErrInvalidEvent)
		}
		if ev.Fee <= 0 || ev.Fee >= ev.Amount {
			return fmt.Errorf("%w: processing fee must be positive and below the approved amount", ErrInvalidEvent)
		}
	case EventInitiateDisbursement:
		d := ev.Disbursement
		if d.AccountHolderName == "" || d.AccountNumber == "" {
			return fmt.Errorf("%w: disbursement account details are required", ErrInvalidEvent)
		}
	}
	return nil
}

// Apply computes the application that results from ev without touching storage.
func Apply(app models.Application, ev Event, now time.Time) (models.Application, error) {
	e, ok := transitions[ev.Kind]
	if !ok {
		return app, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, ev.Kind)
	}

	if err := validate(ev); err != nil {
		return app, err
	}

	if !slices.Contains(e.from, app.Status) {
		return app, fmt.Errorf("%w: cannot %s an application that is %s", ErrIllegalTransition, ev.Kind, app.Status)
	}

	next := app
	next.Status = e.to
	next.UpdatedAt = now
	if ev.Notes != "" {
		next.AdminNotes = sql.NullString{String: ev.Notes, Valid: true}
	}

	switch ev.Kind {
	case EventApprove:
		next.ApprovedAmount = sql.NullInt64{Int64: ev.Amount, Valid: true}
		next.ProcessingFeeAmount = sql.NullInt64{Int64: ev.Fee, Valid: true}
		next.ApprovedAt = sql.NullTime{Time: now, Valid: true}
	case EventReject:
		next.RejectionReason = sql.NullString{String: ev.Reason, Valid: ev.Reason != ""}
	case EventConfirmFeePaid:
		next.FeePaymentVerified = ev.Verified
		next.FeePaidAt = sql.NullTime{Time: now, Valid: true}
		if ev.Verified {
			next.FeeVerifiedAt = sql.NullTime{Time: now, Valid: true}
			next.FeeVerifiedBy = sql.NullString{String: ev.Actor, Valid: ev.Actor != ""}
		}
	case EventCompleteDisbursement:
		next.DisbursedAt = sql.NullTime{Time: now, Valid: true}
	case EventCancel:
		next.ApprovedAmount = sql.NullInt64{}
		next.CancelledAt = sql.NullTime{Time: now, Valid: true}
		if ev.Reason != "" {
			next.RejectionReason = sql.NullString{String: ev.Reason, Valid: true}
		}
	}

	return next, nil
}

// DefaultProcessingFee is 2% of the approved amount, rounded to the nearest cent.
func DefaultProcessingFee(amount int64) int64 {
	return (amount*200 + 5000) / 10000
}
