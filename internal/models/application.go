package models

import (
	"database/sql"
	"time"
)

type ApplicationStatus string

const (
	ApplicationPending     ApplicationStatus = "pending"
	ApplicationUnderReview ApplicationStatus = "under_review"
	ApplicationApproved    ApplicationStatus = "approved"
	ApplicationFeePending  ApplicationStatus = "fee_pending"
	ApplicationFeePaid     ApplicationStatus = "fee_paid"
	ApplicationDisbursed   ApplicationStatus = "disbursed"
	ApplicationRejected    ApplicationStatus = "rejected"
	ApplicationCancelled   ApplicationStatus = "cancelled"
)

// HoldsApprovedAmount reports whether an application in this status must carry an approved amount.
func (s ApplicationStatus) HoldsApprovedAmount() bool {
	switch s {
	case ApplicationApproved, ApplicationFeePending, ApplicationFeePaid, ApplicationDisbursed:
		return true
	}
	return false
}

func (s ApplicationStatus) IsTerminal() bool {
	return s == ApplicationDisbursed || s == ApplicationRejected || s == ApplicationCancelled
}

// Application is one loan request. Money amounts are in cents.
type Application struct {
	ID                  string            `db:"id"`
	UserID              string            `db:"user_id"`
	TrackingNumber      string            `db:"tracking_number"`
	RequestedAmount     int64             `db:"requested_amount"`
	LoanPurpose         string            `db:"loan_purpose"`
	ApprovedAmount      sql.NullInt64     `db:"approved_amount"`
	ProcessingFeeAmount sql.NullInt64     `db:"processing_fee_amount"`
	FeePaymentVerified  bool              `db:"fee_payment_verified"`
	FeeVerifiedAt       sql.NullTime      `db:"fee_verified_at"`
	FeeVerifiedBy       sql.NullString    `db:"fee_verified_by"`
	Status              ApplicationStatus `db:"status"`
	RejectionReason     sql.NullString    `db:"rejection_reason"`
	AdminNotes          sql.NullString    `db:"admin_notes"`
	CreatedAt           time.Time         `db:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at"`
	ApprovedAt          sql.NullTime      `db:"approved_at"`
	FeePaidAt           sql.NullTime      `db:"fee_paid_at"`
	DisbursedAt         sql.NullTime      `db:"disbursed_at"`
	CancelledAt         sql.NullTime      `db:"cancelled_at"`
}

type DisbursementStatus string

const (
	DisbursementPending    DisbursementStatus = "pending"
	DisbursementProcessing DisbursementStatus = "processing"
	DisbursementCompleted  DisbursementStatus = "completed"
	DisbursementFailed     DisbursementStatus = "failed"
)

// Disbursement is the payout record of an application, at most one per application.
type Disbursement struct {
	ID                string             `db:"id"`
	ApplicationID     string             `db:"application_id"`
	UserID            string             `db:"user_id"`
	Amount            int64              `db:"amount"`
	AccountHolderName string             `db:"account_holder_name"`
	AccountNumber     string             `db:"account_number"`
	RoutingNumber     string             `db:"routing_number"`
	TrackingNumber    sql.NullString     `db:"tracking_number"`
	TrackingCompany   sql.NullString     `db:"tracking_company"`
	TransactionID     sql.NullString     `db:"transaction_id"`
	Status            DisbursementStatus `db:"status"`
	AdminNotes        sql.NullString     `db:"admin_notes"`
	InitiatedBy       sql.NullString     `db:"initiated_by"`
	CreatedAt         time.Time          `db:"created_at"`
	CompletedAt       sql.NullTime       `db:"completed_at"`
}
