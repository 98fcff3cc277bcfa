package models

import (
	"database/sql"
	"slices"
	"time"
)

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// OpenPaymentStatuses are the only statuses a payment can leave.
var OpenPaymentStatuses = []PaymentStatus{PaymentPending, PaymentProcessing}

func (s PaymentStatus) IsTerminal() bool {
	return !slices.Contains(OpenPaymentStatuses, s)
}

type PaymentType string

const (
	PaymentTypeProcessingFee PaymentType = "processing_fee"
	PaymentTypeInstallment   PaymentType = "installment"
)

const (
	ProviderAuthorizeNet = "authorizenet"
	ProviderCrypto       = "crypto"
)

type Payment struct {
	ID             string         `db:"id"`
	ApplicationID  string         `db:"application_id"`
	UserID         string         `db:"user_id"`
	Type           PaymentType    `db:"type"`
	Amount         int64          `db:"amount"`
	Currency       string         `db:"currency"`
	Method         PaymentMethod  `db:"method"`
	Provider       string         `db:"provider"`
	ProviderTxID   sql.NullString `db:"provider_tx_id"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CryptoCurrency sql.NullString `db:"crypto_currency"`
	CryptoAddress  sql.NullString `db:"crypto_address"`
	CryptoAmount   sql.NullString `db:"crypto_amount"`
	CryptoTxHash   sql.NullString `db:"crypto_tx_hash"`
	Status         PaymentStatus  `db:"status"`
	FailureReason  sql.NullString `db:"failure_reason"`
	AdminNotes     sql.NullString `db:"admin_notes"`
	VerifiedBy     sql.NullString `db:"verified_by"`
	VerifiedAt     sql.NullTime   `db:"verified_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

// PaymentResolution describes a status change of a payment. Empty strings leave the
// stored column untouched.
type PaymentResolution struct {
	Status        PaymentStatus
	ProviderTxID  string
	CryptoTxHash  string
	FailureReason string
	AdminNotes    string
	VerifiedBy    string
	At            time.Time
}

// SavedPaymentMethod is a tokenized instrument kept for recurring charges.
type SavedPaymentMethod struct {
	ID        string        `db:"id"`
	UserID    string        `db:"user_id"`
	Type      PaymentMethod `db:"type"`
	Token     string        `db:"token"`
	CardBrand string        `db:"card_brand"`
	Last4     string        `db:"last4"`
	IsDefault bool          `db:"is_default"`
	CreatedAt time.Time     `db:"created_at"`
}

// AutoPaySetting is a recurring debit authorization against a disbursed loan.
type AutoPaySetting struct {
	ID              string       `db:"id"`
	UserID          string       `db:"user_id"`
	ApplicationID   string       `db:"application_id"`
	Amount          int64        `db:"amount"`
	PaymentDay      int          `db:"payment_day"`
	IsEnabled       bool         `db:"is_enabled"`
	NextPaymentDate sql.NullTime `db:"next_payment_date"`
	LastPaymentDate sql.NullTime `db:"last_payment_date"`
	LastAttemptAt   sql.NullTime `db:"last_attempt_at"`
	FailedAttempts  int          `db:"failed_attempts"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}
