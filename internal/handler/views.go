package handler

import (
	"database/sql"
	"time"

	"github.com/cradoe/lendflow/internal/models"
)

// Amounts are cents throughout the API.

type applicationView struct {
	ID                  string     `json:"id"`
	TrackingNumber      string     `json:"tracking_number"`
	UserID              string     `json:"user_id"`
	Status              string     `json:"status"`
	RequestedAmount     int64      `json:"requested_amount"`
	LoanPurpose         string     `json:"loan_purpose,omitempty"`
	ApprovedAmount      *int64     `json:"approved_amount,omitempty"`
	ProcessingFeeAmount *int64     `json:"processing_fee_amount,omitempty"`
	FeePaymentVerified  bool       `json:"fee_payment_verified"`
	RejectionReason     string     `json:"rejection_reason,omitempty"`
	AdminNotes          string     `json:"admin_notes,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	FeePaidAt           *time.Time `json:"fee_paid_at,omitempty"`
	DisbursedAt         *time.Time `json:"disbursed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

func newApplicationView(app *models.Application) applicationView {
	return applicationView{
		ID:                  app.ID,
		TrackingNumber:      app.TrackingNumber,
		UserID:              app.UserID,
		Status:              string(app.Status),
		RequestedAmount:     app.RequestedAmount,
		LoanPurpose:         app.LoanPurpose,
		ApprovedAmount:      nullInt(app.ApprovedAmount),
		ProcessingFeeAmount: nullInt(app.ProcessingFeeAmount),
		FeePaymentVerified:  app.FeePaymentVerified,
		RejectionReason:     app.RejectionReason.String,
		AdminNotes:          app.AdminNotes.String,
		CreatedAt:           app.CreatedAt,
		ApprovedAt:          nullTime(app.ApprovedAt),
		FeePaidAt:           nullTime(app.FeePaidAt),
		DisbursedAt:         nullTime(app.DisbursedAt),
		CancelledAt:         nullTime(app.CancelledAt),
	}
}

type paymentView struct {
	ID             string     `json:"id"`
	ApplicationID  string     `json:"application_id"`
	Type           string     `json:"type"`
	Method         string     `json:"method"`
	Status         string     `json:"status"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	ProviderTxID   string     `json:"provider_tx_id,omitempty"`
	CryptoCurrency string     `json:"crypto_currency,omitempty"`
	CryptoAddress  string     `json:"crypto_address,omitempty"`
	CryptoAmount   string     `json:"crypto_amount,omitempty"`
	CryptoTxHash   string     `json:"crypto_tx_hash,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func newPaymentView(p *models.Payment) paymentView {
	return paymentView{
		ID:             p.ID,
		ApplicationID:  p.ApplicationID,
		Type:           string(p.Type),
		Method:         string(p.Method),
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		ProviderTxID:   p.ProviderTxID.String,
		CryptoCurrency: p.CryptoCurrency.String,
		CryptoAddress:  p.CryptoAddress.String,
		CryptoAmount:   p.CryptoAmount.String,
		CryptoTxHash:   p.CryptoTxHash.String,
		FailureReason:  p.FailureReason.String,
		CreatedAt:      p.CreatedAt,
		CompletedAt:    nullTime(p.CompletedAt),
	}
}

type autoPayView struct {
	ID              string     `json:"id"`
	ApplicationID   string     `json:"application_id"`
	Amount          int64      `json:"amount"`
	PaymentDay      int        `json:"payment_day"`
	IsEnabled       bool       `json:"is_enabled"`
	NextPaymentDate *time.Time `json:"next_payment_date,omitempty"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	FailedAttempts  int        `json:"failed_attempts"`
}

func newAutoPayView(s *models.AutoPaySetting) autoPayView {
	return autoPayView{
		ID:              s.ID,
		ApplicationID:   s.ApplicationID,
		Amount:          s.Amount,
		PaymentDay:      s.PaymentDay,
		IsEnabled:       s.IsEnabled,
		NextPaymentDate: nullTime(s.NextPaymentDate),
		LastPaymentDate: nullTime(s.LastPaymentDate),
		FailedAttempts:  s.FailedAttempts,
	}
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
