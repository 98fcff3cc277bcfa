package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cradoe/lendflow/internal/smtp"
)

type Kind string

const (
	ApplicationApproved  Kind = "application-approved"
	ApplicationRejected  Kind = "application-rejected"
	ApplicationCancelled Kind = "application-cancelled"
	FeePaymentConfirmed  Kind = "fee-payment-confirmed"
	FeePaymentRejected   Kind = "fee-payment-rejected"
	DisbursementDone     Kind = "disbursement-completed"

	AutoPayReceipt  Kind = "autopay-receipt"
	AutoPayFailed   Kind = "autopay-failed"
	AutoPayDisabled Kind = "autopay-disabled"

	ReminderIncompleteApplication Kind = "reminder-incomplete-application"
	ReminderUnpaidFee             Kind = "reminder-unpaid-fee"
	ReminderPendingDisbursement   Kind = "reminder-pending-disbursement"
	ReminderIncompleteDocuments   Kind = "reminder-incomplete-documents"
	ReminderInactiveUser          Kind = "reminder-inactive-user"
	ReminderInstallmentDue        Kind = "reminder-installment-due"
	ReminderInstallmentOverdue    Kind = "reminder-installment-overdue"
)

func (k Kind) Template() string {
	return string(k) + ".tmpl"
}

type Result struct {
	Success bool
	Err     error
}

// Gateway delivers templated messages. Callers treat a failed Result as something to
// log, never as a reason to undo the change being announced.
type Gateway interface {
	Send(ctx context.Context, kind Kind, recipient string, data map[string]any) Result
}

type MailGateway struct {
	mailer  smtp.MailerInterface
	baseURL string
	logger  *slog.Logger
}

func NewMailGateway(mailer smtp.MailerInterface, baseURL string, logger *slog.Logger) *MailGateway {
	return &MailGateway{
		mailer:  mailer,
		baseURL: baseURL,
		logger:  logger,
	}
}

func (g *MailGateway) Send(ctx context.Context, kind Kind, recipient string, data map[string]any) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	if recipient == "" {
		return Result{Err: fmt.Errorf("%s: no recipient", kind)}
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["BaseURL"] = g.baseURL

	if err := g.mailer.Send(recipient, payload, kind.Template()); err != nil {
		g.logger.Error("email not sent", "kind", string(kind), "recipient", recipient, "error", err.Error())
		return Result{Err: err}
	}

	g.logger.Info("email sent", "kind", string(kind), "recipient", recipient)
	return Result{Success: true}
}
