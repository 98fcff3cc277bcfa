package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cradoe/lendflow/internal/context"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/request"
	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/validator"
)

func (h *RouteHandler) HandlePayFeeByCard(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CardToken string              `json:"card_token"`
		Validator validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.CardToken), "Card token is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	p, err := h.Payments.PayFeeByCard(r.Context(), r.PathValue("id"), user.ID, input.CardToken)
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	err = response.JSONOkResponse(w, newPaymentView(p), "Processing fee paid", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandlePayFeeByCrypto(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Currency  string              `json:"currency"`
		Validator validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.Currency), "Currency is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	p, err := h.Payments.PayFeeByCrypto(r.Context(), r.PathValue("id"), user.ID, strings.ToUpper(input.Currency))
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	err = response.JSONCreatedResponse(w, newPaymentView(p), "Send the exact amount to the deposit address, then submit the transaction hash")
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleSubmitTxHash(w http.ResponseWriter, r *http.Request) {
	var input struct {
		TxHash    string              `json:"tx_hash"`
		Validator validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.TxHash), "Transaction hash is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	p, err := h.Payments.SubmitCryptoTxHash(r.Context(), r.PathValue("id"), user.ID, strings.TrimSpace(input.TxHash))
	if errors.Is(err, lifecycle.ErrAlreadyResolved) {
		h.ErrHandler.Busy(w, r, "a transaction hash was already submitted for this payment")
		return
	}
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	err = response.JSONOkResponse(w, newPaymentView(p), "Transaction submitted for verification", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// HandleVerifyCryptoPayment records the admin's verdict on a crypto fee payment. A
// payment that was already verified is reported as success without side effects.
func (h *RouteHandler) HandleVerifyCryptoPayment(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Verified  *bool               `json:"verified"`
		Notes     string              `json:"notes"`
		Validator validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(input.Verified != nil, "Verified must be true or false")
	input.Validator.Check(validator.MaxRunes(input.Notes, 1000), "Notes must not be more than 1000 characters")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	admin := context.ContextGetAuthenticatedUser(r)
	paymentID := r.PathValue("id")

	message := "Payment rejected"
	if *input.Verified {
		message = "Payment verified"
	}

	p, err := h.Payments.VerifyCryptoPayment(r.Context(), paymentID, admin.ID, *input.Verified, input.Notes)
	if errors.Is(err, lifecycle.ErrAlreadyResolved) {
		p, _, err = h.DB.Payment().GetOne(r.Context(), paymentID)
		message = "Payment was already resolved"
	}
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	err = response.JSONOkResponse(w, newPaymentView(p), message, nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
