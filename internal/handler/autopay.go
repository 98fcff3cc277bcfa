package handler

import (
	"errors"
	"net/http"

	"github.com/cradoe/lendflow/internal/context"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/request"
	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/validator"
)

func (h *RouteHandler) HandleEnableAutoPay(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Amount     int64               `json:"amount"`
		PaymentDay int                 `json:"payment_day"`
		Validator  validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(input.Amount > 0, "Amount must be greater than zero")
	input.Validator.Check(validator.Between(input.PaymentDay, 1, 31), "Payment day must be between 1 and 31")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	setting, err := h.Payments.EnableAutoPay(r.Context(), user.ID, r.PathValue("id"), input.Amount, input.PaymentDay)
	if errors.Is(err, lifecycle.ErrAlreadyResolved) {
		h.ErrHandler.Busy(w, r, "auto-pay is already set up for this loan")
		return
	}
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	err = response.JSONCreatedResponse(w, newAutoPayView(setting), "Auto-pay enabled")
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleListAutoPay(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	settings, err := h.DB.AutoPay().ListByUser(r.Context(), user.ID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	views := make([]autoPayView, 0, len(settings))
	for i := range settings {
		views = append(views, newAutoPayView(&settings[i]))
	}

	err = response.JSONOkResponse(w, views, "", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleDisableAutoPay(w http.ResponseWriter, r *http.Request) {
	h.setAutoPayEnabled(w, r, false, "Auto-pay disabled")
}

func (h *RouteHandler) HandleResumeAutoPay(w http.ResponseWriter, r *http.Request) {
	h.setAutoPayEnabled(w, r, true, "Auto-pay enabled")
}

func (h *RouteHandler) setAutoPayEnabled(w http.ResponseWriter, r *http.Request, enabled bool, message string) {
	user := context.ContextGetAuthenticatedUser(r)
	settingID := r.PathValue("id")

	err := h.Payments.SetAutoPayEnabled(r.Context(), settingID, user.ID, enabled)
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	setting, found, err := h.DB.AutoPay().GetOne(r.Context(), settingID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found {
		h.ErrHandler.NotFound(w, r)
		return
	}

	err = response.JSONOkResponse(w, newAutoPayView(setting), message, nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
