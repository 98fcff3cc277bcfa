package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/worker"
)

func (h *RouteHandler) HandleReconcilerStatus(w http.ResponseWriter, r *http.Request) {
	data := struct {
		AutoPay   worker.SweepStatus    `json:"autopay"`
		Reminders worker.ReminderStatus `json:"reminders"`
	}{h.AutoPay.Status(), h.Reminders.Status()}

	err := response.JSONOkResponse(w, data, "", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// HandleRunAutoPaySweep runs a sweep in the request. The sweep outlives a client that
// disconnects; settings it already charged stay claimed for the day.
func (h *RouteHandler) HandleRunAutoPaySweep(w http.ResponseWriter, r *http.Request) {
	stats, err := h.AutoPay.RunDailyAutoPaySweep(context.WithoutCancel(r.Context()))
	if errors.Is(err, worker.ErrSweepInProgress) {
		h.ErrHandler.Busy(w, r, "an auto-pay sweep is already running")
		return
	}
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	err = response.JSONOkResponse(w, stats, "Auto-pay sweep finished", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleRunReminderSweep(w http.ResponseWriter, r *http.Request) {
	result := h.Reminders.RunReminderSweep(context.WithoutCancel(r.Context()))

	err := response.JSONOkResponse(w, result, "Reminder sweep finished", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
