package app

import (
	"net/http"

	"github.com/cradoe/lendflow/internal/handler"
	"github.com/cradoe/lendflow/internal/middleware"
)

func (app *Application) routes() http.Handler {
	mux := http.NewServeMux()

	mid := middleware.New(app.errorHandler, app.Logger, app.DB.User(), &app.Config)
	h := handler.NewRouteHandler(&handler.RouteHandler{
		DB:           app.DB,
		ErrHandler:   app.errorHandler,
		Helper:       app.Helper,
		Config:       &app.Config,
		Machine:      app.Machine,
		Payments:     app.Payments,
		AutoPay:      app.AutoPay,
		Reminders:    app.Reminders,
		FileUploader: app.FileUploader,
		Logger:       app.Logger,
	})

	return Routes(mux, mid, h)
}

// Routes registers every endpoint on mux and wraps it in the shared middleware.
func Routes(mux *http.ServeMux, mid *middleware.Middleware, h *handler.RouteHandler) http.Handler {
	user := func(fn http.HandlerFunc) http.Handler { return mid.RequireAuthenticatedUser(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return mid.RequireAdmin(fn) }

	mux.HandleFunc("GET /status", h.HandleHealthCheck)

	mux.HandleFunc("POST /auth/register", h.HandleAuthRegister)
	mux.HandleFunc("POST /auth/login", h.HandleAuthLogin)

	mux.Handle("POST /applications", user(h.HandleSubmitApplication))
	mux.Handle("GET /applications", user(h.HandleListMyApplications))
	mux.Handle("GET /applications/{id}", user(h.HandleGetApplication))
	mux.Handle("POST /applications/{id}/cancel", user(h.HandleCancelApplication))
	mux.Handle("POST /applications/{id}/fee/card", user(h.HandlePayFeeByCard))
	mux.Handle("POST /applications/{id}/fee/crypto", user(h.HandlePayFeeByCrypto))
	mux.Handle("POST /applications/{id}/autopay", user(h.HandleEnableAutoPay))

	mux.Handle("POST /payments/{id}/tx-hash", user(h.HandleSubmitTxHash))

	mux.Handle("GET /autopay", user(h.HandleListAutoPay))
	mux.Handle("POST /autopay/{id}/disable", user(h.HandleDisableAutoPay))
	mux.Handle("POST /autopay/{id}/enable", user(h.HandleResumeAutoPay))

	mux.Handle("POST /documents", user(h.HandleUploadDocument))
	mux.Handle("PUT /preferences", user(h.HandleUpdatePreferences))

	mux.Handle("GET /admin/applications", admin(h.HandleAdminListApplications))
	mux.Handle("GET /admin/applications/{id}/activity", admin(h.HandleAdminApplicationActivity))
	mux.Handle("POST /admin/applications/{id}/review", admin(h.HandleBeginReview))
	mux.Handle("POST /admin/applications/{id}/approve", admin(h.HandleApproveApplication))
	mux.Handle("POST /admin/applications/{id}/reject", admin(h.HandleRejectApplication))
	mux.Handle("POST /admin/applications/{id}/disbursement", admin(h.HandleInitiateDisbursement))
	mux.Handle("POST /admin/applications/{id}/disbursement/complete", admin(h.HandleCompleteDisbursement))
	mux.Handle("POST /admin/payments/{id}/verify", admin(h.HandleVerifyCryptoPayment))

	mux.Handle("GET /admin/reconcilers", admin(h.HandleReconcilerStatus))
	mux.Handle("POST /admin/reconcilers/autopay/run", admin(h.HandleRunAutoPaySweep))
	mux.Handle("POST /admin/reconcilers/reminders/run", admin(h.HandleRunReminderSweep))

	return mid.LogAccess(mid.RecoverPanic(mid.Authenticate(mux)))
}
