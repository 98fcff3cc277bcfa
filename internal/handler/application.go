package handler

import (
	"errors"
	"net/http"
	"slices"

	"github.com/cradoe/lendflow/internal/context"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/request"
	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/validator"
)

var applicationStatuses = []models.ApplicationStatus{
	models.ApplicationPending,
	models.ApplicationUnderReview,
	models.ApplicationApproved,
	models.ApplicationFeePending,
	models.ApplicationFeePaid,
	models.ApplicationDisbursed,
	models.ApplicationRejected,
	models.ApplicationCancelled,
}

func (h *RouteHandler) HandleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var input struct {
		RequestedAmount int64               `json:"requested_amount"`
		LoanPurpose     string              `json:"loan_purpose"`
		Validator       validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(input.RequestedAmount > 0, "Requested amount must be greater than zero")
	input.Validator.Check(validator.MaxRunes(input.LoanPurpose, 500), "Loan purpose must not be more than 500 characters")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	app, err := h.Machine.Submit(r.Context(), user.ID, input.RequestedAmount, input.LoanPurpose)
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}

	err = response.JSONCreatedResponse(w, newApplicationView(app), "Application submitted")
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleListMyApplications(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)
	query := retrieveUrlQueryValues(r)

	apps, err := h.DB.Application().ListByUser(r.Context(), user.ID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	views := make([]applicationView, 0, len(apps))
	for i := range apps {
		if inRange(apps[i].CreatedAt, query) {
			views = append(views, newApplicationView(&apps[i]))
		}
	}

	err = response.JSONOkResponse(w, page(views, query), "", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// HandleGetApplication returns the application with its payments. Borrowers only see
// their own applications.
func (h *RouteHandler) HandleGetApplication(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	app, found, err := h.DB.Application().GetOne(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found || (app.UserID != user.ID && !user.IsAdmin()) {
		h.ErrHandler.NotFound(w, r)
		return
	}

	payments, err := h.DB.Payment().ListByApplication(r.Context(), app.ID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	paymentViews := make([]paymentView, 0, len(payments))
	for i := range payments {
		paymentViews = append(paymentViews, newPaymentView(&payments[i]))
	}

	data := struct {
		Application applicationView `json:"application"`
		Payments    []paymentView   `json:"payments"`
	}{newApplicationView(app), paymentViews}

	err = response.JSONOkResponse(w, data, "", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleCancelApplication(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reason string `json:"reason"`
	}

	// the body is optional
	if r.ContentLength > 0 {
		err := request.DecodeJSON(w, r, &input)
		if err != nil {
			h.ErrHandler.BadRequest(w, r, err)
			return
		}
	}

	user := context.ContextGetAuthenticatedUser(r)

	app, found, err := h.DB.Application().GetOne(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found || app.UserID != user.ID {
		h.ErrHandler.NotFound(w, r)
		return
	}

	if input.Reason == "" {
		input.Reason = "cancelled by borrower"
	}

	h.transition(w, r, app.ID, lifecycle.Cancel(input.Reason).By(user.ID), "Application cancelled")
}

func (h *RouteHandler) HandleAdminListApplications(w http.ResponseWriter, r *http.Request) {
	query := retrieveUrlQueryValues(r)

	statuses := applicationStatuses
	if query.Status != "" {
		status := models.ApplicationStatus(query.Status)
		if !slices.Contains(applicationStatuses, status) {
			h.ErrHandler.FailedValidation(w, r, []string{"Unknown application status"})
			return
		}
		statuses = []models.ApplicationStatus{status}
	}

	apps, err := h.DB.Application().ListByStatus(r.Context(), statuses...)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	views := make([]applicationView, 0, len(apps))
	for i := range apps {
		if inRange(apps[i].CreatedAt, query) {
			views = append(views, newApplicationView(&apps[i]))
		}
	}

	err = response.JSONOkResponse(w, page(views, query), "", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleAdminApplicationActivity(w http.ResponseWriter, r *http.Request) {
	logs, err := h.DB.Activity().ListByEntity(r.Context(), models.ActivityLogApplicationEntity, r.PathValue("id"))
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	type activityView struct {
		UserID      string `json:"user_id,omitempty"`
		Description string `json:"description"`
		CreatedAt   string `json:"created_at"`
	}

	views := make([]activityView, 0, len(logs))
	for _, l := range logs {
		views = append(views, activityView{UserID: l.UserID, Description: l.Description, CreatedAt: l.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
	}

	err = response.JSONOkResponse(w, views, "", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// expectedStatus pins the status an admin acted on, when the client sent one.
func expectedStatus(ev lifecycle.Event, status string) lifecycle.Event {
	if status == "" {
		return ev
	}
	return ev.Expecting(models.ApplicationStatus(status))
}

func (h *RouteHandler) HandleBeginReview(w http.ResponseWriter, r *http.Request) {
	admin := context.ContextGetAuthenticatedUser(r)
	h.transition(w, r, r.PathValue("id"), lifecycle.BeginReview().By(admin.ID), "Application is under review")
}

func (h *RouteHandler) HandleApproveApplication(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ApprovedAmount int64               `json:"approved_amount"`
		ProcessingFee  *int64              `json:"processing_fee"`
		Notes          string              `json:"notes"`
		ExpectedStatus string              `json:"expected_status"`
		Validator      validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(input.ApprovedAmount > 0, "Approved amount must be greater than zero")

	fee := lifecycle.DefaultProcessingFee(input.ApprovedAmount)
	if input.ProcessingFee != nil {
		fee = *input.ProcessingFee
		input.Validator.Check(fee > 0, "Processing fee must be greater than zero")
	}

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	admin := context.ContextGetAuthenticatedUser(r)
	ev := lifecycle.Approve(input.ApprovedAmount, fee).By(admin.ID).WithNotes(input.Notes)

	h.transition(w, r, r.PathValue("id"), expectedStatus(ev, input.ExpectedStatus), "Application approved")
}

func (h *RouteHandler) HandleRejectApplication(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reason         string              `json:"reason"`
		ExpectedStatus string              `json:"expected_status"`
		Validator      validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.Reason), "Rejection reason is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	admin := context.ContextGetAuthenticatedUser(r)
	ev := lifecycle.Reject(input.Reason).By(admin.ID)

	h.transition(w, r, r.PathValue("id"), expectedStatus(ev, input.ExpectedStatus), "Application rejected")
}

func (h *RouteHandler) HandleInitiateDisbursement(w http.ResponseWriter, r *http.Request) {
	var input struct {
		AccountHolderName string              `json:"account_holder_name"`
		AccountNumber     string              `json:"account_number"`
		RoutingNumber     string              `json:"routing_number"`
		Notes             string              `json:"notes"`
		Validator         validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.AccountHolderName), "Account holder name is required")
	input.Validator.Check(validator.Matches(input.AccountNumber, validator.RgxAccountNo), "Account number must be 4 to 17 digits")
	input.Validator.Check(validator.Matches(input.RoutingNumber, validator.RgxRouting), "Routing number must be 9 digits")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	admin := context.ContextGetAuthenticatedUser(r)
	ev := lifecycle.InitiateDisbursement(lifecycle.DisbursementDetails{
		AccountHolderName: input.AccountHolderName,
		AccountNumber:     input.AccountNumber,
		RoutingNumber:     input.RoutingNumber,
	}).By(admin.ID).WithNotes(input.Notes)

	h.transition(w, r, r.PathValue("id"), ev, "Disbursement initiated")
}

func (h *RouteHandler) HandleCompleteDisbursement(w http.ResponseWriter, r *http.Request) {
	var input struct {
		TransactionID   string              `json:"transaction_id"`
		TrackingNumber  string              `json:"tracking_number"`
		TrackingCompany string              `json:"tracking_company"`
		Notes           string              `json:"notes"`
		Validator       validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.TransactionID) || validator.NotBlank(input.TrackingNumber),
		"A transaction id or tracking number is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	admin := context.ContextGetAuthenticatedUser(r)
	ev := lifecycle.CompleteDisbursement(lifecycle.DisbursementDetails{
		TransactionID:   input.TransactionID,
		TrackingNumber:  input.TrackingNumber,
		TrackingCompany: input.TrackingCompany,
	}).By(admin.ID).WithNotes(input.Notes)

	h.transition(w, r, r.PathValue("id"), ev, "Disbursement completed")
}

// transition applies ev and writes the resulting application. Work that was already
// done is reported as success.
func (h *RouteHandler) transition(w http.ResponseWriter, r *http.Request, applicationID string, ev lifecycle.Event, message string) {
	app, err := h.Machine.Transition(r.Context(), applicationID, ev)
	if errors.Is(err, lifecycle.ErrAlreadyResolved) {
		app, _, err = h.DB.Application().GetOne(r.Context(), applicationID)
		message = "Nothing to do, the action was already applied"
	}
	if err != nil {
		h.ErrHandler.DomainError(w, r, err)
		return
	}
	if app == nil {
		h.ErrHandler.NotFound(w, r)
		return
	}

	err = response.JSONOkResponse(w, newApplicationView(app), message, nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
