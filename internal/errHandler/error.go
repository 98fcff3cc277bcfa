package errHandler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"runtime/debug"
	"strings"

	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/provider/crypto"
	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/smtp"
)

type ErrorRepository struct {
	notificationEmail string
	baseURL           string
	logger            *slog.Logger
	mailer            smtp.MailerInterface
}

// New builds the handler. Server errors are mailed to notificationEmail when it is set.
func New(notificationEmail, baseURL string, mailer smtp.MailerInterface, logger *slog.Logger) *ErrorRepository {
	return &ErrorRepository{
		notificationEmail: notificationEmail,
		baseURL:           baseURL,
		logger:            logger,
		mailer:            mailer,
	}
}

func (e *ErrorRepository) ReportServerError(r *http.Request, err error) {
	var (
		message = err.Error()
		method  = r.Method
		url     = r.URL.String()
		trace   = string(debug.Stack())
	)

	requestAttrs := slog.Group("request", "method", method, "url", url)
	e.logger.Error(message, requestAttrs, "trace", trace)

	if e.notificationEmail != "" && e.mailer != nil {
		data := map[string]any{"BaseURL": e.baseURL}
		data["Message"] = message
		data["RequestMethod"] = method
		data["RequestURL"] = url
		data["Trace"] = trace

		err := e.mailer.Send(e.notificationEmail, data, "error-notification.tmpl")
		if err != nil {
			trace = string(debug.Stack())
			e.logger.Error(err.Error(), requestAttrs, "trace", trace)
		}
	}
}

type Error struct {
	w       http.ResponseWriter
	r       *http.Request
	errors  any
	status  int
	message string
	headers http.Header
}

func (e *ErrorRepository) ErrorMessage(d *Error) {
	d.message = strings.ToUpper(d.message[:1]) + d.message[1:]

	err := response.JSONErrorResponse(d.w, d.errors, d.message, d.status, d.headers)
	if err != nil {
		e.ReportServerError(d.r, err)
		d.w.WriteHeader(http.StatusInternalServerError)
	}
}

func (e *ErrorRepository) ServerError(w http.ResponseWriter, r *http.Request, err error) {
	e.ReportServerError(r, err)

	message := "The server encountered a problem and could not process your request"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusInternalServerError,
		message: message,
		headers: nil,
	})
}

func (e *ErrorRepository) NotFound(w http.ResponseWriter, r *http.Request) {
	message := "The requested resource could not be found"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusNotFound,
		message: message,
		headers: nil,
	})
}

func (e *ErrorRepository) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	message := fmt.Sprintf("The %s method is not supported for this resource", r.Method)
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusMethodNotAllowed,
		message: message,
		headers: nil,
	})
}

func (e *ErrorRepository) BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusBadRequest,
		message: err.Error(),
		headers: nil,
	})
}

func (e *ErrorRepository) FailedValidation(w http.ResponseWriter, r *http.Request, v any) {
	message := "Validation failed"

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnprocessableEntity,
		message: message,
		headers: nil,
		errors:  v,
	})
}

func (e *ErrorRepository) InvalidAuthenticationToken(w http.ResponseWriter, r *http.Request) {
	headers := make(http.Header)
	headers.Set("WWW-Authenticate", "Bearer")

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: "Invalid authentication token",
		headers: headers,
	})
}

func (e *ErrorRepository) AuthenticationRequired(w http.ResponseWriter, r *http.Request) {
	message := "You must be authenticated to access this resource"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: message,
		headers: nil,
	})
}

func (e *ErrorRepository) BasicAuthenticationRequired(w http.ResponseWriter, r *http.Request) {
	headers := make(http.Header)
	headers.Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)

	message := "You must be authenticated to access this resource"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: message,
		headers: headers,
	})
}

func (e *ErrorRepository) Forbidden(w http.ResponseWriter, r *http.Request) {
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusForbidden,
		message: "You are not allowed to perform this action",
		headers: nil,
	})
}

// Conflict is what a caller acting on stale state sees. Retrying after a fresh read is
// expected to succeed or fail for a real reason.
func (e *ErrorRepository) Conflict(w http.ResponseWriter, r *http.Request, err error) {
	e.logger.Warn("request conflicted with current state", "method", r.Method, "url", r.URL.String(), "error", err.Error())

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusConflict,
		message: "The record changed while your request was processed, please try again",
		headers: nil,
	})
}

// Busy reports a conflict the caller cannot fix by re-reading, such as work that is
// already running or already set up.
func (e *ErrorRepository) Busy(w http.ResponseWriter, r *http.Request, message string) {
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusConflict,
		message: message,
		headers: nil,
	})
}

func (e *ErrorRepository) UnprocessableEntity(w http.ResponseWriter, r *http.Request, err error) {
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnprocessableEntity,
		message: err.Error(),
		headers: nil,
	})
}

func (e *ErrorRepository) PaymentFailed(w http.ResponseWriter, r *http.Request, err error) {
	e.logger.Warn("payment provider error", "method", r.Method, "url", r.URL.String(), "error", err.Error())

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusPaymentRequired,
		message: "The payment could not be completed, please try again or use another method",
		headers: nil,
	})
}

// DomainError maps lifecycle and payment errors to a response. Anything it does not
// recognise is a server error.
func (e *ErrorRepository) DomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		e.NotFound(w, r)
	case errors.Is(err, lifecycle.ErrForbidden):
		e.Forbidden(w, r)
	case errors.Is(err, lifecycle.ErrStateConflict):
		e.Conflict(w, r, err)
	case errors.Is(err, lifecycle.ErrPaymentOutstanding):
		e.ErrorMessage(&Error{w: w, r: r, status: http.StatusConflict, message: "a payment for this application is already in progress"})
	case errors.Is(err, lifecycle.ErrAlreadyResolved):
		e.ErrorMessage(&Error{w: w, r: r, status: http.StatusConflict, message: "this has already been settled"})
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		e.ErrorMessage(&Error{w: w, r: r, status: http.StatusConflict, message: "this action is not available for the application right now, please refresh and try again"})
	case errors.Is(err, lifecycle.ErrProviderError):
		e.PaymentFailed(w, r, err)
	case errors.Is(err, lifecycle.ErrInvalidEvent),
		errors.Is(err, crypto.ErrInvalidTxHash),
		errors.Is(err, crypto.ErrUnsupportedCurrency),
		errors.Is(err, crypto.ErrNoDepositAddress):
		e.UnprocessableEntity(w, r, err)
	default:
		e.ServerError(w, r, err)
	}
}
