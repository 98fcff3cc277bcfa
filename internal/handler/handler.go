package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cradoe/lendflow/internal/config"
	"github.com/cradoe/lendflow/internal/errHandler"
	"github.com/cradoe/lendflow/internal/file"
	"github.com/cradoe/lendflow/internal/helper"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/payment"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/worker"
)

type RouteHandler struct {
	DB           repository.Database
	ErrHandler   *errHandler.ErrorRepository
	Helper       *helper.HelperRepository
	Config       *config.Config
	Machine      *lifecycle.Machine
	Payments     *payment.Service
	AutoPay      *worker.AutoPayReconciler
	Reminders    *worker.ReminderReconciler
	FileUploader file.Uploader
	Logger       *slog.Logger
}

func NewRouteHandler(handler *RouteHandler) *RouteHandler {
	logger := handler.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RouteHandler{
		DB:           handler.DB,
		ErrHandler:   handler.ErrHandler,
		Helper:       handler.Helper,
		Config:       handler.Config,
		Machine:      handler.Machine,
		Payments:     handler.Payments,
		AutoPay:      handler.AutoPay,
		Reminders:    handler.Reminders,
		FileUploader: handler.FileUploader,
		Logger:       logger,
	}
}

type queryStringValues struct {
	StartDate *time.Time
	EndDate   *time.Time
	Status    string
	Limit     int
	Offset    int
}

func retrieveUrlQueryValues(r *http.Request) *queryStringValues {
	var queryValues = &queryStringValues{}

	// Parse start_date if provided
	startDateStr := r.URL.Query().Get("start_date")
	if startDateStr != "" {
		parsedStart, err := time.Parse("2006-01-02", startDateStr)
		if err == nil {
			queryValues.StartDate = &parsedStart
		}
	}

	// Parse end_date if provided
	endDateStr := r.URL.Query().Get("end_date")
	if endDateStr != "" {
		parsedEnd, err := time.Parse("2006-01-02", endDateStr)
		if err == nil {
			queryValues.EndDate = &parsedEnd
		}
	}

	// Parse pagination params
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("page")

	// Default pagination values
	offset := 0
	limit := 10

	if limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	queryValues.Limit = limit

	if offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 1 {
			offset = (parsedOffset - 1) * limit
		}
	}
	queryValues.Offset = offset

	queryValues.Status = r.URL.Query().Get("status")

	return queryValues
}

// page slices items by the limit and offset of q.
func page[T any](items []T, q *queryStringValues) []T {
	if q.Offset >= len(items) {
		return []T{}
	}
	end := min(q.Offset+q.Limit, len(items))
	return items[q.Offset:end]
}

// inRange reports whether t falls inside the optional start/end dates of q. The end
// date is inclusive.
func inRange(t time.Time, q *queryStringValues) bool {
	if q.StartDate != nil && t.Before(*q.StartDate) {
		return false
	}
	if q.EndDate != nil && !t.Before(q.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	return true
}
