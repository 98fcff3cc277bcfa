package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/notification"
	"github.com/cradoe/lendflow/internal/repository"
)

type ReminderConfig struct {
	// Cooldown suppresses a reminder whose kind was sent for the same subject more
	// recently. Zero sends on every sweep.
	Cooldown time.Duration

	PendingAfter       time.Duration
	UnpaidFeeAfter     time.Duration
	DisbursementAfter  time.Duration
	DocumentsAfter     time.Duration
	InactiveUserMinAge time.Duration
	InactiveUserMaxAge time.Duration

	// InstallmentNoticeDays are the days before a due date on which a borrower is warned.
	InstallmentNoticeDays []int
}

func (c *ReminderConfig) setDefaults() {
	const day = 24 * time.Hour

	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.PendingAfter <= 0 {
		c.PendingAfter = day
	}
	if c.UnpaidFeeAfter <= 0 {
		c.UnpaidFeeAfter = 6 * time.Hour
	}
	if c.DisbursementAfter <= 0 {
		c.DisbursementAfter = 12 * time.Hour
	}
	if c.DocumentsAfter <= 0 {
		c.DocumentsAfter = day
	}
	if c.InactiveUserMinAge <= 0 {
		c.InactiveUserMinAge = 7 * day
	}
	if c.InactiveUserMaxAge <= 0 {
		c.InactiveUserMaxAge = 30 * day
	}
	if len(c.InstallmentNoticeDays) == 0 {
		c.InstallmentNoticeDays = []int{7, 3, 1}
	}
}

// ReminderCounts is the outcome of one check. Skipped covers opted-out users and
// reminders still inside the cooldown.
type ReminderCounts struct {
	Candidates int    `json:"candidates"`
	Sent       int    `json:"sent"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

type ReminderResult struct {
	At     time.Time                            `json:"at"`
	Checks map[notification.Kind]ReminderCounts `json:"checks"`
}

func (r ReminderResult) Sent() int {
	total := 0
	for _, c := range r.Checks {
		total += c.Sent
	}
	return total
}

type ReminderStatus struct {
	Runs int             `json:"runs"`
	Last *ReminderResult `json:"last"`
}

// ReminderReconciler nudges borrowers whose application, payment or account has stalled
// and warns them about loan installments coming due or past due.
// Runs may overlap: the worst case is a duplicate email, which the cooldown limits.
type ReminderReconciler struct {
	db       repository.Database
	notifier notification.Gateway
	cfg      ReminderConfig
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	status ReminderStatus
}

func NewReminderReconciler(db repository.Database, notifier notification.Gateway, cfg ReminderConfig, logger *slog.Logger) *ReminderReconciler {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &ReminderReconciler{
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "reminders"),
		now:      time.Now,
	}
}

type reminderCheck struct {
	kind notification.Kind
	run  func(ctx context.Context, now time.Time, counts *ReminderCounts) error
}

// RunReminderSweep runs the checks concurrently. A check that cannot list its
// candidates reports the error in its counts; the other checks are unaffected.
func (r *ReminderReconciler) RunReminderSweep(ctx context.Context) ReminderResult {
	now := r.now()

	checks := []reminderCheck{
		{kind: notification.ReminderIncompleteApplication, run: r.checkPendingApplications},
		{kind: notification.ReminderUnpaidFee, run: r.checkUnpaidFees},
		{kind: notification.ReminderPendingDisbursement, run: r.checkPendingDisbursements},
		{kind: notification.ReminderIncompleteDocuments, run: r.checkMissingDocuments},
		{kind: notification.ReminderInactiveUser, run: r.checkInactiveUsers},
		{kind: notification.ReminderInstallmentDue, run: r.checkUpcomingInstallments},
		{kind: notification.ReminderInstallmentOverdue, run: r.checkOverdueInstallments},
	}

	result := ReminderResult{At: now, Checks: make(map[notification.Kind]ReminderCounts, len(checks))}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var counts ReminderCounts
			err := r.safeRun(ctx, check, now, &counts)
			if err != nil {
				counts.Error = err.Error()
				r.logger.Error("reminder check failed", "kind", string(check.kind), "error", err.Error())
			}

			mu.Lock()
			result.Checks[check.kind] = counts
			mu.Unlock()
		}()
	}
	wg.Wait()

	r.mu.Lock()
	r.status.Runs++
	r.status.Last = &result
	r.mu.Unlock()

	r.logger.Info("reminder sweep finished", "sent", result.Sent(), "duration", r.now().Sub(now).String())
	return result
}

func (r *ReminderReconciler) safeRun(ctx context.Context, check reminderCheck, now time.Time, counts *ReminderCounts) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	return check.run(ctx, now, counts)
}

func (r *ReminderReconciler) Status() ReminderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func olderThan(t time.Time, now time.Time, age time.Duration) bool {
	return !t.IsZero() && now.Sub(t) > age
}

func since(t sql.NullTime, fallback time.Time) time.Time {
	if t.Valid {
		return t.Time
	}
	return fallback
}

func applicationData(app models.Application) map[string]any {
	return map[string]any{
		"ApplicationID":  app.ID,
		"TrackingNumber": app.TrackingNumber,
		"Amount":         app.RequestedAmount,
		"Purpose":        app.LoanPurpose,
	}
}

func (r *ReminderReconciler) checkPendingApplications(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	apps, err := r.db.Application().ListByStatus(ctx, models.ApplicationPending)
	if err != nil {
		return err
	}

	for _, app := range apps {
		if !olderThan(app.CreatedAt, now, r.cfg.PendingAfter) {
			continue
		}
		r.remind(ctx, notification.ReminderIncompleteApplication, app.ID, app.UserID, applicationData(app), now, counts)
	}
	return nil
}

func (r *ReminderReconciler) checkUnpaidFees(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	apps, err := r.db.Application().ListByStatus(ctx, models.ApplicationApproved, models.ApplicationFeePending)
	if err != nil {
		return err
	}

	for _, app := range apps {
		if !olderThan(since(app.ApprovedAt, app.UpdatedAt), now, r.cfg.UnpaidFeeAfter) {
			continue
		}

		_, paid, err := r.db.Payment().LatestSucceeded(ctx, app.ID, models.PaymentTypeProcessingFee)
		if err != nil {
			counts.Failed++
			r.logger.Error("could not check fee payment", "application_id", app.ID, "error", err.Error())
			continue
		}
		if paid {
			continue
		}

		data := applicationData(app)
		data["Amount"] = app.ApprovedAmount.Int64
		data["ProcessingFee"] = app.ProcessingFeeAmount.Int64
		r.remind(ctx, notification.ReminderUnpaidFee, app.ID, app.UserID, data, now, counts)
	}
	return nil
}

func (r *ReminderReconciler) checkPendingDisbursements(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	apps, err := r.db.Application().ListByStatus(ctx, models.ApplicationFeePaid)
	if err != nil {
		return err
	}

	for _, app := range apps {
		if !olderThan(since(app.FeePaidAt, app.UpdatedAt), now, r.cfg.DisbursementAfter) {
			continue
		}

		_, paid, err := r.db.Payment().LatestSucceeded(ctx, app.ID, models.PaymentTypeProcessingFee)
		if err != nil {
			counts.Failed++
			r.logger.Error("could not check fee payment", "application_id", app.ID, "error", err.Error())
			continue
		}
		if !paid {
			continue
		}

		d, found, err := r.db.Disbursement().GetByApplication(ctx, app.ID)
		if err != nil {
			counts.Failed++
			r.logger.Error("could not check disbursement", "application_id", app.ID, "error", err.Error())
			continue
		}
		if found && d.Status != models.DisbursementPending {
			continue
		}

		data := applicationData(app)
		data["Amount"] = app.ApprovedAmount.Int64
		r.remind(ctx, notification.ReminderPendingDisbursement, app.ID, app.UserID, data, now, counts)
	}
	return nil
}

const (
	missingIdentity = "Proof of identity (driver's license, passport or national ID)"
	missingAddress  = "Proof of address (bank statement or utility bill)"
)

// missingDocuments lists what a borrower still has to upload: one identity document and
// one proof of address.
func missingDocuments(uploaded []string) []string {
	hasAny := func(set []string) bool {
		return slices.ContainsFunc(uploaded, func(t string) bool { return slices.Contains(set, t) })
	}

	var missing []string
	if !hasAny(models.IdentityDocumentTypes) {
		missing = append(missing, missingIdentity)
	}
	if !hasAny(models.AddressDocumentTypes) {
		missing = append(missing, missingAddress)
	}
	return missing
}

func (r *ReminderReconciler) checkMissingDocuments(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	apps, err := r.db.Application().ListByStatus(ctx, models.ApplicationPending, models.ApplicationUnderReview)
	if err != nil {
		return err
	}

	for _, app := range apps {
		if !olderThan(app.CreatedAt, now, r.cfg.DocumentsAfter) {
			continue
		}

		uploaded, err := r.db.Document().ListTypesByUser(ctx, app.UserID)
		if err != nil {
			counts.Failed++
			r.logger.Error("could not list documents", "user_id", app.UserID, "error", err.Error())
			continue
		}

		missing := missingDocuments(uploaded)
		if len(missing) == 0 {
			continue
		}

		data := applicationData(app)
		data["MissingDocuments"] = missing
		r.remind(ctx, notification.ReminderIncompleteDocuments, app.ID, app.UserID, data, now, counts)
	}
	return nil
}

func (r *ReminderReconciler) checkInactiveUsers(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	users, err := r.db.User().ListWithoutApplications(ctx, now.Add(-r.cfg.InactiveUserMaxAge), now.Add(-r.cfg.InactiveUserMinAge))
	if err != nil {
		return err
	}

	for _, user := range users {
		data := map[string]any{
			"DaysSinceSignup": int(now.Sub(user.CreatedAt).Hours() / 24),
		}
		r.remind(ctx, notification.ReminderInactiveUser, user.ID, user.ID, data, now, counts)
	}
	return nil
}

// daysBetween counts calendar days from one date to another in from's location.
func daysBetween(from, to time.Time) int {
	loc := from.Location()
	day := func(t time.Time) time.Time {
		y, m, d := t.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return int(day(to).Sub(day(from)).Round(24*time.Hour) / (24 * time.Hour))
}

func (r *ReminderReconciler) installmentData(ctx context.Context, setting models.AutoPaySetting) (map[string]any, error) {
	app, found, err := r.db.Application().GetOne(ctx, setting.ApplicationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("application %s not found", setting.ApplicationID)
	}

	data := applicationData(*app)
	data["Amount"] = setting.Amount
	data["DueDate"] = setting.NextPaymentDate.Time
	data["AutoPayEnabled"] = setting.IsEnabled
	return data, nil
}

// checkUpcomingInstallments warns on each notice day before a due date. The subject carries
// the due date and the notice day so every warning goes out once.
func (r *ReminderReconciler) checkUpcomingInstallments(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	settings, err := r.db.AutoPay().ListScheduled(ctx)
	if err != nil {
		return err
	}

	for _, setting := range settings {
		if !setting.IsEnabled {
			continue
		}

		days := daysBetween(now, setting.NextPaymentDate.Time)
		if !slices.Contains(r.cfg.InstallmentNoticeDays, days) {
			continue
		}

		data, err := r.installmentData(ctx, setting)
		if err != nil {
			counts.Failed++
			r.logger.Error("could not load installment", "setting_id", setting.ID, "error", err.Error())
			continue
		}
		data["DaysUntilDue"] = days

		subject := fmt.Sprintf("%s:%s:%d", setting.ID, setting.NextPaymentDate.Time.Format(time.DateOnly), days)
		r.remind(ctx, notification.ReminderInstallmentDue, subject, setting.UserID, data, now, counts)
	}
	return nil
}

// checkOverdueInstallments chases installments whose due date passed without a successful
// charge. A successful charge moves the next payment date forward.
func (r *ReminderReconciler) checkOverdueInstallments(ctx context.Context, now time.Time, counts *ReminderCounts) error {
	settings, err := r.db.AutoPay().ListScheduled(ctx)
	if err != nil {
		return err
	}

	for _, setting := range settings {
		days := daysBetween(setting.NextPaymentDate.Time, now)
		if days < 1 {
			continue
		}

		data, err := r.installmentData(ctx, setting)
		if err != nil {
			counts.Failed++
			r.logger.Error("could not load installment", "setting_id", setting.ID, "error", err.Error())
			continue
		}
		data["DaysOverdue"] = days
		data["FailedAttempts"] = setting.FailedAttempts

		subject := setting.ID + ":" + setting.NextPaymentDate.Time.Format(time.DateOnly)
		r.remind(ctx, notification.ReminderInstallmentOverdue, subject, setting.UserID, data, now, counts)
	}
	return nil
}

// remind sends one reminder unless the user opted out or the cooldown is still running.
// It never returns an error; the outcome lands in counts.
func (r *ReminderReconciler) remind(ctx context.Context, kind notification.Kind, subjectID, userID string, data map[string]any, now time.Time, counts *ReminderCounts) {
	counts.Candidates++

	enabled, err := r.db.Preference().EmailEnabled(ctx, userID)
	if err != nil {
		r.logger.Warn("preference lookup failed, sending anyway", "user_id", userID, "error", err.Error())
		enabled = true
	}
	if !enabled {
		counts.Skipped++
		return
	}

	if r.cfg.Cooldown > 0 {
		last, found, err := r.db.Reminder().LastSent(ctx, string(kind), subjectID)
		if err != nil {
			r.logger.Warn("reminder history lookup failed", "kind", string(kind), "subject_id", subjectID, "error", err.Error())
		} else if found && now.Sub(last) < r.cfg.Cooldown {
			counts.Skipped++
			return
		}
	}

	user, found, err := r.db.User().GetOne(ctx, userID)
	if err != nil || !found {
		counts.Failed++
		r.logger.Error("reminder recipient not found", "kind", string(kind), "user_id", userID, "error", fmt.Sprint(err))
		return
	}

	data["Name"] = user.FullName()

	res := r.notifier.Send(ctx, kind, user.Email, data)
	if !res.Success {
		counts.Failed++
		r.logger.Warn("reminder not delivered", "kind", string(kind), "subject_id", subjectID, "error", fmt.Sprint(res.Err))
		return
	}

	counts.Sent++
	if err := r.db.Reminder().Record(ctx, string(kind), subjectID, now); err != nil {
		r.logger.Error("could not record reminder", "kind", string(kind), "subject_id", subjectID, "error", err.Error())
	}
}
