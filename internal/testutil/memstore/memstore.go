// Package memstore is an in-memory repository.Database for tests. Conditional updates
// follow the same rules as the Postgres queries.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/repository"
)

type Store struct {
	mu  sync.Mutex
	seq int

	users         map[string]models.User
	applications  map[string]models.Application
	payments      map[string]models.Payment
	autoPay       map[string]models.AutoPaySetting
	disbursements map[string]models.Disbursement
	documents     []models.VerificationDocument
	preferences   map[string]bool
	reminders     []reminderEntry
	methods       map[string]models.SavedPaymentMethod
	activity      []models.ActivityLog

	// PreferenceErr, when set, is returned by every preference lookup.
	PreferenceErr error
}

type reminderEntry struct {
	kind, subjectID string
	at              time.Time
}

var _ repository.Database = (*Store)(nil)

func New() *Store {
	return &Store{
		users:         make(map[string]models.User),
		applications:  make(map[string]models.Application),
		payments:      make(map[string]models.Payment),
		autoPay:       make(map[string]models.AutoPaySetting),
		disbursements: make(map[string]models.Disbursement),
		preferences:   make(map[string]bool),
		methods:       make(map[string]models.SavedPaymentMethod),
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Store) User() repository.UserRepository                   { return userRepo{s} }
func (s *Store) Application() repository.ApplicationRepository     { return applicationRepo{s} }
func (s *Store) Payment() repository.PaymentRepository             { return paymentRepo{s} }
func (s *Store) AutoPay() repository.AutoPayRepository             { return autoPayRepo{s} }
func (s *Store) Disbursement() repository.DisbursementRepository   { return disbursementRepo{s} }
func (s *Store) Document() repository.DocumentRepository           { return documentRepo{s} }
func (s *Store) Preference() repository.PreferenceRepository       { return preferenceRepo{s} }
func (s *Store) Reminder() repository.ReminderRepository           { return reminderRepo{s} }
func (s *Store) PaymentMethod() repository.PaymentMethodRepository { return methodRepo{s} }
func (s *Store) Activity() repository.ActivityRepository           { return activityRepo{s} }
func (s *Store) Close() error                                      { return nil }

// PutUser stores u as is, keeping its ID and CreatedAt.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Role == "" {
		u.Role = models.UserRoleBorrower
	}
	s.users[u.ID] = u
}

// PutApplication stores app as is, bypassing the lifecycle rules.
func (s *Store) PutApplication(app models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ID] = app
}

func (s *Store) PutPayment(p models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

func (s *Store) PutAutoPay(a models.AutoPaySetting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoPay[a.ID] = a
}

func (s *Store) PutDocument(d models.VerificationDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, d)
}

func (s *Store) SetEmailEnabled(userID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[userID] = enabled
}

func (s *Store) ActivityLogs() []models.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.activity)
}

type userRepo struct{ s *Store }

func (r userRepo) Insert(_ context.Context, user *models.User) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Email == user.Email {
			return "", repository.ErrDuplicate
		}
	}

	u := *user
	u.ID = r.s.nextID("user")
	if u.Role == "" {
		u.Role = models.UserRoleBorrower
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	r.s.users[u.ID] = u
	return u.ID, nil
}

func (r userRepo) GetOne(_ context.Context, id string) (*models.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, false, nil
	}
	return &u, true, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*models.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return &u, true, nil
		}
	}
	return nil, false, nil
}

func (r userRepo) ListWithoutApplications(_ context.Context, from, to time.Time) ([]models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	applied := make(map[string]bool)
	for _, a := range r.s.applications {
		applied[a.UserID] = true
	}

	var users []models.User
	for _, u := range r.s.users {
		if u.Role != models.UserRoleBorrower || applied[u.ID] {
			continue
		}
		if u.CreatedAt.Before(from) || u.CreatedAt.After(to) {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

type applicationRepo struct{ s *Store }

func (r applicationRepo) Insert(_ context.Context, app *models.Application) (*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.applications {
		if a.TrackingNumber == app.TrackingNumber {
			return nil, repository.ErrDuplicate
		}
	}

	now := time.Now()
	a := models.Application{
		ID:              r.s.nextID("app"),
		UserID:          app.UserID,
		TrackingNumber:  app.TrackingNumber,
		RequestedAmount: app.RequestedAmount,
		LoanPurpose:     app.LoanPurpose,
		Status:          models.ApplicationPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.s.applications[a.ID] = a
	return &a, nil
}

func (r applicationRepo) GetOne(_ context.Context, id string) (*models.Application, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.applications[id]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (r applicationRepo) ListByUser(_ context.Context, userID string) ([]models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var apps []models.Application
	for _, a := range r.s.applications {
		if a.UserID == userID {
			apps = append(apps, a)
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.After(apps[j].CreatedAt) })
	return apps, nil
}

func (r applicationRepo) ListByStatus(_ context.Context, statuses ...models.ApplicationStatus) ([]models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var apps []models.Application
	for _, a := range r.s.applications {
		if slices.Contains(statuses, a.Status) {
			apps = append(apps, a)
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	return apps, nil
}

func (r applicationRepo) CompareAndSwap(_ context.Context, next *models.Application, expected models.ApplicationStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.applications[next.ID]
	if !ok || current.Status != expected {
		return false, nil
	}

	updated := *next
	updated.UserID = current.UserID
	updated.TrackingNumber = current.TrackingNumber
	updated.RequestedAmount = current.RequestedAmount
	updated.LoanPurpose = current.LoanPurpose
	updated.CreatedAt = current.CreatedAt
	r.s.applications[next.ID] = updated
	return true, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Insert(_ context.Context, payment *models.Payment) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.payments {
		if payment.IdempotencyKey.Valid && p.IdempotencyKey == payment.IdempotencyKey {
			return nil, repository.ErrDuplicate
		}
		if payment.Type == models.PaymentTypeProcessingFee && p.Type == models.PaymentTypeProcessingFee &&
			p.ApplicationID == payment.ApplicationID && !p.Status.IsTerminal() && !payment.Status.IsTerminal() {
			return nil, repository.ErrOutstandingPayment
		}
	}

	now := time.Now()
	p := *payment
	p.ID = r.s.nextID("pay")
	if p.Currency == "" {
		p.Currency = "USD"
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	r.s.payments[p.ID] = p
	return &p, nil
}

func (r paymentRepo) GetOne(_ context.Context, id string) (*models.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (r paymentRepo) ListByApplication(_ context.Context, applicationID string) ([]models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var payments []models.Payment
	for _, p := range r.s.payments {
		if p.ApplicationID == applicationID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.After(payments[j].CreatedAt) })
	return payments, nil
}

func (r paymentRepo) LatestSucceeded(ctx context.Context, applicationID string, paymentType models.PaymentType) (*models.Payment, bool, error) {
	payments, _ := r.ListByApplication(ctx, applicationID)
	for _, p := range payments {
		if p.Type == paymentType && p.Status == models.PaymentSucceeded {
			return &p, true, nil
		}
	}
	return nil, false, nil
}

func (r paymentRepo) Resolve(_ context.Context, id string, from []models.PaymentStatus, res models.PaymentResolution) (*models.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok || !slices.Contains(from, p.Status) {
		return nil, false, nil
	}

	at := res.At
	if at.IsZero() {
		at = time.Now()
	}

	p.Status = res.Status
	setString(&p.ProviderTxID, res.ProviderTxID)
	setString(&p.CryptoTxHash, res.CryptoTxHash)
	setString(&p.FailureReason, res.FailureReason)
	setString(&p.AdminNotes, res.AdminNotes)
	if res.VerifiedBy != "" {
		p.VerifiedBy = sql.NullString{String: res.VerifiedBy, Valid: true}
		p.VerifiedAt = sql.NullTime{Time: at, Valid: true}
	}
	if res.Status.IsTerminal() {
		p.CompletedAt = sql.NullTime{Time: at, Valid: true}
	}
	p.UpdatedAt = at
	r.s.payments[id] = p
	return &p, true, nil
}

func setString(dst *sql.NullString, v string) {
	if v != "" {
		*dst = sql.NullString{String: v, Valid: true}
	}
}

type autoPayRepo struct{ s *Store }

func (r autoPayRepo) Insert(_ context.Context, setting *models.AutoPaySetting) (*models.AutoPaySetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.autoPay {
		if a.ApplicationID == setting.ApplicationID {
			return nil, repository.ErrDuplicate
		}
	}

	now := time.Now()
	a := *setting
	a.ID = r.s.nextID("autopay")
	a.IsEnabled = true
	a.CreatedAt = now
	a.UpdatedAt = now
	r.s.autoPay[a.ID] = a
	return &a, nil
}

func (r autoPayRepo) GetOne(_ context.Context, id string) (*models.AutoPaySetting, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.autoPay[id]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (r autoPayRepo) ListByUser(_ context.Context, userID string) ([]models.AutoPaySetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var settings []models.AutoPaySetting
	for _, a := range r.s.autoPay {
		if a.UserID == userID {
			settings = append(settings, a)
		}
	}
	return settings, nil
}

func (r autoPayRepo) ListDue(_ context.Context, days []int) ([]models.AutoPaySetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var settings []models.AutoPaySetting
	for _, a := range r.s.autoPay {
		if !a.IsEnabled || !slices.Contains(days, a.PaymentDay) {
			continue
		}
		if app, ok := r.s.applications[a.ApplicationID]; !ok || app.Status != models.ApplicationDisbursed {
			continue
		}
		settings = append(settings, a)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].ID < settings[j].ID })
	return settings, nil
}

func (r autoPayRepo) ListScheduled(_ context.Context) ([]models.AutoPaySetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var settings []models.AutoPaySetting
	for _, a := range r.s.autoPay {
		if (!a.IsEnabled && a.FailedAttempts == 0) || !a.NextPaymentDate.Valid {
			continue
		}
		if app, ok := r.s.applications[a.ApplicationID]; !ok || app.Status != models.ApplicationDisbursed {
			continue
		}
		settings = append(settings, a)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].NextPaymentDate.Time.Before(settings[j].NextPaymentDate.Time) })
	return settings, nil
}

func (r autoPayRepo) ClaimAttempt(_ context.Context, id string, at, dayStart time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.autoPay[id]
	if !ok || !a.IsEnabled {
		return false, nil
	}
	if a.LastAttemptAt.Valid && !a.LastAttemptAt.Time.Before(dayStart) {
		return false, nil
	}

	a.LastAttemptAt = sql.NullTime{Time: at, Valid: true}
	a.UpdatedAt = at
	r.s.autoPay[id] = a
	return true, nil
}

func (r autoPayRepo) RecordSuccess(_ context.Context, id string, paidAt, next time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.autoPay[id]
	if !ok {
		return nil
	}
	a.FailedAttempts = 0
	a.LastPaymentDate = sql.NullTime{Time: paidAt, Valid: true}
	a.NextPaymentDate = sql.NullTime{Time: next, Valid: true}
	a.UpdatedAt = time.Now()
	r.s.autoPay[id] = a
	return nil
}

func (r autoPayRepo) RecordFailure(_ context.Context, id string, maxAttempts int) (*models.AutoPaySetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.autoPay[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		a.IsEnabled = false
	}
	a.UpdatedAt = time.Now()
	r.s.autoPay[id] = a
	return &a, nil
}

func (r autoPayRepo) SetEnabled(_ context.Context, id, userID string, enabled bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.autoPay[id]
	if !ok || a.UserID != userID {
		return false, nil
	}
	a.IsEnabled = enabled
	if enabled {
		a.FailedAttempts = 0
	}
	a.UpdatedAt = time.Now()
	r.s.autoPay[id] = a
	return true, nil
}

type disbursementRepo struct{ s *Store }

func (r disbursementRepo) Insert(_ context.Context, d *models.Disbursement) (*models.Disbursement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.disbursements[d.ApplicationID]; ok {
		return nil, repository.ErrDuplicate
	}

	created := *d
	created.ID = r.s.nextID("disb")
	created.Status = models.DisbursementPending
	created.CreatedAt = time.Now()
	r.s.disbursements[d.ApplicationID] = created
	return &created, nil
}

func (r disbursementRepo) GetByApplication(_ context.Context, applicationID string) (*models.Disbursement, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.disbursements[applicationID]
	if !ok {
		return nil, false, nil
	}
	return &d, true, nil
}

func (r disbursementRepo) MarkCompleted(_ context.Context, applicationID string, ref models.Disbursement, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.disbursements[applicationID]
	if !ok || (d.Status != models.DisbursementPending && d.Status != models.DisbursementProcessing) {
		return false, nil
	}
	d.Status = models.DisbursementCompleted
	if ref.TrackingNumber.Valid {
		d.TrackingNumber = ref.TrackingNumber
	}
	if ref.TrackingCompany.Valid {
		d.TrackingCompany = ref.TrackingCompany
	}
	if ref.TransactionID.Valid {
		d.TransactionID = ref.TransactionID
	}
	if ref.AdminNotes.Valid {
		d.AdminNotes = ref.AdminNotes
	}
	d.CompletedAt = sql.NullTime{Time: at, Valid: true}
	r.s.disbursements[applicationID] = d
	return true, nil
}

type documentRepo struct{ s *Store }

func (r documentRepo) Insert(_ context.Context, doc *models.VerificationDocument) (*models.VerificationDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d := *doc
	d.ID = r.s.nextID("doc")
	d.CreatedAt = time.Now()
	r.s.documents = append(r.s.documents, d)
	return &d, nil
}

func (r documentRepo) ListTypesByUser(_ context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var types []string
	for _, d := range r.s.documents {
		if d.UserID == userID && !slices.Contains(types, d.DocumentType) {
			types = append(types, d.DocumentType)
		}
	}
	return types, nil
}

type preferenceRepo struct{ s *Store }

func (r preferenceRepo) EmailEnabled(_ context.Context, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.PreferenceErr != nil {
		return false, r.s.PreferenceErr
	}
	enabled, ok := r.s.preferences[userID]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func (r preferenceRepo) SetEmailEnabled(_ context.Context, userID string, enabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.preferences[userID] = enabled
	return nil
}

type reminderRepo struct{ s *Store }

func (r reminderRepo) LastSent(_ context.Context, kind, subjectID string) (time.Time, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var last time.Time
	found := false
	for _, e := range r.s.reminders {
		if e.kind == kind && e.subjectID == subjectID && (!found || e.at.After(last)) {
			last = e.at
			found = true
		}
	}
	return last, found, nil
}

func (r reminderRepo) Record(_ context.Context, kind, subjectID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.reminders = append(r.s.reminders, reminderEntry{kind: kind, subjectID: subjectID, at: at})
	return nil
}

type methodRepo struct{ s *Store }

func (r methodRepo) Insert(_ context.Context, method *models.SavedPaymentMethod) (*models.SavedPaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if method.IsDefault {
		for id, m := range r.s.methods {
			if m.UserID == method.UserID && m.IsDefault {
				m.IsDefault = false
				r.s.methods[id] = m
			}
		}
	}

	m := *method
	m.ID = r.s.nextID("pm")
	m.CreatedAt = time.Now()
	r.s.methods[m.ID] = m
	return &m, nil
}

func (r methodRepo) Default(_ context.Context, userID string) (*models.SavedPaymentMethod, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, m := range r.s.methods {
		if m.UserID == userID && m.IsDefault {
			return &m, true, nil
		}
	}
	return nil, false, nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) Insert(_ context.Context, log *models.ActivityLog) (*models.ActivityLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l := *log
	l.ID = r.s.nextID("log")
	l.CreatedAt = time.Now()
	r.s.activity = append(r.s.activity, l)
	return &l, nil
}

func (r activityRepo) ListByEntity(_ context.Context, entity, entityID string) ([]models.ActivityLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var logs []models.ActivityLog
	for _, l := range r.s.activity {
		if l.Entity == entity && l.EntityId == entityID {
			logs = append(logs, l)
		}
	}
	return logs, nil
}
