package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cradoe/lendflow/assets"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

const defaultTimeout = 3 * time.Second

var (
	ErrRecordNotFound = errors.New("record not found")

	// ErrOutstandingPayment is returned when an application already has an unresolved
	// processing-fee payment.
	ErrOutstandingPayment = errors.New("an outstanding payment already exists")
	ErrDuplicate          = errors.New("record already exists")
)

// Database interface defines available repositories
type Database interface {
	User() UserRepository
	Application() ApplicationRepository
	Payment() PaymentRepository
	AutoPay() AutoPayRepository
	Disbursement() DisbursementRepository
	Document() DocumentRepository
	Preference() PreferenceRepository
	Reminder() ReminderRepository
	PaymentMethod() PaymentMethodRepository
	Activity() ActivityRepository

	Close() error
}

// DatabaseImpl implements the Database interface
type DatabaseImpl struct {
	db                *sqlx.DB
	userRepo          UserRepository
	applicationRepo   ApplicationRepository
	paymentRepo       PaymentRepository
	autoPayRepo       AutoPayRepository
	disbursementRepo  DisbursementRepository
	documentRepo      DocumentRepository
	preferenceRepo    PreferenceRepository
	reminderRepo      ReminderRepository
	paymentMethodRepo PaymentMethodRepository
	activityRepo      ActivityRepository

	mu sync.Mutex
}

// New initializes a database connection and runs migrations if enabled
func New(dsn string, automigrate bool) (Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", "postgres://"+dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	if automigrate {
		if err := Migrate(dsn); err != nil {
			db.Close()
			return nil, err
		}
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sqlx.DB) *DatabaseImpl {
	return &DatabaseImpl{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	iofsDriver, err := iofs.New(assets.EmbeddedFiles, "migrations")
	if err != nil {
		return err
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", iofsDriver, "postgres://"+dsn)
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (d *DatabaseImpl) Close() error {
	return d.db.Close()
}

func (d *DatabaseImpl) User() UserRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.userRepo == nil {
		d.userRepo = NewUserRepository(d.db)
	}
	return d.userRepo
}

func (d *DatabaseImpl) Application() ApplicationRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.applicationRepo == nil {
		d.applicationRepo = NewApplicationRepository(d.db)
	}
	return d.applicationRepo
}

func (d *DatabaseImpl) Payment() PaymentRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.paymentRepo == nil {
		d.paymentRepo = NewPaymentRepository(d.db)
	}
	return d.paymentRepo
}

func (d *DatabaseImpl) AutoPay() AutoPayRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.autoPayRepo == nil {
		d.autoPayRepo = NewAutoPayRepository(d.db)
	}
	return d.autoPayRepo
}

func (d *DatabaseImpl) Disbursement() DisbursementRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disbursementRepo == nil {
		d.disbursementRepo = NewDisbursementRepository(d.db)
	}
	return d.disbursementRepo
}

func (d *DatabaseImpl) Document() DocumentRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.documentRepo == nil {
		d.documentRepo = NewDocumentRepository(d.db)
	}
	return d.documentRepo
}

func (d *DatabaseImpl) Preference() PreferenceRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.preferenceRepo == nil {
		d.preferenceRepo = NewPreferenceRepository(d.db)
	}
	return d.preferenceRepo
}

func (d *DatabaseImpl) Reminder() ReminderRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reminderRepo == nil {
		d.reminderRepo = NewReminderRepository(d.db)
	}
	return d.reminderRepo
}

func (d *DatabaseImpl) PaymentMethod() PaymentMethodRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.paymentMethodRepo == nil {
		d.paymentMethodRepo = NewPaymentMethodRepository(d.db)
	}
	return d.paymentMethodRepo
}

func (d *DatabaseImpl) Activity() ActivityRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.activityRepo == nil {
		d.activityRepo = NewActivityRepository(d.db)
	}
	return d.activityRepo
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
