package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/repository"
)

var ErrInvalidPaymentDay = errors.New("payment day must be between 1 and 31")

// EnableAutoPay authorizes a monthly debit of amount on day against a disbursed loan.
func (s *Service) EnableAutoPay(ctx context.Context, userID, applicationID string, amount int64, day int) (*models.AutoPaySetting, error) {
	if day < 1 || day > 31 {
		return nil, ErrInvalidPaymentDay
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", lifecycle.ErrInvalidEvent)
	}

	app, err := s.ownedApplication(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationDisbursed {
		return nil, fmt.Errorf("%w: auto-pay needs a disbursed loan, application is %s", lifecycle.ErrIllegalTransition, app.Status)
	}

	setting, err := s.db.AutoPay().Insert(ctx, &models.AutoPaySetting{
		UserID:          userID,
		ApplicationID:   applicationID,
		Amount:          amount,
		PaymentDay:      day,
		NextPaymentDate: sql.NullTime{Time: FirstPaymentDate(s.now(), day), Valid: true},
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: auto-pay already set up for application %s", lifecycle.ErrAlreadyResolved, applicationID)
	}
	if err != nil {
		return nil, err
	}

	return setting, nil
}

// SetAutoPayEnabled turns a setting off, or back on with a fresh failure counter.
func (s *Service) SetAutoPayEnabled(ctx context.Context, settingID, userID string, enabled bool) error {
	ok, err := s.db.AutoPay().SetEnabled(ctx, settingID, userID, enabled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: auto-pay setting %s", lifecycle.ErrNotFound, settingID)
	}
	return nil
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// onDay returns the given month's occurrence of day, clamped to the month's last day.
func onDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	if last := daysIn(year, month, loc); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// FirstPaymentDate is the first occurrence of day strictly after from.
func FirstPaymentDate(from time.Time, day int) time.Time {
	d := onDay(from.Year(), from.Month(), day, from.Location())
	if d.After(from) {
		return d
	}
	return NextPaymentDate(from, day)
}

// NextPaymentDate is the occurrence of day in the calendar month after from.
func NextPaymentDate(from time.Time, day int) time.Time {
	first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location()).AddDate(0, 1, 0)
	return onDay(first.Year(), first.Month(), day, from.Location())
}

// DueDays lists the anchor days charged on date. On the last day of a short month the
// anchors that month does not have are charged too.
func DueDays(date time.Time) []int {
	days := []int{date.Day()}
	if date.Day() == daysIn(date.Year(), date.Month(), date.Location()) {
		for d := date.Day() + 1; d <= 31; d++ {
			days = append(days, d)
		}
	}
	return days
}
