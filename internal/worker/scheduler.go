package worker

import (
	"context"
	"errors"
	"time"
)

// NextDailyRun is the first hour:minute in now's location strictly after now.
func NextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ScheduleAutoPay runs the auto-pay sweep every day at hour:minute local time until ctx is
// done. A run that overlaps another is skipped.
func (wk *Worker) ScheduleAutoPay(reconciler *AutoPayReconciler, hour, minute int) {
	for {
		wait := time.Until(NextDailyRun(time.Now(), hour, minute))
		wk.Logger.Info("next auto-pay sweep scheduled", "in", wait.Round(time.Second).String())

		timer := time.NewTimer(wait)
		select {
		case <-wk.Ctx.Done():
			timer.Stop()
			wk.Logger.Info("auto-pay scheduler received cancellation signal, shutting down")
			return
		case <-timer.C:
		}

		wk.Helper.BackgroundTask("auto-pay sweep", func() error {
			_, err := wk.runAutoPaySweep(reconciler)
			return err
		})
	}
}

// runAutoPaySweep runs one sweep detached from shutdown. Charges already started finish and
// record their outcome.
func (wk *Worker) runAutoPaySweep(reconciler *AutoPayReconciler) (SweepStats, error) {
	stats, err := reconciler.RunDailyAutoPaySweep(context.WithoutCancel(wk.Ctx))
	if errors.Is(err, ErrSweepInProgress) {
		return stats, nil
	}
	return stats, err
}

// ScheduleReminders runs the reminder sweep at start and then every interval.
func (wk *Worker) ScheduleReminders(reconciler *ReminderReconciler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		wk.Helper.BackgroundTask("reminder sweep", func() error {
			reconciler.RunReminderSweep(context.WithoutCancel(wk.Ctx))
			return nil
		})

		select {
		case <-wk.Ctx.Done():
			wk.Logger.Info("reminder scheduler received cancellation signal, shutting down")
			return
		case <-ticker.C:
		}
	}
}
