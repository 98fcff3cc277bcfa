package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type ReminderRepository interface {
	// LastSent returns when a reminder of kind was last sent for subjectID.
	LastSent(ctx context.Context, kind, subjectID string) (time.Time, bool, error)
	Record(ctx context.Context, kind, subjectID string, at time.Time) error
}

type ReminderRepositoryImpl struct {
	db *sqlx.DB
}

func NewReminderRepository(db *sqlx.DB) ReminderRepository {
	return &ReminderRepositoryImpl{db: db}
}

func (repo *ReminderRepositoryImpl) LastSent(ctx context.Context, kind, subjectID string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var sentAt time.Time

	query := `
		SELECT sent_at FROM reminder_logs
		WHERE kind = $1 AND subject_id = $2
		ORDER BY sent_at DESC
		LIMIT 1`

	err := repo.db.GetContext(ctx, &sentAt, query, kind, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	return sentAt, true, nil
}

func (repo *ReminderRepositoryImpl) Record(ctx context.Context, kind, subjectID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `INSERT INTO reminder_logs (kind, subject_id, sent_at) VALUES ($1, $2, $3)`

	_, err := repo.db.ExecContext(ctx, query, kind, subjectID, at)
	return err
}
