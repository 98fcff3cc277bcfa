// Every state change that touches money leaves a row here, including the ones that
// failed or lost a race. entity/entity_id are polymorphic so one table serves
// applications, payments and auto-pay settings.
package repository

import (
	"context"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
)

type ActivityRepository interface {
	Insert(ctx context.Context, log *models.ActivityLog) (*models.ActivityLog, error)
	ListByEntity(ctx context.Context, entity, entityID string) ([]models.ActivityLog, error)
}

type ActivityRepositoryImpl struct {
	db *sqlx.DB
}

func NewActivityRepository(db *sqlx.DB) ActivityRepository {
	return &ActivityRepositoryImpl{db: db}
}

func (repo *ActivityRepositoryImpl) Insert(ctx context.Context, log *models.ActivityLog) (*models.ActivityLog, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created models.ActivityLog

	query := `
		INSERT INTO activity_logs (user_id, entity, entity_id, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, COALESCE(user_id::text, '') AS user_id, entity, entity_id, description, created_at`

	err := repo.db.GetContext(ctx, &created, query,
		nullString(log.UserID),
		log.Entity,
		log.EntityId,
		log.Description,
	)
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func (repo *ActivityRepositoryImpl) ListByEntity(ctx context.Context, entity, entityID string) ([]models.ActivityLog, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var logs []models.ActivityLog

	query := `
		SELECT id, COALESCE(user_id::text, '') AS user_id, entity, entity_id, description, created_at
		FROM activity_logs
		WHERE entity = $1 AND entity_id = $2
		ORDER BY created_at DESC`

	err := repo.db.SelectContext(ctx, &logs, query, entity, entityID)
	if err != nil {
		return nil, err
	}

	return logs, nil
}
