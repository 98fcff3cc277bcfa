package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
)

type DocumentRepository interface {
	Insert(ctx context.Context, doc *models.VerificationDocument) (*models.VerificationDocument, error)
	ListTypesByUser(ctx context.Context, userID string) ([]string, error)
}

type DocumentRepositoryImpl struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) DocumentRepository {
	return &DocumentRepositoryImpl{db: db}
}

func (repo *DocumentRepositoryImpl) Insert(ctx context.Context, doc *models.VerificationDocument) (*models.VerificationDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created models.VerificationDocument

	query := `
		INSERT INTO verification_documents (user_id, document_type, file_url)
		VALUES ($1, $2, $3)
		RETURNING *`

	err := repo.db.GetContext(ctx, &created, query, doc.UserID, doc.DocumentType, doc.FileURL)
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func (repo *DocumentRepositoryImpl) ListTypesByUser(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var types []string

	query := `SELECT DISTINCT document_type FROM verification_documents WHERE user_id = $1`

	err := repo.db.SelectContext(ctx, &types, query, userID)
	if err != nil {
		return nil, err
	}

	return types, nil
}

type PreferenceRepository interface {
	// EmailEnabled reports the user's email reminder preference. Users without a stored
	// preference are opted in.
	EmailEnabled(ctx context.Context, userID string) (bool, error)
	SetEmailEnabled(ctx context.Context, userID string, enabled bool) error
}

type PreferenceRepositoryImpl struct {
	db *sqlx.DB
}

func NewPreferenceRepository(db *sqlx.DB) PreferenceRepository {
	return &PreferenceRepositoryImpl{db: db}
}

func (repo *PreferenceRepositoryImpl) EmailEnabled(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var enabled bool

	query := `SELECT email_enabled FROM notification_preferences WHERE user_id = $1`

	err := repo.db.GetContext(ctx, &enabled, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, err
	}

	return enabled, nil
}

func (repo *PreferenceRepositoryImpl) SetEmailEnabled(ctx context.Context, userID string, enabled bool) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO notification_preferences (user_id, email_enabled, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email_enabled = EXCLUDED.email_enabled, updated_at = EXCLUDED.updated_at`

	_, err := repo.db.ExecContext(ctx, query, userID, enabled, time.Now())
	return err
}
