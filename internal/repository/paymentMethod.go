package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/jmoiron/sqlx"
)

type PaymentMethodRepository interface {
	Insert(ctx context.Context, method *models.SavedPaymentMethod) (*models.SavedPaymentMethod, error)
	Default(ctx context.Context, userID string) (*models.SavedPaymentMethod, bool, error)
}

type PaymentMethodRepositoryImpl struct {
	db *sqlx.DB
}

func NewPaymentMethodRepository(db *sqlx.DB) PaymentMethodRepository {
	return &PaymentMethodRepositoryImpl{db: db}
}

// Insert stores a tokenized method. A method saved as default replaces the previous default.
func (repo *PaymentMethodRepositoryImpl) Insert(ctx context.Context, method *models.SavedPaymentMethod) (*models.SavedPaymentMethod, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if method.IsDefault {
		_, err = tx.ExecContext(ctx, `UPDATE saved_payment_methods SET is_default = FALSE WHERE user_id = $1 AND is_default`, method.UserID)
		if err != nil {
			return nil, err
		}
	}

	var created models.SavedPaymentMethod

	query := `
		INSERT INTO saved_payment_methods (user_id, type, token, card_brand, last4, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`

	err = tx.GetContext(ctx, &created, query,
		method.UserID,
		method.Type,
		method.Token,
		method.CardBrand,
		method.Last4,
		method.IsDefault,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &created, nil
}

func (repo *PaymentMethodRepositoryImpl) Default(ctx context.Context, userID string) (*models.SavedPaymentMethod, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var method models.SavedPaymentMethod

	query := `SELECT * FROM saved_payment_methods WHERE user_id = $1 AND is_default`

	err := repo.db.GetContext(ctx, &method, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &method, true, nil
}
