package seeders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/gopass"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/repository"
)

const defaultTimeout = 5 * time.Second

// Account is a development login created by the seeder.
type Account struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string

	// CardToken, when set, becomes the account's default saved payment method.
	CardToken string
}

type Seeder struct {
	DB     repository.Database
	Logger *slog.Logger
}

func New(DB repository.Database, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Seeder{
		DB:     DB,
		Logger: logger,
	}
}

// DefaultAccounts are one admin and one borrower with a sandbox card on file.
func DefaultAccounts(password string) []Account {
	return []Account{
		{Email: "admin@lendflow.local", Password: password, FirstName: "Ada", LastName: "Admin", Role: models.UserRoleAdmin},
		{Email: "borrower@lendflow.local", Password: password, FirstName: "Bola", LastName: "Borrower", Role: models.UserRoleBorrower, CardToken: "tok_visa"},
	}
}

// Run creates the accounts that do not exist yet. Existing emails are left untouched.
func (seeder *Seeder) Run(ctx context.Context, accounts []Account) error {
	for _, account := range accounts {
		if err := seeder.seedAccount(ctx, account); err != nil {
			return fmt.Errorf("seed %s: %w", account.Email, err)
		}
	}
	return nil
}

func (seeder *Seeder) seedAccount(ctx context.Context, account Account) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, found, err := seeder.DB.User().GetByEmail(ctx, account.Email)
	if err != nil {
		return err
	}
	if found {
		seeder.Logger.Info("account already seeded", "email", account.Email)
		return nil
	}

	if _, errs := gopass.Validate(account.Password); errs != nil {
		return fmt.Errorf("password rejected: %v", errs)
	}

	hashedPassword, err := gopass.Hash(account.Password)
	if err != nil {
		return err
	}

	userID, err := seeder.DB.User().Insert(ctx, &models.User{
		Email:          account.Email,
		FirstName:      account.FirstName,
		LastName:       account.LastName,
		Role:           account.Role,
		HashedPassword: hashedPassword,
	})
	if err != nil {
		return err
	}

	if account.CardToken != "" {
		_, err = seeder.DB.PaymentMethod().Insert(ctx, &models.SavedPaymentMethod{
			UserID:    userID,
			Type:      models.PaymentMethodCard,
			Token:     account.CardToken,
			CardBrand: "visa",
			Last4:     "4242",
			IsDefault: true,
		})
		if err != nil {
			return err
		}
	}

	seeder.Logger.Info("account seeded", "email", account.Email, "role", account.Role)
	return nil
}
