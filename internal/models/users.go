package models

import (
	"database/sql"
	"time"
)

const (
	UserRoleBorrower = "user"
	UserRoleAdmin    = "admin"
)

type User struct {
	ID             string         `db:"id"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Email          string         `db:"email"`
	Role           string         `db:"role"`
	PhoneNumber    sql.NullString `db:"phone_number"`
	HashedPassword string         `db:"hashed_password"`
	CreatedAt      time.Time      `db:"created_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return "Valued Customer"
	}
	return name
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// NotificationPreference is optional per user; a missing row means email reminders are on.
type NotificationPreference struct {
	UserID       string    `db:"user_id"`
	EmailEnabled bool      `db:"email_enabled"`
	UpdatedAt    time.Time `db:"updated_at"`
}

const (
	DocumentDriversLicenseFront = "drivers_license_front"
	DocumentPassport            = "passport"
	DocumentNationalIDFront     = "national_id_front"
	DocumentBankStatement       = "bank_statement"
	DocumentUtilityBill         = "utility_bill"
)

var (
	IdentityDocumentTypes = []string{DocumentDriversLicenseFront, DocumentPassport, DocumentNationalIDFront}
	AddressDocumentTypes  = []string{DocumentBankStatement, DocumentUtilityBill}
)

type VerificationDocument struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	DocumentType string    `db:"document_type"`
	FileURL      string    `db:"file_url"`
	CreatedAt    time.Time `db:"created_at"`
}
