package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/request"
	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/validator"

	"github.com/cradoe/gopass"
	"github.com/pascaldekloe/jwt"
)

const (
	UserActivityLogRegistrationDescription = "Registered a new account"
	UserActivityLogLoginDescription        = "Logged in"
	UserActivityLogFailedLoginDescription  = "Failed login attempt"

	tokenLifetime = 24 * time.Hour
)

func (h *RouteHandler) HandleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email       string              `json:"email"`
		Password    string              `json:"password"`
		FirstName   string              `json:"first_name"`
		LastName    string              `json:"last_name"`
		PhoneNumber string              `json:"phone_number"`
		Validator   validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	// a weak password is reported on its own before the other fields
	_, errs := gopass.Validate(input.Password)
	if errs != nil {
		h.ErrHandler.FailedValidation(w, r, errs)
		return
	}

	input.Validator.Check(validator.NotBlank(input.Email), "Email is required")
	input.Validator.Check(validator.IsEmail(input.Email), "Must be a valid email address")
	input.Validator.Check(validator.NotBlank(input.FirstName), "First name is required")
	input.Validator.Check(validator.MaxRunes(input.FirstName, 100), "First name is too long")
	input.Validator.Check(validator.MaxRunes(input.LastName, 100), "Last name is too long")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	hashedPassword, err := gopass.Hash(input.Password)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	user := &models.User{
		Email:          input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		Role:           models.UserRoleBorrower,
		HashedPassword: hashedPassword,
	}
	if input.PhoneNumber != "" {
		user.PhoneNumber.String, user.PhoneNumber.Valid = input.PhoneNumber, true
	}

	userID, err := h.DB.User().Insert(r.Context(), user)
	if errors.Is(err, repository.ErrDuplicate) {
		h.ErrHandler.FailedValidation(w, r, []string{"Email is already in use"})
		return
	}
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	h.logUserActivity(userID, UserActivityLogRegistrationDescription)

	data := map[string]any{"id": userID}
	err = response.JSONCreatedResponse(w, data, "Account created successfully")
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email     string              `json:"email"`
		Password  string              `json:"password"`
		Validator validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.Email), "Email is required")
	input.Validator.Check(validator.NotBlank(input.Password), "Password is required")
	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user, found, err := h.DB.User().GetByEmail(r.Context(), input.Email)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	if found {
		passwordMatches, err := gopass.ComparePasswordAndHash(input.Password, user.HashedPassword)
		if err != nil {
			h.ErrHandler.ServerError(w, r, err)
			return
		}

		if !passwordMatches {
			h.logUserActivity(user.ID, UserActivityLogFailedLoginDescription)
			found = false
		}
	}

	if !found || user.DeletedAt.Valid {
		h.ErrHandler.FailedValidation(w, r, []string{"Incorrect email/password"})
		return
	}

	h.logUserActivity(user.ID, UserActivityLogLoginDescription)

	now := time.Now()
	expiry := now.Add(tokenLifetime)

	var claims jwt.Claims
	claims.Subject = user.ID
	claims.Issued = jwt.NewNumericTime(now)
	claims.NotBefore = jwt.NewNumericTime(now)
	claims.Expires = jwt.NewNumericTime(expiry)
	claims.Issuer = h.Config.BaseURL
	claims.Audiences = []string{h.Config.BaseURL}

	jwtBytes, err := claims.HMACSign(jwt.HS256, []byte(h.Config.Jwt.SecretKey))
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := map[string]string{
		"auth_token":   string(jwtBytes),
		"token_expiry": expiry.Format(time.RFC3339),
	}
	err = response.JSONOkResponse(w, data, "Login successful", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// logUserActivity writes the activity log entry off the request path.
func (h *RouteHandler) logUserActivity(userID, description string) {
	h.Helper.BackgroundTask("user activity log", func() error {
		_, err := h.DB.Activity().Insert(context.Background(), &models.ActivityLog{
			UserID:      userID,
			Entity:      models.ActivityLogUserEntity,
			EntityId:    userID,
			Description: description,
		})
		return err
	})
}
