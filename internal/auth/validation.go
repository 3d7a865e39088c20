package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
	maxNameLength    = 255
	maxEmailLength   = 255
)

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordInput struct {
	CurrentPassword      string `json:"current_password"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
}

func (in RegisterInput) Validate() error {
	return toValidationError(validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, maxNameLength)),
		validation.Field(&in.Email, validation.Required, validation.Length(1, maxEmailLength), is.EmailFormat),
		validation.Field(&in.Password, passwordRules()...),
		validation.Field(&in.PasswordConfirmation, validation.Required, validation.By(matches(in.Password))),
	))
}

func (in *LoginInput) normalize() {
	in.Email = NormalizeEmail(in.Email)
}

func (in LoginInput) Validate() error {
	return toValidationError(validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required),
	))
}

func (in ChangePasswordInput) Validate() error {
	return toValidationError(validation.ValidateStruct(&in,
		validation.Field(&in.CurrentPassword, validation.Required),
		validation.Field(&in.Password, passwordRules()...),
		validation.Field(&in.PasswordConfirmation, validation.Required, validation.By(matches(in.Password))),
	))
}

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.RuneLength(minPasswordLength, 0),
		validation.By(maxBytes(maxPasswordBytes)),
	}
}

func matches(expected string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if !hashesEqual(s, expected) {
			return errors.New("does not match password")
		}
		return nil
	}
}

func maxBytes(limit int) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if len(s) > limit {
			return errors.New("is too long")
		}
		return nil
	}
}

// toValidationError converts ozzo field errors into a ValidationError and
// passes anything else through.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	ve := &ValidationError{}
	for field, fieldErr := range fieldErrs {
		ve.add(field, fieldErr.Error())
	}
	if ve.empty() {
		return nil
	}
	return ve
}
