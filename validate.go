package authcore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/password"
	"github.com/go-playground/validator/v10"
)

const maxEmailLength = 254

// credentialValidator checks register and login input. Only the first failing
// field is reported.
type credentialValidator struct {
	validate    *validator.Validate
	passwordTag string
}

// MaxLength counts characters; the hasher's limit counts bytes, so both are
// checked.
func newCredentialValidator(cfg PasswordConfig) *credentialValidator {
	validate := validator.New()
	if err := validate.RegisterValidation("maxbytes", maxBytes); err != nil {
		panic(err)
	}
	return &credentialValidator{
		validate: validate,
		passwordTag: fmt.Sprintf("required,min=%d,max=%d,maxbytes=%d",
			cfg.MinLength, cfg.MaxLength, password.DefaultMaxPasswordBytes),
	}
}

func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

func (v *credentialValidator) email(email string) error {
	err := v.validate.Var(strings.TrimSpace(email), fmt.Sprintf("required,email,max=%d", maxEmailLength))
	return fieldError("email", err)
}

func (v *credentialValidator) password(pw string) error {
	return fieldError("password", v.validate.Var(pw, v.passwordTag))
}

func (v *credentialValidator) credentials(email, pw string) error {
	if err := v.email(email); err != nil {
		return err
	}
	return v.password(pw)
}

func fieldError(field string, err error) error {
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return validationError(field, "is invalid")
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return validationError(field, "is required")
	case "email":
		return validationError(field, "must be a valid email address")
	case "min":
		return validationError(field, fmt.Sprintf("must be at least %s characters long", fe.Param()))
	case "max":
		return validationError(field, fmt.Sprintf("must be at most %s characters long", fe.Param()))
	case "maxbytes":
		return validationError(field, fmt.Sprintf("must be at most %s bytes long", fe.Param()))
	default:
		return validationError(field, "is invalid")
	}
}
