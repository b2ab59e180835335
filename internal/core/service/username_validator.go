package service

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/lernquiz/account-system/internal/core/domain"
	"github.com/lernquiz/account-system/internal/core/ports"
)

var usernameCharset = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// UsernameValidator decides whether a candidate username is structurally
// acceptable and not retired by the denylist. Structural rules run through
// go-playground/validator; the denylist is consulted afterwards so that a
// retired identity never passes, however many times it is rechecked.
type UsernameValidator struct {
	v        *validator.Validate
	denylist ports.Denylist
}

func NewUsernameValidator(denylist ports.Denylist) *UsernameValidator {
	v := validator.New()
	// Kept as a registered rule so the tag shows up in validation errors.
	_ = v.RegisterValidation("usercharset", func(fl validator.FieldLevel) bool {
		return usernameCharset.MatchString(fl.Field().String())
	})
	return &UsernameValidator{v: v, denylist: denylist}
}

// IsAllowed returns false with a user-facing reason when the candidate is
// rejected. The error reports denylist I/O failures only.
func (uv *UsernameValidator) IsAllowed(candidate string) (bool, string, error) {
	tag := fmt.Sprintf("required,min=%d,max=%d,usercharset", domain.UsernameMinLen, domain.UsernameMaxLen)
	if err := uv.v.Var(candidate, tag); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return false, fieldError(ve[0]), nil
		}
		return false, "username is not valid", nil
	}

	banned, err := uv.denylist.Contains(candidate)
	if err != nil {
		return false, "", fmt.Errorf("denylist check: %w", err)
	}
	if banned {
		return false, "username contains a forbidden term", nil
	}
	return true, "", nil
}

// fieldError converts a single ValidationError into a human-readable message.
func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "username must not be empty"
	case "min":
		return fmt.Sprintf("username must have at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("username must have at most %s characters", fe.Param())
	case "usercharset":
		return "username may only contain letters, digits, _ and -"
	default:
		return fmt.Sprintf("username failed validation (%s)", fe.Tag())
	}
}
