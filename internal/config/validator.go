package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ongarde/ongarde/internal/domain/upstream"
)

// RegisterCustomValidators registers OnGarde-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("upstream_url", validateUpstreamURL); err != nil {
		return fmt.Errorf("failed to register upstream_url validator: %w", err)
	}
	return nil
}

// validateUpstreamURL performs the SSRF check (spec.md §2 step 3) on a
// configured upstream base URL at load time.
func validateUpstreamURL(fl validator.FieldLevel) bool {
	return upstream.ValidateURL(fl.Field().String()) == nil
}

// Validate validates Config using struct tags and custom cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if len(c.Upstream) == 0 {
		return errors.New("upstream: at least one provider must be configured")
	}

	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "upstream_url":
		return fmt.Sprintf("%s must be an http(s) URL that does not resolve to a private network", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
