package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field
// rules. Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRemoteBinding(); err != nil {
		return err
	}
	if err := c.validateAuthCredentials(); err != nil {
		return err
	}

	return nil
}

// validateRemoteBinding enforces the bind-safety rule: a non-loopback
// host requires ALLOW_REMOTE=true and AUTH_MODE=oauth.
func (c *Config) validateRemoteBinding() error {
	if c.Server.IsLoopback() {
		return nil
	}
	if !c.Server.AllowRemote {
		return errors.New("server: binding to a non-loopback host requires ALLOW_REMOTE=true")
	}
	if c.Auth.Mode != AuthModeOAuth {
		return errors.New("server: binding to a non-loopback host requires AUTH_MODE=oauth")
	}
	return nil
}

// validateAuthCredentials ensures the selected mode has what it needs.
func (c *Config) validateAuthCredentials() error {
	switch c.Auth.Mode {
	case AuthModeStatic:
		if len(c.Auth.AccessTokens) == 0 && c.Auth.APIKey == "" {
			return errors.New("auth: static mode requires ACCESS_TOKENS or API_KEY")
		}
	case AuthModeOAuth:
		if c.Auth.OAuth.IntrospectionURL == "" {
			return errors.New("auth: oauth mode requires OAUTH_INTROSPECTION_URL")
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a
// single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
