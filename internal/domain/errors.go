package domain

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation    = "VALIDATION_FAILED"
	TextCodeBadInput      = "BAD_INPUT"
	TextCodeUnauthorized  = "UNAUTHORIZED"
	TextCodeNotFound      = "NOT_FOUND"
	TextCodeRateLimited   = "RATE_LIMITED"
	TextCodeDeliveryError = "DELIVERY_FAILED"
	TextCodeInternal      = "INTERNAL_ERROR"
)

// NewValidationError reports a malformed inbound payload field.
func NewValidationError(field, message string) error {
	return goerrors.NewValidation("event validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeValidation)
}

// NewBadInputError reports a request that could not be parsed at all.
func NewBadInputError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeBadInput)
}

// NewUnauthorizedError reports a failed webhook signature check.
func NewUnauthorizedError(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(TextCodeUnauthorized)
}

// NewNotFoundError reports a missing record. Used for canonical records that
// expired or were never written.
func NewNotFoundError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeNotFound)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func NewRateLimitError(message string) error {
	return goerrors.New(message, goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(TextCodeRateLimited)
}

// NewDeliveryError reports a connector that returned an unsuccessful result.
func NewDeliveryError(connector, details string) error {
	return goerrors.New("connector "+connector+" delivery failed: "+details, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(TextCodeDeliveryError).
		WithMetadata(map[string]any{"connector": connector, "details": details})
}

func hasCategory(err error, categories ...goerrors.Category) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	for _, c := range categories {
		if rich.Category == c {
			return true
		}
	}
	return false
}

func IsValidation(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation, goerrors.CategoryBadInput)
}

func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

func IsUnauthorized(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

// HTTPStatus returns the HTTP status carried by a go-errors error, or 500.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}
