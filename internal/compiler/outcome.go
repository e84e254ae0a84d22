package compiler

import (
	"errors"
	"net/http"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// Outcome classifies the result of a compile call so it can cross a
// message boundary as a code.
func Outcome(err error) models.OutcomeCode {
	var compileErr *CompileError
	var apiErr *APIError
	switch {
	case err == nil:
		return models.OutcomeOK
	case errors.Is(err, ErrEndpointMissing):
		return models.OutcomeEndpointMissing
	case errors.Is(err, ErrCacheMiss):
		return models.OutcomeCacheMiss
	case errors.As(err, &compileErr):
		return models.OutcomeCompileFailed
	case errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden):
		return models.OutcomeUnauthorized
	default:
		return models.OutcomeError
	}
}

// FromOutcome rebuilds the error Outcome classified. message is the
// original error text and log any compile log that came with it.
func FromOutcome(code models.OutcomeCode, message, log string) error {
	switch code {
	case models.OutcomeOK:
		return nil
	case models.OutcomeEndpointMissing:
		return ErrEndpointMissing
	case models.OutcomeCacheMiss:
		return ErrCacheMiss
	case models.OutcomeCompileFailed:
		return &CompileError{Message: message, Log: log}
	case models.OutcomeUnauthorized:
		return &APIError{Status: http.StatusUnauthorized, Message: message}
	default:
		return errors.New(message)
	}
}
