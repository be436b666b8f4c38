package resolver

import (
	"errors"
	"fmt"

	"github.com/sells-group/vehicle-resolver/internal/model"
)

// ValidationError rejects a request before any outbound call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CredentialError means the listing provider key is missing or could not be
// read. The whole request fails.
type CredentialError struct {
	Name string
	Err  error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s unavailable: %v", e.Name, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// UpstreamError means every executed strategy failed and no fallback payload
// could be built.
type UpstreamError struct {
	StatusCode int
	Attempts   []model.Attempt
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return "listing provider unavailable"
	}
	return fmt.Sprintf("listing provider failed with status %d", e.StatusCode)
}

// HTTPStatus is the status to return to the caller: the upstream status
// when one is known, else 502.
func (e *UpstreamError) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode <= 599 {
		return e.StatusCode
	}
	return 502
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCredential reports whether err is a *CredentialError.
func IsCredential(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
