package app

import (
	"errors"
	"fmt"
	"net/http"

	"reviewcore/internal/domain"
)

var (
	// ErrInvalidCredentials is returned by Authenticate for an unknown user
	// or a wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid user name or password")
	ErrUploadsDisabled    = errors.New("file uploads are not configured")
	ErrSyncDisabled       = errors.New("metadata sync is not configured")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// AsDomainError maps any error returned by the service onto a transport
// status and code. A redirect carries its target in Details.
func AsDomainError(err error) *DomainError {
	var (
		de *DomainError
		ve *domain.ValidationError
		ce *domain.ConflictError
		se *domain.StaleDocumentError
		ad *domain.AlreadyDeletedError
		fe *domain.ForbiddenError
		re *domain.RedirectedError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return de
	case errors.As(err, &re):
		return domainError(http.StatusSeeOther, "REDIRECT", "Moved", re.Target)
	case errors.As(err, &ve):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", ve.Error(), map[string]string{"field": ve.Field})
	case errors.As(err, &ce):
		return domainError(http.StatusConflict, "CONFLICT", "The document was changed by someone else", nil)
	case errors.As(err, &se):
		return domainError(http.StatusConflict, "CONFLICT", se.Error(), nil)
	case errors.As(err, &ad):
		return domainError(http.StatusGone, "ALREADY_DELETED", ad.Error(), nil)
	case errors.Is(err, domain.ErrDocumentNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.As(err, &fe):
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	case errors.Is(err, ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, ErrUploadsDisabled), errors.Is(err, ErrSyncDisabled):
		return domainError(http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func forbidden(action string) error {
	return &domain.ForbiddenError{Action: action}
}
