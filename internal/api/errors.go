package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired means the access token was rejected and could not be refreshed.
	ErrSessionExpired = errors.New("session expired, please log in again")
	ErrNotFound       = errors.New("not found")
)

// APIError is a non-2xx response from the REST backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsAuthError reports whether err requires the user to log in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
