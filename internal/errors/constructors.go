package errors

import (
	"fmt"
	"net/http"
)

// ConfigError creates a fatal settings error
func ConfigError(message string, solutions ...string) *PermitError {
	err := New(ErrorTypeConfiguration, message)
	if len(solutions) == 0 {
		solutions = []string{"Make sure the settings file exists and is properly formatted"}
	}
	err.WithSolutions(solutions...)
	err.WithHelp("permitwatch validate --config <file>")
	return err
}

// ConfigReadError wraps a failure to read or decode the settings file
func ConfigReadError(path string, cause error) *PermitError {
	err := Wrap(ErrorTypeConfiguration, cause, "failed to load settings").WithSubject(path)
	err.WithSolutions(
		"Make sure the settings file exists and is properly formatted",
		"Pass the file explicitly with --config",
	)
	return err
}

// FetchError wraps a failure to fetch availability for a permit
func FetchError(permitID string, cause error) *PermitError {
	return Wrap(ErrorTypeFetch, cause, "failed to fetch availability").
		WithSubject("permit " + permitID)
}

// FetchStatusError reports an unexpected HTTP status from the availability API
func FetchStatusError(permitID, what string, status int) *PermitError {
	err := New(ErrorTypeFetch, fmt.Sprintf("failed to get %s", what)).
		WithSubject("permit " + permitID).
		WithCause(fmt.Sprintf("HTTP %d %s", status, http.StatusText(status)))
	if status == http.StatusTooManyRequests {
		err.WithSolutions("Increase run-every to reduce request rate")
	}
	return err
}

// PersistenceError wraps a failure to load or save the snapshot store
func PersistenceError(location string, cause error) *PermitError {
	return Wrap(ErrorTypePersistence, cause, "snapshot store failure").WithSubject(location)
}

// NotificationError wraps a failure to deliver a notification
func NotificationError(backend string, cause error) *PermitError {
	return Wrap(ErrorTypeNotification, cause, "failed to send notification").WithSubject(backend)
}
