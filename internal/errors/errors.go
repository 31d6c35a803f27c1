package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "Configuration"
	ErrorTypeFetch         ErrorType = "Fetch"
	ErrorTypePersistence   ErrorType = "Persistence"
	ErrorTypeNotification  ErrorType = "Notification"
)

// Exit codes of the permitwatch process
const (
	ExitOK     = 0
	ExitConfig = 1
)

// PermitError is a categorized error with optional user guidance
type PermitError struct {
	Type      ErrorType
	Message   string
	Cause     string
	Solutions []string
	Help      string
	// Subject names the permit, store location or notifier involved
	Subject string
	Err     error
}

// Error implements the error interface
func (e *PermitError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Subject != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Subject))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	} else if e.Cause != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Cause)
	}
	return sb.String()
}

// Unwrap returns the wrapped error
func (e *PermitError) Unwrap() error {
	return e.Err
}

// Format implements fmt.Formatter for custom formatting
func (e *PermitError) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, e.Error())
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "[%s] %s", e.Type, e.Error())
		} else {
			fmt.Fprint(f, e.Error())
		}
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}

// New creates a new PermitError
func New(errType ErrorType, message string) *PermitError {
	return &PermitError{
		Type:    errType,
		Message: message,
	}
}

// Wrap creates a new PermitError around err
func Wrap(errType ErrorType, err error, message string) *PermitError {
	return &PermitError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// WithCause adds cause information
func (e *PermitError) WithCause(cause string) *PermitError {
	e.Cause = cause
	return e
}

// WithSolutions adds solution steps
func (e *PermitError) WithSolutions(solutions ...string) *PermitError {
	e.Solutions = append(e.Solutions, solutions...)
	return e
}

// WithHelp adds help command
func (e *PermitError) WithHelp(help string) *PermitError {
	e.Help = help
	return e
}

// WithSubject records the permit, location or backend involved
func (e *PermitError) WithSubject(subject string) *PermitError {
	e.Subject = subject
	return e
}

// Is matches another PermitError by type, so errors.Is(err,
// New(ErrorTypeFetch, "")) checks the category.
func (e *PermitError) Is(target error) bool {
	t, ok := target.(*PermitError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// TypeOf returns the category of the first PermitError in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var pe *PermitError
	if stderrors.As(err, &pe) {
		return pe.Type, true
	}
	return "", false
}

// IsType reports whether err carries a PermitError of the given type
func IsType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsUserError checks if error requires user action
func IsUserError(err error) bool {
	return IsType(err, ErrorTypeConfiguration)
}

// GetExitCode returns the process exit code for err. A cancelled context
// is a graceful shutdown.
func GetExitCode(err error) int {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return ExitOK
	}
	return ExitConfig
}
