package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType categorizes different error types
type ErrorType string

const (
	// Client-side, never reaches the network
	ErrorTypeValidation ErrorType = "validation"

	// Network or timeout
	ErrorTypeTransport ErrorType = "transport"

	// The server judged the content to violate policy
	ErrorTypeModeration ErrorType = "moderation"

	// The moderation subsystem could not be reached by the server
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"

	// Anything else the server reported
	ErrorTypeServer   ErrorType = "server"
	ErrorTypeNotFound ErrorType = "not_found"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Moderation describes why content was rejected by moderation.
type Moderation struct {
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// CLIError represents a structured error with context
type CLIError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
	StatusCode int
	Moderation *Moderation
}

// Error implements the error interface
func (e *CLIError) Error() string {
	return e.Message
}

// WithSuggestion adds a helpful suggestion to the error
func (e *CLIError) WithSuggestion(suggestion string) *CLIError {
	e.Suggestion = suggestion
	return e
}

// HasSuggestion returns true if the error has a suggestion
func (e *CLIError) HasSuggestion() bool {
	return e.Suggestion != ""
}

// Unwrap returns the underlying error
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the same request could succeed.
func (e *CLIError) Retryable() bool {
	switch e.Type {
	case ErrorTypeTransport, ErrorTypeServiceUnavailable, ErrorTypeServer:
		return true
	default:
		return false
	}
}

// NewCLIError creates a new CLI error
func NewCLIError(errorType ErrorType, message string, cause error) *CLIError {
	return &CLIError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// ValidationError creates a validation error
func ValidationError(field, reason string) *CLIError {
	message := fmt.Sprintf("Validation error: %s - %s", field, reason)
	return NewCLIError(ErrorTypeValidation, message, nil)
}

// FileNotFoundError creates a validation error for a missing file
func FileNotFoundError(path string) *CLIError {
	err := NewCLIError(ErrorTypeValidation, fmt.Sprintf("File not found: %s", path), nil)
	err.Suggestion = "Check the file path and try again."
	return err
}

// FileFormatError rejects a file whose extension is not allowed
func FileFormatError(ext string, allowed []string) *CLIError {
	if ext == "" {
		ext = "(none)"
	}
	err := NewCLIError(ErrorTypeValidation, fmt.Sprintf("Unsupported file type: %s", ext), nil)
	err.Suggestion = fmt.Sprintf("Supported formats: %s", strings.Join(allowed, ", "))
	return err
}

// FileSizeError rejects a file larger than the configured ceiling
func FileSizeError(sizeMB float64, maxMB int64) *CLIError {
	err := NewCLIError(ErrorTypeValidation,
		fmt.Sprintf("File too large: %.1f MB (max: %d MB)", sizeMB, maxMB),
		nil)
	err.Suggestion = fmt.Sprintf("Choose a file under %d MB.", maxMB)
	return err
}

// TransportError wraps a network failure
func TransportError(message string, cause error) *CLIError {
	err := NewCLIError(ErrorTypeTransport, message, cause)
	err.Suggestion = "Check your internet connection and try again."
	return err
}

// TimeoutError creates a timeout error
func TimeoutError(cause error) *CLIError {
	err := NewCLIError(ErrorTypeTransport, "Request timed out", cause)
	err.Suggestion = "The server is taking too long to respond. Try again in a moment."
	return err
}

// ModerationError creates a structured moderation rejection
func ModerationError(statusCode int, detail Moderation) *CLIError {
	message := detail.Message
	if message == "" {
		message = "Your content did not pass moderation"
	}
	err := NewCLIError(ErrorTypeModeration, message, nil)
	err.StatusCode = statusCode
	err.Moderation = &detail
	err.Suggestion = "Review the community guidelines, adjust your content and submit again."
	return err
}

// ServiceUnavailableError reports that moderation could not run server-side
func ServiceUnavailableError(statusCode int, message string) *CLIError {
	if message == "" {
		message = "Content moderation is temporarily unavailable"
	}
	err := NewCLIError(ErrorTypeServiceUnavailable, message, nil)
	err.StatusCode = statusCode
	err.Suggestion = "Try again in a few minutes."
	return err
}

// ServerError creates a generic retryable server error
func ServerError(statusCode int, message string) *CLIError {
	if message == "" {
		message = fmt.Sprintf("Server error (%d %s)", statusCode, http.StatusText(statusCode))
	}
	err := NewCLIError(ErrorTypeServer, message, nil)
	err.StatusCode = statusCode
	err.Suggestion = "Something went wrong on our side. Try again in a few moments."
	return err
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, identifier string) *CLIError {
	err := NewCLIError(ErrorTypeNotFound,
		fmt.Sprintf("%s not found: %s", resourceType, identifier),
		nil)
	err.StatusCode = http.StatusNotFound
	return err
}

// IsType reports whether err is a CLIError of the given type.
func IsType(err error, errorType ErrorType) bool {
	var cliErr *CLIError
	return errors.As(err, &cliErr) && cliErr.Type == errorType
}

// AsModeration extracts moderation details from err, if any.
func AsModeration(err error) (*Moderation, bool) {
	var cliErr *CLIError
	if errors.As(err, &cliErr) && cliErr.Type == ErrorTypeModeration && cliErr.Moderation != nil {
		return cliErr.Moderation, true
	}
	return nil, false
}

// CategorizeError converts a standard error into a CLIError
func CategorizeError(err error) *CLIError {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "no such host"),
		strings.Contains(errMsg, "connection reset"),
		strings.Contains(errMsg, "EOF"):
		return TransportError("Could not reach the server", err)
	case strings.Contains(errMsg, "timeout"),
		strings.Contains(errMsg, "context deadline exceeded"):
		return TimeoutError(err)
	default:
		return NewCLIError(ErrorTypeUnknown, errMsg, err)
	}
}

// FormatError returns a user-friendly error message
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	cliErr := CategorizeError(err)
	var sb strings.Builder

	sb.WriteString("Error")
	if cliErr.Type != ErrorTypeUnknown {
		sb.WriteString(" (")
		sb.WriteString(string(cliErr.Type))
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(cliErr.Message)
	sb.WriteString("\n")

	if m := cliErr.Moderation; m != nil {
		if m.Category != "" {
			sb.WriteString("  Category: ")
			sb.WriteString(m.Category)
			sb.WriteString("\n")
		}
		for _, reason := range m.Reasons {
			sb.WriteString("  - ")
			sb.WriteString(reason)
			sb.WriteString("\n")
		}
	}

	if cliErr.HasSuggestion() {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(cliErr.Suggestion)
		sb.WriteString("\n")
	}

	return sb.String()
}
