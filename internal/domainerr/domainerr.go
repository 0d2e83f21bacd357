// Package domainerr defines the error sentinel used at the Injector's public
// boundary. Everywhere else, errors are logged with a structured location
// tag and the owning loop continues; only DomainErrors cross into
// caller-visible territory.
package domainerr

import "fmt"

// Code classifies a DomainError for callers that want to branch on kind
// without string-matching Message.
type Code string

const (
	// CodeConfiguration marks a fatal startup misconfiguration.
	CodeConfiguration Code = "CONFIGURATION"
	// CodeInput marks a problem with caller-supplied files (missing
	// metadata.json, unresolved source).
	CodeInput Code = "INPUT"
	// CodeVerification marks a bytecode that could not be matched.
	CodeVerification Code = "VERIFICATION"
	// CodeFilesystem marks a repository write failure.
	CodeFilesystem Code = "FILESYSTEM"
)

// DomainError is a caller-visible error carrying a stable Code and a
// human-readable Message naming the offending artifact(s).
type DomainError struct {
	Code    Code
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs a DomainError.
func New(code Code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}
