// Package errors provides standardized error types and helpers for n42kit.
//
// Every typed error unwraps to (or reports Is for) one of the sentinels below,
// so callers can branch on the kind with errors.Is and recover the detail
// with errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrExtension indicates a file with the wrong extension
	ErrExtension = errors.New("wrong file extension")
	// ErrStructure indicates a document structure or cardinality violation
	ErrStructure = errors.New("structure violation")
	// ErrFormat indicates text that does not match a supported notation
	ErrFormat = errors.New("unsupported format")
	// ErrDecode indicates a malformed channel-data token stream
	ErrDecode = errors.New("decode failed")
	// ErrCalibration indicates an unusable calibration
	ErrCalibration = errors.New("invalid calibration")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "document", "blob")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError represents a schema or input validation error with context
type ValidationError struct {
	Field   string // Field or element path that failed validation
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// Is reports whether target is ErrInvalidInput.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a document that is not well formed
type ParseError struct {
	Format  string // Format being parsed (e.g., "XML", "YAML")
	Path    string // File path, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// Is reports whether target is ErrInvalidInput.
func (e *ParseError) Is(target error) bool { return target == ErrInvalidInput }

// ExtensionError is returned when a file does not carry the expected extension.
type ExtensionError struct {
	Path     string
	Got      string
	Expected string
}

func (e *ExtensionError) Error() string {
	got := e.Got
	if got == "" {
		got = "(none)"
	}
	return fmt.Sprintf("file extension is incorrect for %s: got %s, want %s", e.Path, got, e.Expected)
}

func (e *ExtensionError) Unwrap() error { return ErrExtension }

// StructureError reports a root mismatch or a cardinality violation.
type StructureError struct {
	Element string // Local name of the offending element
	Parent  string // Parent element id or name, if any
	Rule    string // Cardinality rule that was violated
	Count   int    // Number of occurrences found
	Message string
}

func (e *StructureError) Error() string {
	var where string
	if e.Parent != "" {
		where = " in " + e.Parent
	}
	if e.Rule != "" {
		return fmt.Sprintf("structure violation: %s%s: expected %s, found %d", e.Element, where, e.Rule, e.Count)
	}
	return fmt.Sprintf("structure violation: %s%s: %s", e.Element, where, e.Message)
}

func (e *StructureError) Unwrap() error { return ErrStructure }

// FormatError reports text that does not match a supported notation.
type FormatError struct {
	Kind  string // What was being parsed (e.g., "duration", "timestamp")
	Value string
	Err   error // Underlying error, if any
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Kind, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Kind, e.Value)
}

func (e *FormatError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrFormat
}

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// DecodeError reports a malformed channel-data token stream.
type DecodeError struct {
	Position int    // Token index at which decoding failed
	Token    string // Offending token, empty when the stream ended early
	Message  string
	Err      error // Underlying error, if any
}

func (e *DecodeError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("decode failed at token %d (%q): %s", e.Position, e.Token, e.Message)
	}
	return fmt.Sprintf("decode failed at token %d: %s", e.Position, e.Message)
}

func (e *DecodeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrDecode
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// CalibrationError reports an unusable calibration.
type CalibrationError struct {
	ID      string // Calibration id, if known
	Message string
}

func (e *CalibrationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid calibration %s: %s", e.ID, e.Message)
	}
	return fmt.Sprintf("invalid calibration: %s", e.Message)
}

func (e *CalibrationError) Unwrap() error { return ErrCalibration }

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Path:    path,
		Message: message,
	}
}

// NewCardinality creates a StructureError for an element that occurred count
// times where rule forbids it.
func NewCardinality(element, parent, rule string, count int) *StructureError {
	return &StructureError{
		Element: element,
		Parent:  parent,
		Rule:    rule,
		Count:   count,
	}
}

// NewFormat creates a FormatError
func NewFormat(kind, value string) *FormatError {
	return &FormatError{
		Kind:  kind,
		Value: value,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
