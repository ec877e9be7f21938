// Package errors provides structured error handling for loadout operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Scan and execution errors.
	CodeScanFailed    ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"
	CodeIntegrity     ErrorCode = "INTEGRITY"

	// Rule document errors.
	CodeRuleSetNotFound ErrorCode = "RULESET_NOT_FOUND"
	CodeRuleSetInvalid  ErrorCode = "RULESET_INVALID"
	CodeRuleSetCycle    ErrorCode = "RULESET_CYCLE"
	CodeRuleSetDepth    ErrorCode = "RULESET_DEPTH"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeStoreWrite         ErrorCode = "STORE_WRITE"

	// File system errors.
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// LoadError reports a rule document that could not be turned into a bullet set.
// Callers treat it as a warning: the affected bullet set contributes nothing.
type LoadError struct {
	Code    ErrorCode
	Name    string
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	msg := fmt.Sprintf("[%s] %s (bullet set: %s)", e.Code, e.Message, e.Name)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// NewLoadError creates a load error for the named bullet set.
func NewLoadError(code ErrorCode, name, message string, cause error) *LoadError {
	return &LoadError{
		Code:    code,
		Name:    name,
		Message: message,
		Cause:   cause,
	}
}

// IntegrityError reports a dispatched command whose execution record cannot be
// retrieved from the store. It aborts the scan.
type IntegrityError struct {
	ScanID   int64
	Command  string
	Token    string
	Position int
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("[%s] no execution record for command %d of scan %d (token %s): %q",
		CodeIntegrity, e.Position, e.ScanID, e.Token, e.Command)
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first typed error in the chain.
func GetCode(err error) ErrorCode {
	var (
		scanErr      *ScanError
		loadErr      *LoadError
		integrityErr *IntegrityError
		dbErr        *DatabaseError
		cfgErr       *ConfigError
	)
	switch {
	case err == nil:
		return CodeUnknown
	case stderrors.As(err, &integrityErr):
		return CodeIntegrity
	case stderrors.As(err, &loadErr):
		return loadErr.Code
	case stderrors.As(err, &scanErr):
		return scanErr.Code
	case stderrors.As(err, &dbErr):
		return dbErr.Code
	case stderrors.As(err, &cfgErr):
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// AsLoadError returns the rule document problem in err's chain, if any.
func AsLoadError(err error) (*LoadError, bool) {
	var loadErr *LoadError
	if stderrors.As(err, &loadErr) {
		return loadErr, true
	}
	return nil, false
}

// IsIntegrityError reports whether err is a missing execution record.
func IsIntegrityError(err error) bool {
	var integrityErr *IntegrityError
	return stderrors.As(err, &integrityErr)
}

// IsFatal determines if an error indicates a fatal condition that should stop the scan.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeIntegrity, CodeStoreWrite, CodeConfiguration, CodeDatabaseMigration, CodeDatabaseConnection:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	se := NewScanError(CodeTargetInvalid, "Invalid target specification")
	se.Target = target
	return se
}

// ErrStoreWrite creates an error for execution records that could not be persisted.
func ErrStoreWrite(command string, err error) *ScanError {
	return WrapScanError(CodeStoreWrite, "Failed to persist execution record", err).
		WithContext("command", command)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
