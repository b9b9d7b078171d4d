// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataUnavailable      = errors.New("market data unavailable")
	ErrVerificationMismatch = errors.New("indicator verification mismatch")
	ErrInsufficientHistory  = errors.New("insufficient history")
	ErrVoterTimeout         = errors.New("voter timed out")
	ErrVoterMalformed       = errors.New("voter returned malformed output")
	ErrRiskLimitBlocked     = errors.New("blocked by risk limits")
	ErrDuplicateClose       = errors.New("trade already closed")
	ErrTradeNotFound        = errors.New("trade not found")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrCircuitOpen          = errors.New("circuit breaker is open")
	ErrInvalidTimeframe     = errors.New("invalid timeframe")
)

// DataError represents a market data error for one symbol.
type DataError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

// Unwrap returns the underlying error. A DataError always matches
// ErrDataUnavailable.
func (e *DataError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDataUnavailable, e.Err}
	}
	return []error{ErrDataUnavailable}
}

// NewDataError creates a new DataError.
func NewDataError(source, symbol, message string, err error) *DataError {
	return &DataError{
		Source:  source,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// VerificationError lists the claims that did not match recomputed values.
type VerificationError struct {
	Symbol     string
	Mismatches []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: %v", e.Symbol, e.Mismatches)
}

func (e *VerificationError) Unwrap() error {
	return ErrVerificationMismatch
}

// NewVerificationError creates a new VerificationError.
func NewVerificationError(symbol string, mismatches []string) *VerificationError {
	return &VerificationError{
		Symbol:     symbol,
		Mismatches: mismatches,
	}
}

// VoterError represents a failed vote from a panel member.
type VoterError struct {
	VoterID string
	Err     error
}

func (e *VoterError) Error() string {
	return fmt.Sprintf("voter error [%s]: %v", e.VoterID, e.Err)
}

func (e *VoterError) Unwrap() error {
	return e.Err
}

// NewVoterError creates a new VoterError.
func NewVoterError(voterID string, err error) *VoterError {
	return &VoterError{
		VoterID: voterID,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RiskError represents a risk management refusal.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

func (e *RiskError) Unwrap() error {
	return ErrRiskLimitBlocked
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
