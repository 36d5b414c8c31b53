// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrNoData          = errors.New("no data")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyComposite  = errors.New("empty composite series")
	ErrSpotUnavailable = errors.New("spot price unavailable")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrDatabaseError   = errors.New("database error")
	ErrNoTickers       = errors.New("no tickers configured")
	ErrFeedClosed      = errors.New("live feed closed")
)

// NoDataError is returned when a ticker or date has no quotes or candidates.
type NoDataError struct {
	Ticker string
	What   string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data [%s]: %s", e.Ticker, e.What)
}

// Is lets errors.Is match NoDataError against ErrNoData.
func (e *NoDataError) Is(target error) bool {
	return target == ErrNoData
}

// NewNoDataError creates a new NoDataError.
func NewNoDataError(ticker, what string) *NoDataError {
	return &NoDataError{Ticker: ticker, What: what}
}

// InvalidInputError is returned when quotes of different contracts are mixed.
type InvalidInputError struct {
	Field    string
	Expected interface{}
	Got      interface{}
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s mismatch (expected %v, got %v)", e.Field, e.Expected, e.Got)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewInvalidInputError creates a new InvalidInputError.
func NewInvalidInputError(field string, expected, got interface{}) *InvalidInputError {
	return &InvalidInputError{Field: field, Expected: expected, Got: got}
}

// EmptyCompositeError is returned when call and put legs share no timestamps.
type EmptyCompositeError struct {
	Ticker     string
	Strike     float64
	Expiration time.Time
	CallBars   int
	PutBars    int
}

func (e *EmptyCompositeError) Error() string {
	return fmt.Sprintf("empty composite [%s %.2f %s]: %d call bars and %d put bars share no timestamp",
		e.Ticker, e.Strike, e.Expiration.Format("2006-01-02"), e.CallBars, e.PutBars)
}

func (e *EmptyCompositeError) Is(target error) bool {
	return target == ErrEmptyComposite
}

// SpotPriceUnavailableError is returned when no underlying price exists
// within the search window.
type SpotPriceUnavailableError struct {
	Ticker  string
	Date    time.Time
	UseOpen bool
}

func (e *SpotPriceUnavailableError) Error() string {
	mode := "prior close"
	if e.UseOpen {
		mode = "open"
	}
	return fmt.Sprintf("spot price unavailable [%s] %s (%s)", e.Ticker, e.Date.Format("2006-01-02"), mode)
}

func (e *SpotPriceUnavailableError) Is(target error) bool {
	return target == ErrSpotUnavailable
}

// NewSpotPriceUnavailableError creates a new SpotPriceUnavailableError.
func NewSpotPriceUnavailableError(ticker string, date time.Time, useOpen bool) *SpotPriceUnavailableError {
	return &SpotPriceUnavailableError{Ticker: ticker, Date: date, UseOpen: useOpen}
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

func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a storage-level failure while loading market data.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
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

// Skippable reports whether err only affects one unit of work. The
// orchestrator logs these and moves on to the next ticker or pair.
func Skippable(err error) bool {
	return errors.Is(err, ErrNoData) ||
		errors.Is(err, ErrSpotUnavailable) ||
		errors.Is(err, ErrEmptyComposite) ||
		errors.Is(err, ErrInvalidInput)
}
