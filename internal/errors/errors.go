// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrStoreClosed       = errors.New("store is closed")
	ErrWriterClosed      = errors.New("writer is closed")
	ErrPrefetcherClosed  = errors.New("prefetcher is closed")
	ErrConsumerClosed    = errors.New("consumer is closed")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrNotInitialized    = errors.New("store is not initialized")
	ErrLockNotAcquired   = errors.New("lock not acquired")
	ErrBufferFull        = errors.New("buffer is full")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrStoreIncompatible = errors.New("incompatible store")
)

// SchemaError reports a field, shape or type mismatch, or an attempt to
// initialize a store over incompatible existing data. It is never retried.
type SchemaError struct {
	Field  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := "schema error"
	if e.Field != "" {
		msg += fmt.Sprintf(": field=%s", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// RangeError reports an index outside [0, Limit), or a batch larger than
// capacity. It signals caller misuse.
type RangeError struct {
	Operation string
	Value     int
	Limit     int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range error: operation=%s value=%d limit=%d",
		e.Operation, e.Value, e.Limit)
}

// IOError represents a storage operation failure.
type IOError struct {
	Operation string
	Path      string
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an IOError is retryable based on the operation type.
func (e *IOError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "sync" || e.Operation == "upload"
}

// InsufficientDataError is returned by direct reads when fewer valid rows
// exist than were requested.
type InsufficientDataError struct {
	Have int
	Want int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have=%d want=%d", e.Have, e.Want)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// FlushError describes a dropped write batch.
type FlushError struct {
	Records int
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush error: records=%d: %v", e.Records, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the underlying storage error is retryable.
func (e *FlushError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// Schema and range errors are caller bugs and never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}
	var rangeErr *RangeError
	if errors.As(err, &rangeErr) {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return false
}

// IsSchema reports whether err is a SchemaError.
func IsSchema(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

// IsRange reports whether err is a RangeError.
func IsRange(err error) bool {
	var e *RangeError
	return errors.As(err, &e)
}

// IsIO reports whether err is an IOError.
func IsIO(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}
