// Package errors contains the service-wide error taxonomy shared by the
// Relayer and Indexer processors.
package errors

import (
	"errors"
)

// Category classifies a processor-level failure so callers can apply the
// right recovery policy instead of inspecting error strings.
type Category int

const (
	// CategoryInvalidEvent: event fields failed validation. Log, skip, no
	// state written.
	CategoryInvalidEvent Category = iota
	// CategoryInsufficientConfirmations: depth gate not met. Deferred via the
	// cursor gate; no persistent state.
	CategoryInsufficientConfirmations
	// CategoryAlreadyProcessed: on-chain isProcessed returned true.
	CategoryAlreadyProcessed
	// CategoryInsufficientLiquidity: target bridge balance short.
	CategoryInsufficientLiquidity
	// CategoryRetryableRPC: network/timeout/transient chain error.
	CategoryRetryableRPC
	// CategoryTerminalRPC: revert, invalid param, chain mismatch.
	CategoryTerminalRPC
	// CategoryStoreFailure: database unavailable.
	CategoryStoreFailure
	// CategoryShutdownCancelled: context cancelled mid-operation.
	CategoryShutdownCancelled
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidEvent:
		return "InvalidEvent"
	case CategoryInsufficientConfirmations:
		return "InsufficientConfirmations"
	case CategoryAlreadyProcessed:
		return "AlreadyProcessed"
	case CategoryInsufficientLiquidity:
		return "InsufficientLiquidity"
	case CategoryRetryableRPC:
		return "RetryableRPC"
	case CategoryTerminalRPC:
		return "TerminalRPC"
	case CategoryStoreFailure:
		return "StoreFailure"
	case CategoryShutdownCancelled:
		return "ShutdownCancelled"
	default:
		return "Unknown"
	}
}

// ServiceError is the single sum type every processor-level failure collapses
// into (spec §9: "exception-style error returns collapse into a single sum
// type").
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Category.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Category.String() + ": " + e.Message
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether err is a ServiceError of the given category.
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Category == cat
	}
	return false
}

// IsRetryable reports whether the Chain Watcher or Relayer Processor should
// retry the operation rather than mark it terminal.
func IsRetryable(err error) bool {
	return Is(err, CategoryRetryableRPC) || Is(err, CategoryStoreFailure)
}

func newError(cat Category, message string, err error) *ServiceError {
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// InvalidEvent wraps a validation failure on an inbound Deposit/Withdraw.
func InvalidEvent(message string, err error) error {
	return newError(CategoryInvalidEvent, message, err)
}

// InsufficientConfirmations wraps a confirmation-depth gate failure.
func InsufficientConfirmations(message string) error {
	return newError(CategoryInsufficientConfirmations, message, nil)
}

// AlreadyProcessed wraps the on-chain isProcessed short-circuit.
func AlreadyProcessed(message string) error {
	return newError(CategoryAlreadyProcessed, message, nil)
}

// InsufficientLiquidity wraps a target-chain bridge-balance shortfall.
func InsufficientLiquidity(message string) error {
	return newError(CategoryInsufficientLiquidity, message, nil)
}

// RetryableRPC wraps a transient chain-client failure.
func RetryableRPC(message string, err error) error {
	return newError(CategoryRetryableRPC, message, err)
}

// TerminalRPC wraps a deterministic chain-client failure (revert, bad param).
func TerminalRPC(message string, err error) error {
	return newError(CategoryTerminalRPC, message, err)
}

// StoreFailure wraps a database error that must abort the current processor
// step without advancing the watcher cursor.
func StoreFailure(message string, err error) error {
	return newError(CategoryStoreFailure, message, err)
}

// ShutdownCancelled wraps a context-cancellation during an in-flight
// operation; it is never treated as `failed` state.
func ShutdownCancelled(message string) error {
	return newError(CategoryShutdownCancelled, message, nil)
}
