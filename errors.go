package fluid

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by operations invoked after Close.
var ErrDisposed = errors.New("pending state manager is disposed")

// InvariantError indicates a broken protocol or programming invariant.
// Invariant failures are never retried.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Message)
}

func invariantErrorf(format string, args ...any) error {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}

// DataProcessingError indicates inbound data that cannot be reconciled with
// pending local state. It is fatal to the current in-memory session but
// recoverable at session level by forcing a resync.
//
// PendingFields and InboundFields are scrubbed payloads (field names and
// types only); MismatchIndex is the first differing character index, or -1
// when the error did not arise from a content comparison.
type DataProcessingError struct {
	Message       string
	PendingFields string
	InboundFields string
	MismatchIndex int
	PendingChar   string
	InboundChar   string

	cause error
}

func (e *DataProcessingError) Error() string {
	if e.MismatchIndex >= 0 {
		return fmt.Sprintf("data processing error: %s (first mismatch at index %d: pending %q vs inbound %q; pending fields %s; inbound fields %s)",
			e.Message, e.MismatchIndex, e.PendingChar, e.InboundChar, e.PendingFields, e.InboundFields)
	}
	if e.cause != nil {
		return fmt.Sprintf("data processing error: %s: %v", e.Message, e.cause)
	}
	return fmt.Sprintf("data processing error: %s", e.Message)
}

func (e *DataProcessingError) Unwrap() error {
	return e.cause
}

// ForkError indicates that a remote batch carries the batch id of a batch
// this client still has pending: two live client instances believe they own
// the same local state. Fatal and never retried.
type ForkError struct {
	BatchID         string
	InboundClientID string
}

func (e *ForkError) Error() string {
	return fmt.Sprintf("forked container detected: remote client %q submitted batch id %q which is still pending locally",
		e.InboundClientID, e.BatchID)
}
