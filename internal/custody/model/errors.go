package model

import (
	"errors"
	"fmt"
)

// Base error classes. Specific errors wrap one of these so callers can
// classify with errors.Is without enumerating every sentinel.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)

var (
	// ErrUnknownEvidence — the evidence id has never been registered.
	ErrUnknownEvidence = fmt.Errorf("unknown evidence: %w", ErrNotFound)

	// ErrDuplicateEvidence — an evidence id was registered twice.
	ErrDuplicateEvidence = fmt.Errorf("evidence already registered: %w", ErrConflict)

	// ErrSequenceConflict — a concurrent append already claimed the next
	// sequence number for the same evidence item.
	ErrSequenceConflict = fmt.Errorf("sequence conflict: %w", ErrConflict)

	// ErrActiveTransferExists — the evidence item already has a pending
	// transfer request. At most one pending request per item is allowed.
	ErrActiveTransferExists = fmt.Errorf("active transfer request exists: %w", ErrConflict)

	// ErrRequestNotFound — no transfer request with the given id.
	ErrRequestNotFound = fmt.Errorf("transfer request not found: %w", ErrNotFound)

	// ErrRequestNotPending — a decision was attempted on a request that has
	// already reached a terminal state.
	ErrRequestNotPending = fmt.Errorf("transfer request is not pending: %w", ErrInvalidState)
)

// ErrValidation is returned when a caller supplies invalid input. It maps to
// HTTP 400 at the boundary.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }
