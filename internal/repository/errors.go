// Package repository defines the data access contracts for the send
// pipeline's domain entities; internal/repository/postgres provides the
// PostgreSQL implementation.
package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup by ID finds no matching row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status update would cross
	// an edge not present in the entity's state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned by conditional updates when the row's
	// current state no longer matches the expected precondition - another
	// worker or the reconciler got there first.
	ErrConflict = errors.New("conflicting concurrent update")
)
