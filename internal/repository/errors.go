// Package repository holds the data access layer: the booking ledger in
// MySQL, the seat holds in Redis and the read-only catalog lookups.
//
// The sentinel values below let handlers and services tell failure
// scenarios apart with errors.Is.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers translate it into 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be applied because the
// row is in the wrong state, such as redeeming a ticket that is not paid.
// Handlers translate it into 409.
var ErrConflict = errors.New("conflict")

// ErrBookingNotFound indicates that no booking row exists for an id.
var ErrBookingNotFound = errors.New("booking not found")
