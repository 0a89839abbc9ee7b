// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// workflows and handlers to distinguish between different failure
// scenarios. Not-found errors are benign for the background workflows:
// most of them treat a missing row as an already-resolved outcome.
package repository

import "errors"

// ErrBookingNotFound is returned when no booking exists for the given id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrShowNotFound indicates that a show was not located in the DB.
var ErrShowNotFound = errors.New("show not found")

// ErrHoldExpired is returned by MarkPaid when the booking was released
// before the payment confirmation could be recorded.
var ErrHoldExpired = errors.New("hold expired")

// ErrVersionConflict signals that a show seat map was modified by another
// writer between read and write.  Callers may retry the operation.
var ErrVersionConflict = errors.New("version conflict")
