package domain

import (
	"context"
	"errors"
	"fmt"
)

// Validation and not-found errors are reported once and never retried.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidCode      = errors.New("invalid session code")
	ErrNoRoleForUser    = errors.New("no role assigned to user")
	ErrAlreadyConfirmed = errors.New("role already confirmed")
	ErrValidation       = errors.New("validation failed")
	ErrRoleRejected     = errors.New("role assignment rejected")
	ErrNotJoined        = errors.New("not joined to a session")
	ErrGraphMissingRole = errors.New("dialogue graph missing role")
)

// Turn errors are recoverable: the caller re-polls and tries again.
var (
	ErrStaleTurn           = errors.New("turn is no longer held")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrNotSpeakingRole     = errors.New("only the speaking role may advance")
	ErrNoSelection         = errors.New("no option selected")
	ErrSelectionOutOfRange = errors.New("option index out of range")
	ErrAwaitingRefresh     = errors.New("waiting for a fresh snapshot")
)

// TransientError marks a failure that is retried by the sync loop
// (timeouts, connectivity loss, 5xx).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err aborts the join/setup flow.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrGraphMissingRole) || errors.Is(err, ErrRoleRejected)
}

var finalErrors = []error{
	ErrNotFound, ErrInvalidCode, ErrNoRoleForUser, ErrAlreadyConfirmed, ErrValidation,
	ErrRoleRejected, ErrNotJoined, ErrGraphMissingRole, ErrStaleTurn, ErrNotYourTurn,
	ErrNotSpeakingRole, context.Canceled,
}

// Classify returns final errors unchanged and wraps anything else as transient.
func Classify(op string, err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	for _, final := range finalErrors {
		if errors.Is(err, final) {
			return err
		}
	}
	return Transient(op, err)
}
