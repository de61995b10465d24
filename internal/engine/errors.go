package engine

import (
	"errors"
	"fmt"
	"time"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrClientNotFound = fmt.Errorf("client %w", ErrNotFound)
	// ErrVerificationNotFound is also returned when the record exists but is
	// not in the state the gate operation expects.
	ErrVerificationNotFound = fmt.Errorf("platform verification %w", ErrNotFound)
	ErrTaskNotFound         = fmt.Errorf("task %w", ErrNotFound)

	ErrIllegalTransition  = errors.New("illegal transition")
	ErrCooldownNotExpired = errors.New("cooldown not expired")
	ErrGateNotSatisfied   = errors.New("platform verification gate not satisfied")
	ErrInvalidGateState   = errors.New("invalid platform verification state")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTaskClosed         = errors.New("task is closed")

	ErrUnauthorized = auth.ErrUnauthorized
)

// UnauthorizedError is returned when a role or ownership check fails.
type UnauthorizedError = auth.UnauthorizedError

// IllegalTransitionError names both endpoints of a rejected status change.
type IllegalTransitionError struct {
	From domain.IntakeStatus
	To   domain.IntakeStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

type CooldownNotExpiredError struct {
	RetryAfter time.Time
}

func (e *CooldownNotExpiredError) Error() string {
	return fmt.Sprintf("resubmission not allowed before %s", e.RetryAfter.UTC().Format(time.RFC3339))
}

func (e *CooldownNotExpiredError) Unwrap() error { return ErrCooldownNotExpired }

// GateStateError reports a platform record that cannot take the requested step.
type GateStateError struct {
	Platform string
	Status   domain.VerificationStatus
	Want     domain.VerificationStatus
}

func (e *GateStateError) Error() string {
	return fmt.Sprintf("platform verification for %s is %s, expected %s", e.Platform, e.Status, e.Want)
}

func (e *GateStateError) Unwrap() error { return ErrInvalidGateState }

// ValidationError lists the input fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %d field(s) failed validation", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
