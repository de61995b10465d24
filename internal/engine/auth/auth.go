// Package auth holds the role and ownership checks applied to every engine
// operation. Checks are pure functions of the acting user and, for ownership,
// the client record.
package auth

import (
	"errors"
	"fmt"

	"intakeline/internal/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

// UnauthorizedError indicates a failed role or ownership check.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason == "" {
		return ErrUnauthorized.Error()
	}
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func deny(format string, args ...any) error {
	return &UnauthorizedError{Reason: fmt.Sprintf(format, args...)}
}

// Authenticated rejects the zero actor and unknown roles.
func Authenticated(actor domain.Actor) error {
	if actor.ID == "" {
		return deny("authentication required")
	}
	if !actor.Role.Valid() {
		return deny("unknown role %q", actor.Role)
	}
	return nil
}

// RequireRole passes when actor holds one of roles.
func RequireRole(actor domain.Actor, roles ...domain.Role) error {
	if err := Authenticated(actor); err != nil {
		return err
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return deny("role %s may not perform this action", actor.Role)
}

// RequireStaff passes for backoffice and admin users.
func RequireStaff(actor domain.Actor) error {
	return RequireRole(actor, domain.RoleBackoffice, domain.RoleAdmin)
}

// RequireOwner passes when actor is the client's assigned agent.
func RequireOwner(actor domain.Actor, c domain.Client) error {
	if err := RequireRole(actor, domain.RoleAgent); err != nil {
		return err
	}
	if !c.HasAgent() || *c.AgentID != actor.ID {
		return deny("client %s is not assigned to %s", c.ID, actor.ID)
	}
	return nil
}

// RequireStaffOrOwner passes for staff, or for the client's assigned agent.
func RequireStaffOrOwner(actor domain.Actor, c domain.Client) error {
	if RequireStaff(actor) == nil {
		return nil
	}
	return RequireOwner(actor, c)
}
