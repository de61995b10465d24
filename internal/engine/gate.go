package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/store"
)

// The platform gate guards PREQUAL_REVIEW -> PREQUAL_APPROVED. Its record
// moves not-started -> pending-review -> verified, with any number of
// pending-review -> retry-pending -> pending-review cycles in between.

// GatePlatform names the platform whose verification gates PREQUAL_APPROVED.
func (e Engine) GatePlatform() string {
	return e.cfg().Intake.GatePlatform
}

// gateIn returns the gate record only while it is in status. A record in any
// other state is reported exactly like a missing one.
func (e Engine) gateIn(ctx context.Context, tx store.Tx, clientID string, status domain.VerificationStatus) (domain.PlatformVerification, error) {
	pv, err := tx.GetPlatformVerification(ctx, clientID, e.GatePlatform(), status)
	if errors.Is(err, store.ErrNotFound) {
		return pv, ErrVerificationNotFound
	}
	return pv, err
}

func (e Engine) requireVerifiedGate(ctx context.Context, tx store.Tx, c domain.Client) error {
	_, err := e.gateIn(ctx, tx, c.ID, domain.VerificationVerified)
	if errors.Is(err, ErrVerificationNotFound) {
		return fmt.Errorf("%s: %w", e.GatePlatform(), ErrGateNotSatisfied)
	}
	return err
}

// ApprovePlatformGate verifies the pending gate record and moves the client to
// PREQUAL_APPROVED in the same unit of work.
func (e Engine) ApprovePlatformGate(ctx context.Context, actor domain.Actor, clientID string) (c domain.Client, err error) {
	defer func() { e.Metrics.IncGate("approve", outcome(err)) }()
	return e.transition(ctx, "approve_platform_gate", actor, clientID, domain.StatusPrequalApproved, "",
		func(ctx context.Context, tx store.Tx, c domain.Client) error {
			pv, err := e.gateIn(ctx, tx, c.ID, domain.VerificationPendingReview)
			if err != nil {
				return err
			}
			now := e.now()
			pv.Status = domain.VerificationVerified
			pv.ReviewedBy = strPtr(actor.ID)
			pv.ReviewedAt = &now
			pv.RetryAfter = nil
			pv.UpdatedAt = now
			return tx.UpdatePlatformVerification(ctx, pv)
		})
}

// RejectPlatformGatePermanently rejects a client still in PREQUAL_REVIEW. The
// gate record is left untouched.
func (e Engine) RejectPlatformGatePermanently(ctx context.Context, actor domain.Actor, clientID, reason string) (c domain.Client, err error) {
	defer func() { e.Metrics.IncGate("reject_permanently", outcome(err)) }()
	return e.transition(ctx, "reject_platform_gate", actor, clientID, domain.StatusRejected, reason,
		func(_ context.Context, _ store.Tx, c domain.Client) error {
			if c.IntakeStatus != domain.StatusPrequalReview {
				return &IllegalTransitionError{From: c.IntakeStatus, To: domain.StatusRejected}
			}
			return nil
		})
}

// RejectPlatformGateWithRetry sends the gate record back to the agent with a
// cooldown. The client's intake status does not change.
func (e Engine) RejectPlatformGateWithRetry(ctx context.Context, actor domain.Actor, clientID, reason string) (pv domain.PlatformVerification, err error) {
	ctx, span := e.startSpan(ctx, "reject_platform_gate_with_retry",
		attribute.String("intake.client_id", clientID),
		attribute.String("intake.actor", actor.ID),
	)
	defer func() {
		e.Metrics.IncGate("reject_with_retry", outcome(err))
		endSpan(span, err)
	}()

	if err := auth.RequireStaff(actor); err != nil {
		return domain.PlatformVerification{}, err
	}
	reason = strings.TrimSpace(reason)
	cooldown := e.cfg().Intake.RetryCooldown.Std()
	var client domain.Client
	err = e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := e.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		rec, err := e.gateIn(ctx, tx, c.ID, domain.VerificationPendingReview)
		if err != nil {
			return err
		}
		now := e.now()
		retryAfter := now.Add(cooldown)
		rec.Status = domain.VerificationRetryPending
		rec.RetryAfter = &retryAfter
		rec.RetryCount++
		rec.ReviewNotes = nil
		if reason != "" {
			rec.ReviewNotes = strPtr(reason)
		}
		rec.ReviewedBy = strPtr(actor.ID)
		rec.ReviewedAt = &now
		rec.UpdatedAt = now
		if err := tx.UpdatePlatformVerification(ctx, rec); err != nil {
			return err
		}
		desc := fmt.Sprintf("%s verification returned for resubmission", rec.Platform)
		if reason != "" {
			desc += ": " + reason
		}
		if err := tx.Audit().Append(ctx, domain.Event{
			EventType:   domain.EventPlatformStatusChange,
			OldValue:    strPtr(string(domain.VerificationPendingReview)),
			NewValue:    strPtr(string(domain.VerificationRetryPending)),
			Description: desc,
			ClientID:    c.ID,
			UserID:      actor.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		client, pv = c, rec
		return nil
	})
	if err != nil {
		return domain.PlatformVerification{}, err
	}
	e.logger().Info("platform gate returned for resubmission", "client_id", clientID, "platform", pv.Platform,
		"retry_count", pv.RetryCount, "actor", actor.ID)

	why := reason
	if why == "" {
		why = "no reason given"
	}
	e.runDetached(ctx, sideEffects{
		clientID: client.ID,
		notice: e.notice(client, domain.NotificationNeedsResubmission, "Verification needs resubmission",
			fmt.Sprintf("%s verification for %s needs to be resubmitted. You can resubmit in %s. Reason: %s",
				pv.Platform, client.FullName(), humanDuration(cooldown), why)),
	})
	return pv, nil
}

// GateSubmission is what the owning agent hands in for review.
type GateSubmission struct {
	AgentResult string   `json:"agent_result,omitempty" validate:"max=2000"`
	Evidence    []string `json:"evidence,omitempty" validate:"max=20,dive,required,max=512"`
}

func (s GateSubmission) normalized() GateSubmission {
	out := GateSubmission{AgentResult: strings.TrimSpace(s.AgentResult)}
	for _, ref := range s.Evidence {
		out.Evidence = append(out.Evidence, strings.TrimSpace(ref))
	}
	return out
}

// SubmitPlatformGate opens the first review of the gate record, creating it
// when the client has none yet.
func (e Engine) SubmitPlatformGate(ctx context.Context, actor domain.Actor, clientID string, in GateSubmission) (domain.PlatformVerification, error) {
	return e.agentGateOp(ctx, "submit", actor, clientID, in, func(ctx context.Context, tx store.Tx, c domain.Client, in GateSubmission) (domain.PlatformVerification, domain.VerificationStatus, error) {
		now := e.now()
		rec, err := tx.FindPlatformVerification(ctx, c.ID, e.GatePlatform())
		switch {
		case errors.Is(err, store.ErrNotFound):
			rec = domain.PlatformVerification{
				ID:        e.newID(),
				ClientID:  c.ID,
				Platform:  e.GatePlatform(),
				Status:    domain.VerificationPendingReview,
				CreatedAt: now,
				UpdatedAt: now,
			}
			applySubmission(&rec, in)
			return rec, domain.VerificationNotStarted, tx.InsertPlatformVerification(ctx, rec)
		case err != nil:
			return rec, "", err
		case rec.Status != domain.VerificationNotStarted:
			return rec, "", &GateStateError{Platform: rec.Platform, Status: rec.Status, Want: domain.VerificationNotStarted}
		}
		rec.Status = domain.VerificationPendingReview
		rec.UpdatedAt = now
		applySubmission(&rec, in)
		return rec, domain.VerificationNotStarted, tx.UpdatePlatformVerification(ctx, rec)
	})
}

// ResubmitPlatformGate returns a retry-pending record to review once its
// cooldown has passed. Before that nothing is written.
func (e Engine) ResubmitPlatformGate(ctx context.Context, actor domain.Actor, clientID string, in GateSubmission) (domain.PlatformVerification, error) {
	return e.agentGateOp(ctx, "resubmit", actor, clientID, in, func(ctx context.Context, tx store.Tx, c domain.Client, in GateSubmission) (domain.PlatformVerification, domain.VerificationStatus, error) {
		rec, err := e.gateIn(ctx, tx, c.ID, domain.VerificationRetryPending)
		if err != nil {
			return rec, "", err
		}
		now := e.now()
		if rec.RetryAfter != nil && now.Before(*rec.RetryAfter) {
			return rec, "", &CooldownNotExpiredError{RetryAfter: *rec.RetryAfter}
		}
		rec.Status = domain.VerificationPendingReview
		rec.RetryCount++
		rec.RetryAfter = nil
		rec.UpdatedAt = now
		applySubmission(&rec, in)
		return rec, domain.VerificationRetryPending, tx.UpdatePlatformVerification(ctx, rec)
	})
}

func applySubmission(rec *domain.PlatformVerification, in GateSubmission) {
	rec.AgentResult = nil
	if in.AgentResult != "" {
		rec.AgentResult = strPtr(in.AgentResult)
	}
	rec.Evidence = in.Evidence
}

type gateMutation func(ctx context.Context, tx store.Tx, c domain.Client, in GateSubmission) (rec domain.PlatformVerification, old domain.VerificationStatus, err error)

// agentGateOp runs a gate step performed by the client's owning agent and
// audits it.
func (e Engine) agentGateOp(ctx context.Context, op string, actor domain.Actor, clientID string, in GateSubmission, mutate gateMutation) (pv domain.PlatformVerification, err error) {
	ctx, span := e.startSpan(ctx, op+"_platform_gate",
		attribute.String("intake.client_id", clientID),
		attribute.String("intake.actor", actor.ID),
	)
	defer func() {
		e.Metrics.IncGate(op, outcome(err))
		endSpan(span, err)
	}()

	if err := auth.RequireRole(actor, domain.RoleAgent); err != nil {
		return domain.PlatformVerification{}, err
	}
	in = in.normalized()
	if err := validateInput(in); err != nil {
		return domain.PlatformVerification{}, err
	}
	err = e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := e.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if err := auth.RequireOwner(actor, c); err != nil {
			return err
		}
		rec, old, err := mutate(ctx, tx, c, in)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("%s verification submitted for review", rec.Platform)
		if old == domain.VerificationRetryPending {
			desc = fmt.Sprintf("%s verification resubmitted (attempt %d)", rec.Platform, rec.RetryCount)
		}
		if len(rec.Evidence) > 0 {
			desc += fmt.Sprintf(" with %d evidence file(s)", len(rec.Evidence))
		}
		if err := tx.Audit().Append(ctx, domain.Event{
			EventType:   domain.EventPlatformStatusChange,
			OldValue:    strPtr(string(old)),
			NewValue:    strPtr(string(rec.Status)),
			Description: desc,
			ClientID:    c.ID,
			UserID:      actor.ID,
			CreatedAt:   rec.UpdatedAt,
		}); err != nil {
			return err
		}
		pv = rec
		return nil
	})
	if err != nil {
		return domain.PlatformVerification{}, err
	}
	e.logger().Info("platform gate submitted", "op", op, "client_id", clientID, "platform", pv.Platform,
		"retry_count", pv.RetryCount, "actor", actor.ID)
	return pv, nil
}
