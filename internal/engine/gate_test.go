package engine_test

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/events"
)

// pendingGate seeds a PREQUAL_REVIEW client whose gate record awaits review.
func (s *EngineSuite) pendingGate() domain.Client {
	c := s.seed(domain.StatusPrequalReview, agent.ID)
	pv, err := s.engine.SubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{AgentResult: "account open"})
	s.Require().NoError(err)
	s.Require().Equal(domain.VerificationPendingReview, pv.Status)
	return c
}

func (s *EngineSuite) gate(clientID string) domain.PlatformVerification {
	pv, err := s.repo.GetPlatformVerification(s.ctx, clientID, s.engine.GatePlatform())
	s.Require().NoError(err)
	return pv
}

func (s *EngineSuite) TestRetryCycleScenario() {
	c := s.pendingGate()
	start := s.clock.Now()

	var notice domain.Notification
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n domain.Notification) error {
		notice = n
		return nil
	}).Times(1)

	pv, err := s.engine.RejectPlatformGateWithRetry(s.ctx, backoffice, c.ID, "blurry photo")
	s.Require().NoError(err)
	s.Equal(domain.VerificationRetryPending, pv.Status)
	s.Equal(1, pv.RetryCount)
	s.Require().NotNil(pv.RetryAfter)
	s.True(start.Add(24 * time.Hour).Equal(*pv.RetryAfter))
	s.Equal("blurry photo", *pv.ReviewNotes)
	s.Equal(backoffice.ID, *pv.ReviewedBy)
	s.Equal(domain.StatusPrequalReview, s.client(c.ID).IntakeStatus)

	s.Equal(domain.NotificationNeedsResubmission, notice.Type)
	s.Equal(agent.ID, notice.UserID)
	s.Contains(notice.Message, "blurry photo")
	s.Contains(notice.Message, "24 hours")

	evs, err := s.events.Latest(s.ctx, events.Query{ClientID: c.ID, EventType: domain.EventPlatformStatusChange, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(evs, 1)
	s.Equal(string(domain.VerificationPendingReview), *evs[0].OldValue)
	s.Equal(string(domain.VerificationRetryPending), *evs[0].NewValue)
	s.Contains(evs[0].Description, "blurry photo")

	// one second later the cooldown still runs
	s.clock.Advance(time.Second)
	before := s.eventCount(c.ID)
	_, err = s.engine.ResubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{Evidence: []string{"s1.png"}})
	var cooldown *engine.CooldownNotExpiredError
	s.Require().ErrorAs(err, &cooldown)
	s.ErrorIs(err, engine.ErrCooldownNotExpired)
	s.True(pv.RetryAfter.Equal(cooldown.RetryAfter))
	unchanged := s.gate(c.ID)
	s.Equal(domain.VerificationRetryPending, unchanged.Status)
	s.Equal(1, unchanged.RetryCount)
	s.Empty(unchanged.Evidence)
	s.Equal(before, s.eventCount(c.ID))

	s.clock.Advance(24 * time.Hour)
	pv, err = s.engine.ResubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{Evidence: []string{"s1.png"}})
	s.Require().NoError(err)
	s.Equal(domain.VerificationPendingReview, pv.Status)
	s.Equal(2, pv.RetryCount)
	s.Nil(pv.RetryAfter)
	s.Equal([]string{"s1.png"}, s.gate(c.ID).Evidence)
	s.Equal(before+1, s.eventCount(c.ID))

	// approval: intermediate status, so nothing is sent
	before = s.eventCount(c.ID)
	got, err := s.engine.ApprovePlatformGate(s.ctx, backoffice, c.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusPrequalApproved, got.IntakeStatus)
	verified := s.gate(c.ID)
	s.Equal(domain.VerificationVerified, verified.Status)
	s.Equal(2, verified.RetryCount)
	s.Equal(before+1, s.eventCount(c.ID))

	latest, err := s.events.Latest(s.ctx, events.Query{ClientID: c.ID, Limit: 1})
	s.Require().NoError(err)
	s.Equal(domain.EventStatusChange, latest[0].EventType)
}

func (s *EngineSuite) TestRepeatedRetryCycles() {
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	c := s.pendingGate()
	for i := 1; i <= 3; i++ {
		pv, err := s.engine.RejectPlatformGateWithRetry(s.ctx, admin, c.ID, "")
		s.Require().NoError(err)
		s.Equal(2*i-1, pv.RetryCount)
		s.Nil(pv.ReviewNotes)
		s.clock.Advance(24 * time.Hour)
		pv, err = s.engine.ResubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
		s.Require().NoError(err)
		s.Equal(2*i, pv.RetryCount)
	}
	s.Equal(domain.StatusPrequalReview, s.client(c.ID).IntakeStatus)
}

func (s *EngineSuite) TestResubmitAtExactCooldownExpiry() {
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	c := s.pendingGate()
	pv, err := s.engine.RejectPlatformGateWithRetry(s.ctx, backoffice, c.ID, "glare")
	s.Require().NoError(err)
	s.clock.now = *pv.RetryAfter

	pv, err = s.engine.ResubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
	s.Require().NoError(err)
	s.Equal(domain.VerificationPendingReview, pv.Status)
}

func (s *EngineSuite) TestGateOperationsRequireExpectedState() {
	c := s.seed(domain.StatusPrequalReview, agent.ID)

	// nothing submitted yet
	_, err := s.engine.ApprovePlatformGate(s.ctx, backoffice, c.ID)
	s.ErrorIs(err, engine.ErrVerificationNotFound)
	_, err = s.engine.RejectPlatformGateWithRetry(s.ctx, backoffice, c.ID, "x")
	s.ErrorIs(err, engine.ErrVerificationNotFound)
	_, err = s.engine.ResubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
	s.ErrorIs(err, engine.ErrVerificationNotFound)

	_, err = s.engine.SubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
	s.Require().NoError(err)

	// pending-review is neither retry-pending nor not-started
	_, err = s.engine.ResubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
	s.ErrorIs(err, engine.ErrVerificationNotFound)
	_, err = s.engine.SubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
	var gs *engine.GateStateError
	s.Require().ErrorAs(err, &gs)
	s.Equal(domain.VerificationPendingReview, gs.Status)

	s.Equal(domain.StatusPrequalReview, s.client(c.ID).IntakeStatus)
}

func (s *EngineSuite) TestApproveGateRollsBackOnIllegalTransition() {
	c := s.seed(domain.StatusPending, agent.ID)
	_, err := s.engine.SubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{})
	s.Require().NoError(err)

	_, err = s.engine.ApprovePlatformGate(s.ctx, admin, c.ID)
	s.ErrorIs(err, engine.ErrIllegalTransition)
	s.Equal(domain.VerificationPendingReview, s.gate(c.ID).Status)
	s.Equal(domain.StatusPending, s.client(c.ID).IntakeStatus)
}

func (s *EngineSuite) TestVerifiedGateAllowsPlainTransition() {
	c := s.pendingGate()
	_, err := s.engine.ApprovePlatformGate(s.ctx, admin, c.ID)
	s.Require().NoError(err)
	_, err = s.engine.Transition(s.ctx, admin, c.ID, domain.StatusReadyForApproval, engine.TransitionOptions{})
	s.Require().NoError(err)

	// a second client cannot ride on the first one's verification
	other := s.seed(domain.StatusPrequalReview, agent.ID)
	_, err = s.engine.Transition(s.ctx, admin, other.ID, domain.StatusPrequalApproved, engine.TransitionOptions{})
	s.ErrorIs(err, engine.ErrGateNotSatisfied)
}

func (s *EngineSuite) TestRejectPermanently() {
	c := s.pendingGate()
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n domain.Notification) error {
		s.Equal(domain.NotificationRejection, n.Type)
		return nil
	})
	got, err := s.engine.RejectPlatformGatePermanently(s.ctx, backoffice, c.ID, "sanctions hit")
	s.Require().NoError(err)
	s.Equal(domain.StatusRejected, got.IntakeStatus)
	s.Equal(domain.VerificationPendingReview, s.gate(c.ID).Status)

	ready := s.seed(domain.StatusReadyForApproval, agent.ID)
	_, err = s.engine.RejectPlatformGatePermanently(s.ctx, backoffice, ready.ID, "late")
	s.ErrorIs(err, engine.ErrIllegalTransition)
	s.Equal(domain.StatusReadyForApproval, s.client(ready.ID).IntakeStatus)
}

func (s *EngineSuite) TestGateAuthorization() {
	c := s.pendingGate()

	_, err := s.engine.ApprovePlatformGate(s.ctx, agent, c.ID)
	s.ErrorIs(err, engine.ErrUnauthorized)
	_, err = s.engine.RejectPlatformGateWithRetry(s.ctx, agent, c.ID, "x")
	s.ErrorIs(err, engine.ErrUnauthorized)
	_, err = s.engine.RejectPlatformGatePermanently(s.ctx, agent, c.ID, "x")
	s.ErrorIs(err, engine.ErrUnauthorized)

	fresh := s.seed(domain.StatusPrequalReview, agent.ID)
	_, err = s.engine.SubmitPlatformGate(s.ctx, backoffice, fresh.ID, engine.GateSubmission{})
	s.ErrorIs(err, engine.ErrUnauthorized)
	_, err = s.engine.SubmitPlatformGate(s.ctx, otherAgent, fresh.ID, engine.GateSubmission{})
	s.ErrorIs(err, engine.ErrUnauthorized)

	s.Equal(domain.VerificationPendingReview, s.gate(c.ID).Status)
	s.Zero(s.eventCount(fresh.ID))
}

func (s *EngineSuite) TestSubmissionValidation() {
	c := s.seed(domain.StatusPrequalReview, agent.ID)
	_, err := s.engine.SubmitPlatformGate(s.ctx, agent, c.ID, engine.GateSubmission{Evidence: []string{"ok.png", "  "}})
	s.ErrorIs(err, engine.ErrInvalidInput)
	s.Zero(s.eventCount(c.ID))
}
