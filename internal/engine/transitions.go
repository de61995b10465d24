package engine

import "intakeline/internal/domain"

// transitions is the intake state machine. A pair not listed here is illegal;
// terminal statuses have no entry.
var transitions = map[domain.IntakeStatus][]domain.IntakeStatus{
	domain.StatusPending: {
		domain.StatusPrequalReview,
	},
	domain.StatusPrequalReview: {
		domain.StatusPrequalApproved,
		domain.StatusRejected,
		domain.StatusNeedsMoreInfo,
		domain.StatusReadyForApproval,
	},
	domain.StatusPrequalApproved: {
		domain.StatusReadyForApproval,
		domain.StatusInactive,
	},
	domain.StatusNeedsMoreInfo: {
		domain.StatusInExecution,
	},
	domain.StatusPhoneIssued: {
		domain.StatusInExecution,
	},
	domain.StatusInExecution: {
		domain.StatusReadyForApproval,
	},
	domain.StatusReadyForApproval: {
		domain.StatusApproved,
		domain.StatusRejected,
	},
	domain.StatusApproved: {
		domain.StatusPartnershipEnded,
	},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to domain.IntakeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable in one step from s.
func AllowedTransitions(s domain.IntakeStatus) []domain.IntakeStatus {
	return append([]domain.IntakeStatus{}, transitions[s]...)
}

func checkTransition(from, to domain.IntakeStatus) error {
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}
