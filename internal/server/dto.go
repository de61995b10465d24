package server

import (
	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

// Request payloads

type CreateClientRequest struct {
	ID        *string `json:"id,omitempty"`
	FirstName string  `json:"first_name" minLength:"1"`
	LastName  string  `json:"last_name" minLength:"1"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	AgentID   *string `json:"agent_id,omitempty"`
}

type TransitionRequest struct {
	Status string  `json:"status" enum:"PENDING,PREQUAL_REVIEW,PREQUAL_APPROVED,NEEDS_MORE_INFO,PHONE_ISSUED,IN_EXECUTION,READY_FOR_APPROVAL,APPROVED,REJECTED,INACTIVE,PARTNERSHIP_ENDED"`
	Reason  *string `json:"reason,omitempty"`
}

type GateRejectRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type GateSubmissionRequest struct {
	AgentResult *string  `json:"agent_result,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}

func (r GateSubmissionRequest) toInput() engine.GateSubmission {
	return engine.GateSubmission{AgentResult: stringOrEmpty(r.AgentResult), Evidence: r.Evidence}
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,backoffice,agent"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type ClientResponse struct {
	domain.Client
	AllowedTransitions []domain.IntakeStatus `json:"allowed_transitions"`
}

func clientResponse(c domain.Client) ClientResponse {
	return ClientResponse{Client: c, AllowedTransitions: engine.AllowedTransitions(c.IntakeStatus)}
}

type ClientList struct {
	Items []ClientResponse `json:"items"`
}

type TaskList struct {
	Items []domain.Task `json:"items"`
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type NotificationList struct {
	Items []domain.Notification `json:"items"`
}

type StatusCount struct {
	Status domain.IntakeStatus `json:"status"`
	Count  int                 `json:"count"`
}

type PipelineSummary struct {
	Statuses []StatusCount `json:"statuses"`
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
