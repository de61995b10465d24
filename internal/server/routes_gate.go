package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/repo"
)

var gateErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

type gateOutput struct {
	Body domain.PlatformVerification `json:"body"`
}

type gateClientOutput struct {
	Body ClientResponse `json:"body"`
}

func registerGate(api huma.API, cfg Config) {
	e := cfg.Engine
	const base = "/clients/{client_id}/platform-verification"

	huma.Register(api, huma.Operation{
		OperationID: "get-platform-verification",
		Method:      http.MethodGet,
		Path:        base,
		Summary:     "Get the gated platform verification record",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*gateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := readableClient(ctx, cfg.Repo, actor, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		pv, err := cfg.Repo.GetPlatformVerification(ctx, input.ClientID, e.GatePlatform())
		if errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(engine.ErrVerificationNotFound)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &gateOutput{Body: pv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-platform-verification",
		Method:      http.MethodPost,
		Path:        base + "/submit",
		Summary:     "Submit the platform verification for review (owning agent)",
		Errors:      gateErrors,
	}, func(ctx context.Context, input *struct {
		ClientID string                `path:"client_id"`
		Body     GateSubmissionRequest `json:"body" required:"false"`
	}) (*gateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pv, err := e.SubmitPlatformGate(ctx, actor, input.ClientID, input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &gateOutput{Body: pv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-platform-verification",
		Method:      http.MethodPost,
		Path:        base + "/resubmit",
		Summary:     "Resubmit after the retry cooldown (owning agent)",
		Errors:      gateErrors,
	}, func(ctx context.Context, input *struct {
		ClientID string                `path:"client_id"`
		Body     GateSubmissionRequest `json:"body" required:"false"`
	}) (*gateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pv, err := e.ResubmitPlatformGate(ctx, actor, input.ClientID, input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &gateOutput{Body: pv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-platform-verification",
		Method:      http.MethodPost,
		Path:        base + "/approve",
		Summary:     "Verify the platform and move the client to PREQUAL_APPROVED",
		Errors:      gateErrors,
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*gateClientOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ApprovePlatformGate(ctx, actor, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &gateClientOutput{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-platform-verification",
		Method:      http.MethodPost,
		Path:        base + "/reject",
		Summary:     "Reject the client permanently",
		Errors:      gateErrors,
	}, func(ctx context.Context, input *struct {
		ClientID string            `path:"client_id"`
		Body     GateRejectRequest `json:"body" required:"false"`
	}) (*gateClientOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RejectPlatformGatePermanently(ctx, actor, input.ClientID, stringOrEmpty(input.Body.Reason))
		if err != nil {
			return nil, handleError(err)
		}
		return &gateClientOutput{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-platform-verification-with-retry",
		Method:      http.MethodPost,
		Path:        base + "/reject-with-retry",
		Summary:     "Return the verification to the agent with a cooldown",
		Errors:      gateErrors,
	}, func(ctx context.Context, input *struct {
		ClientID string            `path:"client_id"`
		Body     GateRejectRequest `json:"body" required:"false"`
	}) (*gateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pv, err := e.RejectPlatformGateWithRetry(ctx, actor, input.ClientID, stringOrEmpty(input.Body.Reason))
		if err != nil {
			return nil, handleError(err)
		}
		return &gateOutput{Body: pv}, nil
	})
}
