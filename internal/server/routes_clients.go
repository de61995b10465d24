package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/engine/auth"
	"intakeline/internal/events"
	"intakeline/internal/repo"
	"intakeline/internal/store"
)

// readableClient loads a client the caller may see: staff see every client,
// agents only their own.
func readableClient(ctx context.Context, r repo.Repo, actor domain.Actor, clientID string) (domain.Client, error) {
	c, err := r.GetClient(ctx, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Client{}, engine.ErrClientNotFound
	}
	if err != nil {
		return domain.Client{}, err
	}
	if err := auth.RequireStaffOrOwner(actor, c); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

func registerClients(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateClient(ctx, actor, engine.CreateClientInput{
			ID:        stringOrEmpty(input.Body.ID),
			FirstName: input.Body.FirstName,
			LastName:  input.Body.LastName,
			Email:     stringOrEmpty(input.Body.Email),
			Phone:     stringOrEmpty(input.Body.Phone),
			AgentID:   stringOrEmpty(input.Body.AgentID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		AgentID string `query:"agent_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body ClientList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.ClientFilters{
			Status:  domain.IntakeStatus(input.Status),
			AgentID: input.AgentID,
			Limit:   normalizeLimit(input.Limit),
		}
		if filters.Status != "" && !filters.Status.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", map[string]any{"status": input.Status})
		}
		if actor.Role == domain.RoleAgent {
			filters.AgentID = actor.ID
		}
		items, err := cfg.Repo.ListClients(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ClientList{Items: []ClientResponse{}}
		for _, c := range items {
			resp.Items = append(resp.Items, clientResponse(c))
		}
		return &struct {
			Body ClientList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := readableClient(ctx, cfg.Repo, actor, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-client",
		Method:      http.MethodPost,
		Path:        "/clients/{client_id}/transitions",
		Summary:     "Change a client's intake status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ClientID string            `path:"client_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Transition(ctx, actor, input.ClientID, domain.IntakeStatus(input.Body.Status), engine.TransitionOptions{
			Reason: stringOrEmpty(input.Body.Reason),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-events",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/events",
		Summary:     "Audit trail of a client, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
		Type     string `query:"type"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := readableClient(ctx, cfg.Repo, actor, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := cfg.Events.Latest(ctx, events.Query{
			ClientID:  input.ClientID,
			EventType: input.Type,
			BeforeID:  cursorID,
			Limit:     limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventList{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body EventList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-tasks",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/tasks",
		Summary:     "List a client's tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
		Status   string `query:"status" enum:"PENDING,IN_PROGRESS,CANCELLED,COMPLETED,OVERDUE"`
		Type     string `query:"type" enum:"UPLOAD_SCREENSHOT,EXECUTION,PHONE_SIGNOUT,PHONE_RETURN,PROVIDE_INFO"`
	}) (*struct {
		Body TaskList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := readableClient(ctx, cfg.Repo, actor, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		filter := store.TaskFilter{ClientID: input.ClientID}
		if input.Status != "" {
			filter.Statuses = []domain.TaskStatus{domain.TaskStatus(input.Status)}
		}
		if input.Type != "" {
			filter.Types = []domain.TaskType{domain.TaskType(input.Type)}
		}
		items, err := cfg.Repo.ListTasks(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := TaskList{Items: []domain.Task{}}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body TaskList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pipeline-summary",
		Method:      http.MethodGet,
		Path:        "/pipeline",
		Summary:     "Client counts per intake status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PipelineSummary `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireStaff(actor); err != nil {
			return nil, handleError(err)
		}
		counts, err := cfg.Repo.CountClientsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := PipelineSummary{Statuses: []StatusCount{}}
		for _, s := range domain.AllStatuses {
			resp.Statuses = append(resp.Statuses, StatusCount{Status: s, Count: counts[s]})
		}
		return &struct {
			Body PipelineSummary `json:"body"`
		}{Body: resp}, nil
	})
}
