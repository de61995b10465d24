package intakesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Intakeline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// IntakeClient represents the API client model (partial).
type IntakeClient struct {
	ID                 string     `json:"id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Email              string     `json:"email,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	IntakeStatus       string     `json:"intake_status"`
	StatusChangedAt    time.Time  `json:"status_changed_at"`
	ExecutionDeadline  *time.Time `json:"execution_deadline,omitempty"`
	AgentID            *string    `json:"agent_id,omitempty"`
	AllowedTransitions []string   `json:"allowed_transitions"`
}

// Verification is the platform gate record of a client.
type Verification struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"client_id"`
	Platform    string     `json:"platform"`
	Status      string     `json:"status"`
	RetryAfter  *time.Time `json:"retry_after,omitempty"`
	RetryCount  int        `json:"retry_count"`
	ReviewNotes *string    `json:"review_notes,omitempty"`
	AgentResult *string    `json:"agent_result,omitempty"`
	Evidence    []string   `json:"evidence,omitempty"`
}

type Task struct {
	ID       string     `json:"id"`
	ClientID string     `json:"client_id"`
	Type     string     `json:"type"`
	Status   string     `json:"status"`
	Title    string     `json:"title"`
	Platform *string    `json:"platform,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID          int64     `json:"id"`
	EventType   string    `json:"event_type"`
	OldValue    *string   `json:"old_value,omitempty"`
	NewValue    *string   `json:"new_value,omitempty"`
	Description string    `json:"description"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Link      string     `json:"link,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateClientInput is the body of CreateClient.
type CreateClientInput struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateClient registers a client in PENDING.
func (c *Client) CreateClient(ctx context.Context, in CreateClientInput) (IntakeClient, error) {
	var resp IntakeClient
	err := c.do(ctx, http.MethodPost, "clients", in, &resp)
	return resp, err
}

// GetClient fetches a client by id.
func (c *Client) GetClient(ctx context.Context, id string) (IntakeClient, error) {
	var resp IntakeClient
	err := c.do(ctx, http.MethodGet, "clients/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListClients returns clients, optionally filtered by intake status.
func (c *Client) ListClients(ctx context.Context, status string) ([]IntakeClient, error) {
	endpoint := "clients"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []IntakeClient `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Transition moves a client to status.
func (c *Client) Transition(ctx context.Context, clientID, status, reason string) (IntakeClient, error) {
	body := map[string]any{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var resp IntakeClient
	err := c.do(ctx, http.MethodPost, c.clientPath(clientID, "transitions"), body, &resp)
	return resp, err
}

// Verification returns the client's gate record.
func (c *Client) Verification(ctx context.Context, clientID string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, c.clientPath(clientID, "platform-verification"), nil, &resp)
	return resp, err
}

// SubmitVerification sends the gate check for review.
func (c *Client) SubmitVerification(ctx context.Context, clientID, result string, evidence []string) (Verification, error) {
	return c.gateSubmission(ctx, clientID, "submit", result, evidence)
}

// ResubmitVerification resubmits a check that was sent back with a cooldown.
func (c *Client) ResubmitVerification(ctx context.Context, clientID, result string, evidence []string) (Verification, error) {
	return c.gateSubmission(ctx, clientID, "resubmit", result, evidence)
}

func (c *Client) gateSubmission(ctx context.Context, clientID, action, result string, evidence []string) (Verification, error) {
	body := map[string]any{}
	if result != "" {
		body["agent_result"] = result
	}
	if len(evidence) > 0 {
		body["evidence"] = evidence
	}
	var resp Verification
	err := c.do(ctx, http.MethodPost, c.clientPath(clientID, "platform-verification/"+action), body, &resp)
	return resp, err
}

// ApproveVerification verifies the gate and moves the client to PREQUAL_APPROVED.
func (c *Client) ApproveVerification(ctx context.Context, clientID string) (IntakeClient, error) {
	var resp IntakeClient
	err := c.do(ctx, http.MethodPost, c.clientPath(clientID, "platform-verification/approve"), nil, &resp)
	return resp, err
}

// RejectVerification rejects the client permanently.
func (c *Client) RejectVerification(ctx context.Context, clientID, reason string) (IntakeClient, error) {
	var resp IntakeClient
	err := c.do(ctx, http.MethodPost, c.clientPath(clientID, "platform-verification/reject"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RejectVerificationWithRetry sends the check back to the agent.
func (c *Client) RejectVerificationWithRetry(ctx context.Context, clientID, reason string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodPost, c.clientPath(clientID, "platform-verification/reject-with-retry"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Tasks lists a client's tasks.
func (c *Client) Tasks(ctx context.Context, clientID string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.clientPath(clientID, "tasks"), nil, &resp)
	return resp.Items, err
}

// CompleteTask completes a task.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/complete", nil, &resp)
	return resp, err
}

// EventsPage returns a page of a client's audit trail, newest first.
func (c *Client) EventsPage(ctx context.Context, clientID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.clientPath(clientID, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns the caller's notifications.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp struct {
		Items []Notification `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) clientPath(clientID, p string) string {
	return fmt.Sprintf("clients/%s/%s", url.PathEscape(clientID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
