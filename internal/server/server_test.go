package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeline/internal/app"
	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/migrate"
	"intakeline/internal/repo"
	intakesdk "intakeline/sdk/go"
)

const testSecret = "test-secret"

var (
	adminActor = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	boActor    = domain.Actor{ID: "bo-1", Role: domain.RoleBackoffice}
	agentActor = domain.Actor{ID: "agent-1", Role: domain.RoleAgent}
	otherAgent = domain.Actor{ID: "agent-2", Role: domain.RoleAgent}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	URL    string
	App    *app.App
	Clock  *testClock
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// SDK returns an API client authenticated as actor.
func (s *testServer) SDK(t *testing.T, actor domain.Actor) *intakesdk.Client {
	t.Helper()
	token, err := SignToken(testSecret, actor, time.Hour, time.Now())
	require.NoError(t, err)
	c := intakesdk.New(s.URL)
	c.BearerToken = token
	c.HTTPClient = s.client
	return c
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	a := app.Build(conn, config.Default(), app.Options{Workspace: workspace, Now: clock.Now, Registerer: reg}, logger)

	handler, err := New(Config{
		Engine:   a.Engine,
		Repo:     a.Repo,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevLogin: true, Logger: logger},
		Gatherer: reg,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		Clock:  clock,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, actor domain.Actor) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, time.Hour, time.Now())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func requireAPIError(t *testing.T, err error, status int, code string) *intakesdk.APIError {
	t.Helper()
	var apiErr *intakesdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected API error, got %v", err)
	require.Equal(t, status, apiErr.StatusCode, apiErr.Body)
	require.Equal(t, code, apiErr.Code, apiErr.Body)
	return apiErr
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	wrongKey, err := SignToken("other-secret", agentActor, time.Hour, time.Now())
	require.NoError(t, err)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + wrongKey})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	expired, err := SignToken(testSecret, agentActor, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer(t, agentActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "agent-1", Role: "agent", Source: "jwt"}, me)
}

func TestSignTokenRejectsBadActors(t *testing.T) {
	_, err := SignToken("", agentActor, 0, time.Now())
	assert.Error(t, err)
	_, err = SignToken(testSecret, domain.Actor{Role: domain.RoleAgent}, 0, time.Now())
	assert.Error(t, err)
	_, err = SignToken(testSecret, domain.Actor{ID: "x", Role: "root"}, 0, time.Now())
	assert.Error(t, err)
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, srv.App.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID: "k1", UserID: "bo-1", Role: domain.RoleBackoffice, KeyHash: repo.HashAPIKey("ik_test"), CreatedAt: time.Now(),
	}))

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "ik_test"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "api_key", me.Source)
	assert.Equal(t, "backoffice", me.Role)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "ik_wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "bo-7", "role": "backoffice"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), "bo-7")
}

func TestGateRetryWorkflow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	admin := srv.SDK(t, adminActor)
	bo := srv.SDK(t, boActor)
	agent := srv.SDK(t, agentActor)

	c, err := admin.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "Dana", LastName: "Reyes", AgentID: agentActor.ID})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", c.IntakeStatus)
	assert.Equal(t, []string{"PREQUAL_REVIEW"}, c.AllowedTransitions)

	c, err = bo.Transition(ctx, c.ID, "PREQUAL_REVIEW", "")
	require.NoError(t, err)

	_, err = bo.Transition(ctx, c.ID, "PREQUAL_APPROVED", "")
	requireAPIError(t, err, http.StatusConflict, "gate_not_satisfied")

	pv, err := agent.SubmitVerification(ctx, c.ID, "account verified", nil)
	require.NoError(t, err)
	assert.Equal(t, "pending-review", pv.Status)

	pv, err = bo.RejectVerificationWithRetry(ctx, c.ID, "blurry photo")
	require.NoError(t, err)
	assert.Equal(t, "retry-pending", pv.Status)
	assert.Equal(t, 1, pv.RetryCount)

	got, err := agent.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "PREQUAL_REVIEW", got.IntakeStatus)

	inbox, err := agent.Notifications(ctx, true)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "NEEDS_RESUBMISSION", inbox[0].Type)
	assert.Contains(t, inbox[0].Message, "blurry photo")
	assert.Contains(t, inbox[0].Message, "24 hours")

	srv.Clock.Advance(time.Second)
	_, err = agent.ResubmitVerification(ctx, c.ID, "", []string{"s1.png"})
	apiErr := requireAPIError(t, err, http.StatusConflict, "cooldown_not_expired")
	assert.Equal(t, "2025-03-11T09:00:00Z", apiErr.Details["retry_after"])

	srv.Clock.Advance(24 * time.Hour)
	pv, err = agent.ResubmitVerification(ctx, c.ID, "", []string{"s1.png"})
	require.NoError(t, err)
	assert.Equal(t, "pending-review", pv.Status)
	assert.Equal(t, 2, pv.RetryCount)
	assert.Equal(t, []string{"s1.png"}, pv.Evidence)

	_, err = agent.ApproveVerification(ctx, c.ID)
	requireAPIError(t, err, http.StatusForbidden, "forbidden")

	approved, err := bo.ApproveVerification(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "PREQUAL_APPROVED", approved.IntakeStatus)

	pv, err = agent.Verification(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "verified", pv.Status)

	page, err := bo.EventsPage(ctx, c.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "STATUS_CHANGE", page.Items[0].EventType)
	require.NotEmpty(t, page.NextCursor)
	rest, err := bo.EventsPage(ctx, c.ID, 50, page.NextCursor)
	require.NoError(t, err)
	// created, review, submit, reject-with-retry, resubmit, approve
	assert.Len(t, rest.Items, 4)
}

func TestTransitionErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	bo := srv.SDK(t, boActor)
	agent := srv.SDK(t, agentActor)

	c, err := agent.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "Ana", LastName: "Lopez"})
	require.NoError(t, err)
	require.NotNil(t, c.AgentID)
	assert.Equal(t, agentActor.ID, *c.AgentID)

	_, err = bo.Transition(ctx, c.ID, "APPROVED", "")
	apiErr := requireAPIError(t, err, http.StatusConflict, "illegal_transition")
	assert.Equal(t, "PENDING", apiErr.Details["from"])
	assert.Equal(t, "APPROVED", apiErr.Details["to"])

	_, err = agent.Transition(ctx, c.ID, "PREQUAL_REVIEW", "")
	requireAPIError(t, err, http.StatusForbidden, "forbidden")

	_, err = bo.Transition(ctx, "missing", "PREQUAL_REVIEW", "")
	requireAPIError(t, err, http.StatusNotFound, "not_found")

	_, err = bo.Transition(ctx, c.ID, "SOMEWHERE", "")
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")

	_, err = bo.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "X", LastName: "Y", Email: "not-an-email"})
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")

	got, err := bo.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", got.IntakeStatus)
}

func TestAgentsSeeOnlyTheirClients(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	mine := srv.SDK(t, agentActor)
	theirs := srv.SDK(t, otherAgent)
	bo := srv.SDK(t, boActor)

	c1, err := mine.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "A", LastName: "One"})
	require.NoError(t, err)
	_, err = theirs.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "B", LastName: "Two"})
	require.NoError(t, err)

	list, err := mine.ListClients(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c1.ID, list[0].ID)

	all, err := bo.ListClients(ctx, "PENDING")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = theirs.GetClient(ctx, c1.ID)
	requireAPIError(t, err, http.StatusForbidden, "forbidden")
	_, err = theirs.SubmitVerification(ctx, c1.ID, "", nil)
	requireAPIError(t, err, http.StatusForbidden, "forbidden")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pipeline", nil, bearer(t, agentActor))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
}

func TestExecutionTasksOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	bo := srv.SDK(t, boActor)
	agent := srv.SDK(t, agentActor)

	c, err := bo.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "Dana", LastName: "Reyes", AgentID: agentActor.ID})
	require.NoError(t, err)
	for _, status := range []string{"PREQUAL_REVIEW", "NEEDS_MORE_INFO", "IN_EXECUTION"} {
		c, err = bo.Transition(ctx, c.ID, status, "")
		require.NoError(t, err, status)
	}
	require.NotNil(t, c.ExecutionDeadline)
	assert.True(t, srv.Clock.Now().Add(72*time.Hour).Equal(*c.ExecutionDeadline))

	tasks, err := agent.Tasks(ctx, c.ID)
	require.NoError(t, err)
	var upload *intakesdk.Task
	statuses := map[string]string{}
	for i, task := range tasks {
		statuses[task.Type] = task.Status
		if task.Type == "UPLOAD_SCREENSHOT" && upload == nil {
			upload = &tasks[i]
		}
	}
	assert.Equal(t, "CANCELLED", statuses["PROVIDE_INFO"])
	assert.Equal(t, "PENDING", statuses["EXECUTION"])
	require.NotNil(t, upload)

	done, err := agent.CompleteTask(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", done.Status)

	_, err = agent.CompleteTask(ctx, upload.ID)
	requireAPIError(t, err, http.StatusConflict, "task_closed")
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	bo := srv.SDK(t, boActor)
	c, err := bo.CreateClient(ctx, intakesdk.CreateClientInput{FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	_, err = bo.Transition(ctx, c.ID, "PREQUAL_REVIEW", "")
	require.NoError(t, err)

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, bearer(t, boActor))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), `intakeline_transitions_total{from="PENDING",outcome="ok",to="PREQUAL_REVIEW"} 1`), string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/clients/{client_id}/platform-verification/reject-with-retry")
	assert.Contains(t, string(data), "bearerAuth")
}

func TestProtectedPath(t *testing.T) {
	cases := []struct {
		base, path string
		want       bool
	}{
		{"/v0", "/v0", true},
		{"/v0", "/v0/clients", true},
		{"/v0/", "/v0/clients", true},
		{"/v0", "/v0x/clients", false},
		{"/v0", "/v01", false},
		{"/v0", "/docs", false},
		{"/v0", "/metrics", true},
		{"", "/clients", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, protectedPath(tc.base, tc.path), "%s under %q", tc.path, tc.base)
	}
}

func TestCreateClientRequiresBody(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", nil, bearer(t, boActor))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{"first_name": "A", "last_name": "B"}, bearer(t, boActor))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
}
