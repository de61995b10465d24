package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/migrate"
	"intakeline/internal/repo"
	"intakeline/internal/store"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func insertClient(t *testing.T, st repo.Store, id string, status domain.IntakeStatus, agentID string) domain.Client {
	t.Helper()
	c := domain.Client{ID: id, FirstName: "Lee", LastName: "Park", IntakeStatus: status, StatusChangedAt: t0, CreatedAt: t0}
	if agentID != "" {
		c.AgentID = &agentID
	}
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertClient(ctx, c)
	}))
	return c
}

func TestClientRoundTripAndFilters(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	insertClient(t, st, "c1", domain.StatusPending, "agent-1")
	insertClient(t, st, "c2", domain.StatusPrequalReview, "agent-2")
	insertClient(t, st, "c3", domain.StatusPrequalReview, "")

	got, err := r.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Lee Park", got.FullName())
	assert.Equal(t, domain.StatusPending, got.IntakeStatus)
	require.NotNil(t, got.AgentID)
	assert.Equal(t, "agent-1", *got.AgentID)
	assert.True(t, t0.Equal(got.StatusChangedAt))
	assert.Nil(t, got.ExecutionDeadline)

	_, err = r.GetClient(ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	inReview, err := r.ListClients(ctx, repo.ClientFilters{Status: domain.StatusPrequalReview})
	require.NoError(t, err)
	assert.Len(t, inReview, 2)

	mine, err := r.ListClients(ctx, repo.ClientFilters{AgentID: "agent-2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "c2", mine[0].ID)

	counts, err := r.CountClientsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])
	assert.Equal(t, 2, counts[domain.StatusPrequalReview])
}

func TestUpdateClientStatusIsConditional(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	ctx := context.Background()
	c := insertClient(t, st, "c1", domain.StatusPending, "")

	next := c
	next.IntakeStatus = domain.StatusPrequalReview
	next.StatusChangedAt = t0.Add(time.Hour)
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateClientStatus(ctx, next, domain.StatusPending)
	}))

	// a second writer that still believes the client is PENDING loses
	stale := c
	stale.IntakeStatus = domain.StatusPrequalReview
	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateClientStatus(ctx, stale, domain.StatusPending)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := repo.Repo{DB: conn}.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPrequalReview, got.IntakeStatus)
	assert.True(t, next.StatusChangedAt.Equal(got.StatusChangedAt))
}

func TestInTxRollsBackEverything(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	ctx := context.Background()
	c := insertClient(t, st, "c1", domain.StatusPending, "")

	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		next := c
		next.IntakeStatus = domain.StatusPrequalReview
		if err := tx.UpdateClientStatus(ctx, next, domain.StatusPending); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, domain.Event{EventType: domain.EventStatusChange, ClientID: c.ID, UserID: "u", Description: "d"}); err != nil {
			return err
		}
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := repo.Repo{DB: conn}.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.IntakeStatus)
	var n int
	require.NoError(t, conn.QueryRow(`SELECT count(*) FROM event_log`).Scan(&n))
	assert.Zero(t, n)
}

func TestPlatformVerificationLookupByStatus(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	ctx := context.Background()
	insertClient(t, st, "c1", domain.StatusPrequalReview, "agent-1")

	retryAfter := t0.Add(24 * time.Hour)
	pv := domain.PlatformVerification{
		ID: "pv1", ClientID: "c1", Platform: "PAYPAL", Status: domain.VerificationRetryPending,
		RetryAfter: &retryAfter, RetryCount: 1, Evidence: []string{"a.png", "b.png"},
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPlatformVerification(ctx, pv)
	}))

	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetPlatformVerification(ctx, "c1", "PAYPAL", domain.VerificationPendingReview)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := tx.GetPlatformVerification(ctx, "c1", "PAYPAL", domain.VerificationRetryPending)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.png", "b.png"}, got.Evidence)
		require.NotNil(t, got.RetryAfter)
		assert.True(t, retryAfter.Equal(*got.RetryAfter))

		got.Status = domain.VerificationPendingReview
		got.RetryAfter = nil
		got.RetryCount = 2
		return tx.UpdatePlatformVerification(ctx, got)
	}))

	got, err := repo.Repo{DB: conn}.GetPlatformVerification(ctx, "c1", "PAYPAL")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPendingReview, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.RetryAfter)
}

func TestTaskSink(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	insertClient(t, st, "c1", domain.StatusInExecution, "agent-1")

	platform := "BANK"
	tasks := []domain.Task{
		{ID: "t1", ClientID: "c1", Type: domain.TaskUploadScreenshot, Status: domain.TaskPending, Title: "Upload BANK screenshot", Platform: &platform, CreatedAt: t0, UpdatedAt: t0},
		{ID: "t2", ClientID: "c1", Type: domain.TaskProvideInfo, Status: domain.TaskInProgress, Title: "info", CreatedAt: t0, UpdatedAt: t0},
		{ID: "t3", ClientID: "c1", Type: domain.TaskProvideInfo, Status: domain.TaskCompleted, Title: "old info", CreatedAt: t0, UpdatedAt: t0},
	}
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Tasks().CreateMany(ctx, tasks)
	}))

	open, err := r.CountOpenTasks(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, open)

	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Tasks().CancelMany(ctx, store.TaskFilter{
			ClientID: "c1",
			Statuses: []domain.TaskStatus{domain.TaskPending, domain.TaskInProgress},
			Types:    []domain.TaskType{domain.TaskProvideInfo},
		}, t0.Add(time.Hour))
		assert.EqualValues(t, 1, n)
		return err
	}))

	t2, err := r.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, t2.Status)
	assert.True(t, t2.UpdatedAt.Equal(t0.Add(time.Hour)), "updated_at %s", t2.UpdatedAt)
	t1, err := r.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, t1.Status)
	require.NotNil(t, t1.Platform)
	assert.Equal(t, "BANK", *t1.Platform)
	t3, err := r.GetTask(ctx, "t3")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, t3.Status)

	_, err = r.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListsOrderBySubSecondTimestamps(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	insertClient(t, st, "c1", domain.StatusInExecution, "agent-1")

	// ids deliberately disagree with creation order so only created_at decides.
	created := []struct {
		id string
		at time.Time
	}{
		{"z-first", t0},
		{"a-second", t0.Add(100 * time.Millisecond)},
		{"b-third", t0.Add(123 * time.Millisecond)},
	}
	var tasks []domain.Task
	for _, c := range created {
		tasks = append(tasks, domain.Task{ID: c.id, ClientID: "c1", Type: domain.TaskExecution, Status: domain.TaskPending, Title: c.id, CreatedAt: c.at, UpdatedAt: c.at})
		require.NoError(t, r.InsertNotification(ctx, domain.Notification{ID: c.id, UserID: "agent-1", Type: domain.NotificationApproval, Title: c.id, Message: "m", CreatedAt: c.at}))
	}
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Tasks().CreateMany(ctx, tasks)
	}))

	got, err := r.ListTasks(ctx, store.TaskFilter{ClientID: "c1"})
	require.NoError(t, err)
	var ids []string
	for _, task := range got {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"z-first", "a-second", "b-third"}, ids)

	inbox, err := r.ListNotifications(ctx, "agent-1", false, 10)
	require.NoError(t, err)
	ids = ids[:0]
	for _, n := range inbox {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"b-third", "a-second", "z-first"}, ids)

	for i, c := range created {
		assert.True(t, got[i].CreatedAt.Equal(c.at), "task %s created_at %s", c.id, got[i].CreatedAt)
	}
}

func TestNotifications(t *testing.T) {
	conn := openDB(t)
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	require.NoError(t, r.InsertNotification(ctx, domain.Notification{ID: "n1", UserID: "agent-1", Type: domain.NotificationApproval, Title: "a", Message: "m", CreatedAt: t0}))
	require.NoError(t, r.InsertNotification(ctx, domain.Notification{ID: "n2", UserID: "agent-1", Type: domain.NotificationRejection, Title: "b", Message: "m", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, r.InsertNotification(ctx, domain.Notification{ID: "n3", UserID: "agent-2", Type: domain.NotificationApproval, Title: "c", Message: "m", CreatedAt: t0}))

	items, err := r.ListNotifications(ctx, "agent-1", false, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "n2", items[0].ID)

	assert.ErrorIs(t, r.MarkNotificationRead(ctx, "n1", "agent-2", t0), repo.ErrNotFound)
	require.NoError(t, r.MarkNotificationRead(ctx, "n1", "agent-1", t0.Add(time.Hour)))

	unread, err := r.ListNotifications(ctx, "agent-1", true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n2", unread[0].ID)
}

func TestAPIKeys(t *testing.T) {
	conn := openDB(t)
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	hash := repo.HashAPIKey(" ik_secret ")
	assert.Equal(t, repo.HashAPIKey("ik_secret"), hash)
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", UserID: "agent-1", Role: domain.RoleAgent, KeyHash: hash, CreatedAt: t0}))
	assert.Error(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k2", UserID: "agent-1", Role: domain.RoleAgent, KeyHash: hash, CreatedAt: t0}))

	got, err := r.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.UserID)
	assert.Equal(t, domain.RoleAgent, got.Role)

	keys, err := r.ListAPIKeys(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), repo.ErrNotFound)
	_, err = r.GetAPIKeyByHash(ctx, hash)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestBonusPoolInsertIsIdempotent(t *testing.T) {
	conn := openDB(t)
	st := repo.NewStore(conn)
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	insertClient(t, st, "c1", domain.StatusApproved, "")

	created, err := r.InsertBonusPool(ctx, domain.BonusPool{ID: "p1", ClientID: "c1", Status: "ELIGIBLE", CreatedAt: t0})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = r.InsertBonusPool(ctx, domain.BonusPool{ID: "p2", ClientID: "c1", Status: "ELIGIBLE", CreatedAt: t0})
	require.NoError(t, err)
	assert.False(t, created)

	p, err := r.GetBonusPool(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
}
