package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"intakeline/internal/config"
	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/store"
)

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks Notifier,CommissionBootstrapper

// Notifier delivers a notification to its user. Delivery is best-effort: the
// engine logs a failed Send and carries on.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

// CommissionBootstrapper opens the bonus pool of a client reaching APPROVED.
type CommissionBootstrapper interface {
	Bootstrap(ctx context.Context, clientID string) error
}

// Engine executes intake transitions and the platform gate workflow. Every
// mutation runs in one store unit of work; notifications and commission
// bootstrap run after commit.
type Engine struct {
	Store      store.Store
	Notifier   Notifier
	Commission CommissionBootstrapper
	Config     *config.Config
	Now        func() time.Time
	NewID      func() string
	Logger     *slog.Logger
	Metrics    *Metrics
	Tracer     trace.Tracer
}

func New(st store.Store, cfg *config.Config) Engine {
	return Engine{
		Store:  st,
		Config: cfg,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) loadClient(ctx context.Context, tx store.Tx, id string) (domain.Client, error) {
	c, err := tx.GetClient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, ErrClientNotFound
	}
	return c, err
}

// TransitionOptions are optional parameters of Transition.
type TransitionOptions struct {
	Reason string
}

// txHook runs inside the unit of work after the edge has been validated and
// before the status is written.
type txHook func(ctx context.Context, tx store.Tx, c domain.Client) error

// Transition moves a client along one edge of the intake state machine.
// Entering PREQUAL_APPROVED this way requires an already verified platform gate.
func (e Engine) Transition(ctx context.Context, actor domain.Actor, clientID string, to domain.IntakeStatus, opts TransitionOptions) (domain.Client, error) {
	var hook txHook
	if to == domain.StatusPrequalApproved {
		hook = e.requireVerifiedGate
	}
	return e.transition(ctx, "transition", actor, clientID, to, opts.Reason, hook)
}

func (e Engine) transition(ctx context.Context, op string, actor domain.Actor, clientID string, to domain.IntakeStatus, reason string, before txHook) (client domain.Client, err error) {
	ctx, span := e.startSpan(ctx, op,
		attribute.String("intake.client_id", clientID),
		attribute.String("intake.to", string(to)),
		attribute.String("intake.actor", actor.ID),
	)
	from := domain.IntakeStatus("UNKNOWN")
	defer func() {
		span.SetAttributes(attribute.String("intake.from", string(from)))
		e.Metrics.IncTransition(string(from), string(to), outcome(err))
		endSpan(span, err)
	}()

	if err := auth.RequireStaff(actor); err != nil {
		return domain.Client{}, err
	}
	reason = strings.TrimSpace(reason)
	err = e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := e.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		from = c.IntakeStatus
		if err := checkTransition(c.IntakeStatus, to); err != nil {
			return err
		}
		if before != nil {
			if err := before(ctx, tx, c); err != nil {
				return err
			}
		}
		client, err = e.apply(ctx, tx, actor, c, to, reason)
		return err
	})
	if err != nil {
		e.logger().Debug("transition rejected", "op", op, "client_id", clientID, "from", from, "to", to, "err", err)
		return domain.Client{}, err
	}
	e.logger().Info("client transitioned", "op", op, "client_id", clientID, "from", from, "to", to, "actor", actor.ID)
	e.runDetached(ctx, e.planEffects(client, reason))
	return client, nil
}

// apply is the transactional phase of a transition: status, deadline, audit
// entry and task lifecycle.
func (e Engine) apply(ctx context.Context, tx store.Tx, actor domain.Actor, c domain.Client, to domain.IntakeStatus, reason string) (domain.Client, error) {
	now := e.now()
	from := c.IntakeStatus
	next := c
	next.IntakeStatus = to
	next.StatusChangedAt = now
	if to == domain.StatusInExecution {
		deadline := now.Add(e.cfg().Intake.ExecutionWindow.Std())
		next.ExecutionDeadline = &deadline
	}
	if err := tx.UpdateClientStatus(ctx, next, from); err != nil {
		return domain.Client{}, err
	}
	desc := fmt.Sprintf("Status changed from %s to %s", from, to)
	if reason != "" {
		desc += ": " + reason
	}
	if err := tx.Audit().Append(ctx, domain.Event{
		EventType:   domain.EventStatusChange,
		OldValue:    strPtr(string(from)),
		NewValue:    strPtr(string(to)),
		Description: desc,
		ClientID:    c.ID,
		UserID:      actor.ID,
		CreatedAt:   now,
	}); err != nil {
		return domain.Client{}, err
	}
	if err := e.applyTaskEffects(ctx, tx.Tasks(), next, from, now); err != nil {
		return domain.Client{}, err
	}
	return next, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

// CreateClientInput describes a new client entering the pipeline.
type CreateClientInput struct {
	ID        string `json:"id,omitempty" validate:"omitempty,max=64"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,max=32"`
	AgentID   string `json:"agent_id,omitempty" validate:"omitempty,max=64"`
}

// CreateClient inserts a PENDING client. An agent always becomes the owner of
// the clients they create.
func (e Engine) CreateClient(ctx context.Context, actor domain.Actor, in CreateClientInput) (client domain.Client, err error) {
	ctx, span := e.startSpan(ctx, "create_client", attribute.String("intake.actor", actor.ID))
	defer func() { endSpan(span, err) }()

	if err := auth.Authenticated(actor); err != nil {
		return domain.Client{}, err
	}
	if actor.Role == domain.RoleAgent {
		if in.AgentID != "" && in.AgentID != actor.ID {
			return domain.Client{}, &UnauthorizedError{Reason: "agents can only create their own clients"}
		}
		in.AgentID = actor.ID
	}
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateInput(in); err != nil {
		return domain.Client{}, err
	}
	now := e.now()
	client = domain.Client{
		ID:              in.ID,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Email:           in.Email,
		Phone:           strings.TrimSpace(in.Phone),
		IntakeStatus:    domain.StatusPending,
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if client.ID == "" {
		client.ID = e.newID()
	}
	if in.AgentID != "" {
		client.AgentID = strPtr(in.AgentID)
	}
	span.SetAttributes(attribute.String("intake.client_id", client.ID))
	err = e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertClient(ctx, client); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, domain.Event{
			EventType:   domain.EventClientCreated,
			NewValue:    strPtr(string(domain.StatusPending)),
			Description: fmt.Sprintf("Client %s created", client.FullName()),
			ClientID:    client.ID,
			UserID:      actor.ID,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return domain.Client{}, err
	}
	e.logger().Info("client created", "client_id", client.ID, "actor", actor.ID)
	return client, nil
}

// StartTask moves a PENDING task to IN_PROGRESS.
func (e Engine) StartTask(ctx context.Context, actor domain.Actor, taskID string) (domain.Task, error) {
	return e.updateTask(ctx, "start_task", actor, taskID, func(t *domain.Task, now time.Time) error {
		if t.Status != domain.TaskPending {
			return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, ErrTaskClosed)
		}
		t.Status = domain.TaskInProgress
		return nil
	})
}

// CompleteTask marks an open or overdue task COMPLETED. Cancelled and
// completed tasks never change again.
func (e Engine) CompleteTask(ctx context.Context, actor domain.Actor, taskID string) (domain.Task, error) {
	return e.updateTask(ctx, "complete_task", actor, taskID, func(t *domain.Task, now time.Time) error {
		if !t.Status.Open() && t.Status != domain.TaskOverdue {
			return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, ErrTaskClosed)
		}
		t.Status = domain.TaskCompleted
		t.CompletedAt = &now
		return nil
	})
}

func (e Engine) updateTask(ctx context.Context, op string, actor domain.Actor, taskID string, mutate func(t *domain.Task, now time.Time) error) (task domain.Task, err error) {
	ctx, span := e.startSpan(ctx, op, attribute.String("intake.task_id", taskID), attribute.String("intake.actor", actor.ID))
	defer func() { endSpan(span, err) }()

	if err := auth.Authenticated(actor); err != nil {
		return domain.Task{}, err
	}
	err = e.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.Tasks().Get(ctx, taskID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		c, err := e.loadClient(ctx, tx, t.ClientID)
		if err != nil {
			return err
		}
		if err := auth.RequireStaffOrOwner(actor, c); err != nil {
			return err
		}
		old := t.Status
		now := e.now()
		if err := mutate(&t, now); err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := tx.Tasks().Update(ctx, t); err != nil {
			return err
		}
		if t.Status == domain.TaskCompleted {
			if err := tx.Audit().Append(ctx, domain.Event{
				EventType:   domain.EventTaskCompleted,
				OldValue:    strPtr(string(old)),
				NewValue:    strPtr(string(t.Status)),
				Description: fmt.Sprintf("Task %q completed", t.Title),
				ClientID:    t.ClientID,
				UserID:      actor.ID,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		task = t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func strPtr(s string) *string {
	return &s
}
