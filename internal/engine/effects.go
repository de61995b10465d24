package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"intakeline/internal/domain"
	"intakeline/internal/store"
)

var openTaskStatuses = []domain.TaskStatus{domain.TaskPending, domain.TaskInProgress}

// applyTaskEffects runs inside the transition's unit of work, keyed on the
// destination status of c.
func (e Engine) applyTaskEffects(ctx context.Context, tasks store.TaskSink, c domain.Client, from domain.IntakeStatus, now time.Time) error {
	switch c.IntakeStatus {
	case domain.StatusRejected, domain.StatusInactive:
		if _, err := tasks.CancelMany(ctx, store.TaskFilter{ClientID: c.ID, Statuses: openTaskStatuses}, now); err != nil {
			return err
		}
	case domain.StatusInExecution:
		if from == domain.StatusNeedsMoreInfo {
			filter := store.TaskFilter{
				ClientID: c.ID,
				Statuses: openTaskStatuses,
				Types:    []domain.TaskType{domain.TaskProvideInfo},
			}
			if _, err := tasks.CancelMany(ctx, filter, now); err != nil {
				return err
			}
		}
		if c.HasAgent() {
			return tasks.CreateMany(ctx, e.executionTasks(c, now))
		}
	case domain.StatusNeedsMoreInfo:
		if c.HasAgent() {
			return tasks.CreateMany(ctx, []domain.Task{
				e.newTask(c, domain.TaskProvideInfo, fmt.Sprintf("Provide additional information for %s", c.FullName()), nil, now),
			})
		}
	case domain.StatusApproved:
		if c.HasAgent() {
			return tasks.CreateMany(ctx, []domain.Task{
				e.newTask(c, domain.TaskPhoneSignout, fmt.Sprintf("Sign out phone for %s", c.FullName()), nil, now),
				e.newTask(c, domain.TaskPhoneReturn, fmt.Sprintf("Collect phone from %s", c.FullName()), nil, now),
			})
		}
	}
	return nil
}

// executionTasks is one upload task per configured platform plus the
// umbrella execution task, all due at the execution deadline.
func (e Engine) executionTasks(c domain.Client, now time.Time) []domain.Task {
	platforms := e.cfg().Intake.UploadPlatforms
	out := make([]domain.Task, 0, len(platforms)+1)
	for _, p := range platforms {
		t := e.newTask(c, domain.TaskUploadScreenshot, fmt.Sprintf("Upload %s screenshot", p), c.ExecutionDeadline, now)
		t.Platform = strPtr(p)
		out = append(out, t)
	}
	return append(out, e.newTask(c, domain.TaskExecution, fmt.Sprintf("Complete execution for %s", c.FullName()), c.ExecutionDeadline, now))
}

func (e Engine) newTask(c domain.Client, typ domain.TaskType, title string, due *time.Time, now time.Time) domain.Task {
	return domain.Task{
		ID:         e.newID(),
		ClientID:   c.ID,
		Type:       typ,
		Status:     domain.TaskPending,
		Title:      title,
		AssignedTo: c.AgentID,
		DueAt:      due,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// sideEffects is the detached phase of a committed operation.
type sideEffects struct {
	clientID  string
	bootstrap bool
	notice    *domain.Notification
}

func (e Engine) planEffects(c domain.Client, reason string) sideEffects {
	fx := sideEffects{clientID: c.ID}
	switch c.IntakeStatus {
	case domain.StatusApproved:
		fx.bootstrap = true
		fx.notice = e.notice(c, domain.NotificationApproval, "Client approved",
			fmt.Sprintf("%s has been approved.", c.FullName()))
	case domain.StatusRejected:
		msg := fmt.Sprintf("%s has been rejected.", c.FullName())
		if reason != "" {
			msg = fmt.Sprintf("%s has been rejected: %s", c.FullName(), reason)
		}
		fx.notice = e.notice(c, domain.NotificationRejection, "Client rejected", msg)
	}
	return fx
}

// notice addresses a notification to the owning agent; nil without one.
func (e Engine) notice(c domain.Client, typ domain.NotificationType, title, msg string) *domain.Notification {
	if !c.HasAgent() {
		return nil
	}
	return &domain.Notification{
		ID:        e.newID(),
		UserID:    *c.AgentID,
		Type:      typ,
		Title:     title,
		Message:   msg,
		Link:      e.clientLink(c.ID),
		CreatedAt: e.now(),
	}
}

func (e Engine) clientLink(clientID string) string {
	return strings.TrimSuffix(e.cfg().Notifications.LinkBase, "/") + "/" + clientID
}

// runDetached performs commission bootstrap and notification delivery. Its
// failures are logged and counted, never returned.
func (e Engine) runDetached(ctx context.Context, fx sideEffects) {
	ctx = context.WithoutCancel(ctx)
	if fx.bootstrap && e.Commission != nil {
		e.bestEffort("commission", fx.clientID, func() error {
			return e.Commission.Bootstrap(ctx, fx.clientID)
		})
	}
	if fx.notice != nil && e.Notifier != nil {
		n := *fx.notice
		e.bestEffort("notification", fx.clientID, func() error {
			return e.Notifier.Send(ctx, n)
		})
	}
}

func (e Engine) bestEffort(kind, clientID string, fn func() error) {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = fn() })
	if r := catcher.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		e.Metrics.IncSideEffectFailure(kind)
		e.logger().Warn("side effect failed", "kind", kind, "client_id", clientID, "err", err)
	}
}

// humanDuration renders whole hours as "24 hours".
func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
