package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"intakeline/internal/app"
	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/engine/auth"
	"intakeline/internal/events"
	"intakeline/internal/repo"
	"intakeline/internal/store"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
	}
	cmd.AddCommand(clientCreateCmd(), clientListCmd(), clientShowCmd(), clientTransitionCmd(), clientTasksCmd(), pipelineCmd())
	return cmd
}

func clientCreateCmd() *cobra.Command {
	var in engine.CreateClientInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a client in PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.CreateClient(ctx, currentActor(), in)
				if err != nil {
					return err
				}
				return printClient(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "client id (generated when empty)")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&in.AgentID, "agent", "", "owning agent id")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func clientListCmd() *cobra.Command {
	var (
		status string
		agent  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ClientFilters{
				Status:  domain.IntakeStatus(strings.ToUpper(status)),
				AgentID: agent,
				Limit:   limit,
			}
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			actor := currentActor()
			if actor.Role == domain.RoleAgent {
				f.AgentID = actor.ID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListClients(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Name", "Status", "Agent", "Status Changed"})
					for _, c := range items {
						tw.AppendRow(table.Row{c.ID, c.FullName(), c.IntakeStatus, deref(c.AgentID), c.StatusChangedAt.Format(time.RFC3339)})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by intake status")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func clientShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <client-id>",
		Short: "Show a client and where it can move next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.GetClient(ctx, args[0])
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return engine.ErrClientNotFound
					}
					return err
				}
				if err := auth.RequireStaffOrOwner(currentActor(), c); err != nil {
					return err
				}
				return printClient(c)
			})
		},
	}
}

func clientTransitionCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <client-id> <status>",
		Short: "Move a client to another intake status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := domain.IntakeStatus(strings.ToUpper(args[1]))
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.Transition(ctx, currentActor(), args[0], to, engine.TransitionOptions{Reason: reason})
				if err != nil {
					return err
				}
				return printClient(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	return cmd
}

func clientTasksCmd() *cobra.Command {
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "tasks <client-id>",
		Short: "List a client's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.TaskFilter{ClientID: args[0]}
			if openOnly {
				f.Statuses = []domain.TaskStatus{domain.TaskPending, domain.TaskInProgress}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "only pending and in-progress tasks")
	return cmd
}

func pipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Count clients per intake status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Repo.CountClientsByStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Status", "Clients"})
					for _, s := range domain.AllStatuses {
						tw.AppendRow(table.Row{s, counts[s]})
					}
					tw.Render()
				})
			})
		},
	}
}

func logCmd() *cobra.Command {
	var (
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "log <client-id>",
		Short: "Show a client's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := events.Reader{DB: a.DB}.Latest(ctx, events.Query{
					ClientID:  args[0],
					EventType: eventType,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Type", "Old", "New", "By", "At", "Description"})
					for _, ev := range items {
						tw.AppendRow(table.Row{ev.ID, ev.EventType, deref(ev.OldValue), deref(ev.NewValue), ev.UserID, ev.CreatedAt.Format(time.RFC3339), ev.Description})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func printClient(c domain.Client) error {
	next := engine.AllowedTransitions(c.IntakeStatus)
	return printJSONOrTable(struct {
		domain.Client
		AllowedTransitions []domain.IntakeStatus `json:"allowed_transitions"`
	}{c, next}, func() {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendRow(table.Row{"ID", c.ID})
		tw.AppendRow(table.Row{"Name", c.FullName()})
		tw.AppendRow(table.Row{"Status", c.IntakeStatus})
		tw.AppendRow(table.Row{"Agent", deref(c.AgentID)})
		tw.AppendRow(table.Row{"Status Changed", c.StatusChangedAt.Format(time.RFC3339)})
		if c.ExecutionDeadline != nil {
			tw.AppendRow(table.Row{"Execution Deadline", c.ExecutionDeadline.Format(time.RFC3339)})
		}
		names := make([]string, 0, len(next))
		for _, s := range next {
			names = append(names, string(s))
		}
		tw.AppendRow(table.Row{"Next", strings.Join(names, ", ")})
		tw.Render()
	})
}

func printTasks(items []domain.Task) error {
	return printJSONOrTable(items, func() {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Type", "Status", "Platform", "Assigned", "Due", "Title"})
		for _, t := range items {
			due := ""
			if t.DueAt != nil {
				due = t.DueAt.Format(time.RFC3339)
			}
			tw.AppendRow(table.Row{t.ID, t.Type, t.Status, deref(t.Platform), deref(t.AssignedTo), due, t.Title})
		}
		tw.Render()
	})
}
