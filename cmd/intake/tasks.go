package main

import (
	"context"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"intakeline/internal/app"
	"intakeline/internal/domain"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Work on client tasks",
	}
	start := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Mark a pending task in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.StartTask(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	complete := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CompleteTask(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.AddCommand(start, complete)
	return cmd
}

func notificationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "Read the acting user's notifications",
	}
	var (
		unread bool
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListNotifications(ctx, currentActor().ID, unread, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Type", "Title", "Message", "Read", "At"})
					for _, n := range items {
						tw.AppendRow(table.Row{n.ID, n.Type, n.Title, n.Message, n.ReadAt != nil, n.CreatedAt.Format(time.RFC3339)})
					}
					tw.Render()
				})
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")

	read := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.MarkNotificationRead(ctx, args[0], currentActor().ID, time.Now().UTC())
			})
		},
	}
	cmd.AddCommand(list, read)
	return cmd
}
