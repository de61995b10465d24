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
	"intakeline/internal/repo"
)

func gateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Platform verification gate between PREQUAL_REVIEW and PREQUAL_APPROVED",
	}
	cmd.AddCommand(
		gateShowCmd(),
		gateSubmitCmd("submit", "Submit the platform check for review", engine.Engine.SubmitPlatformGate),
		gateSubmitCmd("resubmit", "Resubmit after the retry cooldown", engine.Engine.ResubmitPlatformGate),
		gateApproveCmd(),
		gateRejectCmd(),
		gateRejectRetryCmd(),
	)
	return cmd
}

func gateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <client-id>",
		Short: "Show the gate verification record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pv, err := a.Repo.GetPlatformVerification(ctx, args[0], a.Engine.GatePlatform())
				if errors.Is(err, repo.ErrNotFound) {
					return engine.ErrVerificationNotFound
				}
				if err != nil {
					return err
				}
				return printVerification(pv)
			})
		},
	}
}

type submitFunc func(engine.Engine, context.Context, domain.Actor, string, engine.GateSubmission) (domain.PlatformVerification, error)

func gateSubmitCmd(use, short string, submit submitFunc) *cobra.Command {
	var in engine.GateSubmission
	cmd := &cobra.Command{
		Use:   use + " <client-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pv, err := submit(a.Engine, ctx, currentActor(), args[0], in)
				if err != nil {
					var cooldown *engine.CooldownNotExpiredError
					if errors.As(err, &cooldown) {
						return fmt.Errorf("%w (retry in %s)", err, time.Until(cooldown.RetryAfter).Round(time.Minute))
					}
					return err
				}
				return printVerification(pv)
			})
		},
	}
	cmd.Flags().StringVar(&in.AgentResult, "result", "", "what the agent observed on the platform")
	cmd.Flags().StringSliceVar(&in.Evidence, "evidence", nil, "evidence references, e.g. screenshot URLs")
	return cmd
}

func gateApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <client-id>",
		Short: "Verify the gate and move the client to PREQUAL_APPROVED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.ApprovePlatformGate(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printClient(c)
			})
		},
	}
}

func gateRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <client-id>",
		Short: "Reject the client permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.RejectPlatformGatePermanently(ctx, currentActor(), args[0], reason)
				if err != nil {
					return err
				}
				return printClient(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func gateRejectRetryCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject-retry <client-id>",
		Short: "Send the check back to the agent with a resubmission cooldown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pv, err := a.Engine.RejectPlatformGateWithRetry(ctx, currentActor(), args[0], reason)
				if err != nil {
					return err
				}
				return printVerification(pv)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "what the agent must fix")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func printVerification(pv domain.PlatformVerification) error {
	return printJSONOrTable(pv, func() {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendRow(table.Row{"Client", pv.ClientID})
		tw.AppendRow(table.Row{"Platform", pv.Platform})
		tw.AppendRow(table.Row{"Status", pv.Status})
		tw.AppendRow(table.Row{"Retries", pv.RetryCount})
		if pv.RetryAfter != nil {
			tw.AppendRow(table.Row{"Retry After", pv.RetryAfter.Format(time.RFC3339)})
		}
		if pv.ReviewNotes != nil {
			tw.AppendRow(table.Row{"Review Notes", *pv.ReviewNotes})
		}
		if pv.ReviewedBy != nil {
			tw.AppendRow(table.Row{"Reviewed By", *pv.ReviewedBy})
		}
		if pv.AgentResult != nil {
			tw.AppendRow(table.Row{"Agent Result", *pv.AgentResult})
		}
		if len(pv.Evidence) > 0 {
			tw.AppendRow(table.Row{"Evidence", strings.Join(pv.Evidence, "\n")})
		}
		tw.Render()
	})
}
