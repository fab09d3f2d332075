package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/bootstrap"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/interfaces/http/dto"
)

var (
	stageTenant string
	stageAt     string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Print the collected events of one tenant window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWindow(cmd, func(app *bootstrap.App, window billing.BillingWindow) (any, error) {
			events, err := app.Pipeline.Collect(cmd.Context(), stageTenant, window)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"tenant_id": stageTenant,
				"window":    window,
				"events":    events,
			}, nil
		})
	},
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Collect and transform one tenant window, recording it in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWindow(cmd, func(app *bootstrap.App, window billing.BillingWindow) (any, error) {
			return app.Pipeline.TransformWindow(cmd.Context(), stageTenant, window)
		})
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Rate one transformed tenant window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWindow(cmd, func(app *bootstrap.App, window billing.BillingWindow) (any, error) {
			return app.Pipeline.RateWindow(cmd.Context(), stageTenant, window)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{collectCmd, transformCmd, rateCmd} {
		c.Flags().StringVar(&stageTenant, "tenant", "", "tenant ID")
		c.Flags().StringVar(&stageAt, "at", "", "any instant inside the window, RFC 3339 (default: now)")
		_ = c.MarkFlagRequired("tenant")
	}
}

// withWindow resolves the window containing --at and prints fn's result
func withWindow(cmd *cobra.Command, fn func(*bootstrap.App, billing.BillingWindow) (any, error)) error {
	at, err := parseAt(stageAt)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(app *bootstrap.App) error {
		window, err := app.Pipeline.WindowAt(stageTenant, at)
		if err != nil {
			return err
		}
		out, err := fn(app, window)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}

var runTenants []string

// ErrRunFailures is returned when a run finished with failed windows
var ErrRunFailures = errors.New("run finished with failed windows")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collect, transform and rate cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(stageAt)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			summary, err := app.Pipeline.RunCycle(cmd.Context(), appbilling.RunOptions{Tenants: runTenants, Now: at})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), dto.ToRunSummaryResponse(summary)); err != nil {
				return err
			}
			if summary.HasFailures() {
				return ErrRunFailures
			}
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Rate every transformed window that is still unrated",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			summary, err := app.Pipeline.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), dto.ToRunSummaryResponse(summary)); err != nil {
				return err
			}
			if summary.HasFailures() {
				return ErrRunFailures
			}
			return nil
		})
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runTenants, "tenant", nil, "limit the cycle to these tenants (repeatable)")
	runCmd.Flags().StringVar(&stageAt, "at", "", "reference time of the cycle, RFC 3339 (default: now)")
}
