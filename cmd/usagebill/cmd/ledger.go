package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/bootstrap"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/interfaces/http/dto"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and override the window ledger",
}

var (
	listTenant   string
	listStage    string
	listPage     int
	listPageSize int
)

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger heads",
	RunE: func(cmd *cobra.Command, args []string) error {
		stage := billing.Stage(listStage)
		if listStage != "" && !stage.IsValid() {
			return fmt.Errorf("--stage must be %q or %q", billing.StageTransformed, billing.StageRated)
		}
		filter := billing.LedgerFilter{
			TenantID: listTenant,
			Stage:    stage,
			Page:     listPage,
			PageSize: listPageSize,
		}.Normalize()

		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			records, total, err := app.LedgerService.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(),
				dto.NewSuccessResponseWithMeta(dto.ToLedgerRecordResponses(records), total, filter.Page, filter.PageSize))
		})
	},
}

var ledgerHistory bool

var ledgerGetCmd = &cobra.Command{
	Use:   "get TENANT START END",
	Short: "Show the head record of a window, or its full history",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseWindowKey(args)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			if ledgerHistory {
				records, err := app.LedgerService.History(cmd.Context(), key)
				if err != nil {
					return err
				}
				out := make([]dto.LedgerRecordResponse, 0, len(records))
				for _, r := range records {
					out = append(out, dto.ToLedgerRecordResponse(r, true))
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			record, err := app.LedgerService.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dto.ToLedgerRecordResponse(record, true))
		})
	},
}

var (
	overrideReason string
	overrideActor  string
)

var ledgerOverrideCmd = &cobra.Command{
	Use:   "override TENANT START END",
	Short: "Reopen a rated window so the next cycle transforms and rates it again",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseWindowKey(args)
		if err != nil {
			return err
		}
		actor := overrideActor
		if actor == "" {
			actor = defaultActor()
		}
		return withApp(cmd.Context(), func(app *bootstrap.App) error {
			record, err := app.LedgerService.Override(cmd.Context(), appbilling.OverrideRequest{
				Key:    key,
				Reason: overrideReason,
				Actor:  actor,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dto.ToLedgerRecordResponse(record, false))
		})
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&listTenant, "tenant", "", "only this tenant")
	ledgerListCmd.Flags().StringVar(&listStage, "stage", "", "only heads at this stage (transformed, rated)")
	ledgerListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	ledgerListCmd.Flags().IntVar(&listPageSize, "page-size", 50, "records per page (max 500)")

	ledgerGetCmd.Flags().BoolVar(&ledgerHistory, "history", false, "print every revision, oldest first")

	ledgerOverrideCmd.Flags().StringVar(&overrideReason, "reason", "", "why the window is reopened")
	ledgerOverrideCmd.Flags().StringVar(&overrideActor, "actor", "", "operator recorded on the override (default: $USER)")
	_ = ledgerOverrideCmd.MarkFlagRequired("reason")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerGetCmd)
	ledgerCmd.AddCommand(ledgerOverrideCmd)
}

// parseWindowKey reads TENANT START END with RFC 3339 bounds
func parseWindowKey(args []string) (billing.WindowKey, error) {
	key, err := dto.WindowKeyURI{TenantID: args[0], Start: args[1], End: args[2]}.Key()
	if err != nil {
		return billing.WindowKey{}, fmt.Errorf("window bounds must be RFC 3339 timestamps: %w", err)
	}
	if err := key.Validate(); err != nil {
		return billing.WindowKey{}, err
	}
	return key, nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
