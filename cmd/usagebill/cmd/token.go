package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/usagebill/backend/internal/infrastructure/auth"
	"github.com/usagebill/backend/internal/infrastructure/config"
)

var (
	tokenOperator string
	tokenScopes   []string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token for the mutating API endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		token, err := auth.NewJWTService(cfg.HTTP).IssueToken(tokenOperator, tokenScopes, tokenTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name recorded on overrides")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope",
		[]string{auth.ScopeLedgerOverride, auth.ScopeRunsTrigger}, "granted scopes (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("operator")
}
