// Package cmd implements the usagebill operator CLI.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/usagebill/backend/internal/bootstrap"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var (
	cfgFile  string
	logLevel string
	dryRun   bool
)

var rootCmd = &cobra.Command{
	Use:   "usagebill",
	Short: "Usage metering to billing pipeline",
	Long: `usagebill collects metered usage events per tenant, transforms them
into billable usage entries per window, and rates them against the
configured pricing backend. Every stage is recorded in the window ledger.`,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search ., ./config, /etc/usagebill)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "keep the ledger in memory instead of the database")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// withApp assembles the application for one command and closes it afterwards
func withApp(ctx context.Context, fn func(*bootstrap.App) error) (err error) {
	app, err := bootstrap.New(ctx, bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    Version,
		DryRun:     dryRun,
		LogLevel:   logLevel,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", cerr)
		}
	}()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAt parses --at; empty means now
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be an RFC 3339 timestamp: %w", err)
	}
	return t.UTC(), nil
}
