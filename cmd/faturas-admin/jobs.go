package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/app"
	"github.com/boddenberg/faturas-core/internal/domain"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate recurring transactions for a month",
	Long: `Run the recurrence generator for one month. Re-running a month never
creates duplicates.`,
	Example: `  # Current month, every tenant
  faturas-admin generate

  # A specific month for one tenant
  faturas-admin generate --month 2025-11 --tenant acme`,
	RunE: runGenerate,
}

var closeDueCmd = &cobra.Command{
	Use:   "close-due",
	Short: "Close every open invoice whose closing date has passed",
	RunE:  runCloseDue,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the ledger consistency checks and print the report",
	RunE:  runAudit,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish pending outbox events",
	RunE:  runRelay,
}

func init() {
	rootCmd.AddCommand(generateCmd, closeDueCmd, auditCmd, relayCmd)

	generateCmd.Flags().String("month", "", "Competência to generate (format: YYYY-MM, default: current month)")
	closeDueCmd.Flags().String("as-of", "", "Reference date (format: YYYY-MM-DD, default: today)")
	relayCmd.Flags().Int("batch-size", 0, "Events per batch (default: RELAY_BATCH_SIZE)")
}

// openApp builds the application without touching the schema; use
// "migrate up" for that.
func openApp(ctx context.Context) (*app.App, error) {
	c := *cfg
	c.RunMigrations = false
	return app.New(ctx, &c, logger)
}

func tenants(ctx context.Context, cmd *cobra.Command, a *app.App) ([]string, error) {
	if flagged, _ := cmd.Flags().GetStringSlice("tenant"); len(flagged) > 0 {
		return flagged, nil
	}
	if len(cfg.Tenants) > 0 {
		return cfg.Tenants, nil
	}
	return a.Store.Tenants(ctx)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	month := domain.CompetenciaOf(time.Now())
	if s, _ := cmd.Flags().GetString("month"); s != "" {
		m, err := domain.ParseCompetencia(s)
		if err != nil {
			return err
		}
		month = m
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := tenants(ctx, cmd, a)
	if err != nil {
		return err
	}

	var errs []error
	for _, tenant := range ids {
		res, err := a.Recurrences.GenerateForMonth(ctx, tenant, month)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d generated, %d skipped, %d failed\n",
			tenant, month, len(res.Generated), res.Skipped, len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "  recurrence %s: [%s] %s\n", f.RecurrenceID, f.Kind, f.Message)
		}
	}
	return errors.Join(errs...)
}

func runCloseDue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	asOf := time.Now()
	if s, _ := cmd.Flags().GetString("as-of"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fmt.Errorf("invalid as-of date. Use YYYY-MM-DD: %w", err)
		}
		asOf = d
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := tenants(ctx, cmd, a)
	if err != nil {
		return err
	}

	var errs []error
	for _, tenant := range ids {
		closed, err := a.Invoices.CloseDueInvoices(ctx, tenant, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
			continue
		}
		for _, inv := range closed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s closed invoice %s (%s) total %s\n",
				tenant, inv.ID, inv.Competencia, inv.ClosedTotal.StringFixed(2))
		}
	}
	return errors.Join(errs...)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := tenants(ctx, cmd, a)
	if err != nil {
		return err
	}

	reports := make([]*domain.AuditReport, 0, len(ids))
	dirty := 0
	for _, tenant := range ids {
		report, err := a.Checker.Audit(ctx, tenant)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenant, err)
		}
		if !report.Clean() {
			dirty++
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return err
	}
	if dirty > 0 {
		return fmt.Errorf("%d tenant(s) with findings", dirty)
	}
	return nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batch, _ := cmd.Flags().GetInt("batch-size")
	if batch <= 0 {
		batch = cfg.RelayBatchSize
	}
	if batch <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	total := 0
	for {
		n, err := a.Relay.RelayOnce(ctx, batch)
		total += n
		if err != nil {
			logger.Error("relay stopped", zap.Int("published", total), zap.Error(err))
			return err
		}
		if n < batch {
			break
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) published\n", total)
	return nil
}
