// Command jetsuitectl is the operator CLI: revenue reports, the token refresh
// sweep and offline price quotes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/app"
	"github.com/jetsuite/jetsuite-api/internal/config"
	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jetsuitectl",
		Short:         "JetSuite operator tools",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(mrrCmd())
	rootCmd.AddCommand(refreshTokensCmd())
	rootCmd.AddCommand(quoteCmd())

	return rootCmd
}

// loadApp wires the application the same way the API server does. The CLI
// logs warnings and errors only.
func loadApp(ctx context.Context) (*app.App, *zap.Logger, error) {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()
	logger := observability.NewLogger("warn")
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	a, err := app.New(ctx, cfg, logger)
	return a, logger, err
}

func mrrCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "mrr",
		Short: "Report MRR, ARR and ARPA over all subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, logger, err := loadApp(ctx)
			defer logger.Sync()
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Services.Billing.Revenue(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printRevenue(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func refreshTokensCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "refresh-tokens",
		Short: "Refresh social tokens that expire within the window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if window <= 0 {
				return fmt.Errorf("--window must be positive")
			}
			ctx := cmd.Context()
			a, logger, err := loadApp(ctx)
			defer logger.Sync()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Services.Connections.RefreshExpiring(ctx, window)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, refreshed %d, skipped %d, failed %d\n",
				result.Scanned, result.Refreshed, result.Skipped, result.Failed)
			if result.Failed > 0 {
				return fmt.Errorf("%d connection(s) could not be refreshed", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&window, "window", "w", 24*time.Hour, "Refresh tokens expiring within this duration")

	return cmd
}

func quoteCmd() *cobra.Command {
	var req domain.QuoteRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a plan configuration without touching Stripe",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := service.LoadCatalog(nil)
			if err != nil {
				return err
			}
			q, err := catalog.Quote(&req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), q)
			}
			printQuote(cmd.OutOrStdout(), q)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.PlanID, "plan", "p", "starter", "Plan id (starter, growth, agency)")
	cmd.Flags().StringVarP(&req.Interval, "interval", "i", "month", "Billing interval (month, year)")
	cmd.Flags().IntVarP(&req.Businesses, "businesses", "b", 1, "Number of businesses")
	cmd.Flags().IntVarP(&req.Seats, "seats", "s", 1, "Number of seats")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

// ============================================================
// Output
// ============================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRevenue(w io.Writer, r *domain.RevenueSummary) {
	fmt.Fprintf(w, "Revenue as of %s\n", r.AsOf.Format(time.RFC3339))
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "  %-10s $%s\n", "MRR:", r.MRR.StringFixed(2))
	fmt.Fprintf(w, "  %-10s $%s\n", "ARR:", r.ARR.StringFixed(2))
	fmt.Fprintf(w, "  %-10s $%s\n", "ARPA:", r.ARPA.StringFixed(2))

	fmt.Fprintln(w, "\nSubscriptions:")
	fmt.Fprintf(w, "  %-10s %d\n", "active:", r.Active)
	fmt.Fprintf(w, "  %-10s %d\n", "past_due:", r.PastDue)
	fmt.Fprintf(w, "  %-10s %d\n", "trialing:", r.Trialing)
	fmt.Fprintf(w, "  %-10s %d\n", "canceled:", r.Canceled)

	if len(r.ByPlan) == 0 {
		return
	}
	fmt.Fprintln(w, "\nBy plan:")
	for _, id := range service.SortedPlanIDs(r) {
		pr := r.ByPlan[id]
		fmt.Fprintf(w, "  %-10s %3d  $%s\n", id+":", pr.Subscriptions, pr.MRR.StringFixed(2))
	}
}

func printQuote(w io.Writer, q *domain.PriceQuote) {
	fmt.Fprintf(w, "%s, billed per %s (%d businesses, %d seats)\n", q.PlanID, q.Interval, q.Businesses, q.Seats)
	fmt.Fprintln(w, strings.Repeat("-", 48))
	for _, l := range q.Lines {
		fmt.Fprintf(w, "  %-32s x%-3d $%s\n", l.Description, l.Quantity, l.Amount.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("-", 48))
	fmt.Fprintf(w, "  %-37s $%s\n", "Total", q.Total.StringFixed(2))
	if q.Interval == domain.IntervalYear {
		fmt.Fprintf(w, "  %-37s $%s\n", "Monthly equivalent", q.MonthlyEquivalent.StringFixed(2))
	}
}
