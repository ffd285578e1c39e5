package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferrebot/ferrebot-backend/internal/app"
	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/ingestion"
	"github.com/ferrebot/ferrebot-backend/internal/services"
)

const (
	exitOK          = 0
	exitRecoverable = 1
	exitConfig      = 2
)

func main() {
	root := &cobra.Command{
		Use:           "ferrebotctl",
		Short:         "Operational commands for the ferrebot backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(reconcileCmd(), syncCmd(), reloadKnowledgeCmd(), aggregateNowCmd(), retentionNowCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRecoverable)
	}
}

// bootstrap wires the full app without starting the HTTP server or
// background loops. Wiring failures are configuration errors.
func bootstrap() *app.App {
	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(exitConfig)
	}
	return a
}

func reconcileCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile <kind>",
		Short: "Run a full catalog reconcile for one record kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.RecordKind(args[0])
			if !kind.Valid() || kind == domain.RecordKindKnowledge {
				fmt.Fprintf(os.Stderr, "unknown kind %q (want product or category)\n", args[0])
				os.Exit(exitConfig)
			}
			a := bootstrap()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			stats, err := a.Services.Reconciler.ReconcileKind(ctx, kind)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", kind, err)
			}
			fmt.Printf("scanned=%d created=%d updated=%d deleted=%d embedded=%d skipped=%d\n",
				stats.Scanned, stats.Created, stats.Updated, stats.Deleted, stats.Embedded, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall reconcile deadline")
	return cmd
}

func syncCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync <kind>",
		Short: "Apply catalog changes since the last stored cursor (no deletion sweep)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.RecordKind(args[0])
			if !kind.Valid() || kind == domain.RecordKindKnowledge {
				fmt.Fprintf(os.Stderr, "unknown kind %q (want product or category)\n", args[0])
				os.Exit(exitConfig)
			}
			a := bootstrap()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			stats, err := a.Services.Reconciler.SyncSince(ctx, kind)
			if err != nil {
				return fmt.Errorf("sync %s: %w", kind, err)
			}
			fmt.Printf("scanned=%d created=%d updated=%d embedded=%d skipped=%d\n",
				stats.Scanned, stats.Created, stats.Updated, stats.Embedded, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall sync deadline")
	return cmd
}

func reloadKnowledgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-knowledge [dir]",
		Short: "Reparse the knowledge directory and reindex its entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := bootstrap()
			defer a.Close()

			loader := a.Services.KnowledgeLoader
			if len(args) == 1 {
				loader = ingestion.NewKnowledgeLoader(a.Repos.Record, a.Services.OpenAI, a.Log, args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			stats, err := loader.Reload(ctx)
			if err != nil {
				return fmt.Errorf("reload knowledge: %w", err)
			}
			fmt.Printf("scanned=%d created=%d updated=%d deleted=%d embedded=%d skipped=%d\n",
				stats.Scanned, stats.Created, stats.Updated, stats.Deleted, stats.Embedded, stats.Skipped)
			return nil
		},
	}
}

func aggregateNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate-now",
		Short: "Aggregate the previous hour and previous day immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := bootstrap()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			now := time.Now().UTC()
			if err := a.Services.Metrics.AggregateHour(ctx, now.Add(-time.Hour)); err != nil {
				return fmt.Errorf("aggregate hour: %w", err)
			}
			if err := a.Services.Metrics.AggregateDay(ctx, now.AddDate(0, 0, -1)); err != nil {
				return fmt.Errorf("aggregate day: %w", err)
			}
			fmt.Println("aggregates written")
			return nil
		},
	}
}

func retentionNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retention-now",
		Short: "Apply the retention policy to raw rows immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := bootstrap()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()
			if err := a.Services.Metrics.RunRetention(ctx); err != nil {
				return fmt.Errorf("retention: %w", err)
			}
			fmt.Println("retention applied")
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the store and upstream dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := bootstrap()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			report := a.Services.Health.Check(ctx)
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			if report.Status == services.HealthUnhealthy {
				return fmt.Errorf("store unreachable")
			}
			return nil
		},
	}
}
