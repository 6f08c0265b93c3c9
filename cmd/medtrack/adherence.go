package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wellmind/medtrack/internal/audit"
	"github.com/wellmind/medtrack/internal/tracker"
)

var (
	adherenceDays int
	trendDays     int

	auditAction string
	auditUser   string
	auditFrom   string
	auditTo     string
)

func init() {
	rootCmd.AddCommand(adherenceCmd)
	rootCmd.AddCommand(auditCmd)

	adherenceCmd.AddCommand(adherenceSummaryCmd)
	adherenceCmd.AddCommand(adherenceStreakCmd)
	adherenceCmd.AddCommand(adherenceTrendCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditClearCmd)

	adherenceSummaryCmd.Flags().IntVar(&adherenceDays, "days", 30, "Window length in days")
	adherenceTrendCmd.Flags().IntVar(&trendDays, "days", 28, "Window length in days")

	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action, e.g. MEDICATION_ADDED")
	auditListCmd.Flags().StringVar(&auditUser, "filter-user", "", "Filter by acting user")
	auditListCmd.Flags().StringVar(&auditFrom, "from", "", "Inclusive lower bound (RFC 3339)")
	auditListCmd.Flags().StringVar(&auditTo, "to", "", "Inclusive upper bound (RFC 3339)")
}

var adherenceCmd = &cobra.Command{
	Use:   "adherence",
	Short: "Report adherence statistics",
}

var adherenceSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Adherence rate over a window",
	Args:  cobra.NoArgs,
	RunE:  runAdherenceSummary,
}

var adherenceStreakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Consecutive fully adherent days ending today",
	Args:  cobra.NoArgs,
	RunE:  runAdherenceStreak,
}

var adherenceTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Weekly adherence buckets, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runAdherenceTrend,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditList,
}

var auditClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the audit trail (admin only)",
	Args:  cobra.NoArgs,
	RunE:  runAuditClear,
}

func runAdherenceSummary(cmd *cobra.Command, args []string) error {
	return withTrackerReadOnly(func(ctx context.Context, t *tracker.Tracker) error {
		s := t.AdherenceSummary(adherenceDays)
		if outputJSON {
			return printJSON(s)
		}
		if s.NoMedications {
			fmt.Println("No active medications")
			return nil
		}
		if s.NoHistory {
			fmt.Println("No dose history in window")
			return nil
		}
		fmt.Printf("Adherence over %d days: %.2f%% (%d of %d expected doses)\n",
			s.WindowDays, s.Rate, s.TakenDoses, s.ExpectedDoses)
		return nil
	})
}

func runAdherenceStreak(cmd *cobra.Command, args []string) error {
	return withTrackerReadOnly(func(ctx context.Context, t *tracker.Tracker) error {
		streak := t.AdherenceStreak()
		if outputJSON {
			return printJSON(map[string]int{"streak_days": streak})
		}
		fmt.Printf("Current streak: %d day(s)\n", streak)
		return nil
	})
}

func runAdherenceTrend(cmd *cobra.Command, args []string) error {
	return withTrackerReadOnly(func(ctx context.Context, t *tracker.Tracker) error {
		buckets := t.AdherenceTrend(trendDays)
		if outputJSON {
			return printJSON(buckets)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WEEK START\tEXPECTED\tTAKEN\tRATE")
		for _, b := range buckets {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.2f%%\n",
				b.Start.Format("2006-01-02"), b.ExpectedDoses, b.TakenDoses, b.Rate)
		}
		return w.Flush()
	})
}

func runAuditList(cmd *cobra.Command, args []string) error {
	f := audit.Filter{
		Action: audit.Action(auditAction),
		UserID: auditUser,
	}
	if auditFrom != "" {
		ts, err := time.Parse(time.RFC3339, auditFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		f.From = &ts
	}
	if auditTo != "" {
		ts, err := time.Parse(time.RFC3339, auditTo)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		f.To = &ts
	}

	return withTrackerReadOnly(func(ctx context.Context, t *tracker.Tracker) error {
		entries, err := t.AuditEntries(ctx, f)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tACTION\tSEVERITY\tUSER\tMEDICATION\tREASON")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.Action, e.Severity, e.UserID, e.MedicationID, e.Reason)
		}
		return w.Flush()
	})
}

func runAuditClear(cmd *cobra.Command, args []string) error {
	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		if err := t.ClearAuditLog(ctx); err != nil {
			return err
		}
		if !outputJSON {
			fmt.Println("Audit trail cleared")
		}
		return nil
	})
}
