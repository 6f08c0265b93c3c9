package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wellmind/medtrack/internal/medication"
	"github.com/wellmind/medtrack/internal/tracker"
)

var (
	addDosage    string
	addFrequency string
	addNotes     string
	addVerify    bool

	listAll bool

	takeNotes string

	removeReason string

	refillPillCount     int
	refillPillsPerDose  int
	refillThresholdDays int

	adjustDelta int

	importFile    string
	importVerify  bool
	importWorkers int
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(takeCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(refillCmd)
	rootCmd.AddCommand(importCmd)

	refillCmd.AddCommand(refillSetCmd)
	refillCmd.AddCommand(refillAdjustCmd)
	refillCmd.AddCommand(refillStatusCmd)

	addCmd.Flags().StringVar(&addDosage, "dosage", "", "Dosage, e.g. \"10mg\" (required)")
	addCmd.Flags().StringVar(&addFrequency, "frequency", "", "Frequency, e.g. \"twice daily\" (required)")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "Free-form notes")
	addCmd.Flags().BoolVar(&addVerify, "verify", false, "Verify against the FDA validator before adding")
	_ = addCmd.MarkFlagRequired("dosage")
	_ = addCmd.MarkFlagRequired("frequency")

	listCmd.Flags().BoolVar(&listAll, "all", false, "Include discontinued medications")

	takeCmd.Flags().StringVar(&takeNotes, "notes", "", "Notes on this dose")

	removeCmd.Flags().StringVar(&removeReason, "reason", "", "Why the medication is discontinued")

	refillSetCmd.Flags().IntVar(&refillPillCount, "pills", 0, "Pills on hand (required)")
	refillSetCmd.Flags().IntVar(&refillPillsPerDose, "per-dose", 1, "Pills consumed per dose")
	refillSetCmd.Flags().IntVar(&refillThresholdDays, "threshold", 7, "Alert when this many days of supply remain")
	_ = refillSetCmd.MarkFlagRequired("pills")

	refillAdjustCmd.Flags().IntVar(&adjustDelta, "delta", 0, "Pill count change, positive on refill (required)")
	_ = refillAdjustCmd.MarkFlagRequired("delta")

	importCmd.Flags().StringVar(&importFile, "file", "", "JSON file with medications to import (required)")
	importCmd.Flags().BoolVar(&importVerify, "verify", false, "FDA-verify each record")
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "Concurrent workers (0 for default)")
	_ = importCmd.MarkFlagRequired("file")
}

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a medication",
	Long: `Add a medication to the tracker.

Examples:
  # Add a medication
  medtrack add Lisinopril --dosage 10mg --frequency "once daily"

  # Add with FDA verification
  medtrack add Warfarin --dosage 5mg --frequency "once daily" --verify`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List medications",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var takeCmd = &cobra.Command{
	Use:   "take <id>",
	Short: "Record a dose as taken",
	Args:  cobra.ExactArgs(1),
	RunE:  runTake,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Discontinue a medication",
	Long: `Discontinue a medication. The record and its dose history are kept;
only its active flag changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var refillCmd = &cobra.Command{
	Use:   "refill",
	Short: "Manage refill tracking",
}

var refillSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Enable refill tracking for a medication",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefillSet,
}

var refillAdjustCmd = &cobra.Command{
	Use:   "adjust <id>",
	Short: "Adjust the pill count",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefillAdjust,
}

var refillStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the supply status of a medication",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefillStatus,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-import medications from a JSON file",
	Long: `Bulk-import medications from a JSON file holding an array of
{"name", "dosage", "frequency", "notes"} objects. Records are processed
concurrently; each succeeds or fails on its own.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func runAdd(cmd *cobra.Command, args []string) error {
	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		in := medication.Input{
			Name:      args[0],
			Dosage:    addDosage,
			Frequency: addFrequency,
			Notes:     addNotes,
		}

		var med *medication.Medication
		var err error
		if addVerify {
			med, err = t.AddMedicationWithFDAVerification(ctx, in)
		} else {
			med, err = t.AddMedication(ctx, in)
		}
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(med)
		}
		fmt.Printf("Added %s %s (%s)\n", med.Name, med.Dosage, med.ID)
		for _, w := range med.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if med.PregnancyCategory != "" {
			fmt.Printf("  pregnancy category: %s\n", med.PregnancyCategory)
		}
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withTrackerReadOnly(func(ctx context.Context, t *tracker.Tracker) error {
		meds := t.ListMedications(listAll)
		if outputJSON {
			return printJSON(meds)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOSAGE\tFREQUENCY\tACTIVE")
		for _, m := range meds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", m.ID, m.Name, m.Dosage, m.Frequency, m.Active)
		}
		return w.Flush()
	})
}

func runTake(cmd *cobra.Command, args []string) error {
	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		dose, alert, err := t.MarkAsTaken(ctx, args[0], takeNotes)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(map[string]interface{}{"dose": dose, "alert": alert})
		}
		fmt.Printf("Recorded dose %s at %s\n", dose.ID, dose.TakenAt.Format("2006-01-02 15:04"))
		if alert != nil {
			fmt.Println(alert.Message)
		}
		return nil
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		if err := t.RemoveMedication(ctx, args[0], removeReason); err != nil {
			return err
		}
		if !outputJSON {
			fmt.Printf("Discontinued %s\n", args[0])
		}
		return nil
	})
}

func runRefillSet(cmd *cobra.Command, args []string) error {
	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		if err := t.SetRefillInfo(ctx, args[0], refillPillCount, refillPillsPerDose, refillThresholdDays); err != nil {
			return err
		}
		if !outputJSON {
			fmt.Printf("Refill tracking enabled: %d pills, %d per dose, alert at %d days\n",
				refillPillCount, refillPillsPerDose, refillThresholdDays)
		}
		return nil
	})
}

func runRefillAdjust(cmd *cobra.Command, args []string) error {
	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		count, ok := t.UpdatePillCount(ctx, args[0], adjustDelta)
		if !ok {
			return fmt.Errorf("refill tracking not enabled for %s", args[0])
		}
		if outputJSON {
			return printJSON(map[string]int{"pill_count": count})
		}
		fmt.Printf("Pill count: %d\n", count)
		return nil
	})
}

func runRefillStatus(cmd *cobra.Command, args []string) error {
	return withTrackerReadOnly(func(ctx context.Context, t *tracker.Tracker) error {
		alert, fired, err := t.CheckRefillAlert(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(map[string]interface{}{"alert": alert, "fired": fired})
		}
		if !fired {
			fmt.Println("Supply OK")
			return nil
		}
		fmt.Println(alert.Message)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(importFile)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	var inputs []medication.Input
	if err := json.Unmarshal(data, &inputs); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}

	return withTracker(func(ctx context.Context, t *tracker.Tracker) error {
		results := t.ImportMedications(ctx, inputs, importVerify, importWorkers)

		if outputJSON {
			return printJSON(results)
		}

		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("FAILED %s: %v\n", r.Input.Name, r.Err)
				continue
			}
			fmt.Printf("Added %s (%s)\n", r.Medication.Name, r.Medication.ID)
		}
		fmt.Printf("%d imported, %d failed\n", len(results)-failed, failed)
		return nil
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
