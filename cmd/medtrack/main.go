// Package main implements the medtrack CLI, a file-backed personal
// medication tracker.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/storage/jsonfile"
	"github.com/wellmind/medtrack/internal/tracker"
)

var (
	statePath  string
	userID     string
	userRole   string
	outputJSON bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medtrack",
	Short: "Track medications, refills and adherence from the command line",
	Long: `medtrack is a personal medication tracker. It keeps medications, dose
history, refill supply and a full audit trail in a local JSON state file.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(), "Path to the state file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Acting user recorded in the audit trail")
	rootCmd.PersistentFlags().StringVar(&userRole, "role", "user", "Acting role: admin, user or viewer")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "medtrack-state.json"
	}
	return filepath.Join(home, ".medtrack", "state.json")
}

// withTracker loads state, runs fn against a fresh tracker, and saves the
// state back when fn succeeds.
func withTracker(fn func(ctx context.Context, t *tracker.Tracker) error) error {
	store := jsonfile.New(statePath, zap.NewNop())
	state, err := store.Load()
	if err != nil {
		return err
	}

	t := tracker.New()
	t.ImportState(state)
	t.SetCurrentUser(userID, tracker.Role(userRole))

	ctx := context.Background()
	if err := fn(ctx, t); err != nil {
		return err
	}

	out, err := t.ExportState(ctx)
	if err != nil {
		return fmt.Errorf("export state: %w", err)
	}
	return store.Save(out)
}

// withTrackerReadOnly loads state and runs fn without saving afterwards.
func withTrackerReadOnly(fn func(ctx context.Context, t *tracker.Tracker) error) error {
	store := jsonfile.New(statePath, zap.NewNop())
	state, err := store.Load()
	if err != nil {
		return err
	}

	t := tracker.New()
	t.ImportState(state)
	t.SetCurrentUser(userID, tracker.Role(userRole))

	return fn(context.Background(), t)
}
