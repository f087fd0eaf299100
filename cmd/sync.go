package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwhitfield/trackbridge/internal/config"
	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/internal/mapping"
	"github.com/jwhitfield/trackbridge/internal/redmine"
	"github.com/jwhitfield/trackbridge/internal/spira"
	"github.com/jwhitfield/trackbridge/internal/sync"
)

var (
	syncLastSync   string
	syncConfigFile string
	syncDBPath     string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass across all mapped projects",
	Long: `Runs one full reconciliation pass: for every project mapping, exports
incidents created since the last sync to the external tracker, then imports
new and updated issues back. Pass --last-sync with the timestamp of the last
successful run; omit it for a full initial sync.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncLastSync, "last-sync", "", "timestamp of the last successful run (RFC 3339); omit for a full sync")
	syncCmd.Flags().StringVar(&syncConfigFile, "config", "", "path to an optional config file (environment variables win)")
	syncCmd.Flags().StringVar(&syncDBPath, "db", "", "path to the mapping database (overrides configuration)")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(syncConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if syncDBPath != "" {
		cfg.Sync.DatabasePath = syncDBPath
	}

	var lastSync *time.Time
	if syncLastSync != "" {
		parsed, err := time.Parse(time.RFC3339, syncLastSync)
		if err != nil {
			return fmt.Errorf("invalid --last-sync value %q: %w", syncLastSync, err)
		}
		utc := parsed.UTC()
		lastSync = &utc
	}

	internal, err := spira.NewClient(cfg)
	if err != nil {
		return err
	}
	external, err := redmine.NewClient(cfg)
	if err != nil {
		return err
	}

	store, err := mapping.NewStore(cfg.Sync.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open mapping database: %w", err)
	}
	defer store.Close()

	orchestrator := sync.NewOrchestrator(internal, external, store, cfg.Sync)
	report, err := orchestrator.Execute(cmd.Context(), lastSync, time.Now().UTC())
	if err != nil {
		return err
	}

	status := report.Status()
	logging.Info("sync complete",
		"run_id", report.RunID,
		"status", status.String(),
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Second).String())

	fmt.Printf("Sync %s: %d project(s), %d skipped; exported %d, imported %d new / %d updated, %d failed, %d warning(s)\n",
		status.String(), report.Projects, report.ProjectsSkipped,
		report.Export.Created, report.Import.Created, report.Import.Updated,
		report.Export.Failed+report.Import.Failed, report.Warnings)
	return nil
}
