package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rearc-quest/dataquest/internal/config"
	"github.com/rearc-quest/dataquest/pkg/db"
	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past runs and their outcomes",
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return apperrors.Wrap(err, "config load failed")
	}

	// Ensure journal directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return apperrors.Wrap(err, "journal init failed")
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return apperrors.Wrap(err, "list failed")
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-5s %-20s %-16s %-18s %-44s %-10s\n", "ID", "STARTED", "CLASSIFICATION", "FINGERPRINT", "RAW KEY", "PUBLISHED")
	fmt.Println("--------------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		fingerprint := run.Fingerprint
		if len(fingerprint) > 16 {
			fingerprint = fingerprint[:16]
		}
		if fingerprint == "" {
			fingerprint = "-"
		}
		rawKey := run.RawKey
		if rawKey == "" {
			rawKey = "-"
		}
		published := "no"
		if run.PublishedKey != "" {
			published = "yes"
		}

		fmt.Printf("%-5d %-20s %-16s %-18s %-44s %-10s\n",
			run.ID, run.StartedAt, run.Classification, fingerprint, rawKey, published)
	}

	return nil
}
