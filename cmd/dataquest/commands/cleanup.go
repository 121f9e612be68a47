package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rearc-quest/dataquest/internal/config"
	"github.com/rearc-quest/dataquest/pkg/db"
	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

var (
	cleanupWorkDir     bool
	cleanupJournalKeep int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up local run artifacts",
	Long: `Clean up local state left behind by runs:
  --workdir            Remove staged notebooks and outputs from the work directory
  --journal-keep <n>   Prune journal rows, keeping the newest n`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupWorkDir, "workdir", false, "Remove staged work directory contents")
	cleanupCmd.Flags().IntVar(&cleanupJournalKeep, "journal-keep", -1, "Keep only the newest n journal rows")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return apperrors.Wrap(err, "config load failed")
	}

	if !cleanupWorkDir && cleanupJournalKeep < 0 {
		return fmt.Errorf("must specify --workdir and/or --journal-keep")
	}

	if cleanupWorkDir {
		stagingDir := filepath.Join(cfg.WorkDir, "notebooks")
		if err := os.RemoveAll(stagingDir); err != nil {
			return apperrors.Wrap(err, "failed to remove staged notebooks")
		}
		fmt.Printf("Removed staged notebooks under %s\n", stagingDir)
	}

	if cleanupJournalKeep >= 0 {
		repo, err := db.NewRepository(cfg.SQLitePath)
		if err != nil {
			return apperrors.Wrap(err, "journal init failed")
		}
		defer repo.Close()

		deleted, err := repo.Prune(cleanupJournalKeep)
		if err != nil {
			return apperrors.Wrap(err, "journal prune failed")
		}
		fmt.Printf("Pruned %d journal rows, kept newest %d\n", deleted, cleanupJournalKeep)
	}

	return nil
}
