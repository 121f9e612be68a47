package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rearc-quest/dataquest/internal/config"
	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
	"github.com/rearc-quest/dataquest/pkg/storage"
	datasync "github.com/rearc-quest/dataquest/pkg/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the upstream open-data files into the bucket",
	Long: `Scrapes the upstream directory listing, compares filenames and sizes with
the bucket prefix, uploads new and modified files, and deletes files no
longer present upstream.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return apperrors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return apperrors.Wrap(err, "config invalid")
	}

	store, err := storage.NewClient(ctx, cfg.StorageBucket, cfg.S3Region)
	if err != nil {
		return apperrors.Wrap(err, "S3 client failed")
	}

	syncer := datasync.NewSyncer(store, cfg.OpenDataURL, cfg.OpenDataPrefix, cfg.ProviderContact)
	result, err := syncer.Sync(ctx)
	if err != nil {
		return apperrors.Wrap(err, "sync failed")
	}

	fmt.Printf("Sync complete: %d uploaded, %d deleted, %d already in sync\n",
		result.Uploaded, result.Deleted, result.InSync)
	return nil
}
