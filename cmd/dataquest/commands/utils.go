package commands

import (
	"os"
	"path/filepath"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create journal directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return apperrors.Wrap(err, "failed to create journal directory")
	}

	// Create FSM database directory (only needed for the run command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(fsmDBPath), 0755); err != nil {
			return apperrors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Create work directory (notebook staging)
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return apperrors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}
