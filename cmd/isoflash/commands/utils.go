package commands

import (
	"os"
	"path/filepath"

	"github.com/isoflash/isoflash/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// The fsm engine keeps its BoltDB files inside this directory
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// runArtifacts lists the temporary images a run may have left in workDir.
func runArtifacts(workDir, runID string) ([]string, error) {
	return filepath.Glob(filepath.Join(workDir, "isoflash-"+runID+"*"))
}
