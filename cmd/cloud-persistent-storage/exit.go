package main

import (
	"log/slog"

	"github.com/urfave/cli"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Process exit codes
const (
	exitFailure     = 1
	exitConfig      = 2
	exitOrphan      = 3
	exitUnsupported = 100
)

func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidConfig,
		errors.ErrCodeConfigLoad,
		errors.ErrCodeConfigValidation,
		errors.ErrCodeMissingConfig,
		errors.ErrCodeInvalidTagPolicy:
		return exitConfig
	case errors.ErrCodeTaggingFailed:
		return exitOrphan
	case errors.ErrCodePaginationUnsupported,
		errors.ErrCodeMetadataUnavailable:
		return exitUnsupported
	}
	return exitFailure
}

// exitError logs err with its diagnostics and converts it into a cli exit error.
func exitError(err error, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var se *errors.StorageError
	if errors.As(err, &se) {
		logger.Debug("failure diagnostics", "diagnostic", se.DetailedDiagnostic())
		if errors.HasCode(err, errors.ErrCodeTaggingFailed) {
			logger.Error("created volume could not be tagged and may be orphaned",
				"volume_id", se.VolumeID(),
				"orphan_deleted", se.Details["orphan_deleted"])
		}
		if rec := se.GetRecommendation(); rec != "" {
			logger.Info("recommendation", "hint", rec)
		}
	}
	return cli.NewExitError(err.Error(), exitCode(err))
}
