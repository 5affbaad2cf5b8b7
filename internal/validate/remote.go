package validate

import (
	"context"
	"os"

	"github.com/aelpxy/vaultkeep/internal/remote"
	"github.com/aelpxy/vaultkeep/pkg/models"
)

// ValidateRemote fetches an archive with its sidecars into a scratch
// directory, validates the local copy and removes it again.
func (v *Validator) ValidateRemote(ctx context.Context, rep *remote.Replicator, key string, depth models.Depth) *models.ValidationReport {
	scratch, err := os.MkdirTemp(v.scratch, "vaultkeep-fetch-*")
	if err != nil {
		report := models.NewValidationReport(key, depth)
		report.Fail(CheckExists, err.Error())
		return report
	}
	defer os.RemoveAll(scratch)

	local, err := rep.Fetch(ctx, key, scratch)
	if err != nil {
		report := models.NewValidationReport(key, depth)
		report.Fail(CheckExists, err.Error())
		report.Missing = append(report.Missing, key)
		return report
	}

	report := v.Validate(ctx, local, depth)
	report.Archive = key
	return report
}
