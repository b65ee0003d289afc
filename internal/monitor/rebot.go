package monitor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RebotMerger combines Robot Framework output files with `rebot --merge`.
type RebotMerger struct {
	MergedDir string
}

func (r *RebotMerger) Merge(ctx context.Context, reports []string) (string, error) {
	if err := os.MkdirAll(r.MergedDir, 0755); err != nil {
		return "", err
	}

	combined := filepath.Join(r.MergedDir, "merged_output.xml")
	args := []string{
		"--merge",
		"--output", combined,
		"--log", filepath.Join(r.MergedDir, "merged_log.html"),
		"--report", filepath.Join(r.MergedDir, "merged_report.html"),
		"--name", "Merged Test Results",
		"--doc", fmt.Sprintf("Merged results from %d parallel test executions", len(reports)),
	}
	args = append(args, reports...)

	cmd := exec.CommandContext(ctx, "rebot", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("rebot merge: %w: %s", err, out)
	}

	return combined, nil
}
