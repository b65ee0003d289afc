package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/distrobot/herd/internal/models"
)

// Result is what a runner produced for one assignment. A failing test is a
// normal result, not an error: Succeeded is false and the report says why.
// Run returns an error only for faults that prevented execution entirely.
type Result struct {
	Succeeded  bool
	Report     string
	OutputFile string // per-attempt artifact to publish, empty if none
}

type Runner interface {
	Run(ctx context.Context, a models.Assignment) (Result, error)
}

// RobotRunner executes one Robot Framework test case per assignment.
type RobotRunner struct {
	TestsDir   string
	ResultsDir string
}

func (r *RobotRunner) Run(ctx context.Context, a models.Assignment) (Result, error) {
	outputDir := filepath.Join(r.ResultsDir, a.AttemptID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, "robot",
		"--outputdir", outputDir,
		"--xunit", "xunit.xml",
		"--log", "log.html",
		"--report", "report.html",
		"--output", "output.xml",
		"--test", a.Name,
		r.TestsDir,
	)

	start := time.Now()
	runErr := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			// robot never ran (binary missing, ctx canceled, ...).
			return Result{}, fmt.Errorf("run robot: %w", runErr)
		}
	}

	outputFile := filepath.Join(outputDir, "output.xml")
	if _, err := os.Stat(outputFile); err != nil {
		outputFile = ""
	}

	succeeded := exitCode == 0
	status := "completed"
	if !succeeded {
		status = "failed"
	}

	report, err := json.Marshal(map[string]any{
		"status":         status,
		"returncode":     exitCode,
		"execution_time": time.Since(start).String(),
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Succeeded:  succeeded,
		Report:     string(report),
		OutputFile: outputFile,
	}, nil
}
