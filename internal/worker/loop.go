package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	herdlog "github.com/distrobot/herd/internal/log"
	"github.com/distrobot/herd/internal/models"
)

// Coordinator is the slice of the client the loop needs.
type Coordinator interface {
	Next(ctx context.Context, workerID string) (*models.Assignment, error)
	Report(ctx context.Context, attemptID string, outcome models.AttemptOutcome, report string) error
}

// Loop drives one worker through claim/execute/report cycles until the
// coordinator has no work left.
type Loop struct {
	WorkerID   string
	Client     Coordinator
	Runner     Runner
	OutputsDir string
	Logger     *slog.Logger

	RetryBase time.Duration
	RetryCap  time.Duration
	RetryMax  int

	// Sleep is swappable so tests can record the backoff schedule.
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run polls until ErrNoWork, which is the normal end of a run. Transient
// coordinator errors are retried with exponential backoff; exhausting the
// retries is fatal for this worker only.
func (l *Loop) Run(ctx context.Context) error {
	if l.Sleep == nil {
		l.Sleep = sleepCtx
	}

	ctx = herdlog.ContextAttrs(ctx, slog.String("worker_id", l.WorkerID))

	done := 0
	for {
		var assignment *models.Assignment
		err := l.withRetry(ctx, "claim", func() error {
			var err error
			assignment, err = l.Client.Next(ctx, l.WorkerID)
			return err
		})
		if errors.Is(err, models.ErrNoWork) {
			l.Logger.InfoContext(ctx, "no work left, worker done", "items_run", done)
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker %s: %w", l.WorkerID, err)
		}

		actx := herdlog.ContextAttrs(ctx,
			slog.String("attempt_id", assignment.AttemptID),
			slog.Int64("item_id", assignment.ItemID))

		outcome, report := l.execute(actx, *assignment)

		err = l.withRetry(actx, "report", func() error {
			return l.Client.Report(actx, assignment.AttemptID, outcome, report)
		})
		if errors.Is(err, models.ErrAttemptNotFound) {
			// Lease expired and the item was handed elsewhere; our result
			// is already superseded.
			l.Logger.WarnContext(actx, "attempt already finalized, dropping result")
		} else if err != nil {
			return fmt.Errorf("worker %s: %w", l.WorkerID, err)
		}

		done++
		l.Logger.InfoContext(actx, "item finished", "name", assignment.Name, "outcome", outcome)
	}
}

// execute runs the assignment and always produces something reportable: a
// runner fault becomes a failed outcome with a diagnostic report, never an
// abandoned attempt.
func (l *Loop) execute(ctx context.Context, a models.Assignment) (models.AttemptOutcome, string) {
	result, err := l.Runner.Run(ctx, a)
	if err != nil {
		l.Logger.ErrorContext(ctx, "runner fault", "name", a.Name, "error", err)
		report, _ := json.Marshal(map[string]string{"error": err.Error()})
		return models.OutcomeFailed, string(report)
	}

	if result.OutputFile != "" {
		if name, err := l.publishArtifact(a, result.OutputFile); err != nil {
			l.Logger.WarnContext(ctx, "failed to publish output artifact", "error", err)
		} else {
			l.Logger.DebugContext(ctx, "published output artifact", "file", name)
		}
	}

	if result.Succeeded {
		return models.OutcomeCompleted, result.Report
	}
	return models.OutcomeFailed, result.Report
}

// publishArtifact copies the runner's output file into the shared outputs
// directory under a name keyed by attempt and item, for the merge step.
func (l *Loop) publishArtifact(a models.Assignment, outputFile string) (string, error) {
	if err := os.MkdirAll(l.OutputsDir, 0755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s_output.xml", a.AttemptID, safeName(a.Name))
	dst := filepath.Join(l.OutputsDir, name)

	src, err := os.Open(outputFile)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return name, nil
}

func safeName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		case c == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// withRetry retries op on transient errors with exponential backoff. Any
// other error, including ErrNoWork and ErrAttemptNotFound, passes straight
// through to the caller.
func (l *Loop) withRetry(ctx context.Context, what string, op func() error) error {
	delay := l.RetryBase
	var lastErr error

	for attempt := 1; attempt <= l.RetryMax; attempt++ {
		err := op()
		if err == nil || !models.IsTransient(err) {
			return err
		}
		lastErr = err

		l.Logger.WarnContext(ctx, "transient coordinator error, backing off",
			"op", what, "attempt", attempt, "delay", delay, "error", err)

		if attempt == l.RetryMax {
			break
		}
		if err := l.Sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > l.RetryCap {
			delay = l.RetryCap
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", what, l.RetryMax, lastErr)
}
