package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/distrobot/herd/internal/models"
)

// StatusSource is the slice of the coordinator client the monitor needs.
type StatusSource interface {
	Status(ctx context.Context) (models.StatusCounts, error)
}

// Merger combines the per-attempt report artifacts into one result.
type Merger interface {
	Merge(ctx context.Context, reports []string) (string, error)
}

// Monitor polls aggregate status and fires the merge step exactly once when
// every item has reached a terminal state. Its decision is derived entirely
// from durable state, so restarting it is always safe.
type Monitor struct {
	Source     StatusSource
	Merger     Merger
	OutputsDir string
	Interval   time.Duration
	RetryDelay time.Duration
	Logger     *slog.Logger

	// Sleep is swappable so tests don't wait out the merge retry delay.
	Sleep func(ctx context.Context, d time.Duration) error

	fired atomic.Bool
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run polls until the terminal condition holds and the merge has run, or ctx
// is canceled. A failed merge is retried once after RetryDelay and then
// surfaced; the monitor never loops silently on a broken merge.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		done, err := m.Tick(ctx)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick takes one fresh look at the catalog. It returns done = true once the
// merge has been triggered (by this tick or an earlier one).
func (m *Monitor) Tick(ctx context.Context) (bool, error) {
	counts, err := m.Source.Status(ctx)
	if err != nil {
		// Transient status failures just wait for the next tick.
		m.Logger.Warn("status poll failed", "error", err)
		return false, nil
	}

	m.Logger.Info("progress",
		"finished", counts.Completed+counts.Failed, "total", counts.Total,
		"completed", counts.Completed, "failed", counts.Failed)

	if !counts.Terminal() {
		return false, nil
	}

	// One-shot latch: a concurrent or repeated tick past this point must
	// not trigger a second merge.
	if !m.fired.CompareAndSwap(false, true) {
		return true, nil
	}

	return true, m.merge(ctx)
}

func (m *Monitor) merge(ctx context.Context) error {
	reports, err := m.collectReports()
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return fmt.Errorf("no report artifacts found in %s", m.OutputsDir)
	}

	m.Logger.Info("all items terminal, merging results", "reports", len(reports))

	combined, err := m.Merger.Merge(ctx, reports)
	if err != nil {
		m.Logger.Error("merge failed, retrying once", "error", err, "delay", m.RetryDelay)
		if serr := m.sleep(ctx, m.RetryDelay); serr != nil {
			return serr
		}
		combined, err = m.Merger.Merge(ctx, reports)
		if err != nil {
			return fmt.Errorf("merge failed after retry: %w", err)
		}
	}

	m.Logger.Info("merge complete", "combined_report", combined)
	return nil
}

// collectReports gathers the shared per-attempt artifacts, sorted for a
// deterministic merge input.
func (m *Monitor) collectReports() ([]string, error) {
	reports, err := filepath.Glob(filepath.Join(m.OutputsDir, "*_output.xml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(reports)
	return reports, nil
}
