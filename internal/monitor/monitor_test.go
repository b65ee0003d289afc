package monitor_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distrobot/herd/internal/models"
	"github.com/distrobot/herd/internal/monitor"
)

type fakeSource struct {
	mu     sync.Mutex
	counts models.StatusCounts
	err    error
}

func (f *fakeSource) Status(ctx context.Context) (models.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, f.err
}

func (f *fakeSource) set(c models.StatusCounts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = c
}

type fakeMerger struct {
	calls atomic.Int32
	errs  []error // consumed one per call
	mu    sync.Mutex
	got   [][]string
}

func (f *fakeMerger) Merge(ctx context.Context, reports []string) (string, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.got = append(f.got, reports)
	f.mu.Unlock()
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return "", f.errs[n-1]
	}
	return "merged/merged_output.xml", nil
}

func newMonitor(t *testing.T, src monitor.StatusSource, m monitor.Merger, reportFiles ...string) *monitor.Monitor {
	t.Helper()
	dir := t.TempDir()
	for _, name := range reportFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<robot/>"), 0644))
	}
	return &monitor.Monitor{
		Source:     src,
		Merger:     m,
		OutputsDir: dir,
		Interval:   time.Millisecond,
		RetryDelay: time.Minute,
		Logger:     slog.New(slog.DiscardHandler),
		Sleep:      func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func terminal(n int) models.StatusCounts {
	return models.StatusCounts{Completed: n - 1, Failed: 1, Total: n}
}

func TestTick_NotTerminalDoesNotFire(t *testing.T) {
	t.Parallel()
	src := &fakeSource{counts: models.StatusCounts{Pending: 1, Claimed: 2, Total: 3}}
	merger := &fakeMerger{}
	m := newMonitor(t, src, merger, "a_T_output.xml")

	done, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, done)
	require.Zero(t, merger.calls.Load())
}

func TestTick_EmptyCatalogIsNotTerminal(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	merger := &fakeMerger{}
	m := newMonitor(t, src, merger)

	done, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, done)
}

func TestTick_MergesExactlyOnceUnderConcurrentTicks(t *testing.T) {
	t.Parallel()
	src := &fakeSource{counts: terminal(3)}
	merger := &fakeMerger{}
	m := newMonitor(t, src, merger, "b_T2_output.xml", "a_T1_output.xml", "c_T3_output.xml")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := m.Tick(context.Background())
			if err != nil {
				t.Errorf("tick: %v", err)
			}
			if !done {
				t.Error("tick reported not done after terminal condition")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), merger.calls.Load())

	// Sorted, full input set.
	require.Len(t, merger.got, 1)
	require.Len(t, merger.got[0], 3)
	require.Equal(t, "a_T1_output.xml", filepath.Base(merger.got[0][0]))
	require.Equal(t, "c_T3_output.xml", filepath.Base(merger.got[0][2]))
}

func TestTick_MergeRetriedOnceThenSurfaced(t *testing.T) {
	t.Parallel()
	src := &fakeSource{counts: terminal(1)}
	merger := &fakeMerger{errs: []error{errors.New("rebot exploded"), errors.New("rebot exploded")}}
	m := newMonitor(t, src, merger, "a_T_output.xml")

	done, err := m.Tick(context.Background())
	require.True(t, done)
	require.Error(t, err)
	require.Contains(t, err.Error(), "after retry")
	require.Equal(t, int32(2), merger.calls.Load())
}

func TestTick_MergeRetrySucceeds(t *testing.T) {
	t.Parallel()
	src := &fakeSource{counts: terminal(1)}
	merger := &fakeMerger{errs: []error{errors.New("flaky fs")}}
	m := newMonitor(t, src, merger, "a_T_output.xml")

	done, err := m.Tick(context.Background())
	require.True(t, done)
	require.NoError(t, err)
	require.Equal(t, int32(2), merger.calls.Load())
}

func TestRun_WaitsForTerminalThenMerges(t *testing.T) {
	t.Parallel()
	src := &fakeSource{counts: models.StatusCounts{Pending: 1, Total: 1}}
	merger := &fakeMerger{}
	m := newMonitor(t, src, merger, "a_T_output.xml")

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.set(terminal(1))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))
	require.Equal(t, int32(1), merger.calls.Load())
}

func TestTick_StatusErrorWaitsForNextTick(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: errors.New("coordinator down")}
	merger := &fakeMerger{}
	m := newMonitor(t, src, merger, "a_T_output.xml")

	done, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, done)
	require.Zero(t, merger.calls.Load())
}
