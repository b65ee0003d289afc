package coordinator_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distrobot/herd/internal/coordinator"
	"github.com/distrobot/herd/internal/models"
	"github.com/distrobot/herd/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "herd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.DiscardHandler)
	srv := coordinator.New(store, logger, 10*time.Minute, 5*time.Minute, 3)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func seed(t *testing.T, ts *httptest.Server, items ...models.SeedItem) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"items": items})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/work/seed", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNextReportStatus_RoundTrip(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	seed(t, ts,
		models.SeedItem{Name: "Login Works", Suite: "auth", Location: "tests/auth.robot"},
		models.SeedItem{Name: "Logout Works", Suite: "auth", Location: "tests/auth.robot"},
	)

	resp, err := http.Get(ts.URL + "/work/next?worker_id=pod-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var a models.Assignment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	require.NotEmpty(t, a.AttemptID)
	require.Equal(t, "Login Works", a.Name)

	body, _ := json.Marshal(map[string]string{
		"attempt_id": a.AttemptID,
		"outcome":    "completed",
		"report":     `{"returncode":0}`,
	})
	resp2, err := http.Post(ts.URL+"/work/report", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(ts.URL + "/work/status")
	require.NoError(t, err)
	defer resp3.Body.Close()

	var status struct {
		CountsByStatus map[string]int `json:"counts_by_status"`
		Total          int            `json:"total"`
		RecentAttempts []struct {
			AttemptID string `json:"attempt_id"`
			Outcome   string `json:"outcome"`
		} `json:"recent_attempts"`
	}
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&status))
	require.Equal(t, 2, status.Total)
	require.Equal(t, 1, status.CountsByStatus["completed"])
	require.Equal(t, 1, status.CountsByStatus["pending"])
	require.Len(t, status.RecentAttempts, 1)
	require.Equal(t, a.AttemptID, status.RecentAttempts[0].AttemptID)
}

func TestNext_NoWorkIs404(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/work/next?worker_id=pod-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReport_UnknownAttemptIs404(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	seed(t, ts, models.SeedItem{Name: "A", Suite: "s", Location: "l"})

	body, _ := json.Marshal(map[string]string{
		"attempt_id": "bogus",
		"outcome":    "completed",
	})
	resp, err := http.Post(ts.URL+"/work/report", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReport_DuplicateIs404(t *testing.T) {
	t.Parallel()
	ts, store := newTestServer(t)
	seed(t, ts, models.SeedItem{Name: "A", Suite: "s", Location: "l"})

	a, err := store.ClaimNext("pod-1")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"attempt_id": a.AttemptID,
		"outcome":    "failed",
	})
	resp, err := http.Post(ts.URL+"/work/report", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(ts.URL+"/work/report", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestSeed_ConflictWhileRunning(t *testing.T) {
	t.Parallel()
	ts, store := newTestServer(t)
	seed(t, ts, models.SeedItem{Name: "A", Suite: "s", Location: "l"})

	_, err := store.ClaimNext("pod-1")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"items": []models.SeedItem{{Name: "B", Suite: "s", Location: "l"}},
	})
	resp, err := http.Post(ts.URL+"/work/seed", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReset_ReturnsCount(t *testing.T) {
	t.Parallel()
	ts, store := newTestServer(t)
	seed(t, ts,
		models.SeedItem{Name: "A", Suite: "s", Location: "l"},
		models.SeedItem{Name: "B", Suite: "s", Location: "l"},
	)

	a, err := store.ClaimNext("pod-1")
	require.NoError(t, err)
	require.NoError(t, store.ReportOutcome(a.AttemptID, models.OutcomeFailed, "{}"))

	resp, err := http.Post(ts.URL+"/work/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 2, out["reset_count"])
}
