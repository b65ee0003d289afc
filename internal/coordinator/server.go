package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distrobot/herd/internal/models"
	"github.com/distrobot/herd/internal/storage"
)

// Server exposes the claim protocol over HTTP and runs the lease-expiry
// reclaim loop alongside it.
type Server struct {
	store  *storage.Store
	logger *slog.Logger

	lease           time.Duration
	maxItemTries    int
	reclaimInterval time.Duration
}

func New(store *storage.Store, logger *slog.Logger, lease, reclaimInterval time.Duration, maxItemTries int) *Server {
	return &Server{
		store:           store,
		logger:          logger,
		lease:           lease,
		maxItemTries:    maxItemTries,
		reclaimInterval: reclaimInterval,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /work/next", s.handleNext)
	mux.HandleFunc("POST /work/report", s.handleReport)
	mux.HandleFunc("GET /work/status", s.handleStatus)
	mux.HandleFunc("POST /work/reset", s.handleReset)
	mux.HandleFunc("POST /work/seed", s.handleSeed)
	return mux
}

// Run serves until ctx is canceled, with the reclaim ticker running
// alongside. Reclaim failures are logged and retried on the next tick; the
// store is the durable truth, so a missed tick loses nothing.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("coordinator listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.reclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n, err := s.store.ReclaimExpired(s.lease, s.maxItemTries)
				if err != nil {
					s.logger.Error("reclaim failed", "error", err)
				} else if n > 0 {
					s.logger.Info("reclaimed expired attempts", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		workerID = "unknown-worker"
	}

	assignment, err := s.store.ClaimNext(workerID)
	if errors.Is(err, models.ErrNoWork) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no work available"})
		return
	}
	if err != nil {
		s.logger.Error("claim failed", "worker_id", workerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("assigned item",
		"item_id", assignment.ItemID, "name", assignment.Name, "worker_id", workerID)
	writeJSON(w, http.StatusOK, assignment)
}

type reportRequest struct {
	AttemptID string                `json:"attempt_id"`
	Outcome   models.AttemptOutcome `json:"outcome"`
	Report    string                `json:"report"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AttemptID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing attempt_id or outcome"})
		return
	}
	if req.Outcome != models.OutcomeCompleted && req.Outcome != models.OutcomeFailed {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "outcome must be completed or failed"})
		return
	}

	err := s.store.ReportOutcome(req.AttemptID, req.Outcome, req.Report)
	if errors.Is(err, models.ErrAttemptNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "attempt not found"})
		return
	}
	if err != nil {
		s.logger.Error("report failed", "attempt_id", req.AttemptID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("recorded outcome", "attempt_id", req.AttemptID, "outcome", req.Outcome)
	writeJSON(w, http.StatusOK, map[string]string{"message": "recorded"})
}

type recentAttempt struct {
	AttemptID  string     `json:"attempt_id"`
	ItemID     int64      `json:"item_id"`
	WorkerID   string     `json:"worker_id"`
	Outcome    string     `json:"outcome"`
	ClaimedAt  time.Time  `json:"claimed_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type statusResponse struct {
	CountsByStatus map[string]int  `json:"counts_by_status"`
	Total          int             `json:"total"`
	RecentAttempts []recentAttempt `json:"recent_attempts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	attempts, err := s.store.RecentAttempts(10)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := statusResponse{
		CountsByStatus: map[string]int{
			string(models.ItemStatusPending):   counts.Pending,
			string(models.ItemStatusClaimed):   counts.Claimed,
			string(models.ItemStatusCompleted): counts.Completed,
			string(models.ItemStatusFailed):    counts.Failed,
		},
		Total:          counts.Total,
		RecentAttempts: make([]recentAttempt, 0, len(attempts)),
	}
	for _, a := range attempts {
		resp.RecentAttempts = append(resp.RecentAttempts, recentAttempt{
			AttemptID:  a.ID,
			ItemID:     a.ItemID,
			WorkerID:   a.WorkerID,
			Outcome:    string(a.Outcome),
			ClaimedAt:  a.ClaimedAt,
			FinishedAt: a.FinishedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Reset()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("reset items to pending", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"reset_count": n})
}

type seedRequest struct {
	Items []models.SeedItem `json:"items"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid seed payload"})
		return
	}

	n, err := s.store.Seed(req.Items)
	if errors.Is(err, models.ErrSeedWhileRunning) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("seeded catalog", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"seeded": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
