package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/distrobot/herd/internal/models"
)

// Store is the single authority for work-item status. Every status
// transition happens inside one of its transactions.
type Store struct {
	db *sql.DB

	// Now is swappable so lease-expiry tests can control time.
	Now func() time.Time
}

func New(dbPath string) (*Store, error) {
	// _txlock=immediate makes every Begin take the write lock up front, so
	// the claim transaction holds it from its select through its commit.
	db, err := sql.Open("sqlite",
		dbPath+"?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}

	// A single connection serializes all writers, so the claim transaction
	// can never interleave with a concurrent claim.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, Now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		suite TEXT NOT NULL,
		location TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		item_id INTEGER NOT NULL REFERENCES work_items(id),
		worker_id TEXT NOT NULL,
		claimed_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		outcome TEXT NOT NULL DEFAULT 'active',
		report TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_items_status ON work_items(status);
	CREATE INDEX IF NOT EXISTS idx_attempts_item ON attempts(item_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Seed replaces the catalog wholesale. Refused while any attempt is active so
// in-flight work is never destroyed underneath a worker.
func (s *Store) Seed(items []models.SeedItem) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM attempts WHERE outcome = 'active'`,
	).Scan(&active); err != nil {
		return 0, err
	}
	if active > 0 {
		return 0, models.ErrSeedWhileRunning
	}

	if _, err := tx.Exec(`DELETE FROM attempts`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM work_items`); err != nil {
		return 0, err
	}

	for _, item := range items {
		if _, err := tx.Exec(
			`INSERT INTO work_items (name, suite, location, status) VALUES (?, ?, ?, 'pending')`,
			item.Name, item.Suite, item.Location,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Reset rewinds every item to pending. Any still-active attempt is finalized
// as failed first, in the same transaction, so a late report from its worker
// bounces instead of stomping the item a new claimant now owns. Attempt
// history is kept for audit; only new claims are affected.
func (s *Store) Reset() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE attempts SET outcome = 'failed', finished_at = ?, report = ? WHERE outcome = 'active'`,
		s.Now().UTC(), `{"error":"attempt canceled by catalog reset"}`,
	); err != nil {
		return 0, err
	}

	result, err := tx.Exec(`UPDATE work_items SET status = 'pending'`)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// ClaimNext atomically hands the lowest-id pending item to workerID: the
// select, the status flip and the attempt insert commit as one transaction,
// so two racing claimants can never both walk away with the same item.
func (s *Store) ClaimNext(workerID string) (*models.Assignment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var item models.WorkItem
	err = tx.QueryRow(
		`SELECT id, name, suite, location FROM work_items
		 WHERE status = 'pending' ORDER BY id LIMIT 1`,
	).Scan(&item.ID, &item.Name, &item.Suite, &item.Location)
	if err == sql.ErrNoRows {
		return nil, models.ErrNoWork
	}
	if err != nil {
		return nil, err
	}

	result, err := tx.Exec(
		`UPDATE work_items SET status = 'claimed' WHERE id = ? AND status = 'pending'`,
		item.ID,
	)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, fmt.Errorf("item %d changed status during claim", item.ID)
	}

	attemptID := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO attempts (id, item_id, worker_id, claimed_at, outcome)
		 VALUES (?, ?, ?, ?, 'active')`,
		attemptID, item.ID, workerID, s.Now().UTC(),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Assignment{
		AttemptID: attemptID,
		ItemID:    item.ID,
		Name:      item.Name,
		Suite:     item.Suite,
		Location:  item.Location,
	}, nil
}

// ReportOutcome finalizes an active attempt and mirrors its outcome onto the
// owning item. Unknown or already-finalized attempts get ErrAttemptNotFound,
// so a duplicate report can never double-apply.
func (s *Store) ReportOutcome(attemptID string, outcome models.AttemptOutcome, report string) error {
	if outcome != models.OutcomeCompleted && outcome != models.OutcomeFailed {
		return fmt.Errorf("outcome %q is not terminal", outcome)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var itemID int64
	err = tx.QueryRow(
		`SELECT item_id FROM attempts WHERE id = ? AND outcome = 'active'`,
		attemptID,
	).Scan(&itemID)
	if err == sql.ErrNoRows {
		return models.ErrAttemptNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE attempts SET outcome = ?, finished_at = ?, report = ? WHERE id = ?`,
		string(outcome), s.Now().UTC(), report, attemptID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE work_items SET status = ? WHERE id = ?`,
		string(outcome), itemID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ReclaimExpired fails every active attempt whose lease has run out and makes
// the owning item claimable again. An item that has already burned
// maxItemTries attempts is marked failed outright so the run can still finish.
// Returns the number of attempts reclaimed.
func (s *Store) ReclaimExpired(lease time.Duration, maxItemTries int) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := s.Now().UTC().Add(-lease)

	rows, err := tx.Query(
		`SELECT id, item_id FROM attempts WHERE outcome = 'active' AND claimed_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	type stale struct {
		attemptID string
		itemID    int64
	}
	var expired []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.attemptID, &st.itemID); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := s.Now().UTC()
	for _, st := range expired {
		if _, err := tx.Exec(
			`UPDATE attempts SET outcome = 'failed', finished_at = ?, report = ? WHERE id = ?`,
			now, `{"error":"lease expired before a result was reported"}`, st.attemptID,
		); err != nil {
			return 0, err
		}

		var tries int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM attempts WHERE item_id = ?`, st.itemID,
		).Scan(&tries); err != nil {
			return 0, err
		}

		status := "pending"
		if tries >= maxItemTries {
			status = "failed"
		}
		if _, err := tx.Exec(
			`UPDATE work_items SET status = ? WHERE id = ?`, status, st.itemID,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(expired), nil
}

// Counts returns a consistent per-status snapshot of the catalog.
func (s *Store) Counts() (models.StatusCounts, error) {
	var c models.StatusCounts

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return c, err
		}
		switch models.ItemStatus(status) {
		case models.ItemStatusPending:
			c.Pending = count
		case models.ItemStatusClaimed:
			c.Claimed = count
		case models.ItemStatusCompleted:
			c.Completed = count
		case models.ItemStatusFailed:
			c.Failed = count
		}
		c.Total += count
	}

	return c, rows.Err()
}

// Attempts returns the full attempt history for one item, oldest first.
func (s *Store) Attempts(itemID int64) ([]*models.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, item_id, worker_id, claimed_at, finished_at, outcome, report
		 FROM attempts WHERE item_id = ? ORDER BY claimed_at`, itemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// RecentAttempts returns the n most recently claimed attempts.
func (s *Store) RecentAttempts(n int) ([]*models.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, item_id, worker_id, claimed_at, finished_at, outcome, report
		 FROM attempts ORDER BY claimed_at DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	for rows.Next() {
		var a models.Attempt
		var finishedAt sql.NullTime
		var report sql.NullString

		err := rows.Scan(
			&a.ID, &a.ItemID, &a.WorkerID, &a.ClaimedAt, &finishedAt, &a.Outcome, &report,
		)
		if err != nil {
			return nil, err
		}

		if finishedAt.Valid {
			a.FinishedAt = &finishedAt.Time
		}
		if report.Valid {
			a.Report = report.String
		}

		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
