// Package journal records delivery sessions and events in SQLite so
// totals and recent history survive restarts.
//
// A Journal is a collector observer. Every authenticated connection opens a
// session row; acknowledged records increment it; failures, skipped ticks
// and retries are appended to delivery_events. Journal write failures are
// logged and otherwise ignored, so the journal can never stall delivery.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tsfeed/internal/infrastructure/database"
	"github.com/nerrad567/tsfeed/internal/infrastructure/logging"
	"github.com/nerrad567/tsfeed/internal/tsstore"
)

const (
	// writeTimeout bounds each journal write made from an observer callback.
	writeTimeout = 2 * time.Second

	// timeLayout is fixed width, unlike RFC3339Nano which trims zeros.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"

	defaultListLimit = 20
	maxListLimit     = 200

	// DefaultPruneInterval is how often RunPruner applies the retention.
	DefaultPruneInterval = time.Hour
)

// Event kinds stored in delivery_events.kind.
const (
	EventFailure = "failure"
	EventSkip    = "skip"
	EventRetry   = "retry"
)

// Close reasons stored in sessions.close_reason.
const (
	ReasonShutdown = "shutdown"
	ReasonFailed   = "failed"

	// ReasonAbandoned marks sessions left open by a process that died.
	ReasonAbandoned = "abandoned"
)

// Session is one authenticated connection.
type Session struct {
	ID            string     `json:"id"`
	Store         string     `json:"store"`
	Endpoint      string     `json:"endpoint"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Acked         int64      `json:"acked"`
	LastTimestamp int64      `json:"last_timestamp,omitempty"`
	CloseReason   string     `json:"close_reason,omitempty"`
}

// Event is one failure, skip or retry.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Totals are lifetime counters across all sessions.
type Totals struct {
	Acked    int64 `json:"acked"`
	Failures int64 `json:"failures"`
	Skipped  int64 `json:"skipped"`
	Sessions int64 `json:"sessions"`
}

// Journal writes delivery history to SQLite.
type Journal struct {
	db       *database.DB
	store    string
	endpoint string
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessionID string
	// failedID is a session closed by a failure whose error has not been
	// reported yet; the client reports the transition before the error.
	failedID string
}

// New creates a journal for one store and endpoint. The schema must
// already be migrated.
func New(db *database.DB, store, endpoint string, logger *logging.Logger) *Journal {
	if logger == nil {
		logger = logging.Default()
	}
	return &Journal{
		db:       db,
		store:    store,
		endpoint: endpoint,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StateChanged opens a session on Ready and closes it when the connection
// leaves Ready.
func (j *Journal) StateChanged(from, to tsstore.State) {
	switch {
	case to == tsstore.StateReady && from != tsstore.StateReady:
		j.openSession()
	case from == tsstore.StateReady && to == tsstore.StateTerminated:
		j.closeSession(ReasonShutdown)
	case from == tsstore.StateReady && to == tsstore.StateFailed:
		if id := j.closeSession(ReasonFailed); id != "" {
			j.mu.Lock()
			j.failedID = id
			j.mu.Unlock()
		}
	}
}

// Delivered counts an acknowledged record against the open session.
func (j *Journal) Delivered(_ tsstore.Record, timestamp int64, _ time.Duration) {
	j.mu.Lock()
	id := j.sessionID
	j.mu.Unlock()

	j.exec("recording delivery", func(ctx context.Context, tx *sql.Tx) error {
		if id != "" {
			if _, err := tx.ExecContext(ctx,
				"UPDATE sessions SET acked = acked + 1, last_ts = ? WHERE id = ?",
				timestamp, id,
			); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, "UPDATE delivery_totals SET acked = acked + 1 WHERE id = 1")
		return err
	})
}

// Failed records a connect or write failure.
func (j *Journal) Failed(err error) {
	kind := "unknown"
	if k, ok := tsstore.KindOf(err); ok {
		kind = k.String()
	}
	j.mu.Lock()
	failedID := j.failedID
	j.failedID = ""
	j.mu.Unlock()

	if failedID != "" {
		j.exec("recording close reason", func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"UPDATE sessions SET close_reason = ? WHERE id = ?",
				ReasonFailed+": "+kind, failedID,
			)
			return err
		})
	}
	j.addEvent(EventFailure, failedID, kind+": "+err.Error(), "failures")
}

// Skipped records a tick dropped because sampling failed.
func (j *Journal) Skipped(err error) {
	j.addEvent(EventSkip, "", err.Error(), "skipped")
}

// Retrying records a reconnect delay.
func (j *Journal) Retrying(delay time.Duration) {
	j.addEvent(EventRetry, "", delay.String(), "")
}

func (j *Journal) openSession() {
	id := "ses-" + uuid.NewString()[:8]
	opened := j.now()

	j.exec("opening session", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sessions (id, store, endpoint, opened_at) VALUES (?, ?, ?, ?)",
			id, j.store, j.endpoint, formatTime(opened),
		)
		return err
	})

	j.mu.Lock()
	j.sessionID = id
	j.failedID = ""
	j.mu.Unlock()
}

// closeSession closes the open session, if any, and returns its ID.
func (j *Journal) closeSession(reason string) string {
	j.mu.Lock()
	id := j.sessionID
	j.sessionID = ""
	j.mu.Unlock()
	if id == "" {
		return ""
	}

	j.exec("closing session", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE sessions SET closed_at = ?, close_reason = ? WHERE id = ?",
			formatTime(j.now()), reason, id,
		)
		return err
	})
	return id
}

// addEvent appends an event and bumps a delivery_totals column if named.
// An empty sessionID means the currently open session, if any.
func (j *Journal) addEvent(kind, sessionID, detail, totalsColumn string) {
	if sessionID == "" {
		j.mu.Lock()
		sessionID = j.sessionID
		j.mu.Unlock()
	}

	j.exec("recording "+kind, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO delivery_events (session_id, kind, detail, created_at) VALUES (?, ?, ?, ?)",
			nullableString(sessionID), kind, detail, formatTime(j.now()),
		); err != nil {
			return err
		}
		if totalsColumn == "" {
			return nil
		}
		// totalsColumn is one of a fixed set of identifiers, never user input.
		_, err := tx.ExecContext(ctx, //nolint:gosec // column name is a package constant
			fmt.Sprintf("UPDATE delivery_totals SET %s = %s + 1 WHERE id = 1", totalsColumn, totalsColumn))
		return err
	})
}

// exec runs fn in a bounded transaction and logs any failure.
func (j *Journal) exec(what string, fn func(ctx context.Context, tx *sql.Tx) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.db.InTx(ctx, func(tx *sql.Tx) error { return fn(ctx, tx) }); err != nil {
		j.logger.Warn("journal write failed", "op", what, "error", err)
	}
}

// CloseStale closes sessions a previous process left open. Call it once at
// startup, before the collector runs.
func (j *Journal) CloseStale(ctx context.Context) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"UPDATE sessions SET closed_at = ?, close_reason = ? WHERE closed_at IS NULL",
		formatTime(j.now()), ReasonAbandoned,
	)
	if err != nil {
		return 0, fmt.Errorf("closing stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// Totals returns lifetime counters.
func (j *Journal) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := j.db.QueryRowContext(ctx,
		`SELECT acked, failures, skipped, (SELECT COUNT(*) FROM sessions)
		 FROM delivery_totals WHERE id = 1`,
	).Scan(&t.Acked, &t.Failures, &t.Skipped, &t.Sessions)
	if err != nil {
		return Totals{}, fmt.Errorf("reading delivery totals: %w", err)
	}
	return t, nil
}

// RecentSessions returns the newest sessions first. limit defaults to 20
// and is capped at 200.
func (j *Journal) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, store, endpoint, opened_at, closed_at, acked, last_ts, close_reason
		 FROM sessions ORDER BY opened_at DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		var openedAt string
		var closedAt, reason sql.NullString
		var lastTS sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Store, &s.Endpoint, &openedAt, &closedAt, &s.Acked, &lastTS, &reason); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if s.OpenedAt, err = parseTime(openedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t, err := parseTime(closedAt.String)
			if err != nil {
				return nil, err
			}
			s.ClosedAt = &t
		}
		s.LastTimestamp = lastTS.Int64
		s.CloseReason = reason.String
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// RecentEvents returns the newest events first, optionally filtered by kind.
func (j *Journal) RecentEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	query := "SELECT id, session_id, kind, detail, created_at FROM delivery_events"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, clampLimit(limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var sessionID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &sessionID, &e.Kind, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the cutoff and returns how many went.
// Sessions and totals are kept.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM delivery_events WHERE created_at < ?",
		formatTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}

// RunPruner deletes events older than retention once at start and then
// every interval until ctx is cancelled. Prune failures are logged and
// retried on the next tick. It always returns nil.
func (j *Journal) RunPruner(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		j.pruneOnce(ctx, retention)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (j *Journal) pruneOnce(ctx context.Context, retention time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	n, err := j.Prune(ctx, j.now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Warn("pruning journal events", "error", err)
		}
		return
	}
	if n > 0 {
		j.logger.Info("pruned journal events", "deleted", n, "retention", retention.String())
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// formatTime renders fixed-width UTC so TEXT columns sort chronologically.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
