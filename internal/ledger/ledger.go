package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

const timestampLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS routed_calls (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id     TEXT NOT NULL,
	task_type      TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL,
	layer          TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	estimated_cost REAL NOT NULL DEFAULT 0,
	confidence     REAL NOT NULL DEFAULT 0,
	fallback_used  INTEGER NOT NULL DEFAULT 0,
	timestamp      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routed_calls_timestamp ON routed_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_routed_calls_model ON routed_calls(model);
`

// Entry is one routed request
type Entry struct {
	ID            int64
	RequestID     string
	TaskType      types.TaskType
	Model         string
	Layer         string
	Source        types.DecisionSource
	EstimatedCost float64
	Confidence    float64
	FallbackUsed  bool
	Timestamp     time.Time
}

// EntryFromResponse builds a ledger entry for a finished request
func EntryFromResponse(req types.RoutingRequest, resp types.RoutingResponse) Entry {
	return Entry{
		RequestID:     resp.RequestID,
		TaskType:      req.TaskType,
		Model:         resp.SelectedModel,
		Layer:         resp.Layer,
		Source:        resp.Source,
		EstimatedCost: resp.EstimatedCost,
		Confidence:    resp.Confidence,
		FallbackUsed:  resp.FallbackUsed,
		Timestamp:     time.Now(),
	}
}

// Store records routed calls in SQLite
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts an entry and sets its ID
func (s *Store) Record(ctx context.Context, e *Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO routed_calls (request_id, task_type, model, layer, source, estimated_cost, confidence, fallback_used, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.RequestID,
		string(e.TaskType),
		e.Model,
		e.Layer,
		string(e.Source),
		e.EstimatedCost,
		e.Confidence,
		e.FallbackUsed,
		ts.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record routed call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Summary aggregates calls at or after since, per model, most expensive first
func (s *Store) Summary(ctx context.Context, since time.Time) (*types.UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*), SUM(fallback_used), COALESCE(SUM(estimated_cost), 0)
		FROM routed_calls
		WHERE timestamp >= ?
		GROUP BY model
		ORDER BY SUM(estimated_cost) DESC, model ASC
	`, since.UTC().Format(timestampLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	summary := &types.UsageSummary{Since: since, Models: []types.ModelUsage{}}
	for rows.Next() {
		var u types.ModelUsage
		if err := rows.Scan(&u.Model, &u.Calls, &u.FallbackCalls, &u.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		summary.Models = append(summary.Models, u)
		summary.Calls += u.Calls
		summary.TotalCost += u.TotalCost
	}
	return summary, rows.Err()
}
