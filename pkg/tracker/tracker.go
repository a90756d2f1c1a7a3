package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/kotoba/pkg/models"
)

// Tracker records the terminal outcome of every proxied call.
type Tracker interface {
	// Record stores a call record.
	Record(ctx context.Context, rec models.CallRecord) error
	// Summary aggregates records since a given time by operation, outcome and category.
	Summary(ctx context.Context, since time.Time) ([]models.CallSummary, error)
	// Recent returns the newest records first.
	Recent(ctx context.Context, limit int) ([]models.CallRecord, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS call_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_calls_time ON call_records(created_at);
`

// Columns added after the first release.
var addedColumns = []struct{ name, ddl string }{
	{"request_id", `ALTER TABLE call_records ADD COLUMN request_id TEXT NOT NULL DEFAULT ''`},
	{"analysis_type", `ALTER TABLE call_records ADD COLUMN analysis_type TEXT NOT NULL DEFAULT ''`},
}

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	for _, col := range addedColumns {
		if columnExists(db, "call_records", col.name) {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("add %s column: %w", col.name, err)
		}
	}

	return &SQLiteTracker{db: db}, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// Record stores a call record. A zero CreatedAt is stamped with the current time.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO call_records (request_id, operation, analysis_type, model, outcome, category,
			attempts, latency_ms, prompt_tokens, completion_tokens, total_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, string(rec.Operation), rec.AnalysisType, rec.Model, rec.Outcome, rec.Category,
		rec.Attempts, rec.LatencyMs, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Summary aggregates records since a given time.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.CallSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT operation, outcome, category, COUNT(*), AVG(attempts), AVG(latency_ms), COALESCE(SUM(total_tokens), 0)
		 FROM call_records WHERE created_at >= ?
		 GROUP BY operation, outcome, category ORDER BY operation, outcome, category`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.CallSummary
	for rows.Next() {
		var s models.CallSummary
		var op string
		if err := rows.Scan(&op, &s.Outcome, &s.Category, &s.Count, &s.AvgAttempts, &s.AvgLatencyMs, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Operation = models.Operation(op)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Recent returns up to limit records, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, operation, analysis_type, model, outcome, category,
			attempts, latency_ms, prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM call_records ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var op string
		if err := rows.Scan(&r.ID, &r.RequestID, &op, &r.AnalysisType, &r.Model, &r.Outcome, &r.Category,
			&r.Attempts, &r.LatencyMs, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		r.Operation = models.Operation(op)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
