// Package state provides SQLite-backed persistence for orchestration
// metrics. Each project gets a local database under .conductor/ so
// metrics survive process restarts and can be inspected from the CLI.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// DB wraps an SQLite database connection holding orchestration metrics.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectDBPath returns the path to the project-local metrics database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".conductor", "metrics.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	return db, nil
}

// OpenProject opens the project-local metrics database.
func OpenProject(projectRoot string) (*DB, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Metrics},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Metrics = `
CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	category TEXT NOT NULL,
	mode TEXT NOT NULL,
	decision_time_ns INTEGER NOT NULL DEFAULT 0,
	execution_time_ns INTEGER NOT NULL DEFAULT 0,
	filter_time_ns INTEGER NOT NULL DEFAULT 0,
	routing_time_ns INTEGER NOT NULL DEFAULT 0,
	fallback_reason TEXT,
	context_size_original INTEGER NOT NULL DEFAULT 0,
	context_size_filtered INTEGER NOT NULL DEFAULT 0,
	return_code INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_category ON metrics(category);
CREATE INDEX IF NOT EXISTS idx_metrics_recorded_at ON metrics(recorded_at);
`

// AppendMetric persists a single orchestration metric.
func (db *DB) AppendMetric(m *models.OrchestrationMetric) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO metrics (
			task_id, category, mode,
			decision_time_ns, execution_time_ns, filter_time_ns, routing_time_ns,
			fallback_reason, context_size_original, context_size_filtered,
			return_code, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TaskID, m.Category, string(m.Mode),
		int64(m.DecisionTime), int64(m.ExecutionTime), int64(m.FilterTime), int64(m.RoutingTime),
		m.FallbackReason, m.ContextSizeOriginal, m.ContextSizeFiltered,
		int(m.ReturnCode), m.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// RecentMetrics returns the most recent n metrics, newest first.
func (db *DB) RecentMetrics(n int) ([]*models.OrchestrationMetric, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT task_id, category, mode,
			decision_time_ns, execution_time_ns, filter_time_ns, routing_time_ns,
			fallback_reason, context_size_original, context_size_filtered,
			return_code, recorded_at
		FROM metrics
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*models.OrchestrationMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AllMetrics returns every stored metric in insertion order.
func (db *DB) AllMetrics() ([]*models.OrchestrationMetric, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT task_id, category, mode,
			decision_time_ns, execution_time_ns, filter_time_ns, routing_time_ns,
			fallback_reason, context_size_original, context_size_filtered,
			return_code, recorded_at
		FROM metrics
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*models.OrchestrationMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMetrics returns the total number of stored metrics.
func (db *DB) CountMetrics() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int
	row := db.conn.QueryRow("SELECT COUNT(*) FROM metrics")
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count metrics: %w", err)
	}
	return n, nil
}

func scanMetric(rows *sql.Rows) (*models.OrchestrationMetric, error) {
	var (
		m           models.OrchestrationMetric
		mode        string
		decisionNS  int64
		executionNS int64
		filterNS    int64
		routingNS   int64
		fallback    sql.NullString
		returnCode  int
		recordedAt  string
	)
	err := rows.Scan(
		&m.TaskID, &m.Category, &mode,
		&decisionNS, &executionNS, &filterNS, &routingNS,
		&fallback, &m.ContextSizeOriginal, &m.ContextSizeFiltered,
		&returnCode, &recordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan metric: %w", err)
	}
	m.Mode = models.Mode(mode)
	m.DecisionTime = time.Duration(decisionNS)
	m.ExecutionTime = time.Duration(executionNS)
	m.FilterTime = time.Duration(filterNS)
	m.RoutingTime = time.Duration(routingNS)
	m.FallbackReason = fallback.String
	m.ReturnCode = models.ReturnCode(returnCode)
	if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
		m.RecordedAt = t
	}
	return &m, nil
}
