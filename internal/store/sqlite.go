package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"meshmon/internal/model"
)

// History persists fired alerts. It is a record for operators only; alert
// suppression state is never rebuilt from it.
type History interface {
	SaveEvents(ctx context.Context, events []model.AlertEvent) error
	Recent(ctx context.Context, limit int) ([]model.AlertEvent, error)
	Close() error
}

// SQLite stores alert history in a local database file.
type SQLite struct {
	log *zap.Logger
	db  *sql.DB
}

// OpenSQLite opens (and migrates) the database at dbPath.
func OpenSQLite(log *zap.Logger, dbPath string) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &SQLite{log: log, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			mesh TEXT NOT NULL,
			node_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			fired_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_fired_at ON alerts(fired_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_node ON alerts(mesh, node_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// SaveEvents inserts events in one transaction. Re-saving an id is a no-op.
func (s *SQLite) SaveEvents(ctx context.Context, events []model.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO alerts (id, mesh, node_id, category, severity, message, metadata_json, fired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Mesh, e.NodeID, string(e.Category), string(e.Severity), e.Message,
			string(metaJSON), e.Timestamp.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert alert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.log.Debug("alerts stored", zap.Int("count", len(events)))
	return nil
}

// Recent returns the newest events first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT id, mesh, node_id, category, severity, message, metadata_json, fired_at
		FROM alerts
		ORDER BY fired_at DESC, rowid DESC
		LIMIT ?
	`, limit)
}

// Since returns events fired at or after t, oldest first.
func (s *SQLite) Since(ctx context.Context, t time.Time) ([]model.AlertEvent, error) {
	return s.query(ctx, `
		SELECT id, mesh, node_id, category, severity, message, metadata_json, fired_at
		FROM alerts
		WHERE fired_at >= ?
		ORDER BY fired_at ASC, rowid ASC
	`, t.UTC().UnixNano())
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]model.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var (
			e                  model.AlertEvent
			category, severity string
			metaJSON           string
			firedAt            int64
		)
		if err := rows.Scan(&e.ID, &e.Mesh, &e.NodeID, &category, &severity, &e.Message, &metaJSON, &firedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		e.Category = model.Category(category)
		e.Severity = model.Severity(severity)
		e.Timestamp = time.Unix(0, firedAt).UTC()
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			s.log.Warn("bad alert metadata", zap.String("id", e.ID), zap.Error(err))
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByCategory returns how many alerts of each category fired since t.
func (s *SQLite) CountByCategory(ctx context.Context, since time.Time) (map[model.Category]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM alerts WHERE fired_at >= ? GROUP BY category",
		since.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	counts := map[model.Category]int{}
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Category(category)] = n
	}
	return counts, rows.Err()
}

// Cleanup deletes alerts older than maxAge.
func (s *SQLite) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE fired_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup alerts: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.log.Info("cleaned up old alerts", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
