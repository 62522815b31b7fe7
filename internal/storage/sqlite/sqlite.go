package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"screentrail/internal/record"
	"screentrail/internal/storage"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) storage.Storage {
	return &SQLiteStore{dbPath: dbPath}
}

const createSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS segments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	app_name TEXT NOT NULL,
	window_title TEXT NOT NULL,
	is_captured BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_start_time ON segments (start_time);
CREATE INDEX IF NOT EXISTS idx_segments_app_name ON segments (app_name);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	slog.Info("initializing segment database", "path", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// SQLite is best with a single writer connection.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createSegmentsTableSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create segments table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSegment(ctx context.Context, seg record.Segment) (int64, error) {
	query := `INSERT INTO segments (start_time, end_time, app_name, window_title, is_captured)
	          VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		seg.StartTime.UTC(), seg.EndTime.UTC(), seg.AppName, seg.WindowTitle, seg.IsCaptured)
	if err != nil {
		return 0, fmt.Errorf("failed to insert segment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetSegments(ctx context.Context, start, end time.Time) ([]record.Segment, error) {
	query := `SELECT start_time, end_time, app_name, window_title, is_captured
	          FROM segments
	          WHERE start_time >= ? AND start_time <= ?
	          ORDER BY start_time ASC`

	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segs []record.Segment
	for rows.Next() {
		var seg record.Segment
		if err := rows.Scan(&seg.StartTime, &seg.EndTime, &seg.AppName, &seg.WindowTitle, &seg.IsCaptured); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		seg.StartTime = seg.StartTime.UTC()
		seg.EndTime = seg.EndTime.UTC()
		segs = append(segs, seg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment rows: %w", err)
	}
	return segs, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
