package spool

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"apis-edge-go/internal/models"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    confidence TEXT NOT NULL,
    x INTEGER NOT NULL,
    y INTEGER NOT NULL,
    w INTEGER NOT NULL,
    h INTEGER NOT NULL,
    area INTEGER NOT NULL,
    centroid_x INTEGER NOT NULL,
    centroid_y INTEGER NOT NULL,
    hover_duration_ms INTEGER DEFAULT 0,
    laser_fired INTEGER DEFAULT 0,
    clip_file TEXT,
    clip_pruned INTEGER DEFAULT 0,
    synced INTEGER DEFAULT 0,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_synced ON events(synced);
CREATE INDEX IF NOT EXISTS idx_events_synced_timestamp ON events(synced, timestamp);
`

// Store persists detection events in the local SQLite database. Every
// detection is written here first; the upload spool and the companion
// server are strictly downstream of this table.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating event schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvent writes a new detection event. Events are immutable after
// insertion except for the synced and clip_pruned flags.
func (s *Store) InsertEvent(e models.DetectionEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO events (id, timestamp, confidence, x, y, w, h, area,
			centroid_x, centroid_y, hover_duration_ms, laser_fired,
			clip_file, clip_pruned, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Confidence),
		e.X, e.Y, e.W, e.H, e.Area, e.CentroidX, e.CentroidY,
		e.HoverDuration, boolInt(e.LaserFired), e.ClipFile,
		boolInt(e.ClipPruned), boolInt(e.Synced))
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", e.ID, err)
	}
	return nil
}

// MarkSynced records server acknowledgment of an event.
func (s *Store) MarkSynced(id string) error {
	if _, err := s.db.Exec("UPDATE events SET synced = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("marking event %s synced: %w", id, err)
	}
	return nil
}

// MarkClipPruned records that an event's clip was evicted; the metadata row
// survives.
func (s *Store) MarkClipPruned(id string) error {
	if _, err := s.db.Exec("UPDATE events SET clip_pruned = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("marking event %s pruned: %w", id, err)
	}
	return nil
}

// Unsynced returns unacknowledged events, oldest first.
func (s *Store) Unsynced(limit int) ([]models.DetectionEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, confidence, x, y, w, h, area, centroid_x,
			centroid_y, hover_duration_ms, laser_fired, clip_file,
			clip_pruned, synced
		FROM events WHERE synced = 0 ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsynced events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Recent returns the newest events regardless of sync state, newest first.
func (s *Store) Recent(limit int) ([]models.DetectionEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, confidence, x, y, w, h, area, centroid_x,
			centroid_y, hover_duration_ms, laser_fired, clip_file,
			clip_pruned, synced
		FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountUnsynced reports the upload backlog size.
func (s *Store) CountUnsynced() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events WHERE synced = 0").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting unsynced events: %w", err)
	}
	return n, nil
}

// CountTotal reports all stored events.
func (s *Store) CountTotal() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes synced events past the retention window and
// returns how many were dropped.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM events WHERE synced = 1 AND timestamp < ?",
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("pruning old events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]models.DetectionEvent, error) {
	var events []models.DetectionEvent
	for rows.Next() {
		var (
			e                          models.DetectionEvent
			ts, confidence             string
			laserFired, pruned, synced int
			clipFile                   sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &confidence, &e.X, &e.Y, &e.W, &e.H,
			&e.Area, &e.CentroidX, &e.CentroidY, &e.HoverDuration,
			&laserFired, &clipFile, &pruned, &synced); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Confidence = models.Confidence(confidence)
		e.LaserFired = laserFired != 0
		e.ClipFile = clipFile.String
		e.ClipPruned = pruned != 0
		e.Synced = synced != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading event rows: %w", err)
	}
	return events, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
