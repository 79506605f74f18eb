// Package journal keeps a history of detection events in SQLite.
//
// Journal is safe for concurrent use; writes are serialized through a single connection.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvr-ai/sentinel/detector"

	_ "modernc.org/sqlite"
)

// Journal persists detection events.
type Journal struct {
	db        *sql.DB
	retention int
}

// Open opens or creates the journal at path and applies the schema.
//
// Arguments:
//   - path: The database file, or ":memory:".
//   - retention: The number of events to keep; zero keeps everything.
//
// Returns:
//   - *Journal: The journal.
//   - error: An error if the database cannot be opened or migrated.
func Open(path string, retention int) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	j := &Journal{db: db, retention: retention}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate journal")
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		recorded_at INTEGER NOT NULL,
		detected INTEGER NOT NULL,
		confidence REAL NOT NULL,
		message TEXT NOT NULL,
		reasoning TEXT,
		urgency TEXT,
		recommended_action TEXT,
		frame_count INTEGER NOT NULL,
		change_percent REAL NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		image TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_recorded ON events(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_detected ON events(detected);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record stores an event and prunes the oldest beyond the retention limit.
func (j *Journal) Record(ctx context.Context, event *detector.Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, recorded_at, detected, confidence, message, reasoning, urgency,
			recommended_action, frame_count, change_percent, degraded, image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(),
		event.Timestamp.UnixNano(),
		event.Detected,
		event.Confidence,
		event.Message,
		event.Reasoning,
		string(event.Urgency),
		event.RecommendedAction,
		event.FrameCount,
		event.ChangePercent,
		event.Degraded,
		event.Image,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record event")
	}

	if j.retention > 0 {
		_, err = j.db.ExecContext(ctx, `
			DELETE FROM events WHERE id NOT IN (
				SELECT id FROM events ORDER BY recorded_at DESC LIMIT ?
			)`, j.retention)
		if err != nil {
			return errors.Wrap(err, "failed to prune events")
		}
	}
	return nil
}

// Query filters Recent.
type Query struct {
	Limit int
	// DetectedOnly skips events where the target was not seen.
	DetectedOnly bool
	// Since skips events recorded before it. Zero means no lower bound.
	Since time.Time
	// WithImages includes the frame data URLs, which can be large.
	WithImages bool
}

// Recent returns events newest first.
func (j *Journal) Recent(ctx context.Context, query Query) ([]*detector.Event, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	var since int64
	if !query.Since.IsZero() {
		since = query.Since.UnixNano()
	}

	image := "''"
	if query.WithImages {
		image = "COALESCE(image, '')"
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, recorded_at, detected, confidence, message, COALESCE(reasoning, ''),
			COALESCE(urgency, ''), COALESCE(recommended_action, ''), frame_count, change_percent,
			degraded, `+image+`
		FROM events
		WHERE recorded_at >= ? AND (? = 0 OR detected = 1)
		ORDER BY recorded_at DESC
		LIMIT ?`, since, query.DetectedOnly, query.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	var events []*detector.Event
	for rows.Next() {
		var (
			event    detector.Event
			id       string
			recorded int64
			urgency  string
		)
		if err := rows.Scan(
			&id, &recorded, &event.Detected, &event.Confidence, &event.Message, &event.Reasoning,
			&urgency, &event.RecommendedAction, &event.FrameCount, &event.ChangePercent,
			&event.Degraded, &event.Image,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "invalid event id %q", id)
		}
		event.Timestamp = time.Unix(0, recorded)
		event.Urgency = detector.Urgency(urgency)
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
