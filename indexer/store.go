package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"tokensale/core/events"
	"tokensale/core/types"
	"tokensale/native/tokensale"
)

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 100

// Entry is one journaled sale event.
type Entry struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Sale       string            `json:"sale"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Store journals sale events into SQLite so closed sales keep a history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps sqlite free of SQLITE_BUSY under concurrent emits.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sale_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            sale TEXT NOT NULL,
            attributes TEXT NOT NULL,
            recorded_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS sale_events_sale ON sale_events(sale, id);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("indexer: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends evt to the journal.
func (s *Store) Record(ctx context.Context, evt *types.Event, at time.Time) error {
	if evt == nil {
		return errors.New("indexer: nil event")
	}
	sale := evt.Attributes["name"]
	if sale == "" {
		return fmt.Errorf("indexer: event %s has no sale name", evt.Type)
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO sale_events(type, sale, attributes, recorded_at) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt, evt.Type, sale, string(attrs), at.UnixNano())
	return err
}

// History returns the newest events for sale, newest first. An empty sale
// name returns events across all sales.
func (s *Store) History(ctx context.Context, sale string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	query := `SELECT id, type, sale, attributes, recorded_at FROM sale_events WHERE sale = ? ORDER BY id DESC LIMIT ?`
	args := []any{sale, limit}
	if sale == "" {
		query = `SELECT id, type, sale, attributes, recorded_at FROM sale_events ORDER BY id DESC LIMIT ?`
		args = []any{limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			entry    Entry
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Sale, &attrs, &recorded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("indexer: decode attributes of event %d: %w", entry.ID, err)
		}
		entry.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Emitter returns an emitter that journals sale events synchronously, so the
// history never misses an event the way a lagging subscriber can. Other
// events are ignored. Write failures are logged and do not reach the caller.
func (s *Store) Emitter(logger *slog.Logger) events.Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "indexer")
	return events.EmitterFunc(func(evt events.Event) {
		payload, ok := tokensale.EventPayload(evt)
		if !ok {
			return
		}
		if err := s.Record(context.Background(), payload, time.Now()); err != nil {
			logger.Error("journal sale event", slog.String("type", payload.Type), slog.Any("error", err))
		}
	})
}
