package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/storage"
)

// Store implements storage.ObjectiveStore using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	// Run migrations
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveObjective creates or replaces an objective and appends an event, in
// one transaction
func (s *Store) SaveObjective(ctx context.Context, record storage.Record, action storage.Action) error {
	obj := record.Objective
	objJSON, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal objective: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO objectives (name, namespace, target, window_ms, epoch, active_since, objective_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			namespace = excluded.namespace,
			target = excluded.target,
			window_ms = excluded.window_ms,
			epoch = excluded.epoch,
			active_since = excluded.active_since,
			objective_json = excluded.objective_json,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		obj.Name,
		obj.Namespace,
		obj.Target,
		obj.Window.Milliseconds(),
		record.Epoch,
		record.ActiveSince.UTC(),
		string(objJSON),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store objective: %w", err)
	}

	if err := insertEvent(ctx, tx, storage.Event{
		Name:      obj.Name,
		Action:    action,
		Epoch:     record.Epoch,
		Target:    obj.Target,
		Window:    obj.Window,
		Timestamp: record.UpdatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteObjective removes an objective and appends a removal event. Deleting
// an unknown objective is a no-op.
func (s *Store) DeleteObjective(ctx context.Context, name string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var event storage.Event
	var windowMS int64
	err = tx.QueryRowContext(ctx, "SELECT epoch, target, window_ms FROM objectives WHERE name = ?", name).
		Scan(&event.Epoch, &event.Target, &windowMS)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get objective: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM objectives WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete objective: %w", err)
	}

	event.Name = name
	event.Action = storage.ActionRemoved
	event.Window = time.Duration(windowMS) * time.Millisecond
	event.Timestamp = at
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadObjectives returns every stored objective ordered by name
func (s *Store) LoadObjectives(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT objective_json, epoch, active_since, updated_at
		FROM objectives
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query objectives: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var record storage.Record
		var objJSON string

		if err := rows.Scan(&objJSON, &record.Epoch, &record.ActiveSince, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var obj slo.Objective
		if err := json.Unmarshal([]byte(objJSON), &obj); err != nil {
			return nil, fmt.Errorf("failed to unmarshal objective: %w", err)
		}
		record.Objective = obj

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// QueryEvents retrieves lifecycle events, newest first
func (s *Store) QueryEvents(ctx context.Context, filter storage.EventFilter) ([]storage.Event, error) {
	query := `
		SELECT id, name, action, epoch, target, window_ms, timestamp
		FROM objective_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}

	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UTC())
	}

	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100" // Default limit
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []storage.Event
	for rows.Next() {
		var event storage.Event
		var action string
		var windowMS int64

		err := rows.Scan(
			&event.ID,
			&event.Name,
			&action,
			&event.Epoch,
			&event.Target,
			&windowMS,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		event.Action = storage.Action(action)
		event.Window = time.Duration(windowMS) * time.Millisecond

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func insertEvent(ctx context.Context, tx *sql.Tx, event storage.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO objective_events (name, action, epoch, target, window_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.Name,
		string(event.Action),
		event.Epoch,
		event.Target,
		event.Window.Milliseconds(),
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}
