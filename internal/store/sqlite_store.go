// Package store provides SQLite-backed persistence for KittCal.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout round-trips timestamps losslessly, offset included.
const timeLayout = time.RFC3339Nano

// SQLiteStore is the SQLite-backed data store.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines the event table (roots, occurrences and standalone events
// in one table) and the notes table annotations link to.
const schema = `
-- Events
-- start_at/end_at keep their original offset as RFC 3339 text; start_unix is
-- a derived millisecond column so ordering predicates compare instants, not
-- strings with mixed offsets.
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    start_at TEXT NOT NULL,
    end_at TEXT NOT NULL,
    start_unix INTEGER NOT NULL,
    attendees TEXT,
    linked_note_id TEXT,
    recurrence_rule TEXT,
    recurrence_series_id TEXT,
    recurrence_instance_date TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (recurrence_series_id, recurrence_instance_date)
);

CREATE INDEX IF NOT EXISTS idx_events_series ON events(recurrence_series_id);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_unix);

-- Notes (annotation content)
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: each pooled conn would get its own ":memory:" database,
	// and the engine is single-writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Event point operations
// =============================================================================

const eventColumns = `id, title, start_at, end_at, attendees, linked_note_id,
	recurrence_rule, recurrence_series_id, recurrence_instance_date, created_at, updated_at`

// CreateEvent inserts a new event row.
func (s *SQLiteStore) CreateEvent(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if ev.CreatedAt == 0 {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt == 0 {
		ev.UpdatedAt = now
	}

	_, err := s.db.Exec(`
		INSERT INTO events (id, title, start_at, end_at, start_unix, attendees,
			linked_note_id, recurrence_rule, recurrence_series_id,
			recurrence_instance_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Title, ev.StartAt.Format(timeLayout), ev.EndAt.Format(timeLayout),
		ev.StartAt.UnixMilli(), nullable(ev.Attendees), nullable(ev.LinkedNoteID),
		nullable(ev.RecurrenceRule), nullable(ev.SeriesID), nullable(ev.InstanceDate),
		ev.CreatedAt, ev.UpdatedAt)

	return err
}

// GetEvent retrieves an event by ID. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetEvent(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// DeleteEvent removes an event by ID.
func (s *SQLiteStore) DeleteEvent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM events WHERE id = ?", id)
	return err
}

// ListSeriesRoots returns every row that carries a rule and no series link,
// ordered by start time.
func (s *SQLiteStore) ListSeriesRoots() ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT ` + eventColumns + ` FROM events
		WHERE recurrence_rule IS NOT NULL AND recurrence_series_id IS NULL
		ORDER BY start_unix
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// =============================================================================
// Note CRUD
// =============================================================================

// UpsertNote inserts or updates a note.
func (s *SQLiteStore) UpsertNote(n *Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if n.CreatedAt == 0 {
		n.CreatedAt = now
	}
	if n.UpdatedAt == 0 {
		n.UpdatedAt = now
	}

	_, err := s.db.Exec(`
		INSERT INTO notes (id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, n.ID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt)

	return err
}

// GetNote retrieves a note by ID. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetNote(id string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n Note
	err := s.db.QueryRow(`
		SELECT id, title, content, created_at, updated_at FROM notes WHERE id = ?
	`, id).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &n, nil
}

// DeleteNote removes a note by ID. Event rows keep their dangling link; the
// history read path reports those with no note summary.
func (s *SQLiteStore) DeleteNote(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM notes WHERE id = ?", id)
	return err
}

// =============================================================================
// Transactions
// =============================================================================

// WithTx runs fn inside a single transaction. fn returning an error rolls
// the whole batch back.
func (s *SQLiteStore) WithTx(fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbtx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: dbtx}); err != nil {
		dbtx.Rollback()
		return err
	}

	return dbtx.Commit()
}

// sqliteTx implements Tx over a live database transaction.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetEvent(id string) (*Event, error) {
	row := t.tx.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

func (t *sqliteTx) GetNote(id string) (*Note, error) {
	var n Note
	err := t.tx.QueryRow(`
		SELECT id, title, content, created_at, updated_at FROM notes WHERE id = ?
	`, id).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &n, nil
}

func (t *sqliteTx) InsertOccurrence(ev *Event) (bool, error) {
	now := time.Now().UnixMilli()
	if ev.CreatedAt == 0 {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt == 0 {
		ev.UpdatedAt = now
	}

	res, err := t.tx.Exec(`
		INSERT INTO events (id, title, start_at, end_at, start_unix, attendees,
			linked_note_id, recurrence_rule, recurrence_series_id,
			recurrence_instance_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(recurrence_series_id, recurrence_instance_date) DO NOTHING
	`, ev.ID, ev.Title, ev.StartAt.Format(timeLayout), ev.EndAt.Format(timeLayout),
		ev.StartAt.UnixMilli(), nullable(ev.Attendees), nullable(ev.LinkedNoteID),
		nullable(ev.RecurrenceRule), nullable(ev.SeriesID), nullable(ev.InstanceDate),
		ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqliteTx) SelectEvents(f Filter, newestFirst bool, limit int) ([]*Event, error) {
	where, args := buildWhere(f)
	if where == "" {
		where = "1 = 1"
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + where
	if newestFirst {
		query += " ORDER BY start_unix DESC"
	} else {
		query += " ORDER BY start_unix ASC"
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

func (t *sqliteTx) UpdateEvents(f Filter, ch FieldChanges) (int64, error) {
	where, whereArgs := buildWhere(f)
	if where == "" {
		// An unconstrained update would address every row in the table.
		return 0, errors.New("update requires a non-empty filter")
	}
	if ch.IsEmpty() {
		return 0, nil
	}

	set := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}

	if ch.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *ch.Title)
	}
	if ch.StartAt != nil {
		set = append(set, "start_at = ?", "start_unix = ?")
		args = append(args, ch.StartAt.Format(timeLayout), ch.StartAt.UnixMilli())
	}
	if ch.EndAt != nil {
		set = append(set, "end_at = ?")
		args = append(args, ch.EndAt.Format(timeLayout))
	}
	if ch.Attendees != nil {
		set = append(set, "attendees = ?")
		args = append(args, nullable(*ch.Attendees))
	}
	if ch.LinkedNoteID != nil {
		set = append(set, "linked_note_id = ?")
		args = append(args, nullable(*ch.LinkedNoteID))
	}
	if ch.RecurrenceRule != nil {
		set = append(set, "recurrence_rule = ?")
		args = append(args, nullable(*ch.RecurrenceRule))
	}

	args = append(args, whereArgs...)
	res, err := t.tx.Exec(`UPDATE events SET `+strings.Join(set, ", ")+` WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqliteTx) DeleteEvents(f Filter) (int64, error) {
	where, args := buildWhere(f)
	if where == "" {
		return 0, errors.New("delete requires a non-empty filter")
	}

	res, err := t.tx.Exec(`DELETE FROM events WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqliteTx) DetachFromSeries(id string) error {
	_, err := t.tx.Exec(`
		UPDATE events
		SET recurrence_series_id = NULL, recurrence_instance_date = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UnixMilli(), id)
	return err
}

// =============================================================================
// Helpers
// =============================================================================

// buildWhere translates a Filter into a WHERE clause and its arguments.
func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.ID != "" {
		conds = append(conds, "id = ?")
		args = append(args, f.ID)
	}
	if f.SeriesID != "" {
		conds = append(conds, "recurrence_series_id = ?")
		args = append(args, f.SeriesID)
	}
	if f.InSeries != "" {
		conds = append(conds, "(recurrence_series_id = ? OR id = ?)")
		args = append(args, f.InSeries, f.InSeries)
	}
	if f.ExcludeID != "" {
		conds = append(conds, "id != ?")
		args = append(args, f.ExcludeID)
	}
	if f.StartAfter != nil {
		conds = append(conds, "start_unix > ?")
		args = append(args, f.StartAfter.UnixMilli())
	}
	if f.StartAtOrAfter != nil {
		conds = append(conds, "start_unix >= ?")
		args = append(args, f.StartAtOrAfter.UnixMilli())
	}
	if f.StartBefore != nil {
		conds = append(conds, "start_unix < ?")
		args = append(args, f.StartBefore.UnixMilli())
	}
	if f.Unannotated {
		conds = append(conds, "linked_note_id IS NULL")
	}

	return strings.Join(conds, " AND "), args
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(sc scannable) (*Event, error) {
	var ev Event
	var startAt, endAt string
	var attendees, linkedNote, rule, seriesID, instDate sql.NullString

	if err := sc.Scan(
		&ev.ID, &ev.Title, &startAt, &endAt, &attendees, &linkedNote,
		&rule, &seriesID, &instDate, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if ev.StartAt, err = time.Parse(timeLayout, startAt); err != nil {
		return nil, fmt.Errorf("failed to parse start_at %q: %w", startAt, err)
	}
	if ev.EndAt, err = time.Parse(timeLayout, endAt); err != nil {
		return nil, fmt.Errorf("failed to parse end_at %q: %w", endAt, err)
	}

	if attendees.Valid {
		ev.Attendees = attendees.String
	}
	if linkedNote.Valid {
		ev.LinkedNoteID = linkedNote.String
	}
	if rule.Valid {
		ev.RecurrenceRule = rule.String
	}
	if seriesID.Valid {
		ev.SeriesID = seriesID.String
	}
	if instDate.Valid {
		ev.InstanceDate = instDate.String
	}

	return &ev, nil
}

// nullable maps "" to NULL so absent optional columns stay NULL in SQL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface checks
var (
	_ Storer = (*SQLiteStore)(nil)
	_ Tx     = (*sqliteTx)(nil)
)
