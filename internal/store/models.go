// Package store provides SQLite-backed persistence for KittCal.
// This is the unified data layer the recurrence engine writes through.
package store

import "time"

// Event is the single row type that series roots, generated occurrences and
// plain standalone events all live in.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
	Attendees string    `json:"attendees,omitempty"` // opaque serialized payload, copied verbatim

	// LinkedNoteID marks the row as annotated: the user attached a note to
	// this specific occurrence. Annotated rows are protected from most (not
	// all) bulk paths.
	LinkedNoteID string `json:"linkedNoteId,omitempty"`

	// RecurrenceRule is the serialized rule JSON. Set only on series roots.
	RecurrenceRule string `json:"recurrenceRule,omitempty"`

	// SeriesID links a generated occurrence back to its root. Empty on
	// roots and on non-recurring events.
	SeriesID string `json:"seriesId,omitempty"`

	// InstanceDate is the calendar date (YYYY-MM-DD) an occurrence fills.
	// Empty except on occurrences.
	InstanceDate string `json:"instanceDate,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// IsSeriesRoot reports whether the row is the original event carrying the
// recurrence rule.
func (e *Event) IsSeriesRoot() bool {
	return e.RecurrenceRule != "" && e.SeriesID == ""
}

// IsOccurrence reports whether the row was generated from a series root.
func (e *Event) IsOccurrence() bool {
	return e.SeriesID != ""
}

// IsAnnotated reports whether the user attached a note to this row.
func (e *Event) IsAnnotated() bool {
	return e.LinkedNoteID != ""
}

// Note is the annotation content an event row can link to.
type Note struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// FieldChanges is a sparse set of updatable event fields. A nil member means
// "leave unchanged". Identity, series-linkage and instance-date columns are
// deliberately not representable here; callers cannot smuggle them into a
// bulk update.
type FieldChanges struct {
	Title     *string
	StartAt   *time.Time
	EndAt     *time.Time
	Attendees *string

	// LinkedNoteID attaches (non-empty) or clears (empty string) the
	// annotation link.
	LinkedNoteID *string

	// RecurrenceRule replaces (non-empty) or clears (empty string) the
	// serialized rule. Only meaningful on series roots.
	RecurrenceRule *string
}

// IsEmpty reports whether the change set would write nothing.
func (c FieldChanges) IsEmpty() bool {
	return c.Title == nil && c.StartAt == nil && c.EndAt == nil &&
		c.Attendees == nil && c.LinkedNoteID == nil && c.RecurrenceRule == nil
}

// Filter is the predicate vocabulary for bulk event reads and writes. Zero
// values mean "no constraint"; set members are ANDed together.
type Filter struct {
	ID string

	// SeriesID matches occurrence rows linked to this root.
	SeriesID string

	// InSeries matches every row of a series: occurrences linked to the id
	// plus the root row itself.
	InSeries string

	ExcludeID string

	StartAfter     *time.Time // start strictly later
	StartAtOrAfter *time.Time
	StartBefore    *time.Time // start strictly earlier

	// Unannotated restricts to rows with no linked note.
	Unannotated bool
}

// Tx is a single transaction over the event table. Every multi-statement
// engine operation runs inside exactly one Tx so partial application is
// never observable.
type Tx interface {
	GetEvent(id string) (*Event, error)
	GetNote(id string) (*Note, error)

	// InsertOccurrence inserts a generated occurrence, silently ignoring a
	// duplicate (series id, instance date) key. Reports whether a row was
	// actually inserted.
	InsertOccurrence(ev *Event) (bool, error)

	SelectEvents(f Filter, newestFirst bool, limit int) ([]*Event, error)
	UpdateEvents(f Filter, ch FieldChanges) (int64, error)
	DeleteEvents(f Filter) (int64, error)

	// DetachFromSeries clears the series link and instance date, turning the
	// row into a standalone event.
	DetachFromSeries(id string) error
}

// Storer defines the interface for data persistence.
// SQLiteStore is the sole implementation.
type Storer interface {
	// Events - point operations
	CreateEvent(ev *Event) error
	GetEvent(id string) (*Event, error)
	DeleteEvent(id string) error
	ListSeriesRoots() ([]*Event, error)

	// Notes - annotation content
	UpsertNote(n *Note) error
	GetNote(id string) (*Note, error)
	DeleteNote(id string) error

	// WithTx runs fn inside a single transaction, committing on nil and
	// rolling back on error.
	WithTx(fn func(tx Tx) error) error

	// Lifecycle
	Close() error
}
