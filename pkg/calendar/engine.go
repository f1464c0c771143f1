// Package calendar is the recurring-event engine: it materializes
// rule-driven occurrence rows within a rolling window and applies scoped
// edits and deletes across a series.
package calendar

import (
	"time"

	"github.com/kittclouds/kittcal/internal/store"
)

// Scope is the blast radius of an edit or delete.
type Scope string

const (
	// ScopeThis targets one row; an update additionally detaches it from
	// its series, turning it into a standalone event.
	ScopeThis Scope = "this"

	// ScopeFuture targets the row and every later row of the same series.
	ScopeFuture Scope = "future"

	// ScopeAll targets the entire series.
	ScopeAll Scope = "all"
)

// Engine defaults.
const (
	DefaultWindowMonths  = 6
	DefaultHistoryLimit  = 20
	DefaultExcerptLength = 120
)

// Engine exposes the recurring-event operations over an event store. All
// operations are synchronous; each multi-statement operation runs in a
// single store transaction, so it either lands whole or not at all.
type Engine struct {
	store        store.Storer
	windowMonths int
	historyLimit int
	excerptLen   int

	// now is the clock used for window and history bounds.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindowMonths sets the forward span of the rolling generation window.
func WithWindowMonths(months int) Option {
	return func(e *Engine) { e.windowMonths = months }
}

// WithHistoryLimit sets the maximum number of rows PastOccurrences returns.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// WithExcerptLength sets how many characters of linked note content the
// history read path carries.
func WithExcerptLength(n int) Option {
	return func(e *Engine) { e.excerptLen = n }
}

// New creates an engine over the given store.
func New(st store.Storer, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		windowMonths: DefaultWindowMonths,
		historyLimit: DefaultHistoryLimit,
		excerptLen:   DefaultExcerptLength,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// effectiveSeriesID resolves the series a row belongs to: its series link,
// or the row's own id when the row is itself the root.
func effectiveSeriesID(ev *store.Event) string {
	if ev.SeriesID != "" {
		return ev.SeriesID
	}
	return ev.ID
}
