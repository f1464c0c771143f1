package calendar

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/kittcal/internal/store"
	"github.com/kittclouds/kittcal/pkg/recurrence"
)

// Generate materializes occurrences for the series rooted at rootID within
// the rolling window [series start date, today + window months]. A missing
// root or an invalid rule is a silent no-op.
//
// Safe to call repeatedly, e.g. on every app start: inserts are idempotent
// on (series id, instance date), and generation never updates or deletes
// existing rows, annotated ones included.
func (e *Engine) Generate(rootID string) error {
	return e.store.WithTx(func(tx store.Tx) error {
		root, err := tx.GetEvent(rootID)
		if err != nil {
			return err
		}
		if root == nil || !root.IsSeriesRoot() {
			return nil
		}
		return e.generateInTx(tx, root)
	})
}

// generateInTx runs the generation batch on an already-open transaction, so
// rule-change regeneration shares the mutator's transaction.
func (e *Engine) generateInTx(tx store.Tx, root *store.Event) error {
	rule, ok := recurrence.Parse(root.RecurrenceRule).Get()
	if !ok {
		return nil
	}

	from := recurrence.DateOf(root.StartAt)
	to := recurrence.DateOf(e.now().AddDate(0, e.windowMonths, 0))
	if to.Before(from) {
		return nil
	}
	duration := root.EndAt.Sub(root.StartAt)

	for _, date := range recurrence.Expand(root.StartAt, rule, from, to) {
		startAt := onDate(root.StartAt, date)
		occ := &store.Event{
			ID:           uuid.NewString(),
			Title:        root.Title,
			StartAt:      startAt,
			EndAt:        startAt.Add(duration),
			Attendees:    root.Attendees,
			SeriesID:     root.ID,
			InstanceDate: date.Format(recurrence.DateLayout),
		}
		if _, err := tx.InsertOccurrence(occ); err != nil {
			return fmt.Errorf("failed to insert occurrence %s: %w", occ.InstanceDate, err)
		}
	}

	return nil
}

// onDate re-anchors a timestamp to a new calendar date, preserving its
// wall-clock time-of-day in its own (fixed-offset) location. Adding a raw
// duration instead would skew the time across month boundaries.
func onDate(t time.Time, date time.Time) time.Time {
	h, m, s := t.Clock()
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, s, t.Nanosecond(), t.Location())
}
