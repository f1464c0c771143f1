package calendar

import (
	"fmt"
	"time"

	"github.com/kittclouds/kittcal/internal/store"
	"github.com/kittclouds/kittcal/pkg/recurrence"
)

// ApplyDelete removes event rows under the given scope. A missing target is
// a silent no-op.
func (e *Engine) ApplyDelete(id string, scope Scope) error {
	return e.store.WithTx(func(tx store.Tx) error {
		target, err := tx.GetEvent(id)
		if err != nil {
			return err
		}
		if target == nil {
			return nil
		}

		switch scope {
		case ScopeThis:
			_, err := tx.DeleteEvents(store.Filter{ID: target.ID})
			return err
		case ScopeFuture:
			return deleteFuture(tx, target)
		case ScopeAll:
			return deleteAll(tx, target)
		}
		return fmt.Errorf("unknown delete scope %q", scope)
	})
}

// deleteFuture removes the target and every row of its series starting at
// or after the target's start, annotated rows included; this intentionally
// differs from the update path, which preserves them. The root rule is then
// capped so regeneration cannot resurrect the removed dates.
func deleteFuture(tx store.Tx, target *store.Event) error {
	seriesID := effectiveSeriesID(target)

	cutoff := target.StartAt
	if _, err := tx.DeleteEvents(store.Filter{
		InSeries:       seriesID,
		StartAtOrAfter: &cutoff,
	}); err != nil {
		return err
	}

	if target.InstanceDate == "" {
		// Target was the root, which fell inside the deleted range; there
		// is nothing left to cap.
		return nil
	}

	root, err := tx.GetEvent(seriesID)
	if err != nil || root == nil {
		return err
	}
	rule, ok := recurrence.Parse(root.RecurrenceRule).Get()
	if !ok {
		return nil
	}

	instance, err := time.Parse(recurrence.DateLayout, target.InstanceDate)
	if err != nil {
		return nil
	}

	capped := recurrence.Marshal(recurrence.CapUntil(rule, instance.AddDate(0, 0, -1)))
	_, err = tx.UpdateEvents(store.Filter{ID: root.ID}, store.FieldChanges{RecurrenceRule: &capped})
	return err
}

// deleteAll removes every occurrence of the series and then the root; the
// series ceases to exist.
func deleteAll(tx store.Tx, target *store.Event) error {
	seriesID := effectiveSeriesID(target)

	if _, err := tx.DeleteEvents(store.Filter{SeriesID: seriesID}); err != nil {
		return err
	}
	_, err := tx.DeleteEvents(store.Filter{ID: seriesID})
	return err
}
