package calendar

import (
	"fmt"

	"github.com/kittclouds/kittcal/internal/store"
	"github.com/kittclouds/kittcal/pkg/recurrence"
)

// ApplyUpdate applies a sparse change set to an event row under the given
// scope. A missing target row or an empty change set is a silent no-op; both
// originate from UI actions where the target may have vanished between user
// intent and execution.
func (e *Engine) ApplyUpdate(id string, ch store.FieldChanges, scope Scope) error {
	if ch.IsEmpty() {
		return nil
	}

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
			return updateThis(tx, target, ch)
		case ScopeFuture:
			return updateFuture(tx, target, ch)
		case ScopeAll:
			return e.updateAll(tx, target, ch)
		}
		return fmt.Errorf("unknown update scope %q", scope)
	})
}

// updateThis edits only the target row, then detaches it from its series.
// On a root the detach is a no-op, since roots carry no series link.
func updateThis(tx store.Tx, target *store.Event, ch store.FieldChanges) error {
	if _, err := tx.UpdateEvents(store.Filter{ID: target.ID}, ch); err != nil {
		return err
	}
	return tx.DetachFromSeries(target.ID)
}

// updateFuture edits the target unconditionally, annotated or not, then
// bulk-updates the strictly-later rows of the series, skipping annotated
// ones. The delete path deliberately does not share this protection.
func updateFuture(tx store.Tx, target *store.Event, ch store.FieldChanges) error {
	if _, err := tx.UpdateEvents(store.Filter{ID: target.ID}, ch); err != nil {
		return err
	}

	sibling := ch
	sibling.RecurrenceRule = nil // rules live only on roots
	if sibling.IsEmpty() {
		return nil
	}

	after := target.StartAt
	_, err := tx.UpdateEvents(store.Filter{
		InSeries:    effectiveSeriesID(target),
		ExcludeID:   target.ID,
		StartAfter:  &after,
		Unannotated: true,
	}, sibling)
	return err
}

// updateAll edits the root unconditionally and every non-annotated row of
// the series. A rule change additionally drops the non-annotated future
// occurrences and rebuilds the window under the new rule; annotated and past
// occurrences survive.
func (e *Engine) updateAll(tx store.Tx, target *store.Event, ch store.FieldChanges) error {
	seriesID := effectiveSeriesID(target)

	if _, err := tx.UpdateEvents(store.Filter{ID: seriesID}, ch); err != nil {
		return err
	}

	occ := ch
	occ.RecurrenceRule = nil // rules live only on roots
	if !occ.IsEmpty() {
		if _, err := tx.UpdateEvents(store.Filter{SeriesID: seriesID, Unannotated: true}, occ); err != nil {
			return err
		}
	}

	if ch.RecurrenceRule == nil {
		return nil
	}
	if recurrence.Parse(*ch.RecurrenceRule).IsAbsent() {
		// The raw value was still written above; generation would no-op on
		// it, so dropping the future window now would just strand the series.
		return nil
	}

	now := e.now()
	if _, err := tx.DeleteEvents(store.Filter{
		SeriesID:    seriesID,
		StartAfter:  &now,
		Unannotated: true,
	}); err != nil {
		return err
	}

	root, err := tx.GetEvent(seriesID)
	if err != nil {
		return err
	}
	if root == nil || !root.IsSeriesRoot() {
		return nil
	}
	return e.generateInTx(tx, root)
}
