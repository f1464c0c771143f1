package calendar

import (
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/kittclouds/kittcal/internal/store"
	"github.com/kittclouds/kittcal/pkg/recurrence"
)

// NoteSummary is the joined annotation content of a past occurrence.
type NoteSummary struct {
	Title   string
	Excerpt string
}

// SeriesOccurrence is one past row of a series. Note is present only when
// the row is annotated and the linked note still exists; a row whose note
// was since removed is still listed, just without a summary.
type SeriesOccurrence struct {
	EventID   string
	Title     string
	Date      string // YYYY-MM-DD
	StartAt   time.Time
	Annotated bool
	Note      mo.Option[NoteSummary]
}

// PastOccurrences returns up to the configured limit of past rows of a
// series, newest first, each joined with its annotation state. The root
// itself counts as a past row once its start has passed.
func (e *Engine) PastOccurrences(seriesID string) ([]SeriesOccurrence, error) {
	var out []SeriesOccurrence

	err := e.store.WithTx(func(tx store.Tx) error {
		now := e.now()
		rows, err := tx.SelectEvents(store.Filter{
			InSeries:    seriesID,
			StartBefore: &now,
		}, true, e.historyLimit)
		if err != nil {
			return err
		}

		for _, ev := range rows {
			occ := SeriesOccurrence{
				EventID:   ev.ID,
				Title:     ev.Title,
				Date:      instanceDate(ev),
				StartAt:   ev.StartAt,
				Annotated: ev.IsAnnotated(),
				Note:      mo.None[NoteSummary](),
			}

			if ev.LinkedNoteID != "" {
				note, err := tx.GetNote(ev.LinkedNoteID)
				if err != nil {
					return err
				}
				if note != nil {
					occ.Note = mo.Some(NoteSummary{
						Title:   note.Title,
						Excerpt: excerpt(note.Content, e.excerptLen),
					})
				}
			}

			out = append(out, occ)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// instanceDate is the calendar date a row fills: its instance key when
// generated, otherwise the date of its start timestamp (the root case).
func instanceDate(ev *store.Event) string {
	if ev.InstanceDate != "" {
		return ev.InstanceDate
	}
	return recurrence.DateOf(ev.StartAt).Format(recurrence.DateLayout)
}

// excerpt truncates to at most n characters on rune boundaries.
func excerpt(content string, n int) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
