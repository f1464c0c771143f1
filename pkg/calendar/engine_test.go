package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kittcal/internal/store"
	"github.com/kittclouds/kittcal/pkg/recurrence"
)

// testNow pins "today" so window and history bounds are deterministic.
var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := New(st)
	e.now = func() time.Time { return testNow }
	return e, st
}

func createRoot(t *testing.T, st *store.SQLiteStore, id, rule string, start time.Time) {
	t.Helper()
	require.NoError(t, st.CreateEvent(&store.Event{
		ID:             id,
		Title:          "Standup",
		StartAt:        start,
		EndAt:          start.Add(30 * time.Minute),
		Attendees:      `["ada","linus"]`,
		RecurrenceRule: rule,
	}))
}

func seriesOccurrences(t *testing.T, st *store.SQLiteStore, seriesID string) []*store.Event {
	t.Helper()
	var out []*store.Event
	require.NoError(t, st.WithTx(func(tx store.Tx) error {
		var err error
		out, err = tx.SelectEvents(store.Filter{SeriesID: seriesID}, false, 0)
		return err
	}))
	return out
}

func occurrenceOn(t *testing.T, st *store.SQLiteStore, seriesID, day string) *store.Event {
	t.Helper()
	for _, ev := range seriesOccurrences(t, st, seriesID) {
		if ev.InstanceDate == day {
			return ev
		}
	}
	t.Fatalf("no occurrence of %s on %s", seriesID, day)
	return nil
}

func hasOccurrenceOn(t *testing.T, st *store.SQLiteStore, seriesID, day string) bool {
	t.Helper()
	for _, ev := range seriesOccurrences(t, st, seriesID) {
		if ev.InstanceDate == day {
			return true
		}
	}
	return false
}

func annotate(t *testing.T, st *store.SQLiteStore, eventID, noteID string) {
	t.Helper()
	require.NoError(t, st.WithTx(func(tx store.Tx) error {
		_, err := tx.UpdateEvents(store.Filter{ID: eventID}, store.FieldChanges{LinkedNoteID: &noteID})
		return err
	}))
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

func TestGenerateIdempotent(t *testing.T) {
	e, st := newTestEngine(t)
	start := time.Date(2024, 6, 10, 9, 30, 0, 0, time.FixedZone("", 2*60*60))
	createRoot(t, st, "root", `{"freq":"daily","count":5}`, start)

	require.NoError(t, e.Generate("root"))
	require.NoError(t, e.Generate("root"))

	occs := seriesOccurrences(t, st, "root")
	require.Len(t, occs, 5)

	wantDays := []string{"2024-06-11", "2024-06-12", "2024-06-13", "2024-06-14", "2024-06-15"}
	for i, occ := range occs {
		assert.Equal(t, wantDays[i], occ.InstanceDate)
		// Wall-clock time-of-day and offset carry over from the root.
		assert.Equal(t, "09:30:00+02:00", occ.StartAt.Format("15:04:05Z07:00"))
		assert.Equal(t, 30*time.Minute, occ.EndAt.Sub(occ.StartAt))
		assert.Equal(t, "Standup", occ.Title)
		assert.Equal(t, `["ada","linus"]`, occ.Attendees)
		assert.Empty(t, occ.RecurrenceRule)
	}
}

func TestGenerateExtendsWindowForward(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily"}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))

	require.NoError(t, e.Generate("root"))
	first := len(seriesOccurrences(t, st, "root"))
	require.NotZero(t, first)

	// A month later the same call extends the window; nothing is duplicated.
	e.now = func() time.Time { return testNow.AddDate(0, 1, 0) }
	require.NoError(t, e.Generate("root"))

	occs := seriesOccurrences(t, st, "root")
	assert.Greater(t, len(occs), first)

	seen := make(map[string]bool)
	for _, occ := range occs {
		assert.False(t, seen[occ.InstanceDate], "duplicate occurrence on %s", occ.InstanceDate)
		seen[occ.InstanceDate] = true
	}
}

func TestGenerateNoops(t *testing.T) {
	e, st := newTestEngine(t)

	// Missing root.
	require.NoError(t, e.Generate("nope"))

	// Row without a rule.
	require.NoError(t, st.CreateEvent(&store.Event{
		ID: "plain", Title: "Dentist",
		StartAt: testNow, EndAt: testNow.Add(time.Hour),
	}))
	require.NoError(t, e.Generate("plain"))
	assert.Empty(t, seriesOccurrences(t, st, "plain"))

	// Row with an unparseable rule.
	createRoot(t, st, "bad", `{"freq":"yearly"}`, testNow)
	require.NoError(t, e.Generate("bad"))
	assert.Empty(t, seriesOccurrences(t, st, "bad"))
}

// ---------------------------------------------------------------------------
// ApplyUpdate
// ---------------------------------------------------------------------------

func TestApplyUpdateThisDetaches(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	target := occurrenceOn(t, st, "root", "2024-06-12")
	title := "X"
	require.NoError(t, e.ApplyUpdate(target.ID, store.FieldChanges{Title: &title}, ScopeThis))

	got, err := st.GetEvent(target.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", got.Title)
	assert.Empty(t, got.SeriesID)
	assert.Empty(t, got.InstanceDate)

	// Siblings are untouched and still linked.
	sibling := occurrenceOn(t, st, "root", "2024-06-11")
	assert.Equal(t, "Standup", sibling.Title)
	assert.Equal(t, "root", sibling.SeriesID)
}

func TestApplyUpdateFuturePreservesAnnotated(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	t1 := occurrenceOn(t, st, "root", "2024-06-11")
	t2 := occurrenceOn(t, st, "root", "2024-06-12")
	t3 := occurrenceOn(t, st, "root", "2024-06-13")
	annotate(t, st, t2.ID, "note-1")

	title := "Y"
	require.NoError(t, e.ApplyUpdate(t1.ID, store.FieldChanges{Title: &title}, ScopeFuture))

	for id, want := range map[string]string{
		t1.ID:  "Y",       // the target itself, updated unconditionally
		t2.ID:  "Standup", // annotated, preserved
		t3.ID:  "Y",
		"root": "Standup", // earlier than the target, out of scope
	} {
		got, err := st.GetEvent(id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Title)
	}

	// Target stays linked to its series; future-scope does not detach.
	got, err := st.GetEvent(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, "root", got.SeriesID)
}

func TestApplyUpdateFutureOnAnnotatedTarget(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	t2 := occurrenceOn(t, st, "root", "2024-06-12")
	annotate(t, st, t2.ID, "note-1")

	title := "Y"
	require.NoError(t, e.ApplyUpdate(t2.ID, store.FieldChanges{Title: &title}, ScopeFuture))

	got, err := st.GetEvent(t2.ID)
	require.NoError(t, err)
	assert.Equal(t, "Y", got.Title, "annotation protects siblings, not the target")
}

func TestApplyUpdateAll(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	t1 := occurrenceOn(t, st, "root", "2024-06-11")
	t2 := occurrenceOn(t, st, "root", "2024-06-12")
	t3 := occurrenceOn(t, st, "root", "2024-06-13")
	annotate(t, st, t2.ID, "note-1")

	title := "Z"
	require.NoError(t, e.ApplyUpdate(t1.ID, store.FieldChanges{Title: &title}, ScopeAll))

	for id, want := range map[string]string{
		"root": "Z", // root updated unconditionally
		t1.ID:  "Z",
		t2.ID:  "Standup", // annotated, preserved
		t3.ID:  "Z",
	} {
		got, err := st.GetEvent(id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Title)
	}
}

func TestApplyUpdateAllRuleChangeRegenerates(t *testing.T) {
	e, st := newTestEngine(t)
	// 2024-06-01 is a Saturday.
	createRoot(t, st, "root", `{"freq":"daily"}`, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	annotated := occurrenceOn(t, st, "root", "2024-06-25")
	annotate(t, st, annotated.ID, "note-1")

	newRule := `{"freq":"weekly"}`
	require.NoError(t, e.ApplyUpdate("root", store.FieldChanges{RecurrenceRule: &newRule}, ScopeAll))

	root, err := st.GetEvent("root")
	require.NoError(t, err)
	assert.Equal(t, newRule, root.RecurrenceRule)

	// Past occurrences survive the rebuild.
	assert.True(t, hasOccurrenceOn(t, st, "root", "2024-06-10"))
	// The future window now follows the weekly rule (Saturdays).
	assert.True(t, hasOccurrenceOn(t, st, "root", "2024-06-22"))
	assert.False(t, hasOccurrenceOn(t, st, "root", "2024-06-20"))
	// The annotated future occurrence survives with its old date.
	assert.True(t, hasOccurrenceOn(t, st, "root", "2024-06-25"))
}

func TestApplyUpdateNoops(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":2}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	// Missing target.
	title := "X"
	require.NoError(t, e.ApplyUpdate("nope", store.FieldChanges{Title: &title}, ScopeAll))

	// Empty change set.
	require.NoError(t, e.ApplyUpdate("root", store.FieldChanges{}, ScopeAll))

	root, err := st.GetEvent("root")
	require.NoError(t, err)
	assert.Equal(t, "Standup", root.Title)
}

// ---------------------------------------------------------------------------
// ApplyDelete
// ---------------------------------------------------------------------------

func TestApplyDeleteThis(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	target := occurrenceOn(t, st, "root", "2024-06-12")
	require.NoError(t, e.ApplyDelete(target.ID, ScopeThis))

	got, err := st.GetEvent(target.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, seriesOccurrences(t, st, "root"), 2)
}

func TestApplyDeleteFutureIgnoresAnnotation(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	t2 := occurrenceOn(t, st, "root", "2024-06-12")
	annotate(t, st, t2.ID, "note-1")

	require.NoError(t, e.ApplyDelete(t2.ID, ScopeFuture))

	// T2 and T3 are gone despite T2's annotation; T1 and the root remain.
	assert.False(t, hasOccurrenceOn(t, st, "root", "2024-06-12"))
	assert.False(t, hasOccurrenceOn(t, st, "root", "2024-06-13"))
	assert.True(t, hasOccurrenceOn(t, st, "root", "2024-06-11"))

	// The root rule is capped to the day before the deleted instance, with
	// the count cleared, so regeneration cannot resurrect the cut dates.
	root, err := st.GetEvent("root")
	require.NoError(t, err)
	rule, ok := recurrence.Parse(root.RecurrenceRule).Get()
	require.True(t, ok)
	require.NotNil(t, rule.Bound().Until)
	assert.Equal(t, time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), *rule.Bound().Until)
	assert.Zero(t, rule.Bound().Count)

	require.NoError(t, e.Generate("root"))
	assert.False(t, hasOccurrenceOn(t, st, "root", "2024-06-12"))
}

func TestApplyDeleteFutureFromRoot(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	require.NoError(t, e.ApplyDelete("root", ScopeFuture))

	root, err := st.GetEvent("root")
	require.NoError(t, err)
	assert.Nil(t, root, "root starts inside the deleted range")
	assert.Empty(t, seriesOccurrences(t, st, "root"))
}

func TestApplyDeleteAll(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":3}`, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	t2 := occurrenceOn(t, st, "root", "2024-06-12")
	annotate(t, st, t2.ID, "note-1")

	require.NoError(t, e.ApplyDelete(t2.ID, ScopeAll))

	root, err := st.GetEvent("root")
	require.NoError(t, err)
	assert.Nil(t, root)
	assert.Empty(t, seriesOccurrences(t, st, "root"))

	// The series no longer exists; regeneration is a no-op.
	require.NoError(t, e.Generate("root"))
	assert.Empty(t, seriesOccurrences(t, st, "root"))
}

func TestApplyDeleteMissingTargetNoop(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.ApplyDelete("nope", ScopeAll))
}

// ---------------------------------------------------------------------------
// PastOccurrences
// ---------------------------------------------------------------------------

func TestPastOccurrencesOrderingAndLimit(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily"}`, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	require.NoError(t, st.UpsertNote(&store.Note{
		ID:      "note-1",
		Title:   "Retro notes",
		Content: strings.Repeat("a", 200),
	}))
	annotate(t, st, occurrenceOn(t, st, "root", "2024-06-10").ID, "note-1")
	annotate(t, st, occurrenceOn(t, st, "root", "2024-06-12").ID, "ghost")

	past, err := e.PastOccurrences("root")
	require.NoError(t, err)
	require.Len(t, past, 20)

	assert.Equal(t, "2024-06-15", past[0].Date)
	for i := 1; i < len(past); i++ {
		assert.True(t, past[i].StartAt.Before(past[i-1].StartAt), "history must be strictly newest-first")
	}

	byDate := make(map[string]SeriesOccurrence, len(past))
	for _, occ := range past {
		byDate[occ.Date] = occ
	}

	// Linked note still exists: summary carried with a truncated excerpt.
	withNote := byDate["2024-06-10"]
	assert.True(t, withNote.Annotated)
	note, ok := withNote.Note.Get()
	require.True(t, ok)
	assert.Equal(t, "Retro notes", note.Title)
	assert.Equal(t, strings.Repeat("a", 120), note.Excerpt)

	// Linked note since removed: the row is listed, just without a summary.
	dangling := byDate["2024-06-12"]
	assert.True(t, dangling.Annotated)
	assert.True(t, dangling.Note.IsAbsent())

	// Unannotated rows carry no summary either.
	assert.True(t, byDate["2024-06-11"].Note.IsAbsent())
}

func TestPastOccurrencesIncludesRootOncePast(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":2}`, time.Date(2024, 6, 13, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	past, err := e.PastOccurrences("root")
	require.NoError(t, err)
	require.Len(t, past, 3)

	assert.Equal(t, []string{"2024-06-15", "2024-06-14", "2024-06-13"},
		[]string{past[0].Date, past[1].Date, past[2].Date})
	assert.Equal(t, "root", past[2].EventID)
}

func TestPastOccurrencesExcludesFuture(t *testing.T) {
	e, st := newTestEngine(t)
	createRoot(t, st, "root", `{"freq":"daily","count":5}`, time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, e.Generate("root"))

	past, err := e.PastOccurrences("root")
	require.NoError(t, err)
	assert.Empty(t, past)
}
