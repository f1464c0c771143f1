package recurrence

import (
	"sort"
	"time"
)

// DateOf truncates a timestamp to its calendar date in the timestamp's own
// location, represented as midnight UTC. All expansion arithmetic happens on
// these date values.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Expand returns the ordered occurrence dates of a rule within [from, to],
// bounds inclusive. The series' own start date is never included. The window
// is tightened by the rule's until bound; the rule's count caps total dates
// across the series lifetime, so candidates before the window still consume
// it. Pure and deterministic; callers guarantee from <= to.
func Expand(seriesStart time.Time, rule Rule, from, to time.Time) []time.Time {
	start := DateOf(seriesStart)
	em := &emitter{from: DateOf(from), end: DateOf(to), count: rule.Bound().Count}

	if u := rule.Bound().Until; u != nil && u.Before(em.end) {
		em.end = *u
	}
	if em.end.Before(em.from) || !em.end.After(start) {
		return nil
	}

	switch r := rule.(type) {
	case Daily:
		expandDaily(start, em)
	case Weekly:
		expandWeekly(start, r, em)
	case Monthly:
		expandMonthly(start, em)
	}

	return em.dates
}

// emitter consumes candidate dates in chronological order, enforcing the
// window and the lifetime count cap.
type emitter struct {
	from, end time.Time
	count     int // 0 = unbounded
	seen      int
	dates     []time.Time
}

// add processes one candidate strictly after the series start. It reports
// false once expansion must stop (window exceeded or count exhausted).
func (e *emitter) add(d time.Time) bool {
	if d.After(e.end) {
		return false
	}
	if e.count > 0 {
		if e.seen >= e.count {
			return false
		}
		// Candidates before the window still count toward the cap: the cap
		// is a series-lifetime budget, not a per-window one.
		e.seen++
	}
	if !d.Before(e.from) {
		e.dates = append(e.dates, d)
	}
	return true
}

func expandDaily(start time.Time, em *emitter) {
	for d := start.AddDate(0, 0, 1); em.add(d); d = d.AddDate(0, 0, 1) {
	}
}

func expandWeekly(start time.Time, rule Weekly, em *emitter) {
	targets := rule.Days
	if len(targets) == 0 {
		targets = []Weekday{weekdayOf(start)}
	}
	targets = dedupSorted(targets)

	step := 7
	if rule.Biweekly {
		step = 14
	}

	// Anchor each stride to the Monday on/before the series start; the
	// in-week emission order below is Monday-first because Sunday is day 7.
	for anchor := mondayOnOrBefore(start); ; anchor = anchor.AddDate(0, 0, step) {
		for _, wd := range targets {
			d := anchor.AddDate(0, 0, int(wd)-1)
			if !d.After(start) {
				continue
			}
			if !em.add(d) {
				return
			}
		}
	}
}

func expandMonthly(start time.Time, em *emitter) {
	// The clamp is recomputed against the original day-of-month every step,
	// so a rule anchored on the 31st returns to day 31 whenever the target
	// month allows it.
	dom := start.Day()
	year, month := start.Year(), int(start.Month())

	for i := 1; ; i++ {
		ty, tm := year, month+i
		ty += (tm - 1) / 12
		tm = (tm-1)%12 + 1

		day := dom
		if last := daysInMonth(ty, time.Month(tm)); day > last {
			day = last
		}

		if !em.add(time.Date(ty, time.Month(tm), day, 0, 0, 0, 0, time.UTC)) {
			return
		}
	}
}

// weekdayOf maps time.Weekday onto the Monday=1..Sunday=7 numbering.
func weekdayOf(d time.Time) Weekday {
	if wd := d.Weekday(); wd != time.Sunday {
		return Weekday(wd)
	}
	return Sunday
}

func mondayOnOrBefore(d time.Time) time.Time {
	return d.AddDate(0, 0, -(int(weekdayOf(d)) - 1))
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dedupSorted(days []Weekday) []Weekday {
	out := make([]Weekday, 0, len(days))
	seen := make(map[Weekday]bool, len(days))
	for _, d := range days {
		if d < Monday || d > Sunday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
