// Package recurrence implements the rule model and date expansion for
// recurring event series.
//
// In memory a rule is a small tagged union over the four supported
// frequencies; the flat JSON object ({"freq", "days", "until", "count"}) is
// purely a serialization format and is the shape persisted on series roots.
package recurrence

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/mo"
)

// DateLayout is the wire format for calendar dates (rule bounds and
// occurrence instance keys).
const DateLayout = "2006-01-02"

// Frequency identifies one of the four supported recurrence shapes.
type Frequency string

const (
	FreqDaily    Frequency = "daily"
	FreqWeekly   Frequency = "weekly"
	FreqBiweekly Frequency = "biweekly"
	FreqMonthly  Frequency = "monthly"
)

// Weekday numbers days Monday=1 through Sunday=7. Sunday is day 7, never
// day 0; in-week expansion order depends on this.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayByAbbrev = map[string]Weekday{
	"mon": Monday, "tue": Tuesday, "wed": Wednesday, "thu": Thursday,
	"fri": Friday, "sat": Saturday, "sun": Sunday,
}

var abbrevByWeekday = map[Weekday]string{
	Monday: "mon", Tuesday: "tue", Wednesday: "wed", Thursday: "thu",
	Friday: "fri", Saturday: "sat", Sunday: "sun",
}

// Bound limits how far a series runs. Until is an inclusive end date
// (date-only, midnight UTC); Count caps total generated occurrences over the
// series lifetime, zero meaning unbounded. Callers are expected to set at
// most one of the two.
type Bound struct {
	Until *time.Time
	Count int
}

// Rule is the tagged union over the four frequencies. The interface is
// sealed; Daily, Weekly and Monthly are the only implementations.
type Rule interface {
	Frequency() Frequency
	Describe() string
	Bound() Bound

	isRule()
}

// Daily repeats every calendar day.
type Daily struct {
	End Bound
}

// Weekly repeats on a set of weekdays every week, or every second week when
// Biweekly is set. An empty Days set defaults to the weekday of the series
// start at expansion time.
type Weekly struct {
	Days     []Weekday
	Biweekly bool
	End      Bound
}

// Monthly repeats on the series start's day-of-month, clamped to shorter
// months.
type Monthly struct {
	End Bound
}

func (Daily) isRule()   {}
func (Weekly) isRule()  {}
func (Monthly) isRule() {}

func (r Daily) Frequency() Frequency { return FreqDaily }
func (r Weekly) Frequency() Frequency {
	if r.Biweekly {
		return FreqBiweekly
	}
	return FreqWeekly
}
func (r Monthly) Frequency() Frequency { return FreqMonthly }

func (r Daily) Bound() Bound   { return r.End }
func (r Weekly) Bound() Bound  { return r.End }
func (r Monthly) Bound() Bound { return r.End }

// Describe renders a human-readable summary of the rule.
func (r Daily) Describe() string { return "Daily" }

func (r Weekly) Describe() string {
	base := "Weekly"
	if r.Biweekly {
		base = "Every 2 weeks"
	}
	if len(r.Days) == 0 {
		return base
	}

	names := make([]string, len(r.Days))
	for i, d := range r.Days {
		abbrev := abbrevByWeekday[d]
		names[i] = strings.ToUpper(abbrev[:1]) + abbrev[1:]
	}
	// Day order follows the rule as given, not day-of-week order.
	return base + " on " + strings.Join(names, ", ")
}

func (r Monthly) Describe() string { return "Monthly" }

// CapUntil returns a copy of the rule bounded to the given inclusive end
// date, clearing any occurrence count. Used after a partial future-delete so
// regeneration does not resurrect removed dates.
func CapUntil(r Rule, until time.Time) Rule {
	d := DateOf(until)
	b := Bound{Until: &d}

	switch v := r.(type) {
	case Daily:
		return Daily{End: b}
	case Weekly:
		return Weekly{Days: v.Days, Biweekly: v.Biweekly, End: b}
	case Monthly:
		return Monthly{End: b}
	}
	return r
}

// wireRule is the persisted JSON shape of a rule.
type wireRule struct {
	Freq  string   `json:"freq"`
	Days  []string `json:"days,omitempty"`
	Until string   `json:"until,omitempty"`
	Count int      `json:"count,omitempty"`
}

// Parse decodes a serialized rule. Malformed JSON, an unknown frequency or
// an unparseable bound all yield None — never an error the store layer sees.
func Parse(raw string) mo.Option[Rule] {
	if raw == "" {
		return mo.None[Rule]()
	}

	var w wireRule
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return mo.None[Rule]()
	}

	var bound Bound
	if w.Until != "" {
		t, err := time.Parse(DateLayout, w.Until)
		if err != nil {
			return mo.None[Rule]()
		}
		u := DateOf(t)
		bound.Until = &u
	}
	if w.Count > 0 {
		bound.Count = w.Count
	}

	switch Frequency(w.Freq) {
	case FreqDaily:
		return mo.Some[Rule](Daily{End: bound})
	case FreqWeekly, FreqBiweekly:
		var days []Weekday
		for _, abbrev := range w.Days {
			if d, ok := weekdayByAbbrev[strings.ToLower(abbrev)]; ok {
				days = append(days, d)
			}
		}
		return mo.Some[Rule](Weekly{
			Days:     days,
			Biweekly: Frequency(w.Freq) == FreqBiweekly,
			End:      bound,
		})
	case FreqMonthly:
		return mo.Some[Rule](Monthly{End: bound})
	}

	return mo.None[Rule]()
}

// Marshal encodes a rule into its persisted JSON shape.
func Marshal(r Rule) string {
	w := wireRule{Freq: string(r.Frequency())}

	if wk, ok := r.(Weekly); ok {
		for _, d := range wk.Days {
			w.Days = append(w.Days, abbrevByWeekday[d])
		}
	}

	b := r.Bound()
	if b.Until != nil {
		w.Until = b.Until.Format(DateLayout)
	}
	if b.Count > 0 {
		w.Count = b.Count
	}

	// wireRule marshals without error by construction.
	raw, _ := json.Marshal(w)
	return string(raw)
}
