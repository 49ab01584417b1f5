package temporal

import (
	"sort"
	"time"
)

// Event is a single dated (or undatable) clinical event on the timeline.
type Event struct {
	Date        *time.Time
	Type        string
	Description string
	Qualifier   Qualifier
	Sources     []string // field names this event was derived from
	Ordinal     int      // original document order, used for tie-breaks
}

// Unanchored reports whether the event could not be placed on the calendar.
func (e Event) Unanchored() bool { return e.Date == nil }

// BuildTimeline orders events chronologically. Dated events sort by date
// ascending with ties broken by original document order; events with
// unresolved dates form a stable trailing bucket in extraction order.
// No event is ever dropped: len(out) == len(events).
func BuildTimeline(events []Event) []Event {
	dated := make([]Event, 0, len(events))
	unanchored := make([]Event, 0)
	for _, e := range events {
		if e.Date == nil {
			unanchored = append(unanchored, e)
		} else {
			dated = append(dated, e)
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		if !dated[i].Date.Equal(*dated[j].Date) {
			return dated[i].Date.Before(*dated[j].Date)
		}
		return dated[i].Ordinal < dated[j].Ordinal
	})
	sort.SliceStable(unanchored, func(i, j int) bool {
		return unanchored[i].Ordinal < unanchored[j].Ordinal
	})

	return append(dated, unanchored...)
}
