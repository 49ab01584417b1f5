// Package temporal handles dates and relative day markers in clinical notes.
//
// Three stages live here:
// - ExtractReferences: finds absolute dates (several calendar formats) and
//   relative markers (POD 3, hospital day 2, "3 days after admission").
// - Resolve: resolves relative markers against anchor dates. A marker resolves
//   only when exactly one unambiguous anchor of the required kind exists;
//   otherwise it stays unresolved — never guessed.
// - BuildTimeline: merges temporally qualified events into one chronological
//   sequence with a trailing bucket for unanchored events.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes absolute dates from relative day markers.
type Kind string

const (
	KindAbsolute Kind = "absolute"
	KindRelative Kind = "relative"
)

// AnchorKind names the event a relative marker counts from.
type AnchorKind string

const (
	AnchorAdmission AnchorKind = "admission"
	AnchorDischarge AnchorKind = "discharge"
	AnchorProcedure AnchorKind = "procedure"
	AnchorIctus     AnchorKind = "ictus"
)

// Reference is a single temporal mention found in note text.
// A relative reference without a resolvable anchor keeps Resolved == nil.
type Reference struct {
	Kind       Kind
	RawText    string
	Start      int
	End        int
	Resolved   *time.Time
	AnchorKind AnchorKind // required anchor kind, relative refs only
	AnchorUsed AnchorKind // set once resolved
	OffsetDays int
}

// Anchors collects candidate anchor dates per kind. The same date reported
// twice for a kind is corroboration, not a conflict; two distinct dates for
// the same kind make that kind ambiguous and unusable for resolution.
type Anchors struct {
	dates map[AnchorKind][]time.Time
}

// NewAnchors returns an empty anchor set.
func NewAnchors() *Anchors {
	return &Anchors{dates: make(map[AnchorKind][]time.Time)}
}

// Add records a candidate anchor date.
func (a *Anchors) Add(kind AnchorKind, t time.Time) {
	day := t.Truncate(24 * time.Hour)
	a.dates[kind] = append(a.dates[kind], day)
}

// Date returns the unambiguous anchor date for kind, if one exists.
func (a *Anchors) Date(kind AnchorKind) (time.Time, bool) {
	candidates := a.dates[kind]
	if len(candidates) == 0 {
		return time.Time{}, false
	}
	first := candidates[0]
	for _, c := range candidates[1:] {
		if !c.Equal(first) {
			return time.Time{}, false
		}
	}
	return first, true
}

// dateFormats are tried in order by ParseDate. Four-digit-year forms come
// before two-digit-year forms so "10/11/2025" never parses as year 20.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2006",
}

// ParseDate parses a date string in any supported calendar format.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimRight(s, ".,;"))
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

const monthNames = `(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`

// DatePattern matches any supported absolute date format. Extractors embed it
// inside larger patterns ("admitted on <date>") so date recognition stays in
// one place.
const DatePattern = `(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|` + monthNames + `\s+\d{1,2},?\s+\d{4}|\d{1,2}\s+` + monthNames + `\s+\d{4})`

var absoluteDateREs = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`\b` + monthNames + `\s+\d{1,2},?\s+\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}\s+` + monthNames + `\s+\d{4}\b`),
}

// relativePattern pairs a marker regex (offset in group 1) with the anchor
// kind it counts from. zeroBased markers mean "anchor + N days"; one-based
// markers ("hospital day 1" = admission day) subtract one.
type relativePattern struct {
	re       *regexp.Regexp
	anchor   AnchorKind
	oneBased bool
}

var relativePatterns = []relativePattern{
	{regexp.MustCompile(`(?i)\b(?:POD|post-?op(?:erative)?\s+day|post-procedure\s+day)\s*(\d+)\b`), AnchorProcedure, false},
	{regexp.MustCompile(`(?i)\bpost-?(?:ictus|bleed)\s+day\s*(\d+)\b`), AnchorIctus, false},
	{regexp.MustCompile(`(?i)\b(?:HD|hospital\s+day)\s*(\d+)\b`), AnchorAdmission, true},
	{regexp.MustCompile(`(?i)\bday\s+(\d+)\s+after\s+(?:the\s+)?(admission|surgery|procedure|coiling|clipping|ictus|bleed|hemorrhage)\b`), "", false},
	{regexp.MustCompile(`(?i)\b(\d+)\s+days?\s+(?:after|post|following)\s+(?:the\s+)?(admission|surgery|procedure|coiling|clipping|ictus|bleed|hemorrhage)\b`), "", false},
}

// anchorWordKinds maps the trailing word of "day N after X" phrasings to an
// anchor kind.
var anchorWordKinds = map[string]AnchorKind{
	"admission":  AnchorAdmission,
	"surgery":    AnchorProcedure,
	"procedure":  AnchorProcedure,
	"coiling":    AnchorProcedure,
	"clipping":   AnchorProcedure,
	"ictus":      AnchorIctus,
	"bleed":      AnchorIctus,
	"hemorrhage": AnchorIctus,
}

// ExtractReferences scans normalized text for absolute dates and relative
// markers. Absolute dates resolve immediately; relative markers wait for
// Resolve. Overlapping matches keep the earliest, longest mention.
func ExtractReferences(text string) []Reference {
	var refs []Reference

	for _, re := range absoluteDateREs {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			t, ok := ParseDate(raw)
			if !ok {
				continue
			}
			resolved := t
			refs = append(refs, Reference{
				Kind:     KindAbsolute,
				RawText:  raw,
				Start:    loc[0],
				End:      loc[1],
				Resolved: &resolved,
			})
		}
	}

	for _, rp := range relativePatterns {
		for _, m := range rp.re.FindAllStringSubmatchIndex(text, -1) {
			raw := text[m[0]:m[1]]
			offset, err := strconv.Atoi(text[m[2]:m[3]])
			if err != nil {
				continue
			}
			kind := rp.anchor
			if kind == "" && len(m) >= 6 {
				word := strings.ToLower(text[m[4]:m[5]])
				kind = anchorWordKinds[word]
			}
			if kind == "" {
				continue
			}
			if rp.oneBased {
				offset--
			}
			refs = append(refs, Reference{
				Kind:       KindRelative,
				RawText:    raw,
				Start:      m[0],
				End:        m[1],
				AnchorKind: kind,
				OffsetDays: offset,
			})
		}
	}

	return dropOverlaps(refs)
}

// dropOverlaps removes references whose span is covered by an earlier-starting
// or longer reference, keeping output sorted by start offset.
func dropOverlaps(refs []Reference) []Reference {
	if len(refs) < 2 {
		return refs
	}
	sorted := make([]Reference, len(refs))
	copy(sorted, refs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j-1], sorted[j]
			if b.Start < a.Start || (b.Start == a.Start && b.End > a.End) {
				sorted[j-1], sorted[j] = b, a
			} else {
				break
			}
		}
	}
	out := sorted[:0]
	lastEnd := -1
	for _, r := range sorted {
		if r.Start < lastEnd {
			continue
		}
		out = append(out, r)
		lastEnd = r.End
	}
	return out
}

// Resolve fills in Resolved for relative references whose anchor kind has
// exactly one unambiguous date. Anything else stays unresolved.
func Resolve(refs []Reference, anchors *Anchors) []Reference {
	if anchors == nil {
		return refs
	}
	out := make([]Reference, len(refs))
	copy(out, refs)
	for i := range out {
		if out[i].Kind != KindRelative || out[i].Resolved != nil {
			continue
		}
		anchor, ok := anchors.Date(out[i].AnchorKind)
		if !ok {
			continue
		}
		resolved := anchor.AddDate(0, 0, out[i].OffsetDays)
		out[i].Resolved = &resolved
		out[i].AnchorUsed = out[i].AnchorKind
	}
	return out
}
