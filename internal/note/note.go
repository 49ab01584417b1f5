// Package note provides normalization and sectioning for raw clinical notes.
//
// Two stages live here:
// - Preprocess: canonicalizes whitespace, punctuation variants, line endings,
//   and recurring clinical shorthand spacing ("55 M" → "55M", "POD #3" → "POD 3")
//   without altering semantic content.
// - Segment: splits normalized text into labeled sections (history, course,
//   discharge, ...) plus an "unclassified" remainder, by header-keyword matching.
//
// All downstream offsets refer to the normalized text, so Preprocess must run
// exactly once per note before anything else sees it.
package note

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// RawNote is an immutable input note. Callers may supply their own ID; when
// they don't, NewRawNote assigns one.
type RawNote struct {
	ID      string
	Ordinal int
	Text    string
}

// NewRawNote wraps text in a RawNote with a generated ID.
func NewRawNote(text string, ordinal int) RawNote {
	return RawNote{ID: uuid.NewString(), Ordinal: ordinal, Text: text}
}

// Section is a labeled, non-overlapping region of normalized note text.
// Start/End are byte offsets into the normalized text.
type Section struct {
	Label string
	Text  string
	Start int
	End   int
}

// LabelUnclassified marks text that matched no known section header.
const LabelUnclassified = "unclassified"

var (
	multiSpaceRE   = regexp.MustCompile(`[ ]{2,}`)
	blankRunRE     = regexp.MustCompile(`\n{3,}`)
	trailingWSRE   = regexp.MustCompile(`(?m)[ ]+$`)
	ageSexSpaceRE  = regexp.MustCompile(`(?i)([,(]\s*|^|\n)(\d{1,3})\s+([MF])\b`)
	podHashRE      = regexp.MustCompile(`(?i)\b(POD|HD)\s*#\s*(\d+)`)
	statusPostRE   = regexp.MustCompile(`(?i)\bs\s*/\s*p\b`)
	postHyphenRE   = regexp.MustCompile(`(?i)\bpost\s*-\s*(op|operative|procedure|ictus|bleed)\b`)
	unicodePunct   = strings.NewReplacer("–", "-", "—", "-", "‘", "'", "’", "'", "“", `"`, "”", `"`, " ", " ")
)

// Preprocess normalizes a raw note body. The result is what every later
// stage operates on; offsets reported downstream index into it.
func Preprocess(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	s = unicodePunct.Replace(s)

	// Clinical shorthand spacing. Age/sex only canonicalizes after a comma,
	// open paren, or line start so stray "10 F" lab values are left alone.
	s = ageSexSpaceRE.ReplaceAllString(s, "$1$2$3")
	s = podHashRE.ReplaceAllString(s, "$1 $2")
	s = statusPostRE.ReplaceAllString(s, "s/p")
	s = postHyphenRE.ReplaceAllString(s, "post-$1")

	s = multiSpaceRE.ReplaceAllString(s, " ")
	s = trailingWSRE.ReplaceAllString(s, "")
	s = blankRunRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// sectionLabels maps lowercased header keywords (trailing colon stripped) to
// canonical section labels. Order within the note decides section order, not
// this table.
var sectionLabels = map[string]string{
	"history of present illness": "history",
	"hpi":                        "history",
	"history":                    "history",
	"past medical history":       "history",
	"pmh":                        "history",
	"hospital course":            "course",
	"brief hospital course":      "course",
	"course":                     "course",
	"icu course":                 "course",
	"discharge":                  "discharge",
	"discharge summary":          "discharge",
	"discharge condition":        "discharge",
	"discharge instructions":     "discharge",
	"disposition":                "discharge",
	"physical exam":              "exam",
	"physical examination":       "exam",
	"exam":                       "exam",
	"neurological exam":          "exam",
	"neuro exam":                 "exam",
	"medications":                "medications",
	"discharge medications":      "medications",
	"medications on admission":   "medications",
	"current medications":        "medications",
	"meds":                       "medications",
	"procedures":                 "procedures",
	"procedure":                  "procedures",
	"operations":                 "procedures",
	"operative course":           "procedures",
	"major surgical or invasive procedure": "procedures",
	"assessment":          "assessment",
	"plan":                "assessment",
	"assessment and plan": "assessment",
	"impression":          "assessment",
	"labs":                "labs",
	"laboratory":          "labs",
	"laboratory data":     "labs",
	"imaging":             "labs",
	"studies":             "labs",
}

// headerLabel reports the canonical label for a line that is a section
// header, and any inline body text following the header colon.
func headerLabel(line string) (label, inline string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", false
	}
	head := trimmed
	rest := ""
	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		head = trimmed[:idx]
		rest = strings.TrimSpace(trimmed[idx+1:])
	}
	key := strings.ToLower(strings.TrimSpace(head))
	if l, found := sectionLabels[key]; found {
		return l, rest, true
	}
	return "", "", false
}

// Segment splits normalized text into labeled sections. Text before the first
// recognized header (or all text, when no header matches) lands in a single
// "unclassified" section. Sections are non-overlapping and insertion-ordered.
func Segment(text string) []Section {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	type openSection struct {
		label string
		start int
		parts []string
	}

	var sections []Section
	current := openSection{label: LabelUnclassified, start: 0}

	flush := func(end int) {
		body := strings.TrimSpace(strings.Join(current.parts, "\n"))
		if body == "" {
			return
		}
		sections = append(sections, Section{
			Label: current.label,
			Text:  body,
			Start: current.start,
			End:   end,
		})
	}

	offset := 0
	for _, line := range strings.Split(text, "\n") {
		lineStart := offset
		offset += len(line) + 1 // +1 for the split newline

		if label, inline, ok := headerLabel(line); ok {
			flush(lineStart)
			current = openSection{label: label, start: lineStart}
			if inline != "" {
				current.parts = append(current.parts, inline)
			}
			continue
		}
		current.parts = append(current.parts, line)
	}
	flush(len(text))

	return sections
}

// SectionFor returns the label of the section containing byte offset pos,
// or "unclassified" when no section covers it.
func SectionFor(sections []Section, pos int) string {
	for _, s := range sections {
		if pos >= s.Start && pos < s.End {
			return s.Label
		}
	}
	return LabelUnclassified
}
