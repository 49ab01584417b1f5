package temporal

import (
	"regexp"
	"strings"
)

// Qualifier classifies when a fact holds relative to the encounter.
// Classes are mutually exclusive per fact.
type Qualifier string

const (
	QualifierPast              Qualifier = "PAST"
	QualifierPresent           Qualifier = "PRESENT"
	QualifierFuture            Qualifier = "FUTURE"
	QualifierAdmission         Qualifier = "ADMISSION"
	QualifierDischarge         Qualifier = "DISCHARGE"
	QualifierProcedureRelative Qualifier = "PROCEDURE_RELATIVE"
)

var (
	admissionCueRE = regexp.MustCompile(`(?i)\b(?:on admission|at admission|admitted|at presentation|on arrival|presenting)\b`)
	dischargeCueRE = regexp.MustCompile(`(?i)\b(?:on discharge|at discharge|discharged?|disposition)\b`)
	procedureCueRE = regexp.MustCompile(`(?i)\b(?:POD\s*\d|post-?op(?:erative)?|post-procedure|intraoperative|s/p)\b`)
	pastCueRE      = regexp.MustCompile(`(?i)\b(?:history of|prior|previous(?:ly)?|years? ago|months? ago|weeks? ago|in the past|known|remote)\b`)
	futureCueRE    = regexp.MustCompile(`(?i)\b(?:will|planned|scheduled|to follow|follow-?up|anticipated|pending)\b`)
)

// Qualify assigns a temporal class to a fact from its surrounding text.
// Explicit admission/discharge keywords outrank procedure-relative markers,
// which outrank generic past/future tense cues. Default is PRESENT.
func Qualify(context string) Qualifier {
	c := strings.TrimSpace(context)
	if c == "" {
		return QualifierPresent
	}
	switch {
	case admissionCueRE.MatchString(c):
		return QualifierAdmission
	case dischargeCueRE.MatchString(c):
		return QualifierDischarge
	case procedureCueRE.MatchString(c):
		return QualifierProcedureRelative
	case pastCueRE.MatchString(c):
		return QualifierPast
	case futureCueRE.MatchString(c):
		return QualifierFuture
	default:
		return QualifierPresent
	}
}

// ContextWindow returns the text surrounding [start,end) clipped to the
// nearest sentence-ish boundaries within radius bytes, for Qualify.
func ContextWindow(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]
	if idx := strings.LastIndexAny(window[:start-lo], ".\n"); idx >= 0 {
		window = window[idx+1:]
	}
	return window
}
