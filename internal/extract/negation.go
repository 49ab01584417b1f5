package extract

import (
	"regexp"
	"strings"
)

// Polarity of a negation scope.
type Polarity string

const (
	PolarityNegated  Polarity = "negated"
	PolarityAffirmed Polarity = "affirmed"
)

// NegationSpan is a resolved negation scope: candidates whose evidence span
// falls inside [ScopeStart, ScopeEnd) are suppressed unless an affirming
// trigger sits between the negation trigger and the candidate.
type NegationSpan struct {
	ScopeStart int
	ScopeEnd   int
	Trigger    string
	Polarity   Polarity
}

// defaultPreTriggers negate the text following them.
var defaultPreTriggers = []string{
	"no evidence of", "no evidence for", "negative for", "ruled out for",
	"no", "not", "without", "denies", "denied", "free of", "absence of",
}

// defaultPostTriggers negate the text preceding them.
var defaultPostTriggers = []string{
	"was ruled out", "were ruled out", "ruled out", "was excluded",
	"not seen", "not identified", "not present",
}

// defaultAffirmingTriggers rescue a candidate inside a negation window.
var defaultAffirmingTriggers = []string{
	"developed", "positive for", "complicated by", "experienced",
	"now with", "new onset",
}

// negationWindowBytes bounds how far a pre-trigger's scope reaches when no
// clause boundary cuts it off first (roughly six tokens).
const negationWindowBytes = 48

// NegationDetector finds NegEx-style negation scopes in normalized text.
// Absence of any trigger is not an error; it just means every candidate is
// affirmed.
type NegationDetector struct {
	preRE    *regexp.Regexp
	postRE   *regexp.Regexp
	affirmRE *regexp.Regexp
}

// NewNegationDetector builds a detector. Empty trigger lists fall back to
// the built-in NegEx trigger sets.
func NewNegationDetector(negating, affirming []string) *NegationDetector {
	pre := defaultPreTriggers
	post := defaultPostTriggers
	if len(negating) > 0 {
		pre = negating
		post = nil
	}
	if len(affirming) == 0 {
		affirming = defaultAffirmingTriggers
	}
	d := &NegationDetector{
		preRE:    triggerRE(pre),
		affirmRE: triggerRE(affirming),
	}
	if len(post) > 0 {
		d.postRE = triggerRE(post)
	}
	return d
}

func triggerRE(triggers []string) *regexp.Regexp {
	// Longer triggers first so "no evidence of" wins over "no".
	sorted := make([]string, len(triggers))
	copy(sorted, triggers)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j]) > len(sorted[j-1]); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}

// Detect returns every negation scope in text. Scopes are clipped at clause
// boundaries (period, semicolon, newline) and at the window limit.
func (d *NegationDetector) Detect(text string) []NegationSpan {
	var spans []NegationSpan

	for _, m := range d.preRE.FindAllStringIndex(text, -1) {
		end := clauseEnd(text, m[1], negationWindowBytes)
		spans = append(spans, NegationSpan{
			ScopeStart: m[1],
			ScopeEnd:   end,
			Trigger:    text[m[0]:m[1]],
			Polarity:   PolarityNegated,
		})
	}

	if d.postRE != nil {
		for _, m := range d.postRE.FindAllStringIndex(text, -1) {
			start := clauseStart(text, m[0], negationWindowBytes)
			spans = append(spans, NegationSpan{
				ScopeStart: start,
				ScopeEnd:   m[0],
				Trigger:    text[m[0]:m[1]],
				Polarity:   PolarityNegated,
			})
		}
	}

	return spans
}

// Filter suppresses candidates whose evidence span falls inside a negation
// scope, unless an affirming trigger appears between the trigger and the
// candidate. Candidates outside every scope pass through untouched.
func (d *NegationDetector) Filter(text string, candidates []Field) []Field {
	if len(candidates) == 0 {
		return candidates
	}
	spans := d.Detect(text)
	if len(spans) == 0 {
		return candidates
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if d.negated(text, spans, c) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (d *NegationDetector) negated(text string, spans []NegationSpan, c Field) bool {
	for _, s := range spans {
		if c.Start < s.ScopeStart || c.Start >= s.ScopeEnd {
			continue
		}
		// A stronger affirming trigger between the negation trigger and the
		// candidate (or leading the candidate itself) rescues it
		// ("no headache but developed vasospasm").
		between := text[s.ScopeStart:c.End]
		if d.affirmRE.MatchString(between) {
			continue
		}
		return true
	}
	return false
}

func clauseEnd(text string, from, window int) int {
	limit := from + window
	if limit > len(text) {
		limit = len(text)
	}
	if idx := strings.IndexAny(text[from:limit], ".;\n"); idx >= 0 {
		return from + idx
	}
	return limit
}

func clauseStart(text string, to, window int) int {
	limit := to - window
	if limit < 0 {
		limit = 0
	}
	if idx := strings.LastIndexAny(text[limit:to], ".;\n"); idx >= 0 {
		return limit + idx + 1
	}
	return limit
}
