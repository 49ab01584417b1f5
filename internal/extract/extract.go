// Package extract provides deterministic rule-based field extraction for
// clinical notes.
//
// The extraction pipeline identifies structured information from raw text
// without any external model:
// - Demographics (age, sex) from leading and trailing surface forms
// - Anchor dates (admission, discharge, procedure, ictus)
// - Pathology, procedures, complications, medications, scores, exam findings
//
// A single matching engine evaluates an immutable, priority-ordered rule
// table and records which rule fired on every candidate for traceability.
// Complication and finding candidates are post-filtered through a NegEx-style
// negation detector before they reach confidence calibration.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Source labels where a candidate came from.
const (
	SourceRules      = "rules"
	SourceExternal   = "external"
	SourceCorrection = "correction"
)

// Field is a single extracted candidate value.
// RawConfidence is the per-pattern weight; Confidence equals RawConfidence
// until the calibrator rescales it and sets Calibrated.
type Field struct {
	Name          string  `json:"field"`
	Value         string  `json:"value"`
	Confidence    float64 `json:"confidence"`
	RawConfidence float64 `json:"raw_confidence"`
	Calibrated    bool    `json:"calibrated"`
	Rule          string  `json:"rule"` // rule that fired, "" for external candidates
	Section       string  `json:"section,omitempty"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Source        string  `json:"source"`

	// Corroborations counts independent extra sources (other sections or
	// notes, or an external candidate) that produced the same normalized
	// value. The calibrator turns this into a bounded confidence bonus.
	Corroborations int `json:"corroborations,omitempty"`
}

// Rule is one pattern in the extraction table. Rules for a field are
// evaluated in ascending Priority order; for scalar fields the first match
// wins, for multi-valued fields all non-overlapping matches are kept.
type Rule struct {
	Name     string
	Field    string
	Pattern  *regexp.Regexp
	Weight   float64
	Priority int
	Multi    bool
	Group    int    // submatch index holding the value; 0 means whole match
	Canon    string // canonical value overriding the matched text
}

// Options configures an Engine. All fields are optional.
type Options struct {
	// WeightOverrides adjusts per-rule weights by rule name (confirmed
	// corrections from the learning store). Resulting weights clamp to [0,1].
	WeightOverrides map[string]float64

	// Normalizations maps field name → normalized raw value → confirmed
	// canonical value.
	Normalizations map[string]map[string]string

	// NegationTriggers and AffirmingTriggers override the built-in NegEx
	// trigger lists when non-empty.
	NegationTriggers  []string
	AffirmingTriggers []string
}

// Engine evaluates the rule table against normalized note text.
// The table is built once at construction and never mutated afterwards.
type Engine struct {
	rules    []Rule // sorted by (Field, Priority, Name)
	byField  map[string][]Rule
	norms    map[string]map[string]string
	negation *NegationDetector
}

// NewEngine builds an engine from the default rule table plus options.
func NewEngine(opts Options) *Engine {
	rules := defaultRules()
	for i := range rules {
		if delta, ok := opts.WeightOverrides[rules[i].Name]; ok {
			rules[i].Weight = clamp01(rules[i].Weight + delta)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Field != rules[j].Field {
			return rules[i].Field < rules[j].Field
		}
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})

	byField := make(map[string][]Rule)
	for _, r := range rules {
		byField[r.Field] = append(byField[r.Field], r)
	}

	return &Engine{
		rules:    rules,
		byField:  byField,
		norms:    opts.Normalizations,
		negation: NewNegationDetector(opts.NegationTriggers, opts.AffirmingTriggers),
	}
}

// Rules returns a copy of the engine's rule table in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Negation exposes the engine's negation detector.
func (e *Engine) Negation() *NegationDetector { return e.negation }

// extractScalar evaluates a field's rules in priority order; the first
// matching rule wins.
func (e *Engine) extractScalar(text, field string) (Field, bool) {
	for _, r := range e.byField[field] {
		m := r.Pattern.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		value, ok := ruleValue(text, r, m)
		if !ok {
			continue
		}
		return e.newField(field, value, r, m[0], m[1]), true
	}
	return Field{}, false
}

// extractMulti collects all matches across a field's rules and keeps the
// highest-weight candidate for each overlapping span (a compound phrase
// beats its constituent keywords). Value-level deduplication happens later,
// after sections are assigned, so corroboration across sections is counted.
func (e *Engine) extractMulti(text, field string) []Field {
	var candidates []Field
	for _, r := range e.byField[field] {
		for _, m := range r.Pattern.FindAllStringSubmatchIndex(text, -1) {
			value, ok := ruleValue(text, r, m)
			if !ok {
				continue
			}
			candidates = append(candidates, e.newField(field, value, r, m[0], m[1]))
		}
	}
	return collapseCandidates(candidates)
}

// collapseCandidates suppresses span overlaps, higher weight winning, then
// restores document order.
func collapseCandidates(candidates []Field) []Field {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].RawConfidence != candidates[j].RawConfidence {
			return candidates[i].RawConfidence > candidates[j].RawConfidence
		}
		// Same weight: prefer the wider match, then the earlier one.
		li := candidates[i].End - candidates[i].Start
		lj := candidates[j].End - candidates[j].Start
		if li != lj {
			return li > lj
		}
		return candidates[i].Start < candidates[j].Start
	})

	var kept []Field
	for _, c := range candidates {
		if overlapsAny(kept, c) {
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// DedupeByValue collapses candidates sharing a normalized value to one
// representative (highest weight, then earliest), counting distinct sections
// among the duplicates as corroborating sources. Document order of the
// surviving representatives is preserved.
func DedupeByValue(candidates []Field) []Field {
	if len(candidates) < 2 {
		return candidates
	}

	type group struct {
		rep      int // index into candidates
		sections map[string]struct{}
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(candidates))

	for i, c := range candidates {
		key := NormalizeValue(c.Value)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{rep: i, sections: map[string]struct{}{c.Section: {}}}
			order = append(order, key)
			continue
		}
		g.sections[c.Section] = struct{}{}
		if c.RawConfidence > candidates[g.rep].RawConfidence {
			g.rep = i
		}
	}

	out := make([]Field, 0, len(order))
	for _, key := range order {
		g := groups[key]
		rep := candidates[g.rep]
		rep.Corroborations += len(g.sections) - 1
		out = append(out, rep)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func overlapsAny(kept []Field, c Field) bool {
	for _, k := range kept {
		if c.Start < k.End && k.Start < c.End {
			return true
		}
	}
	return false
}

func (e *Engine) newField(field, value string, r Rule, start, end int) Field {
	value = e.normalizeValue(field, value)
	return Field{
		Name:          field,
		Value:         value,
		Confidence:    r.Weight,
		RawConfidence: r.Weight,
		Rule:          r.Name,
		Start:         start,
		End:           end,
		Source:        SourceRules,
	}
}

// normalizeValue applies confirmed value normalizations from the correction
// store, falling back to the raw value.
func (e *Engine) normalizeValue(field, value string) string {
	value = strings.TrimSpace(value)
	if byField, ok := e.norms[field]; ok {
		if norm, ok := byField[NormalizeValue(value)]; ok {
			return norm
		}
	}
	return value
}

func ruleValue(text string, r Rule, m []int) (string, bool) {
	if r.Canon != "" {
		return r.Canon, true
	}
	g := r.Group
	if g == 0 && len(m) >= 4 && m[2] >= 0 {
		g = 1 // default to first submatch when the rule has one
	}
	lo, hi := m[0], m[1]
	if g > 0 {
		if len(m) < 2*g+2 || m[2*g] < 0 {
			return "", false
		}
		lo, hi = m[2*g], m[2*g+1]
	}
	v := strings.TrimSpace(text[lo:hi])
	return v, v != ""
}

// NormalizeValue lowercases and strips punctuation for equality comparison.
// Shared with the deduplicator and calibrator so corroboration and dedup
// agree on what "the same value" means.
func NormalizeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(v))
	lastSpace := false
	for _, r := range v {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
