// Package quality scores input-note quality and calibrates extraction
// confidence against it.
//
// The assessor produces a weighted score over four components (completeness,
// validation, coherence, timeline presence) and maps it through fixed cut
// points to a grade. The calibrator rescales each candidate's raw confidence
// by a grade multiplier and a bounded corroboration bonus. Both are pure:
// same inputs, same outputs.
package quality

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mkeane/chartex/internal/extract"
	"github.com/mkeane/chartex/internal/note"
	"github.com/mkeane/chartex/internal/temporal"
)

// Grade buckets a quality score. Thresholds are fixed cut points on score.
type Grade string

const (
	GradeExcellent Grade = "EXCELLENT"
	GradeGood      Grade = "GOOD"
	GradeFair      Grade = "FAIR"
	GradePoor      Grade = "POOR"
	GradeVeryPoor  Grade = "VERY_POOR"
)

// GradeFor maps a score in [0,1] to its grade.
func GradeFor(score float64) Grade {
	switch {
	case score >= 0.85:
		return GradeExcellent
	case score >= 0.70:
		return GradeGood
	case score >= 0.50:
		return GradeFair
	case score >= 0.30:
		return GradePoor
	default:
		return GradeVeryPoor
	}
}

// ComponentScores are the four normalized quality components.
type ComponentScores struct {
	Completeness float64 `json:"completeness"`
	Validation   float64 `json:"validation"`
	Coherence    float64 `json:"coherence"`
	Timeline     float64 `json:"timeline"`
}

// Assessment is the assessor's output. Grade is a pure function of Score.
type Assessment struct {
	Score      float64         `json:"score"`
	Grade      Grade           `json:"grade"`
	Components ComponentScores `json:"components"`
}

// Weights blend the four components into the final score. They must sum to 1.
type Weights struct {
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Validation   float64 `yaml:"validation" json:"validation"`
	Coherence    float64 `yaml:"coherence" json:"coherence"`
	Timeline     float64 `yaml:"timeline" json:"timeline"`
}

// DefaultWeights are the shipped component weights.
var DefaultWeights = Weights{
	Completeness: 0.35,
	Validation:   0.25,
	Coherence:    0.25,
	Timeline:     0.15,
}

// Validate rejects weights outside [0,1] or not summing to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"completeness": w.Completeness,
		"validation":   w.Validation,
		"coherence":    w.Coherence,
		"timeline":     w.Timeline,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("quality weight %s = %v out of [0,1]", name, v)
		}
	}
	sum := w.Completeness + w.Validation + w.Coherence + w.Timeline
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("quality weights sum to %v, want 1.0", sum)
	}
	return nil
}

// defaultRequiredFields are weighted twice the optional fields in the
// completeness component.
var defaultRequiredFields = []string{
	extract.FieldAge,
	extract.FieldSex,
	extract.FieldAdmissionDate,
	extract.FieldPathology,
}

var defaultOptionalFields = []string{
	extract.FieldDischargeDate,
	extract.FieldProcedureDate,
	extract.FieldProcedures,
	extract.FieldComplications,
	extract.FieldMedications,
	extract.FieldHuntHess,
	extract.FieldGCS,
	extract.FieldExam,
}

// expectedSections drive the coherence component. Labels match the
// segmenter's canonical labels.
var expectedSections = []string{"history", "course", "exam", "medications", "discharge"}

// Assessor scores note quality. Zero-config callers use NewAssessor with
// DefaultWeights and nil field lists.
type Assessor struct {
	weights  Weights
	required []string
	optional []string
}

// NewAssessor builds an assessor, failing fast on invalid weights. Nil field
// lists fall back to the built-in required/optional sets.
func NewAssessor(w Weights, required, optional []string) (*Assessor, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if required == nil {
		required = defaultRequiredFields
	}
	if optional == nil {
		optional = defaultOptionalFields
	}
	return &Assessor{weights: w, required: required, optional: optional}, nil
}

// Assess scores extracted fields, sections, and temporal references. A short,
// minimally structured note legitimately lands in the lowest grade; nothing
// here is tuned to avoid that.
func (a *Assessor) Assess(fields map[string][]extract.Field, sections []note.Section, refs []temporal.Reference) Assessment {
	c := ComponentScores{
		Completeness: a.completeness(fields),
		Validation:   validation(fields),
		Coherence:    coherence(sections),
		Timeline:     timelinePresence(refs),
	}
	score := a.weights.Completeness*c.Completeness +
		a.weights.Validation*c.Validation +
		a.weights.Coherence*c.Coherence +
		a.weights.Timeline*c.Timeline
	return Assessment{Score: score, Grade: GradeFor(score), Components: c}
}

// completeness is the populated fraction of the field inventory, required
// fields counting double.
func (a *Assessor) completeness(fields map[string][]extract.Field) float64 {
	populated := func(name string) bool {
		for _, f := range fields[name] {
			if f.Value != "" {
				return true
			}
		}
		return false
	}

	var got, total float64
	for _, name := range a.required {
		total += 2
		if populated(name) {
			got += 2
		}
	}
	for _, name := range a.optional {
		total++
		if populated(name) {
			got++
		}
	}
	if total == 0 {
		return 0
	}
	return got / total
}

// validationChecks is the fixed consistency-check inventory: three date-order
// checks plus the age, GCS, Hunt-Hess, and Fisher range checks.
const validationChecks = 7

// validation is the passed fraction of the fixed check inventory. A check
// whose fields are missing counts as failed, never skipped, so blanking a
// field can only lower the component.
func validation(fields map[string][]extract.Field) float64 {
	passed := 0
	check := func(ok bool) {
		if ok {
			passed++
		}
	}

	firstValue := func(name string) (string, bool) {
		for _, f := range fields[name] {
			if f.Value != "" {
				return f.Value, true
			}
		}
		return "", false
	}
	checkRange := func(name string, lo, hi int) {
		v, ok := firstValue(name)
		if !ok {
			check(false)
			return
		}
		n, err := strconv.Atoi(v)
		check(err == nil && n >= lo && n <= hi)
	}

	admission, haveAdmission := parseDateField(fields, extract.FieldAdmissionDate)
	discharge, haveDischarge := parseDateField(fields, extract.FieldDischargeDate)
	procedure, haveProcedure := parseDateField(fields, extract.FieldProcedureDate)

	check(haveAdmission && haveDischarge && !discharge.Before(admission))
	check(haveAdmission && haveProcedure && !procedure.Before(admission))
	check(haveDischarge && haveProcedure && !procedure.After(discharge))
	checkRange(extract.FieldAge, 0, 120)
	checkRange(extract.FieldGCS, 3, 15)
	if v, ok := firstValue(extract.FieldHuntHess); ok {
		// Roman-numeral grades pass unexamined; the range check needs an
		// integer.
		n, err := strconv.Atoi(v)
		check(err != nil || (n >= 1 && n <= 5))
	} else {
		check(false)
	}
	checkRange(extract.FieldFisher, 1, 4)

	return float64(passed) / float64(validationChecks)
}

// coherence is the present fraction of expected narrative sections.
func coherence(sections []note.Section) float64 {
	present := make(map[string]bool, len(sections))
	for _, s := range sections {
		if s.Label != note.LabelUnclassified {
			present[s.Label] = true
		}
	}
	got := 0
	for _, label := range expectedSections {
		if present[label] {
			got++
		}
	}
	return float64(got) / float64(len(expectedSections))
}

// timelinePresence gives half credit for any temporal reference at all and
// the rest proportionally to how many resolved.
func timelinePresence(refs []temporal.Reference) float64 {
	if len(refs) == 0 {
		return 0
	}
	resolved := 0
	for _, r := range refs {
		if r.Resolved != nil {
			resolved++
		}
	}
	return 0.5 + 0.5*float64(resolved)/float64(len(refs))
}

func parseDateField(fields map[string][]extract.Field, name string) (time.Time, bool) {
	for _, f := range fields[name] {
		if parsed, ok := temporal.ParseDate(f.Value); ok {
			return parsed, true
		}
	}
	return time.Time{}, false
}
