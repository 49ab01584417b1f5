package extract

import (
	"regexp"
	"strings"

	"github.com/mkeane/chartex/internal/note"
	"github.com/mkeane/chartex/internal/temporal"
)

// scalarFields and multiFields drive the generic engine. Demographics has
// its own extractor below because one match yields two fields.
var scalarFields = []string{
	FieldAdmissionDate, FieldDischargeDate, FieldProcedureDate, FieldIctusDate,
	FieldHuntHess, FieldFisher, FieldGCS, FieldMRS,
}

var multiFields = []string{
	FieldPathology, FieldProcedures, FieldComplications, FieldMedications, FieldExam,
}

// Extract runs every field extractor against normalized text and returns
// candidates grouped by field name. Complication and exam candidates have
// already been through the negation filter; everything else is untouched.
// A field with no candidates is simply absent from the map — never an error.
func (e *Engine) Extract(text string, sections []note.Section) map[string][]Field {
	out := make(map[string][]Field)

	add := func(fields ...Field) {
		for _, f := range fields {
			f.Section = note.SectionFor(sections, f.Start)
			out[f.Name] = append(out[f.Name], f)
		}
	}

	add(e.extractDemographics(text)...)

	for _, field := range scalarFields {
		if f, ok := e.extractScalar(text, field); ok {
			add(f)
		}
	}
	for _, field := range multiFields {
		candidates := e.extractMulti(text, field)
		if field == FieldComplications || field == FieldExam {
			candidates = e.negation.Filter(text, candidates)
		}
		for i := range candidates {
			candidates[i].Section = note.SectionFor(sections, candidates[i].Start)
		}
		if len(candidates) > 0 {
			out[field] = DedupeByValue(candidates)
		}
	}

	return out
}

var (
	ageSexLeadingRE = regexp.MustCompile(`(?i)\b(\d{1,3})[- ]year[- ]old\s*(male|female|man|woman|gentleman|lady|M|F)?\b`)
	// Trailing "NNX" form: after a comma, paren, or line start anywhere in
	// the line, or bare at line end ("... is 55M").
	ageSexTrailingRE = regexp.MustCompile(`(?m)(?:[,(]\s*|^)(\d{1,3})([MF])\b|(\d{1,3})([MF])\.?[ \t]*$`)
)

// extractDemographics handles the two age+sex surface forms: a leading
// "55-year-old male" and a trailing "55M", delimited or bare at line end.
// One match produces separate age and sex fields sharing the evidence span.
func (e *Engine) extractDemographics(text string) []Field {
	mk := func(name, value, rule string, weight float64, start, end int) Field {
		return Field{
			Name:          name,
			Value:         value,
			Confidence:    weight,
			RawConfidence: weight,
			Rule:          rule,
			Start:         start,
			End:           end,
			Source:        SourceRules,
		}
	}

	if m := ageSexLeadingRE.FindStringSubmatchIndex(text); m != nil {
		fields := []Field{mk(FieldAge, text[m[2]:m[3]], "age_sex_leading", 0.95, m[0], m[1])}
		if m[4] >= 0 {
			sex := canonicalSex(text[m[4]:m[5]])
			if sex != "" {
				fields = append(fields, mk(FieldSex, sex, "age_sex_leading", 0.95, m[0], m[1]))
			}
		}
		return fields
	}

	if m := ageSexTrailingRE.FindStringSubmatchIndex(text); m != nil {
		g := 2 // groups 1-2: delimited branch; groups 3-4: line-end branch
		if m[2] < 0 {
			g = 6
		}
		return []Field{
			mk(FieldAge, text[m[g]:m[g+1]], "age_sex_trailing", 0.9, m[0], m[1]),
			mk(FieldSex, canonicalSex(text[m[g+2]:m[g+3]]), "age_sex_trailing", 0.9, m[0], m[1]),
		}
	}

	return nil
}

func canonicalSex(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male", "man", "gentleman":
		return "M"
	case "f", "female", "woman", "lady":
		return "F"
	}
	return ""
}

// PrimaryPathology picks the canonical primary diagnosis: the
// highest-confidence pathology candidate, ties broken by document order.
// It is set whenever at least one diagnosis candidate exists.
func PrimaryPathology(candidates []Field) (Field, bool) {
	if len(candidates) == 0 {
		return Field{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	best.Name = "pathology.primary"
	return best, true
}

// Anchors derives temporal anchors from extracted date fields. Every parsed
// candidate is reported; the temporal package decides whether a kind is
// unambiguous enough to resolve against.
func Anchors(fields map[string][]Field) *temporal.Anchors {
	anchors := temporal.NewAnchors()
	kinds := map[string]temporal.AnchorKind{
		FieldAdmissionDate: temporal.AnchorAdmission,
		FieldDischargeDate: temporal.AnchorDischarge,
		FieldProcedureDate: temporal.AnchorProcedure,
		FieldIctusDate:     temporal.AnchorIctus,
	}
	for fieldName, kind := range kinds {
		for _, f := range fields[fieldName] {
			if t, ok := temporal.ParseDate(f.Value); ok {
				anchors.Add(kind, t)
			}
		}
	}
	return anchors
}
