package extract

import (
	"regexp"

	"github.com/mkeane/chartex/internal/temporal"
)

// Field names produced by the rule table. Scalar fields keep one primary
// value after calibration; multi-valued fields keep an ordered set.
const (
	FieldAge           = "demographics.age"
	FieldSex           = "demographics.sex"
	FieldAdmissionDate = "dates.admission"
	FieldDischargeDate = "dates.discharge"
	FieldProcedureDate = "dates.procedure"
	FieldIctusDate     = "dates.ictus"
	FieldPathology     = "pathology"
	FieldProcedures    = "procedures"
	FieldComplications = "complications"
	FieldMedications   = "medications"
	FieldHuntHess      = "scores.hunt_hess"
	FieldFisher        = "scores.fisher"
	FieldGCS           = "scores.gcs"
	FieldMRS           = "scores.mrs"
	FieldExam          = "exam"
)

// MultiValued reports whether a field keeps an ordered set of values.
func MultiValued(field string) bool {
	switch field {
	case FieldPathology, FieldProcedures, FieldComplications, FieldMedications, FieldExam:
		return true
	}
	return false
}

const datePat = temporal.DatePattern

// procedurePhrases are known procedure surface forms, compound phrases first
// so "angiogram with coiling" is one unit, never two.
const procedurePhrases = `(?:` +
	`(?:cerebral\s+|diagnostic\s+)?angiogra(?:m|phy)\s+with\s+(?:coil(?:ing)?(?:\s+embolization)?|stent(?:ing)?(?:\s+placement)?)` +
	`|craniotomy\s+for\s+(?:aneurysm\s+)?clipping` +
	`|(?:left|right)?\s*(?:decompressive\s+)?craniectomy` +
	`|craniotomy` +
	`|aneurysm\s+clipping` +
	`|coil\s+embolization` +
	`|(?:cerebral\s+|diagnostic\s+)?angiogra(?:m|phy)` +
	`|external\s+ventricular\s+drain(?:\s+placement)?` +
	`|EVD\s+placement` +
	`|(?:VP|ventriculoperitoneal)\s+shunt(?:\s+placement)?` +
	`|coiling` +
	`|clipping` +
	`|embolization` +
	`|tracheostomy` +
	`|PEG\s+(?:tube\s+)?placement` +
	`)`

// defaultRules returns the built-in extraction table. The table is data, not
// behavior: every entry records its pattern, weight, and priority so a run
// can always explain which rule produced a value.
func defaultRules() []Rule {
	return []Rule{
		// --- anchor dates -------------------------------------------------
		{
			Name:     "admission_date_labeled",
			Field:    FieldAdmissionDate,
			Pattern:  regexp.MustCompile(`(?i)(?:date of admission|admission date)\s*:?\s*(` + datePat + `)`),
			Weight:   0.95,
			Priority: 1,
			Group:    1,
		},
		{
			Name:     "admitted_on",
			Field:    FieldAdmissionDate,
			Pattern:  regexp.MustCompile(`(?i)\badmitted\s+(?:to\s+(?:the\s+)?[A-Za-z ]{1,40}?\s+)?on\s+(` + datePat + `)`),
			Weight:   0.9,
			Priority: 2,
			Group:    1,
		},
		{
			Name:     "presented_on",
			Field:    FieldAdmissionDate,
			Pattern:  regexp.MustCompile(`(?i)\bpresented\s+(?:to\s+(?:the\s+)?[A-Za-z ]{1,40}?\s+)?on\s+(` + datePat + `)`),
			Weight:   0.8,
			Priority: 3,
			Group:    1,
		},
		{
			Name:     "discharge_date_labeled",
			Field:    FieldDischargeDate,
			Pattern:  regexp.MustCompile(`(?i)(?:date of discharge|discharge date)\s*:?\s*(` + datePat + `)`),
			Weight:   0.95,
			Priority: 1,
			Group:    1,
		},
		{
			Name:     "discharged_on",
			Field:    FieldDischargeDate,
			Pattern:  regexp.MustCompile(`(?i)\bdischarged\s+(?:home\s+|to\s+[A-Za-z ]{1,40}?\s+)?on\s+(` + datePat + `)`),
			Weight:   0.9,
			Priority: 2,
			Group:    1,
		},
		{
			Name:     "procedure_date_labeled",
			Field:    FieldProcedureDate,
			Pattern:  regexp.MustCompile(`(?i)(?:date of (?:surgery|procedure|operation)|(?:surgery|procedure|operation) date)\s*:?\s*(` + datePat + `)`),
			Weight:   0.95,
			Priority: 1,
			Group:    1,
		},
		{
			Name:     "performed_on",
			Field:    FieldProcedureDate,
			Pattern:  regexp.MustCompile(`(?i)\b(?:performed|done|undertaken|carried out)\s+on\s+(` + datePat + `)`),
			Weight:   0.85,
			Priority: 2,
			Group:    1,
		},
		{
			Name:     "underwent_on",
			Field:    FieldProcedureDate,
			Pattern:  regexp.MustCompile(`(?i)\bunderwent\s+[^.;\n]{1,80}?\s+on\s+(` + datePat + `)`),
			Weight:   0.8,
			Priority: 3,
			Group:    1,
		},
		{
			Name:     "ictus_on",
			Field:    FieldIctusDate,
			Pattern:  regexp.MustCompile(`(?i)\b(?:ictus|bleed|hemorrhage|symptom onset|onset)\s+(?:was\s+)?on\s+(` + datePat + `)`),
			Weight:   0.85,
			Priority: 1,
			Group:    1,
		},

		// --- pathology (multi-valued diagnosis candidates) -----------------
		{
			Name:     "dx_sah",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\b(?:aneurysmal\s+)?subarachnoid\s+hemorrhage\b|\bSAH\b`),
			Weight:   0.9,
			Priority: 1,
			Multi:    true,
			Canon:    "subarachnoid hemorrhage (SAH)",
		},
		{
			Name:     "dx_ich",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\bintracerebral\s+hemorrhage\b|\bICH\b`),
			Weight:   0.88,
			Priority: 2,
			Multi:    true,
			Canon:    "intracerebral hemorrhage (ICH)",
		},
		{
			Name:     "dx_ivh",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\bintraventricular\s+hemorrhage\b|\bIVH\b`),
			Weight:   0.85,
			Priority: 3,
			Multi:    true,
			Canon:    "intraventricular hemorrhage (IVH)",
		},
		{
			Name:     "dx_sdh",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\bsubdural\s+hematoma\b|\bSDH\b`),
			Weight:   0.85,
			Priority: 4,
			Multi:    true,
			Canon:    "subdural hematoma (SDH)",
		},
		{
			Name:     "dx_avm",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\barteriovenous\s+malformation\b|\bAVM\b`),
			Weight:   0.85,
			Priority: 5,
			Multi:    true,
			Canon:    "arteriovenous malformation (AVM)",
		},
		{
			Name:     "dx_ischemic_stroke",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\bischemic\s+stroke\b|\bcerebral\s+infarct(?:ion)?\b`),
			Weight:   0.85,
			Priority: 6,
			Multi:    true,
			Canon:    "ischemic stroke",
		},
		{
			Name:     "dx_tbi",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\btraumatic\s+brain\s+injury\b|\bTBI\b`),
			Weight:   0.85,
			Priority: 7,
			Multi:    true,
			Canon:    "traumatic brain injury (TBI)",
		},
		{
			Name:     "dx_hydrocephalus",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\bhydrocephalus\b`),
			Weight:   0.75,
			Priority: 8,
			Multi:    true,
			Canon:    "hydrocephalus",
		},
		{
			Name:     "dx_aneurysm",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\b(?:cerebral\s+|intracranial\s+)?aneurysm\b`),
			Weight:   0.6,
			Priority: 9,
			Multi:    true,
			Canon:    "cerebral aneurysm",
		},
		// Grading scales imply an SAH-class diagnosis even when the note
		// never spells it out.
		{
			Name:     "dx_hunt_hess_implies_sah",
			Field:    FieldPathology,
			Pattern:  regexp.MustCompile(`(?i)\bhunt(?:\s+and\s+|[- ])hess\b`),
			Weight:   0.5,
			Priority: 10,
			Multi:    true,
			Canon:    "subarachnoid hemorrhage (SAH)",
		},

		// --- procedures (multi-valued, compound-aware) ---------------------
		{
			Name:     "procedure_labeled",
			Field:    FieldProcedures,
			Pattern:  regexp.MustCompile(`(?i)(?:^|\n)\s*procedure\s*:\s*([^\n.;]{3,120})`),
			Weight:   0.95,
			Priority: 1,
			Multi:    true,
			Group:    1,
		},
		{
			Name:     "procedure_trigger_verb",
			Field:    FieldProcedures,
			Pattern:  regexp.MustCompile(`(?i)\b(?:underwent|received|had|performed)\b[^.;\n]{0,40}?(` + procedurePhrases + `)`),
			Weight:   0.92,
			Priority: 2,
			Multi:    true,
			Group:    1,
		},
		{
			Name:     "procedure_phrase",
			Field:    FieldProcedures,
			Pattern:  regexp.MustCompile(`(?i)\b` + procedurePhrases),
			Weight:   0.7,
			Priority: 3,
			Multi:    true,
			Group:    0,
		},

		// --- complications (multi-valued, negation-filtered downstream) ----
		{
			Name:     "complication_developed",
			Field:    FieldComplications,
			Pattern:  regexp.MustCompile(`(?i)\b(?:developed|complicated\s+by|experienced)\s+((?:\w+\s+){0,2}?(?:vasospasm|hydrocephalus|rebleed(?:ing)?|seizures?|meningitis|ventriculitis|hyponatremia|DVT|pulmonary\s+embolism|pneumonia|infection|stroke|infarct(?:ion)?|fever))`),
			Weight:   0.9,
			Priority: 1,
			Multi:    true,
			Group:    1,
		},
		{
			Name:     "complication_keyword",
			Field:    FieldComplications,
			Pattern:  regexp.MustCompile(`(?i)\b(vasospasm|hydrocephalus|rebleed(?:ing)?|seizures?|meningitis|ventriculitis|hyponatremia|DVT|deep\s+vein\s+thrombosis|pulmonary\s+embolism|pneumonia|ventriculostomy\s+infection|stroke|infarct(?:ion)?)\b`),
			Weight:   0.75,
			Priority: 2,
			Multi:    true,
			Group:    1,
		},

		// --- medications (multi-valued, dose-aware) -------------------------
		{
			Name:     "medication_with_dose",
			Field:    FieldMedications,
			Pattern:  medicationRE(true),
			Weight:   0.9,
			Priority: 1,
			Multi:    true,
			Group:    0,
		},
		{
			Name:     "medication_bare",
			Field:    FieldMedications,
			Pattern:  medicationRE(false),
			Weight:   0.7,
			Priority: 2,
			Multi:    true,
			Group:    0,
		},

		// --- functional scores (opaque ordinals) ---------------------------
		{
			Name:     "hunt_hess_grade",
			Field:    FieldHuntHess,
			Pattern:  regexp.MustCompile(`(?i)\bhunt(?:\s+and\s+|[- ])hess(?:\s+grade)?\s*(?:grade\s*)?\(?([1-5]|I{1,3}|IV|V)\)?`),
			Weight:   0.9,
			Priority: 1,
			Group:    1,
		},
		{
			Name:     "fisher_grade",
			Field:    FieldFisher,
			Pattern:  regexp.MustCompile(`(?i)\b(?:modified\s+)?fisher(?:\s+grade)?\s*(?:grade\s*)?\(?([1-4])\)?`),
			Weight:   0.9,
			Priority: 1,
			Group:    1,
		},
		{
			Name:     "gcs_score",
			Field:    FieldGCS,
			Pattern:  regexp.MustCompile(`(?i)\b(?:GCS|glasgow\s+coma\s+scale)\s*(?:score)?\s*(?:of|:|was|=)?\s*(\d{1,2})`),
			Weight:   0.9,
			Priority: 1,
			Group:    1,
		},
		{
			Name:     "mrs_score",
			Field:    FieldMRS,
			Pattern:  regexp.MustCompile(`(?i)\b(?:mRS|modified\s+rankin(?:\s+scale)?)\s*(?:score)?\s*(?:of|:|was|=)?\s*([0-6])\b`),
			Weight:   0.9,
			Priority: 1,
			Group:    1,
		},

		// --- exam findings (multi-valued) -----------------------------------
		{
			Name:     "exam_orientation",
			Field:    FieldExam,
			Pattern:  regexp.MustCompile(`(?i)\balert\s+and\s+oriented(?:\s*x\s*[1-4])?\b`),
			Weight:   0.75,
			Priority: 1,
			Multi:    true,
			Group:    0,
		},
		{
			Name:     "exam_pupils",
			Field:    FieldExam,
			Pattern:  regexp.MustCompile(`(?i)\bpupils?\s+(?:are\s+)?(?:equal(?:,?\s+round)?(?:,?\s+(?:and\s+)?reactive(?:\s+to\s+light)?)?|PERRLA?|fixed\s+and\s+dilated|sluggish)`),
			Weight:   0.7,
			Priority: 2,
			Multi:    true,
			Group:    0,
		},
		{
			Name:     "exam_motor_deficit",
			Field:    FieldExam,
			Pattern:  regexp.MustCompile(`(?i)\b(?:left|right)(?:-sided)?\s+(?:hemiparesis|hemiplegia|weakness|facial\s+droop|pronator\s+drift)\b`),
			Weight:   0.75,
			Priority: 3,
			Multi:    true,
			Group:    0,
		},
		{
			Name:     "exam_speech",
			Field:    FieldExam,
			Pattern:  regexp.MustCompile(`(?i)\b(?:expressive|receptive|global)?\s*aphasia\b|\bdysarthria\b`),
			Weight:   0.7,
			Priority: 4,
			Multi:    true,
			Group:    0,
		},
	}
}

// medicationNames lists drug names the medication rules recognize. Kept as a
// plain list so correction-store additions can extend it at table build time.
var medicationNames = []string{
	"nimodipine", "levetiracetam", "keppra", "phenytoin", "dilantin",
	"aspirin", "clopidogrel", "heparin", "enoxaparin", "warfarin",
	"dexamethasone", "mannitol", "hypertonic saline",
	"labetalol", "nicardipine", "hydralazine",
	"vancomycin", "ceftriaxone", "cefepime",
	"acetaminophen", "oxycodone", "morphine", "fentanyl",
	"ondansetron", "docusate", "senna", "pantoprazole",
}

func medicationRE(withDose bool) *regexp.Regexp {
	names := `(?:` + joinAlternation(medicationNames) + `)`
	if withDose {
		return regexp.MustCompile(`(?i)\b` + names + `\s+\d+(?:\.\d+)?\s*(?:mg|mcg|g|units?|mEq)(?:\s*(?:PO|IV|SC|q\d+h|daily|BID|TID|QID|PRN|nightly))*\b`)
	}
	return regexp.MustCompile(`(?i)\b` + names + `\b`)
}

func joinAlternation(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += "|"
		}
		out += regexp.QuoteMeta(w)
	}
	return out
}
