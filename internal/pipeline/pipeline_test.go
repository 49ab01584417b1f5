package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mkeane/chartex/internal/config"
	"github.com/mkeane/chartex/internal/extract"
	"github.com/mkeane/chartex/internal/note"
	"github.com/mkeane/chartex/internal/quality"
)

const dischargeSummary = `Patient: John Doe, 55M
Date of Admission: 10/09/2025

History of Present Illness:
Sudden onset worst headache of life. CT showed diffuse subarachnoid hemorrhage. Hunt and Hess grade 3, Fisher grade 4 on arrival.

Hospital Course:
Left craniotomy for aneurysm clipping performed on October 11, 2025. Daily TCDs performed. No vasospasm. Patient remained neurologically intact.

Discharge Medications:
Nimodipine 60mg PO q4h

Discharged home on 10/20/2025.`

func defaultSettings() config.Settings {
	return config.Settings{
		SimilarityThreshold: 0.85,
		PreserveChronology:  true,
		MaxNoteBytes:        config.DefaultMaxNoteBytes,
		QualityWeights:      quality.DefaultWeights,
	}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(defaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	rec, err := p.Process(context.Background(), Input{Note: note.RawNote{ID: "n1", Text: dischargeSummary}})
	if err != nil {
		t.Fatal(err)
	}

	age := rec.Fields[extract.FieldAge]
	if len(age) != 1 || age[0].Value != "55" {
		t.Errorf("age = %+v, want 55", age)
	}
	sex := rec.Fields[extract.FieldSex]
	if len(sex) != 1 || sex[0].Value != "M" {
		t.Errorf("sex = %+v, want M", sex)
	}
	if len(age) == 1 && age[0].Confidence < 0.8 {
		t.Errorf("age confidence %v below HIGH threshold", age[0].Confidence)
	}

	primary := rec.Fields["pathology.primary"]
	if len(primary) != 1 || !strings.Contains(primary[0].Value, "SAH") {
		t.Errorf("pathology.primary = %+v, want an SAH-class diagnosis", primary)
	}

	foundClipping := false
	for _, proc := range rec.Fields[extract.FieldProcedures] {
		if strings.Contains(proc.Value, "clipping") {
			foundClipping = true
		}
	}
	if !foundClipping {
		t.Errorf("procedures = %+v, want the clipping procedure", rec.Fields[extract.FieldProcedures])
	}

	for _, c := range rec.Fields[extract.FieldComplications] {
		if strings.Contains(strings.ToLower(c.Value), "vasospasm") {
			t.Errorf("negated vasospasm surfaced as complication: %+v", c)
		}
	}

	if rec.Quality.Grade != quality.GradeGood {
		t.Errorf("quality grade = %s (score %v), want GOOD", rec.Quality.Grade, rec.Quality.Score)
	}

	for name, candidates := range rec.Fields {
		for _, f := range candidates {
			if !f.Calibrated {
				t.Errorf("%s candidate %q left uncalibrated", name, f.Value)
			}
		}
	}
}

func TestProcessTimelineOrdering(t *testing.T) {
	p := newTestPipeline(t)
	rec, err := p.Process(context.Background(), Input{Note: note.RawNote{ID: "n1", Text: dischargeSummary}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Timeline) < 3 {
		t.Fatalf("timeline = %d events, want at least admission/procedure/discharge", len(rec.Timeline))
	}
	if rec.Timeline[0].Type != "admission" {
		t.Errorf("first event type = %s, want admission", rec.Timeline[0].Type)
	}
	last := rec.Timeline[len(rec.Timeline)-1]
	if last.Type != "discharge" {
		t.Errorf("last event type = %s, want discharge", last.Type)
	}
	for i := 1; i < len(rec.Timeline); i++ {
		a, b := rec.Timeline[i-1], rec.Timeline[i]
		if a.Date != nil && b.Date != nil && a.Date.After(*b.Date) {
			t.Errorf("timeline out of order at %d: %v after %v", i, a.Date, b.Date)
		}
	}
}

func TestProcessUnresolvedMarkerKeptInTrailingBucket(t *testing.T) {
	p := newTestPipeline(t)
	text := "Patient: Jane Roe, 62F\nDeveloped hydrocephalus on POD 3. No procedure date documented."
	rec, err := p.Process(context.Background(), Input{Note: note.RawNote{ID: "n2", Text: text}})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range rec.Timeline {
		if e.Type == "procedure_relative" {
			found = true
			if !e.Unanchored() {
				t.Errorf("POD marker resolved without an anchor: %+v", e)
			}
		}
	}
	if !found {
		t.Errorf("unresolved POD marker dropped from timeline: %+v", rec.Timeline)
	}
}

func TestProcessEmptyInput(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Process(context.Background(), Input{Note: note.RawNote{ID: "n1", Text: "   \n\t "}})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("error = %v, want ErrEmptyInput", err)
	}
}

func TestProcessOversizedInput(t *testing.T) {
	settings := defaultSettings()
	settings.MaxNoteBytes = 64
	p, err := New(settings)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Process(context.Background(), Input{Note: note.RawNote{ID: "n1", Text: strings.Repeat("headache ", 20)}})
	if !errors.Is(err, ErrInputTooLarge) {
		t.Errorf("error = %v, want ErrInputTooLarge", err)
	}
}

func TestProcessMergesExternalCandidates(t *testing.T) {
	p := newTestPipeline(t)
	in := Input{
		Note: note.RawNote{ID: "n1", Text: dischargeSummary},
		Candidates: []extract.Candidate{
			{Field: extract.FieldMedications, Value: "aspirin 81mg", Confidence: 0.8},
			{Field: extract.FieldMedications, Value: "Nimodipine 60mg PO q4h", Confidence: 0.7},
		},
	}
	rec, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	var external, corroborated bool
	for _, m := range rec.Fields[extract.FieldMedications] {
		if m.Source == extract.SourceExternal && strings.Contains(m.Value, "aspirin") {
			external = true
			if !m.Calibrated {
				t.Error("external candidate skipped calibration")
			}
		}
		if strings.Contains(strings.ToLower(m.Value), "nimodipine") && m.Corroborations > 0 {
			corroborated = true
		}
	}
	if !external {
		t.Errorf("new external candidate missing: %+v", rec.Fields[extract.FieldMedications])
	}
	if !corroborated {
		t.Errorf("duplicate external value did not corroborate: %+v", rec.Fields[extract.FieldMedications])
	}
}

func TestProcessDeterministic(t *testing.T) {
	p := newTestPipeline(t)
	in := Input{Note: note.RawNote{ID: "n1", Text: dischargeSummary}}
	a, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if a.Quality != b.Quality {
		t.Errorf("quality differs across runs: %+v vs %+v", a.Quality, b.Quality)
	}
	if len(a.Timeline) != len(b.Timeline) {
		t.Errorf("timeline lengths differ: %d vs %d", len(a.Timeline), len(b.Timeline))
	}
	for name, fields := range a.Fields {
		other := b.Fields[name]
		if len(fields) != len(other) {
			t.Errorf("%s candidate counts differ", name)
			continue
		}
		for i := range fields {
			if fields[i] != other[i] {
				t.Errorf("%s candidate %d differs across runs", name, i)
			}
		}
	}
}

func TestProcessBatch(t *testing.T) {
	p := newTestPipeline(t)
	ins := []Input{
		{Note: note.RawNote{ID: "a", Ordinal: 0, Text: dischargeSummary}},
		{Note: note.RawNote{ID: "b", Ordinal: 1, Text: dischargeSummary}},
		{Note: note.RawNote{ID: "c", Ordinal: 2, Text: "Patient: Jane Roe, 62F\nAdmitted on 11/02/2025 with intracerebral hemorrhage."}},
	}
	batch, err := p.ProcessBatch(context.Background(), ins)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(batch.Records))
	}
	for i, want := range []string{"a", "b", "c"} {
		if batch.Records[i].NoteID != want {
			t.Errorf("record %d = %s, want %s (input order)", i, batch.Records[i].NoteID, want)
		}
	}
	if batch.Dedup.ExactDuplicatesRemoved != 1 {
		t.Errorf("exact duplicates removed = %d, want 1", batch.Dedup.ExactDuplicatesRemoved)
	}
	if batch.Dedup.OutputCount != 2 {
		t.Errorf("dedup output = %d, want 2", batch.Dedup.OutputCount)
	}

	wantEvents := 0
	for _, r := range batch.Records {
		wantEvents += len(r.Timeline)
	}
	if len(batch.Timeline) != wantEvents {
		t.Errorf("merged timeline = %d events, want %d (none dropped)", len(batch.Timeline), wantEvents)
	}
	for i := 1; i < len(batch.Timeline); i++ {
		a, b := batch.Timeline[i-1], batch.Timeline[i]
		if a.Date != nil && b.Date != nil && a.Date.After(*b.Date) {
			t.Errorf("merged timeline out of order at %d", i)
		}
		if a.Date == nil && b.Date != nil {
			t.Errorf("dated event after unanchored bucket at %d", i)
		}
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.ProcessBatch(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("error = %v, want ErrEmptyInput", err)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	settings := defaultSettings()
	settings.SimilarityThreshold = 3
	if _, err := New(settings); !errors.Is(err, ErrBadConfig) {
		t.Errorf("error = %v, want ErrBadConfig", err)
	}

	settings = defaultSettings()
	settings.QualityWeights = quality.Weights{Completeness: 1, Validation: 1, Coherence: 1, Timeline: 1}
	if _, err := New(settings); !errors.Is(err, ErrBadConfig) {
		t.Errorf("error = %v, want ErrBadConfig", err)
	}
}
