package temporal

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDateFormats(t *testing.T) {
	want := date(2025, time.October, 11)
	cases := []string{
		"2025-10-11",
		"10/11/2025",
		"October 11, 2025",
		"Oct 11 2025",
		"11 October 2025",
	}
	for _, c := range cases {
		got, ok := ParseDate(c)
		if !ok {
			t.Errorf("ParseDate(%q) failed", c)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", c, got, want)
		}
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, ok := ParseDate("not a date"); ok {
		t.Error("expected failure for non-date input")
	}
}

func TestExtractReferencesAbsolute(t *testing.T) {
	refs := ExtractReferences("Coiling performed on October 11, 2025 and repeat CT 10/14/2025.")
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2: %+v", len(refs), refs)
	}
	for _, r := range refs {
		if r.Kind != KindAbsolute {
			t.Errorf("ref %q kind = %q, want absolute", r.RawText, r.Kind)
		}
		if r.Resolved == nil {
			t.Errorf("absolute ref %q not resolved", r.RawText)
		}
	}
}

func TestExtractReferencesRelativePhrasings(t *testing.T) {
	cases := []struct {
		text   string
		anchor AnchorKind
		offset int
	}{
		{"stable on POD 3", AnchorProcedure, 3},
		{"seen post-op day 2", AnchorProcedure, 2},
		{"postoperative day 5 exam", AnchorProcedure, 5},
		{"post-procedure day 1 angiogram", AnchorProcedure, 1},
		{"vasospasm on post-ictus day 7", AnchorIctus, 7},
		{"post-bleed day 4 TCD", AnchorIctus, 4},
		{"transferred on hospital day 3", AnchorAdmission, 2},
		{"HD 2: febrile", AnchorAdmission, 1},
		{"CT on day 2 after admission", AnchorAdmission, 2},
		{"3 days after surgery", AnchorProcedure, 3},
	}
	for _, tc := range cases {
		refs := ExtractReferences(tc.text)
		if len(refs) != 1 {
			t.Errorf("%q: got %d refs, want 1", tc.text, len(refs))
			continue
		}
		r := refs[0]
		if r.Kind != KindRelative {
			t.Errorf("%q: kind = %q, want relative", tc.text, r.Kind)
		}
		if r.AnchorKind != tc.anchor {
			t.Errorf("%q: anchor = %q, want %q", tc.text, r.AnchorKind, tc.anchor)
		}
		if r.OffsetDays != tc.offset {
			t.Errorf("%q: offset = %d, want %d", tc.text, r.OffsetDays, tc.offset)
		}
		if r.Resolved != nil {
			t.Errorf("%q: relative ref resolved without anchors", tc.text)
		}
	}
}

func TestResolveWithSingleAnchor(t *testing.T) {
	anchors := NewAnchors()
	anchors.Add(AnchorProcedure, date(2025, time.October, 11))

	refs := Resolve(ExtractReferences("Extubated on POD 3."), anchors)
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	want := date(2025, time.October, 14)
	if refs[0].Resolved == nil || !refs[0].Resolved.Equal(want) {
		t.Errorf("resolved = %v, want %v", refs[0].Resolved, want)
	}
	if refs[0].AnchorUsed != AnchorProcedure {
		t.Errorf("anchor used = %q, want procedure", refs[0].AnchorUsed)
	}
}

func TestResolveConflictingAnchorsStaysUnresolved(t *testing.T) {
	anchors := NewAnchors()
	anchors.Add(AnchorProcedure, date(2025, time.October, 11))
	anchors.Add(AnchorProcedure, date(2025, time.October, 12))

	refs := Resolve(ExtractReferences("Extubated on POD 3."), anchors)
	if refs[0].Resolved != nil {
		t.Errorf("expected unresolved ref with conflicting anchors, got %v", refs[0].Resolved)
	}
}

func TestResolveDuplicateAnchorIsNotAConflict(t *testing.T) {
	anchors := NewAnchors()
	anchors.Add(AnchorAdmission, date(2025, time.October, 8))
	anchors.Add(AnchorAdmission, date(2025, time.October, 8))

	refs := Resolve(ExtractReferences("Febrile on hospital day 2."), anchors)
	want := date(2025, time.October, 9)
	if refs[0].Resolved == nil || !refs[0].Resolved.Equal(want) {
		t.Errorf("resolved = %v, want %v", refs[0].Resolved, want)
	}
}

func TestResolveMissingAnchorStaysUnresolved(t *testing.T) {
	refs := Resolve(ExtractReferences("Stable on POD 2."), NewAnchors())
	if refs[0].Resolved != nil {
		t.Error("expected unresolved ref with no anchors")
	}
}

func TestQualifyPrecedence(t *testing.T) {
	cases := []struct {
		context string
		want    Qualifier
	}{
		{"Hunt-Hess grade 3 on admission", QualifierAdmission},
		{"mRS 1 at discharge", QualifierDischarge},
		{"headache free on POD 2", QualifierProcedureRelative},
		{"history of hypertension", QualifierPast},
		{"will follow up in clinic", QualifierFuture},
		{"alert and oriented", QualifierPresent},
		// admission keyword wins over a past-tense cue in the same window
		{"known hypertension noted on admission", QualifierAdmission},
		{"", QualifierPresent},
	}
	for _, tc := range cases {
		if got := Qualify(tc.context); got != tc.want {
			t.Errorf("Qualify(%q) = %q, want %q", tc.context, got, tc.want)
		}
	}
}

func TestBuildTimelineOrderAndTrailingBucket(t *testing.T) {
	d1 := date(2025, time.October, 9)
	d2 := date(2025, time.October, 11)
	events := []Event{
		{Date: &d2, Description: "coiling", Ordinal: 0},
		{Description: "vasospasm watch", Ordinal: 1},
		{Date: &d1, Description: "admission", Ordinal: 2},
		{Description: "follow-up angiogram", Ordinal: 3},
	}

	out := BuildTimeline(events)
	if len(out) != len(events) {
		t.Fatalf("timeline dropped events: got %d, want %d", len(out), len(events))
	}

	wantOrder := []string{"admission", "coiling", "vasospasm watch", "follow-up angiogram"}
	for i, w := range wantOrder {
		if out[i].Description != w {
			t.Errorf("event %d = %q, want %q", i, out[i].Description, w)
		}
	}
	if !out[2].Unanchored() || !out[3].Unanchored() {
		t.Error("unanchored events must trail in extraction order")
	}
}

func TestBuildTimelineTieBreakByDocumentOrder(t *testing.T) {
	d := date(2025, time.October, 11)
	events := []Event{
		{Date: &d, Description: "second", Ordinal: 5},
		{Date: &d, Description: "first", Ordinal: 1},
	}
	out := BuildTimeline(events)
	if out[0].Description != "first" || out[1].Description != "second" {
		t.Errorf("tie-break failed: %q then %q", out[0].Description, out[1].Description)
	}
}
