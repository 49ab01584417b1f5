package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mkeane/chartex/internal/pipeline"
	"github.com/mkeane/chartex/internal/temporal"
)

// formatRecord renders one note's extraction as a text report.
func formatRecord(rec pipeline.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Note: %s\n", rec.NoteID)
	fmt.Fprintf(&b, "Quality: %s (%.2f)  completeness %.2f  validation %.2f  coherence %.2f  timeline %.2f\n",
		rec.Quality.Grade, rec.Quality.Score,
		rec.Quality.Components.Completeness, rec.Quality.Components.Validation,
		rec.Quality.Components.Coherence, rec.Quality.Components.Timeline)

	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("\nFields:\n")
	for _, name := range names {
		for _, f := range rec.Fields[name] {
			line := fmt.Sprintf("  %-22s %-40q %.2f", name, f.Value, f.Confidence)
			if f.Corroborations > 0 {
				line += fmt.Sprintf("  (+%d sources)", f.Corroborations)
			}
			b.WriteString(line + "\n")
		}
	}
	if len(names) == 0 {
		b.WriteString("  (none)\n")
	}

	if len(rec.Timeline) > 0 {
		b.WriteString("\nTimeline:\n")
		b.WriteString(formatTimeline(rec.Timeline))
	}

	return b.String()
}

// formatBatch renders a multi-note run: per-note summaries, dedup counts, and
// the merged timeline.
func formatBatch(batch pipeline.Batch) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Processed %d note(s)\n", len(batch.Records))
	for _, rec := range batch.Records {
		populated := 0
		for _, fs := range rec.Fields {
			populated += len(fs)
		}
		fmt.Fprintf(&b, "  %-20s %s (%.2f)  %d field value(s), %d timeline event(s)\n",
			rec.NoteID, rec.Quality.Grade, rec.Quality.Score, populated, len(rec.Timeline))
	}

	fmt.Fprintf(&b, "\nDedup: %d in, %d out (%d exact, %d near duplicates removed",
		batch.Dedup.InputCount, batch.Dedup.OutputCount,
		batch.Dedup.ExactDuplicatesRemoved, batch.Dedup.NearDuplicatesRemoved)
	if batch.Dedup.MergeCount > 0 {
		fmt.Fprintf(&b, ", %d merged", batch.Dedup.MergeCount)
	}
	b.WriteString(")\n")

	if len(batch.Timeline) > 0 {
		b.WriteString("\nMerged timeline:\n")
		b.WriteString(formatTimeline(batch.Timeline))
	}

	return b.String()
}

func formatTimeline(events []temporal.Event) string {
	var b strings.Builder
	for _, e := range events {
		when := "unanchored"
		if e.Date != nil {
			when = e.Date.Format("2006-01-02")
		}
		desc := e.Description
		if len(desc) > 70 {
			desc = desc[:70] + "..."
		}
		fmt.Fprintf(&b, "  %-11s %-20s [%s] %s\n", when, e.Type, e.Qualifier, desc)
	}
	return b.String()
}
