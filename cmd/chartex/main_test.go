package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkeane/chartex/internal/pipeline"
)

const sampleNote = `Patient: John Doe, 55M
Date of Admission: 10/09/2025

History of Present Illness:
CT showed diffuse subarachnoid hemorrhage. Hunt and Hess grade 3.

Hospital Course:
Left craniotomy for aneurysm clipping performed on October 11, 2025. No vasospasm.

Discharged home on 10/20/2025.`

func writeNote(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// absentConfig keeps tests independent of any ~/.chartex/config.yaml.
func absentConfig(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "no-config.yaml")
}

func TestParseFlags(t *testing.T) {
	opts, pos, err := parseFlags([]string{
		"--config", "/tmp/c.yaml",
		"--threshold=0.9",
		"--json",
		"--merge-complementary",
		"note1.txt", "note2.txt",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/tmp/c.yaml" {
		t.Errorf("configPath = %q", opts.configPath)
	}
	if opts.threshold != "0.9" {
		t.Errorf("threshold = %q", opts.threshold)
	}
	if !opts.jsonOut || !opts.mergeComplementary {
		t.Errorf("bool flags = json %v, merge %v", opts.jsonOut, opts.mergeComplementary)
	}
	if len(pos) != 2 || pos[0] != "note1.txt" {
		t.Errorf("positional = %v", pos)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	if _, _, err := parseFlags([]string{"--threshold"}); err == nil {
		t.Error("expected error for flag without value")
	}
	if _, _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRunExtractJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "doe.txt", sampleNote)

	var out bytes.Buffer
	err := runExtract([]string{"--json", "--config", absentConfig(t), path}, &out)
	if err != nil {
		t.Fatalf("runExtract: %v", err)
	}

	var rec pipeline.Record
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if rec.NoteID != "doe" {
		t.Errorf("note id = %q, want doe (filename stem)", rec.NoteID)
	}
	age := rec.Fields["demographics.age"]
	if len(age) != 1 || age[0].Value != "55" {
		t.Errorf("age = %+v, want 55", age)
	}
}

func TestRunExtractTextReport(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "doe.txt", sampleNote)

	var out bytes.Buffer
	if err := runExtract([]string{"--config", absentConfig(t), path}, &out); err != nil {
		t.Fatalf("runExtract: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Note: doe", "Quality:", "demographics.age", "Timeline:"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestRunExtractMissingFile(t *testing.T) {
	var out bytes.Buffer
	err := runExtract([]string{"--config", absentConfig(t), "/nonexistent/note.txt"}, &out)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRunExtractRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "doe.txt", sampleNote)

	var out bytes.Buffer
	err := runExtract([]string{"--threshold", "2.0", "--config", absentConfig(t), path}, &out)
	if err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
}

func TestRunBatchOverDirectory(t *testing.T) {
	dir := t.TempDir()
	writeNote(t, dir, "a.txt", sampleNote)
	writeNote(t, dir, "b.txt", sampleNote)
	writeNote(t, dir, "ignored.json", "{}")

	var out bytes.Buffer
	err := runBatch([]string{"--json", "--config", absentConfig(t), dir}, &out)
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	var batch pipeline.Batch
	if err := json.Unmarshal(out.Bytes(), &batch); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if len(batch.Records) != 2 {
		t.Fatalf("records = %d, want 2 (.json files skipped)", len(batch.Records))
	}
	if batch.Records[0].NoteID != "a" || batch.Records[1].NoteID != "b" {
		t.Errorf("record order = %s, %s, want a, b", batch.Records[0].NoteID, batch.Records[1].NoteID)
	}
	if batch.Dedup.ExactDuplicatesRemoved != 1 {
		t.Errorf("exact duplicates removed = %d, want 1", batch.Dedup.ExactDuplicatesRemoved)
	}
}

func TestRunBatchTextReport(t *testing.T) {
	dir := t.TempDir()
	writeNote(t, dir, "a.txt", sampleNote)

	var out bytes.Buffer
	if err := runBatch([]string{"--config", absentConfig(t), dir}, &out); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Processed 1 note(s)", "Dedup:", "Merged timeline:"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestRunConfigShowsProvenance(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("similarity:\n  threshold: 0.8\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := runConfig([]string{"--config", cfgPath, "--threshold", "0.9"}, &out)
	if err != nil {
		t.Fatalf("runConfig: %v", err)
	}

	var resolved struct {
		Threshold struct {
			Value  string `json:"value"`
			Source string `json:"source"`
		} `json:"similarity_threshold"`
	}
	if err := json.Unmarshal(out.Bytes(), &resolved); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if resolved.Threshold.Value != "0.9" || resolved.Threshold.Source != "cli" {
		t.Errorf("threshold = %+v, want cli 0.9", resolved.Threshold)
	}
}

func TestCollectNoteFilesOrdersDirEntries(t *testing.T) {
	dir := t.TempDir()
	writeNote(t, dir, "c.txt", "x")
	writeNote(t, dir, "a.md", "x")
	writeNote(t, dir, "b.txt", "x")

	files, err := collectNoteFiles([]string{dir})
	if err != nil {
		t.Fatalf("collectNoteFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v", files)
	}
	for i, want := range []string{"a.md", "b.txt", "c.txt"} {
		if filepath.Base(files[i]) != want {
			t.Errorf("files[%d] = %s, want %s", i, filepath.Base(files[i]), want)
		}
	}
}

func TestNoteID(t *testing.T) {
	if got := noteID("/notes/doe.txt"); got != "doe" {
		t.Errorf("noteID = %q, want doe", got)
	}
	if got := noteID("-"); got != "stdin" {
		t.Errorf("noteID(-) = %q, want stdin", got)
	}
}
