package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolvePrecedenceConfigEnvCLI(t *testing.T) {
	path := writeConfig(t, `similarity:
  threshold: 0.8
corrections:
  db_path: ~/from-config.db
`)

	t.Setenv("CHARTEX_THRESHOLD", "0.9")
	t.Setenv("CHARTEX_CORRECTIONS", "/from-env.db")

	resolved, err := Resolve(ResolveOptions{
		ConfigPath:   path,
		CLIThreshold: "0.95",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if resolved.Threshold.Source != SourceCLI || resolved.Threshold.Value != "0.95" {
		t.Errorf("threshold = %+v, want cli 0.95", resolved.Threshold)
	}
	if resolved.CorrectionsPath.Source != SourceEnv || resolved.CorrectionsPath.Value != "/from-env.db" {
		t.Errorf("corrections = %+v, want env /from-env.db", resolved.CorrectionsPath)
	}
}

func TestResolveMissingFileIsFine(t *testing.T) {
	resolved, err := Resolve(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("missing config file must not error: %v", err)
	}
	s, err := resolved.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want default", s.SimilarityThreshold)
	}
	if s.MaxNoteBytes != DefaultMaxNoteBytes {
		t.Errorf("max note bytes = %d, want default", s.MaxNoteBytes)
	}
	if !s.PreserveChronology {
		t.Error("preserve chronology must default to true")
	}
}

func TestSettingsRejectsBadThreshold(t *testing.T) {
	for _, v := range []string{"1.5", "-0.2", "zero"} {
		resolved, err := Resolve(ResolveOptions{
			ConfigPath:   filepath.Join(t.TempDir(), "absent.yaml"),
			CLIThreshold: v,
		})
		if err != nil {
			t.Fatalf("Resolve(%q): %v", v, err)
		}
		if _, err := resolved.Settings(); !errors.Is(err, ErrBadConfig) {
			t.Errorf("threshold %q: error = %v, want ErrBadConfig", v, err)
		}
	}
}

func TestSettingsRejectsBadQualityWeights(t *testing.T) {
	path := writeConfig(t, `quality:
  weights:
    completeness: 0.5
    validation: 0.5
    coherence: 0.5
    timeline: 0.5
`)
	resolved, err := Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := resolved.Settings(); !errors.Is(err, ErrBadConfig) {
		t.Errorf("error = %v, want ErrBadConfig", err)
	}
}

func TestSettingsRejectsHalfConfiguredONNX(t *testing.T) {
	resolved, err := Resolve(ResolveOptions{
		ConfigPath:   filepath.Join(t.TempDir(), "absent.yaml"),
		CLIONNXModel: "/models/minilm.onnx",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := resolved.Settings(); !errors.Is(err, ErrBadConfig) {
		t.Errorf("error = %v, want ErrBadConfig for model without tokenizer", err)
	}
}

func TestSettingsLoadsTables(t *testing.T) {
	path := writeConfig(t, `similarity:
  threshold: 0.9
  merge_complementary: true
  preserve_chronology: false
rules:
  weight_overrides:
    dx_aneurysm: 0.2
negation:
  triggers: ["no", "without"]
  affirming: ["developed"]
quality:
  required_fields: ["demographics.age"]
`)
	resolved, err := Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s, err := resolved.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.SimilarityThreshold != 0.9 {
		t.Errorf("threshold = %v", s.SimilarityThreshold)
	}
	if !s.MergeComplementary || s.PreserveChronology {
		t.Errorf("similarity flags = merge %v, chronology %v", s.MergeComplementary, s.PreserveChronology)
	}
	if s.WeightOverrides["dx_aneurysm"] != 0.2 {
		t.Errorf("weight override = %v", s.WeightOverrides["dx_aneurysm"])
	}
	if len(s.NegationTriggers) != 2 || len(s.AffirmingTriggers) != 1 {
		t.Errorf("trigger lists = %v / %v", s.NegationTriggers, s.AffirmingTriggers)
	}
	if len(s.RequiredFields) != 1 || s.RequiredFields[0] != "demographics.age" {
		t.Errorf("required fields = %v", s.RequiredFields)
	}
}

func TestSettingsRejectsOutOfRangeWeightOverride(t *testing.T) {
	path := writeConfig(t, `rules:
  weight_overrides:
    dx_sah: 2.0
`)
	resolved, err := Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := resolved.Settings(); !errors.Is(err, ErrBadConfig) {
		t.Errorf("error = %v, want ErrBadConfig", err)
	}
}
