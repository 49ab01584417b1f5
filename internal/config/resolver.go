// Package config resolves pipeline configuration from, in rising precedence,
// an optional YAML file, environment variables, and CLI flags. Every resolved
// scalar carries provenance so `chartex` can report where a value came from.
//
// Rule tables, quality weights, and trigger lists ship as embedded defaults;
// the YAML file overrides them. Validation is fail-fast: a bad threshold or
// weight table surfaces ErrBadConfig at load, never mid-pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mkeane/chartex/internal/embed"
	"github.com/mkeane/chartex/internal/quality"
)

// ErrBadConfig marks configuration rejected at initialization.
var ErrBadConfig = errors.New("invalid configuration")

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a configuration scalar plus where it came from.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carry the CLI-level inputs into resolution.
type ResolveOptions struct {
	ConfigPath         string
	CLIThreshold       string
	CLICorrectionsPath string
	CLIONNXModel       string
	CLIONNXTokenizer   string
}

// ResolvedConfig is the provenance-annotated resolution result. Settings()
// turns it into the typed, validated form the pipeline consumes.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	Threshold       ResolvedValue `json:"similarity_threshold"`
	MaxNoteBytes    ResolvedValue `json:"max_note_bytes"`
	CorrectionsPath ResolvedValue `json:"corrections_path"`
	ONNXModel       ResolvedValue `json:"onnx_model"`
	ONNXTokenizer   ResolvedValue `json:"onnx_tokenizer"`

	file *fileConfig
}

type fileConfig struct {
	Similarity struct {
		Threshold          float64 `yaml:"threshold"`
		MergeComplementary bool    `yaml:"merge_complementary"`
		PreserveChronology *bool   `yaml:"preserve_chronology"`
	} `yaml:"similarity"`
	Limits struct {
		MaxNoteBytes int `yaml:"max_note_bytes"`
	} `yaml:"limits"`
	Quality struct {
		Weights        *quality.Weights `yaml:"weights"`
		RequiredFields []string         `yaml:"required_fields"`
		OptionalFields []string         `yaml:"optional_fields"`
	} `yaml:"quality"`
	Rules struct {
		WeightOverrides map[string]float64 `yaml:"weight_overrides"`
	} `yaml:"rules"`
	Negation struct {
		Triggers  []string `yaml:"triggers"`
		Affirming []string `yaml:"affirming"`
	} `yaml:"negation"`
	Corrections struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"corrections"`
	Embedder struct {
		ModelPath     string `yaml:"model_path"`
		TokenizerPath string `yaml:"tokenizer_path"`
		MaxTokens     int    `yaml:"max_tokens"`
	} `yaml:"embedder"`
}

// Settings is the typed, validated configuration the pipeline runs on.
type Settings struct {
	SimilarityThreshold float64
	MergeComplementary  bool
	PreserveChronology  bool
	MaxNoteBytes        int

	QualityWeights quality.Weights
	RequiredFields []string
	OptionalFields []string

	WeightOverrides   map[string]float64
	NegationTriggers  []string
	AffirmingTriggers []string

	CorrectionsPath string
	ONNX            *embed.ONNXConfig
}

// Defaults shipped with the binary.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultMaxNoteBytes        = 1 << 20
)

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chartex", "config.yaml")
}

// Resolve loads the file (missing file is fine) and layers env and CLI on
// top, config < env < cli.
func Resolve(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	out.file = cfg

	if cfg != nil {
		if cfg.Similarity.Threshold != 0 {
			apply(&out.Threshold, strconv.FormatFloat(cfg.Similarity.Threshold, 'f', -1, 64), SourceConfig, path)
		}
		if cfg.Limits.MaxNoteBytes != 0 {
			apply(&out.MaxNoteBytes, strconv.Itoa(cfg.Limits.MaxNoteBytes), SourceConfig, path)
		}
		apply(&out.CorrectionsPath, cfg.Corrections.DBPath, SourceConfig, path)
		apply(&out.ONNXModel, cfg.Embedder.ModelPath, SourceConfig, path)
		apply(&out.ONNXTokenizer, cfg.Embedder.TokenizerPath, SourceConfig, path)
	}

	applyEnv(&out.Threshold, "CHARTEX_THRESHOLD")
	applyEnv(&out.MaxNoteBytes, "CHARTEX_MAX_NOTE_BYTES")
	applyEnv(&out.CorrectionsPath, "CHARTEX_CORRECTIONS")
	applyEnv(&out.ONNXModel, "CHARTEX_ONNX_MODEL")
	applyEnv(&out.ONNXTokenizer, "CHARTEX_ONNX_TOKENIZER")

	apply(&out.Threshold, opts.CLIThreshold, SourceCLI, "--threshold")
	apply(&out.CorrectionsPath, opts.CLICorrectionsPath, SourceCLI, "--corrections")
	apply(&out.ONNXModel, opts.CLIONNXModel, SourceCLI, "--onnx-model")
	apply(&out.ONNXTokenizer, opts.CLIONNXTokenizer, SourceCLI, "--onnx-tokenizer")

	if out.CorrectionsPath.Value != "" {
		out.CorrectionsPath.Value = expandUserPath(out.CorrectionsPath.Value)
	}

	return out, nil
}

// Settings validates and types the resolution. All failures wrap ErrBadConfig.
func (r ResolvedConfig) Settings() (Settings, error) {
	s := Settings{
		SimilarityThreshold: DefaultSimilarityThreshold,
		PreserveChronology:  true,
		MaxNoteBytes:        DefaultMaxNoteBytes,
		QualityWeights:      quality.DefaultWeights,
		CorrectionsPath:     r.CorrectionsPath.Value,
	}

	if v := strings.TrimSpace(r.Threshold.Value); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, fmt.Errorf("%w: similarity threshold %q (%s): %v", ErrBadConfig, v, provenance(r.Threshold), err)
		}
		s.SimilarityThreshold = f
	}
	if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
		return s, fmt.Errorf("%w: similarity threshold %v out of (0,1]", ErrBadConfig, s.SimilarityThreshold)
	}

	if v := strings.TrimSpace(r.MaxNoteBytes.Value); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return s, fmt.Errorf("%w: max note bytes %q (%s)", ErrBadConfig, v, provenance(r.MaxNoteBytes))
		}
		s.MaxNoteBytes = n
	}

	if f := r.file; f != nil {
		s.MergeComplementary = f.Similarity.MergeComplementary
		if f.Similarity.PreserveChronology != nil {
			s.PreserveChronology = *f.Similarity.PreserveChronology
		}
		if f.Quality.Weights != nil {
			s.QualityWeights = *f.Quality.Weights
		}
		s.RequiredFields = f.Quality.RequiredFields
		s.OptionalFields = f.Quality.OptionalFields
		s.WeightOverrides = f.Rules.WeightOverrides
		s.NegationTriggers = f.Negation.Triggers
		s.AffirmingTriggers = f.Negation.Affirming
	}

	if err := s.QualityWeights.Validate(); err != nil {
		return s, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	for rule, delta := range s.WeightOverrides {
		if delta < -1 || delta > 1 {
			return s, fmt.Errorf("%w: weight override for rule %q is %v, out of [-1,1]", ErrBadConfig, rule, delta)
		}
	}

	if r.ONNXModel.Value != "" || r.ONNXTokenizer.Value != "" {
		if r.ONNXModel.Value == "" || r.ONNXTokenizer.Value == "" {
			return s, fmt.Errorf("%w: onnx embedder needs both model and tokenizer paths", ErrBadConfig)
		}
		maxTok := 0
		if r.file != nil {
			maxTok = r.file.Embedder.MaxTokens
		}
		s.ONNX = &embed.ONNXConfig{
			ModelPath:     expandUserPath(r.ONNXModel.Value),
			TokenizerPath: expandUserPath(r.ONNXTokenizer.Value),
			MaxTokens:     maxTok,
		}
	}

	return s, nil
}

func provenance(v ResolvedValue) string {
	if v.From == "" {
		return string(v.Source)
	}
	return fmt.Sprintf("%s %s", v.Source, v.From)
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrBadConfig, path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
