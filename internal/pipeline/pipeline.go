// Package pipeline wires the extraction stages into one pure computation:
// preprocess, segment, extract, negation-filter, temporal resolution, quality
// assessment, confidence calibration, deduplication, timeline.
//
// Process handles a single note. ProcessBatch fans independent notes out over
// a bounded worker pool, then joins before the cross-note stages (dedup and
// timeline merge), which need every note's result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mkeane/chartex/internal/config"
	"github.com/mkeane/chartex/internal/corrections"
	"github.com/mkeane/chartex/internal/dedup"
	"github.com/mkeane/chartex/internal/embed"
	"github.com/mkeane/chartex/internal/extract"
	"github.com/mkeane/chartex/internal/note"
	"github.com/mkeane/chartex/internal/quality"
	"github.com/mkeane/chartex/internal/temporal"
)

// Error taxonomy. Field misses are never errors; only structurally invalid
// input or invalid configuration is fatal.
var (
	ErrEmptyInput    = errors.New("empty input text")
	ErrInputTooLarge = errors.New("input text exceeds size limit")
	ErrBadConfig     = config.ErrBadConfig
)

// qualifierRadius bounds the context window used to temporally qualify an
// event, in bytes around its evidence span.
const qualifierRadius = 60

// Input is one note plus optional pre-computed external candidates.
type Input struct {
	Note       note.RawNote
	Candidates []extract.Candidate
}

// Record is the complete extraction result for one note. Callers always get
// a full record with explicit absence markers: a missing field is simply not
// in Fields.
type Record struct {
	NoteID   string                     `json:"note_id"`
	Fields   map[string][]extract.Field `json:"fields"`
	Quality  quality.Assessment         `json:"quality"`
	Timeline []temporal.Event           `json:"timeline"`
	Dedup    dedup.Metadata             `json:"dedup"`

	normText string
}

// Batch is the result of processing multiple notes: per-note records plus the
// cross-note dedup and merged timeline.
type Batch struct {
	Records  []Record         `json:"records"`
	Dedup    dedup.Metadata   `json:"dedup"`
	Timeline []temporal.Event `json:"timeline"`
}

// Pipeline is an immutable, reusable processing instance. Configuration and
// rule tables load once here; Process never mutates shared state.
type Pipeline struct {
	settings config.Settings
	engine   *extract.Engine
	assessor *quality.Assessor
	deduper  *dedup.Deduper
}

// New builds a pipeline from validated settings, folding in the correction
// store when configured. All configuration errors surface here, never
// mid-pipeline.
func New(settings config.Settings) (*Pipeline, error) {
	overrides, err := corrections.Load(settings.CorrectionsPath)
	if err != nil {
		return nil, err
	}

	weightOverrides := map[string]float64{}
	for rule, delta := range settings.WeightOverrides {
		weightOverrides[rule] = delta
	}
	for rule, delta := range overrides.WeightDeltas {
		weightOverrides[rule] = delta
	}

	engine := extract.NewEngine(extract.Options{
		WeightOverrides:   weightOverrides,
		Normalizations:    overrides.Normalizations,
		NegationTriggers:  settings.NegationTriggers,
		AffirmingTriggers: settings.AffirmingTriggers,
	})

	assessor, err := quality.NewAssessor(settings.QualityWeights, settings.RequiredFields, settings.OptionalFields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	var embedder embed.Embedder
	if settings.ONNX != nil {
		embedder, err = embed.NewONNXEmbedder(*settings.ONNX)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
	} else {
		embedder = embed.NewHashEmbedder(0)
	}

	deduper, err := dedup.New(dedup.Options{
		Threshold:          settings.SimilarityThreshold,
		MergeComplementary: settings.MergeComplementary,
		PreserveChronology: settings.PreserveChronology,
		Embedder:           embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	return &Pipeline{
		settings: settings,
		engine:   engine,
		assessor: assessor,
		deduper:  deduper,
	}, nil
}

// Rules returns the effective extraction rule table, overrides applied.
func (p *Pipeline) Rules() []extract.Rule { return p.engine.Rules() }

// Process runs the full single-note pipeline. Pure given the pipeline's
// configuration: same input, same record.
func (p *Pipeline) Process(ctx context.Context, in Input) (Record, error) {
	raw := in.Note.Text
	if strings.TrimSpace(raw) == "" {
		return Record{}, fmt.Errorf("note %s: %w", in.Note.ID, ErrEmptyInput)
	}
	if len(raw) > p.settings.MaxNoteBytes {
		return Record{}, fmt.Errorf("note %s: %d bytes over %d limit: %w",
			in.Note.ID, len(raw), p.settings.MaxNoteBytes, ErrInputTooLarge)
	}

	text := note.Preprocess(raw)
	sections := note.Segment(text)

	fields := p.engine.Extract(text, sections)
	fields = extract.MergeExternal(fields, in.Candidates)
	if primary, ok := extract.PrimaryPathology(fields[extract.FieldPathology]); ok {
		fields[primary.Name] = []extract.Field{primary}
	}

	anchors := extract.Anchors(fields)
	refs := temporal.Resolve(temporal.ExtractReferences(text), anchors)
	warnUnresolved(in.Note.ID, refs)

	assessment := p.assessor.Assess(fields, sections, refs)
	fields = quality.NewCalibrator(assessment.Grade).Calibrate(fields)

	events := buildEvents(text, refs, fields)

	dedupResult, err := p.deduper.Dedup(ctx, []dedup.Fragment{{ID: in.Note.ID, Ordinal: 0, Text: text}})
	if err != nil {
		return Record{}, err
	}

	return Record{
		NoteID:   in.Note.ID,
		Fields:   fields,
		Quality:  assessment,
		Timeline: temporal.BuildTimeline(events),
		Dedup:    dedupResult.Metadata,
		normText: text,
	}, nil
}

// ProcessBatch processes independent notes in parallel, bounded by
// GOMAXPROCS workers, then runs the cross-note stages once every per-note
// result is in.
func (p *Pipeline) ProcessBatch(ctx context.Context, ins []Input) (Batch, error) {
	if len(ins) == 0 {
		return Batch{}, ErrEmptyInput
	}

	records := make([]Record, len(ins))
	errs := make([]error, len(ins))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(ins) {
		workers = len(ins)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				records[i], errs[i] = p.Process(ctx, ins[i])
			}
		}()
	}
	for i := range ins {
		jobs <- i
	}
	close(jobs)
	wg.Wait() // barrier: cross-note stages need every note's result

	for i, err := range errs {
		if err != nil {
			return Batch{}, fmt.Errorf("processing note %d: %w", i, err)
		}
	}

	fragments := make([]dedup.Fragment, len(records))
	for i, r := range records {
		fragments[i] = dedup.Fragment{ID: r.NoteID, Ordinal: i, Text: r.normText}
	}
	dedupResult, err := p.deduper.Dedup(ctx, fragments)
	if err != nil {
		return Batch{}, err
	}

	// Merge timelines: re-number ordinals by note order so cross-note ties
	// stay stable, then sort once.
	var merged []temporal.Event
	for _, r := range records {
		for _, e := range r.Timeline {
			e.Ordinal = len(merged)
			merged = append(merged, e)
		}
	}

	return Batch{
		Records:  records,
		Dedup:    dedupResult.Metadata,
		Timeline: temporal.BuildTimeline(merged),
	}, nil
}

// anchorFieldEventTypes maps date fields to their timeline event type.
var anchorFieldEventTypes = map[string]string{
	extract.FieldAdmissionDate: "admission",
	extract.FieldDischargeDate: "discharge",
	extract.FieldProcedureDate: "procedure",
	extract.FieldIctusDate:     "ictus",
}

// buildEvents turns date fields and temporal references into timeline
// events. Every candidate becomes an event; unresolved references stay
// undated and land in the trailing bucket, never dropped.
func buildEvents(text string, refs []temporal.Reference, fields map[string][]extract.Field) []temporal.Event {
	var events []temporal.Event

	type span struct{ start, end int }
	var anchorSpans []span

	for fieldName, eventType := range anchorFieldEventTypes {
		for _, f := range fields[fieldName] {
			parsed, ok := temporal.ParseDate(f.Value)
			if !ok {
				continue
			}
			date := parsed
			// External candidates carry no evidence span.
			window := ""
			if f.Start >= 0 {
				window = strings.TrimSpace(temporal.ContextWindow(text, f.Start, f.End, qualifierRadius))
			}
			events = append(events, temporal.Event{
				Date:        &date,
				Type:        eventType,
				Description: window,
				Qualifier:   temporal.Qualify(window),
				Sources:     []string{fieldName},
				Ordinal:     f.Start,
			})
			if f.Start >= 0 {
				anchorSpans = append(anchorSpans, span{f.Start, f.End})
			}
		}
	}

	for _, r := range refs {
		// Absolute mentions already covered by an anchor field span would be
		// double counted.
		if r.Kind == temporal.KindAbsolute {
			covered := false
			for _, s := range anchorSpans {
				if r.Start < s.end && s.start < r.End {
					covered = true
					break
				}
			}
			if covered {
				continue
			}
		}

		eventType := "date_mention"
		if r.Kind == temporal.KindRelative {
			eventType = string(r.AnchorKind) + "_relative"
		}
		window := strings.TrimSpace(temporal.ContextWindow(text, r.Start, r.End, qualifierRadius))
		events = append(events, temporal.Event{
			Date:        r.Resolved,
			Type:        eventType,
			Description: window,
			Qualifier:   temporal.Qualify(window),
			Sources:     []string{"temporal"},
			Ordinal:     r.Start,
		})
	}

	return events
}

func warnUnresolved(noteID string, refs []temporal.Reference) {
	for _, r := range refs {
		if r.Kind == temporal.KindRelative && r.Resolved == nil {
			logrus.WithFields(logrus.Fields{
				"note":   noteID,
				"marker": r.RawText,
				"anchor": r.AnchorKind,
			}).Warn("relative date marker left unresolved; anchor missing or ambiguous")
		}
	}
}
