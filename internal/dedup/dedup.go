// Package dedup collapses near-duplicate note fragments.
//
// Pairwise similarity is a hybrid score over normalized text:
//
//	0.4·tokenJaccard + 0.2·normalizedLevenshtein + 0.4·semantic
//
// Normalized-equal strings are exact duplicates and score 1.0 without
// computing the semantic term. Clustering walks fragments in input order
// against a winner list, so output order and cluster membership are
// reproducible for a fixed input order and threshold.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/mkeane/chartex/internal/embed"
)

// DefaultThreshold is the similarity above which fragments cluster.
const DefaultThreshold = 0.85

// Hybrid score component weights.
const (
	weightJaccard     = 0.4
	weightLevenshtein = 0.2
	weightSemantic    = 0.4
)

// Fragment is one deduplication input. Ordinal is the input position and
// drives all ordering tie-breaks.
type Fragment struct {
	ID      string `json:"id,omitempty"`
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Options configures a Deduper.
type Options struct {
	// Threshold is the clustering similarity cutoff, (0,1]. Zero selects
	// DefaultThreshold; anything else out of range is a configuration error.
	Threshold float64

	// MergeComplementary appends a loser's non-duplicate sentences to the
	// cluster representative instead of discarding them.
	MergeComplementary bool

	// PreserveChronology keeps survivor order equal to input order. When
	// false, survivors sort by descending text length, ties by input order.
	PreserveChronology bool

	// Embedder supplies the semantic term. Nil selects the deterministic
	// hash embedder.
	Embedder embed.Embedder
}

// Metadata reports what deduplication did.
type Metadata struct {
	InputCount             int `json:"input_count"`
	OutputCount            int `json:"output_count"`
	ExactDuplicatesRemoved int `json:"exact_duplicates_removed"`
	NearDuplicatesRemoved  int `json:"near_duplicates_removed"`
	MergeCount             int `json:"merge_count"`
}

// Cluster is one group of collapsed fragments. MemberOrdinals includes the
// representative's own ordinal.
type Cluster struct {
	Representative Fragment `json:"representative"`
	MemberOrdinals []int    `json:"member_ordinals"`
}

// Result is the deduplication output. Fragments are the surviving
// representatives; every input fragment is accounted for in exactly one
// cluster, never silently dropped.
type Result struct {
	Fragments []Fragment `json:"fragments"`
	Clusters  []Cluster  `json:"clusters"`
	Metadata  Metadata   `json:"metadata"`
}

// Deduper clusters fragments. Immutable after construction.
type Deduper struct {
	threshold          float64
	mergeComplementary bool
	preserveChronology bool
	embedder           embed.Embedder
}

// New builds a deduper, failing fast on an out-of-range threshold.
func New(opts Options) (*Deduper, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold %v out of (0,1]", opts.Threshold)
	}
	embedder := opts.Embedder
	if embedder == nil {
		embedder = embed.NewHashEmbedder(0)
	}
	return &Deduper{
		threshold:          threshold,
		mergeComplementary: opts.MergeComplementary,
		preserveChronology: opts.PreserveChronology,
		embedder:           embedder,
	}, nil
}

// Threshold reports the effective clustering cutoff.
func (d *Deduper) Threshold() float64 { return d.threshold }

type workFragment struct {
	frag    Fragment
	norm    string
	vec     []float32 // lazily computed
	members []int
	merges  int
}

// Dedup clusters fragments and returns the survivors. Deduplicating an
// already-deduplicated set is a no-op beyond recounting.
func (d *Deduper) Dedup(ctx context.Context, fragments []Fragment) (Result, error) {
	meta := Metadata{InputCount: len(fragments)}
	if len(fragments) == 0 {
		return Result{Metadata: meta}, nil
	}

	var winners []*workFragment
	for _, f := range fragments {
		candidate := &workFragment{frag: f, norm: normalizeText(f.Text), members: []int{f.Ordinal}}

		bestIdx := -1
		bestSim := 0.0
		bestExact := false
		for idx, w := range winners {
			sim, exact, err := d.similarity(ctx, w, candidate)
			if err != nil {
				return Result{}, err
			}
			if sim >= d.threshold && sim > bestSim {
				bestSim = sim
				bestIdx = idx
				bestExact = exact
			}
			if exact {
				break // confirmed exact duplicate, stop comparing
			}
		}

		if bestIdx == -1 {
			winners = append(winners, candidate)
			continue
		}

		winner := winners[bestIdx]
		winner.members = append(winner.members, f.Ordinal)
		if bestExact {
			meta.ExactDuplicatesRemoved++
			continue
		}
		meta.NearDuplicatesRemoved++
		d.absorb(winner, candidate, &meta)
	}

	if !d.preserveChronology {
		sort.SliceStable(winners, func(i, j int) bool {
			li, lj := len(winners[i].frag.Text), len(winners[j].frag.Text)
			if li != lj {
				return li > lj
			}
			return winners[i].frag.Ordinal < winners[j].frag.Ordinal
		})
	}

	out := Result{Metadata: meta}
	for _, w := range winners {
		out.Fragments = append(out.Fragments, w.frag)
		out.Clusters = append(out.Clusters, Cluster{Representative: w.frag, MemberOrdinals: w.members})
	}
	out.Metadata.OutputCount = len(out.Fragments)
	return out, nil
}

// absorb folds a near-duplicate loser into its winner: the longer fragment's
// text wins, or complementary sentences merge when enabled.
func (d *Deduper) absorb(winner, loser *workFragment, meta *Metadata) {
	if d.mergeComplementary {
		merged, changed := mergeComplementary(winner.frag.Text, loser.frag.Text)
		if changed {
			winner.frag.Text = merged
			winner.norm = normalizeText(merged)
			winner.vec = nil
			meta.MergeCount++
		}
		return
	}
	if len(loser.frag.Text) > len(winner.frag.Text) {
		winner.frag.Text = loser.frag.Text
		winner.norm = loser.norm
		winner.vec = loser.vec
	}
}

// similarity computes the hybrid score, short-circuiting exact duplicates
// before the semantic term.
func (d *Deduper) similarity(ctx context.Context, a, b *workFragment) (float64, bool, error) {
	if a.norm == "" || b.norm == "" {
		return 0, false, nil
	}
	if a.norm == b.norm {
		return 1, true, nil
	}

	j := tokenJaccard(a.norm, b.norm)
	l := normalizedLevenshtein(a.norm, b.norm)

	if a.vec == nil {
		vec, err := d.embedder.Embed(ctx, a.norm)
		if err != nil {
			return 0, false, fmt.Errorf("embedding fragment %d: %w", a.frag.Ordinal, err)
		}
		a.vec = vec
	}
	if b.vec == nil {
		vec, err := d.embedder.Embed(ctx, b.norm)
		if err != nil {
			return 0, false, fmt.Errorf("embedding fragment %d: %w", b.frag.Ordinal, err)
		}
		b.vec = vec
	}
	s := embed.Cosine(a.vec, b.vec)
	if s < 0 {
		s = 0
	}

	return weightJaccard*j + weightLevenshtein*l + weightSemantic*s, false, nil
}

// mergeComplementary appends loser sentences whose normalized form is absent
// from the winner, separated by a single space, original order preserved.
func mergeComplementary(winner, loser string) (string, bool) {
	seen := map[string]struct{}{}
	for _, s := range splitSentences(winner) {
		seen[normalizeText(s)] = struct{}{}
	}
	merged := winner
	changed := false
	for _, s := range splitSentences(loser) {
		key := normalizeText(s)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = strings.TrimSpace(merged) + " " + s
		changed = true
	}
	return merged, changed
}

func splitSentences(text string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part+".")
		}
	}
	return out
}

func normalizeText(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(v))
	lastSpace := false
	for _, r := range v {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenJaccard(a, b string) float64 {
	aSet := map[string]struct{}{}
	for _, t := range strings.Fields(a) {
		aSet[t] = struct{}{}
	}
	bSet := map[string]struct{}{}
	for _, t := range strings.Fields(b) {
		bSet[t] = struct{}{}
	}
	if len(aSet) == 0 && len(bSet) == 0 {
		return 1
	}
	inter := 0
	for t := range aSet {
		if _, ok := bSet[t]; ok {
			inter++
		}
	}
	union := len(aSet) + len(bSet) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func normalizedLevenshtein(a, b string) float64 {
	ar := []rune(a)
	br := []rune(b)
	if len(ar) == 0 && len(br) == 0 {
		return 1
	}
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	if maxLen == 0 {
		return 0
	}
	d := make([][]int, len(ar)+1)
	for i := range d {
		d[i] = make([]int, len(br)+1)
	}
	for i := 0; i <= len(ar); i++ {
		d[i][0] = i
	}
	for j := 0; j <= len(br); j++ {
		d[0][j] = j
	}
	for i := 1; i <= len(ar); i++ {
		for j := 1; j <= len(br); j++ {
			cost := 0
			if ar[i-1] != br[j-1] {
				cost = 1
			}
			del := d[i-1][j] + 1
			ins := d[i][j-1] + 1
			sub := d[i-1][j-1] + cost
			d[i][j] = minInt(del, minInt(ins, sub))
		}
	}
	dist := d[len(ar)][len(br)]
	return 1 - float64(dist)/float64(maxLen)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
