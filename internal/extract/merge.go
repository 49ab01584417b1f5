package extract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Candidate is a pre-computed extraction supplied by an out-of-process
// collaborator (typically a model-backed service). Value may arrive as a
// plain string or as a loosely structured object; CoerceValue flattens it
// exactly once, here, before rule-table merge.
type Candidate struct {
	Field      string      `json:"field"`
	Value      interface{} `json:"value"`
	Confidence float64     `json:"confidence"`
}

// preferredSubfieldKeys are tried in order when flattening a structured
// candidate value to a string.
var preferredSubfieldKeys = []string{"value", "name", "text", "description", "primary"}

// CoerceValue flattens an external candidate value into a plain string.
// Strings pass through; maps yield their best-known subfield (or a join of
// available sub-values); lists join their coerced elements. Anything
// unrecognized degrades to best-effort fmt formatting with a warning rather
// than an error — callers always get a value or empty.
func CoerceValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}:
		for _, key := range preferredSubfieldKeys {
			if sub, ok := val[key]; ok {
				if s := CoerceValue(sub); s != "" {
					return s
				}
			}
		}
		// No known subfield: join whatever scalar sub-values exist, in key
		// order, so the flattened value is identical across runs.
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var parts []string
		for _, key := range keys {
			if s, ok := val[key].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		if len(parts) > 0 {
			logrus.WithField("keys", len(val)).Warn("structured candidate value had no preferred subfield; joined scalar sub-values")
			return strings.Join(parts, " ")
		}
		logrus.WithField("keys", len(val)).Warn("structured candidate value had no usable sub-values")
		return ""
	case []interface{}:
		var parts []string
		for _, item := range val {
			if s := CoerceValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		logrus.WithField("type", fmt.Sprintf("%T", v)).Warn("unexpected candidate value shape; using best-effort formatting")
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// MergeExternal folds externally supplied candidates into rule-extracted
// fields. A candidate whose normalized value already exists for the field is
// corroboration (the calibrator counts sources), not a new value; otherwise
// it joins the candidate list marked with SourceExternal.
func MergeExternal(fields map[string][]Field, candidates []Candidate) map[string][]Field {
	if len(candidates) == 0 {
		return fields
	}
	out := make(map[string][]Field, len(fields))
	for k, v := range fields {
		out[k] = append([]Field(nil), v...)
	}

	for _, c := range candidates {
		value := CoerceValue(c.Value)
		if value == "" || strings.TrimSpace(c.Field) == "" {
			continue
		}
		conf := clamp01(c.Confidence)

		norm := NormalizeValue(value)
		duplicate := false
		for i, existing := range out[c.Field] {
			if NormalizeValue(existing.Value) == norm {
				// Same value from an independent source: corroboration,
				// not a new candidate. Keep the stronger raw confidence.
				out[c.Field][i].Corroborations++
				if conf > existing.RawConfidence {
					out[c.Field][i].RawConfidence = conf
					out[c.Field][i].Confidence = conf
				}
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		out[c.Field] = append(out[c.Field], Field{
			Name:          c.Field,
			Value:         value,
			Confidence:    conf,
			RawConfidence: conf,
			Source:        SourceExternal,
			Start:         -1,
			End:           -1,
		})
	}
	return out
}
