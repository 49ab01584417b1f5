// Package corrections loads the confirmed-correction store: a read-only
// SQLite database of value normalizations and per-rule weight deltas,
// accumulated by reviewers outside this pipeline. The pipeline treats it as
// optional, versioned configuration, loaded once at construction.
package corrections

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mkeane/chartex/internal/config"
)

// SchemaVersion is the correction schema this build understands. Rows with a
// higher version are skipped with a warning rather than misapplied.
const SchemaVersion = 1

// Overrides is the immutable load result.
type Overrides struct {
	// WeightDeltas adjust rule weights by rule name; the extraction engine
	// clamps the result to [0,1].
	WeightDeltas map[string]float64

	// Normalizations map field name -> normalized raw value -> confirmed
	// canonical value.
	Normalizations map[string]map[string]string
}

// Empty reports whether the store contributed nothing.
func (o Overrides) Empty() bool {
	return len(o.WeightDeltas) == 0 && len(o.Normalizations) == 0
}

// Load reads the correction store at path. An empty path or missing file
// yields empty overrides; a malformed database is a configuration error.
func Load(path string) (Overrides, error) {
	out := Overrides{
		WeightDeltas:   map[string]float64{},
		Normalizations: map[string]map[string]string{},
	}
	if path == "" {
		return out, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return out, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return out, fmt.Errorf("%w: opening corrections db %s: %v", config.ErrBadConfig, path, err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT field, raw_value, normalized_value, weight_delta, version
		FROM corrections
		ORDER BY field, raw_value
	`)
	if err != nil {
		return out, fmt.Errorf("%w: querying corrections db %s: %v", config.ErrBadConfig, path, err)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var field, raw, normalized string
		var delta float64
		var version int
		if err := rows.Scan(&field, &raw, &normalized, &delta, &version); err != nil {
			return out, fmt.Errorf("%w: scanning corrections row: %v", config.ErrBadConfig, err)
		}
		if version > SchemaVersion {
			skipped++
			continue
		}

		// Two row shapes: a normalization (field + raw + normalized) and a
		// rule-weight delta (raw names the rule, normalized empty).
		if normalized != "" && field != "" {
			byField, ok := out.Normalizations[field]
			if !ok {
				byField = map[string]string{}
				out.Normalizations[field] = byField
			}
			byField[raw] = normalized
		}
		if delta != 0 && normalized == "" {
			if delta < -1 || delta > 1 {
				return out, fmt.Errorf("%w: weight delta %v for rule %q out of [-1,1]", config.ErrBadConfig, delta, raw)
			}
			out.WeightDeltas[raw] = delta
		}
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("%w: iterating corrections rows: %v", config.ErrBadConfig, err)
	}
	if skipped > 0 {
		logrus.WithFields(logrus.Fields{"path": path, "rows": skipped, "supported": SchemaVersion}).
			Warn("skipped correction rows from a newer schema version")
	}

	return out, nil
}
