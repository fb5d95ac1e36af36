// Package classification resolves RxNorm medication codes to HEDIS MA
// measures. The mapping table is a fixed configuration input supplied by
// the host application; this package is a pure lookup, not a clinical
// authority.
package classification

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/carepath/pdc-engine/internal/domain"
)

// Table maps an RxNorm code to the MA measure it participates in. A medication
// absent from the table is unclassified and excluded from all measure
// buckets; spec.md's open question on combination products maps a code to at
// most one measure.
type Table struct {
	byRxNorm map[string]domain.MAMeasure
}

// NewTable builds a classification table from an RxNorm-code -> measure map.
func NewTable(mapping map[string]domain.MAMeasure) *Table {
	byRxNorm := make(map[string]domain.MAMeasure, len(mapping))
	for code, measure := range mapping {
		byRxNorm[code] = measure
	}
	return &Table{byRxNorm: byRxNorm}
}

// Classify returns the MA measure for an RxNorm code and whether it was found.
func (t *Table) Classify(rxnormCode string) (domain.MAMeasure, bool) {
	measure, ok := t.byRxNorm[rxnormCode]
	return measure, ok
}

// Len reports the number of classified codes, for config/diagnostics logging.
func (t *Table) Len() int {
	return len(t.byRxNorm)
}

// LoadTableFromFile reads a JSON object of {rxnormCode: measure} from path
// and builds a Table from it. The table is an external configuration input
// (spec.md §Out-of-scope); this is the file-based form of supplying it.
func LoadTableFromFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rxnorm table %s: %w", path, err)
	}

	var mapping map[string]domain.MAMeasure
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse rxnorm table %s: %w", path, err)
	}

	return NewTable(mapping), nil
}

// DefaultMapping is a small starter RxNorm-to-measure table covering one
// common SCD per measure, used when no rxnorm_table_path is configured.
// Production deployments should supply their own table via LoadTableFromFile.
func DefaultMapping() map[string]domain.MAMeasure {
	return map[string]domain.MAMeasure{
		"314076": domain.MAH, // lisinopril 10mg oral tablet
		"861007": domain.MAD, // metformin 500mg oral tablet
		"617310": domain.MAC, // atorvastatin 20mg oral tablet
	}
}
