package scoring

import (
	"sort"

	"trinity-trader/internal/analysis"
)

// TopSignals returns up to limit actionable results, highest score first.
// Ties keep their input order.
func TopSignals(results []*analysis.ConfluenceResult, limit int) []*analysis.ConfluenceResult {
	signals := make([]*analysis.ConfluenceResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.Actionable() {
			signals = append(signals, r)
		}
	}
	SortByScore(signals)
	if limit > 0 && len(signals) > limit {
		signals = signals[:limit]
	}
	return signals
}

// SortByScore sorts results by score descending, in place.
func SortByScore(results []*analysis.ConfluenceResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
