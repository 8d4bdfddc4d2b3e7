package stats

import (
	"github.com/verte-zerg/drillog/internal/model"
)

// WeakestWords returns up to n words with the highest error rate. Words never failed are
// left out, so the result may be shorter than n.
func WeakestWords(stats []model.WordStat, n int) []model.WordStat {
	candidates := make([]model.WordStat, 0, len(stats))
	for _, s := range stats {
		if s.ErrorCount > 0 {
			candidates = append(candidates, s)
		}
	}
	sortByErrorRate(candidates)
	if n > 0 && n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}
