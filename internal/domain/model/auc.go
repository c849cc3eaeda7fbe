package model

import "sort"

// AUC computes the area under the ROC curve by the rank-sum method, with
// average ranks for tied scores. labels marks the positive (lost) class.
// Returns false when either class is absent, in which case the metric is
// undefined.
func AUC(scores []float64, labels []bool) (float64, bool) {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(scores))
	var pos, neg int
	for i, s := range scores {
		pairs[i] = pair{score: s, pos: labels[i]}
		if labels[i] {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, false
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Rank sum of positives, averaging ranks across ties.
	var rankSum float64
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].pos {
				rankSum += avgRank
			}
		}
		i = j
	}

	p, n := float64(pos), float64(neg)
	return (rankSum - p*(p+1)/2) / (p * n), true
}
