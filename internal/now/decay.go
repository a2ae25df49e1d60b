package now

import "math"

// Ignore-decay policy. A single dismissal dampens a candidate; three or
// more reach the cap and effectively suppress it.
const (
	IgnorePenaltyStep = 0.15
	IgnorePenaltyCap  = 0.45

	penaltyEpsilon = 1e-9
)

// IgnorePenalty returns the score penalty for a candidate dismissed count
// times.
func IgnorePenalty(count int) float64 {
	if count <= 0 {
		return 0
	}
	penalty := float64(count) * IgnorePenaltyStep
	// 3*0.15 lands a hair under 0.45 in floating point; snap to the cap.
	if penalty >= IgnorePenaltyCap-penaltyEpsilon {
		return IgnorePenaltyCap
	}
	return penalty
}

// ignoreCounts indexes dismissal counters by candidate key. Repeated keys
// are summed.
func ignoreCounts(ignored []IgnoredCandidate) map[string]int {
	if len(ignored) == 0 {
		return nil
	}
	counts := make(map[string]int, len(ignored))
	for _, ic := range ignored {
		if ic.Key == "" || ic.Count <= 0 {
			continue
		}
		counts[ic.Key] += ic.Count
	}
	return counts
}

// applyDecay subtracts the ignore penalty from score, flooring at zero.
func applyDecay(score float64, count int) (decayed, penalty float64) {
	penalty = IgnorePenalty(count)
	return math.Max(0, score-penalty), penalty
}
