package now

import "sort"

// Confidence and tie-break policy.
const (
	ConfidenceScoreWeight      = 0.55
	ConfidenceSeparationWeight = 0.35
	// SeparationScale is the score gap that counts as full separation.
	SeparationScale = 0.5
	HardSignalBonus = 0.10
	// hardUrgency is the urgency above which a candidate earns the bonus.
	hardUrgency = 0.9

	// ConfidenceThreshold is the minimum confidence for a pick.
	ConfidenceThreshold = 0.60
	// MarginThreshold is the minimum score gap between top and runner-up.
	MarginThreshold = 0.12
)

// Policy groups the resolver thresholds.
type Policy struct {
	ConfidenceThreshold float64
	MarginThreshold     float64
	FuturesLimit        int
}

// DefaultPolicy returns the default resolver thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: ConfidenceThreshold,
		MarginThreshold:     MarginThreshold,
		FuturesLimit:        DefaultFuturesLimit,
	}
}

// rank sorts candidates by decayed score, highest first. Equal scores are
// ordered by key so output is stable; the margin gate still reports them as
// ambiguous.
func rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Key < cands[j].Key
	})
}

// confidence scores how clearly top stands out. A missing runner-up counts
// as a runner-up with score zero, so a lone candidate gets separation
// top/SeparationScale rather than a separation term of 0. Under a zero
// separation a single critical blocker (0.55*0.499 + 0.10) could never pass
// the confidence gate. Pending product confirmation.
func confidence(top *Candidate, runnerUp *Candidate) float64 {
	runnerScore := 0.0
	if runnerUp != nil {
		runnerScore = runnerUp.Score
	}
	separation := clamp01((top.Score - runnerScore) / SeparationScale)

	bonus := 0.0
	if top.Kind == KindBlocker || top.Features.Urgency > hardUrgency {
		bonus = HardSignalBonus
	}
	return clamp01(ConfidenceScoreWeight*clamp01(top.Score) +
		ConfidenceSeparationWeight*separation +
		bonus)
}

// verdict is the resolver's decision for a ranked candidate list.
type verdict struct {
	reason     NoClearReason // empty when resolved
	confidence float64
}

func (v verdict) resolved() bool { return v.reason == "" }

// resolve applies the confidence gate and then the margin gate. Both are
// independent reasons to decline a pick.
func resolve(ranked []Candidate, p Policy) verdict {
	if len(ranked) == 0 {
		return verdict{reason: ReasonEmpty}
	}
	top := &ranked[0]
	var runnerUp *Candidate
	if len(ranked) > 1 {
		runnerUp = &ranked[1]
	}

	conf := confidence(top, runnerUp)
	if conf < p.ConfidenceThreshold {
		return verdict{reason: ReasonLowConfidence, confidence: conf}
	}
	if runnerUp != nil && top.Score-runnerUp.Score < p.MarginThreshold {
		return verdict{reason: ReasonAmbiguous, confidence: conf}
	}
	return verdict{confidence: conf}
}
