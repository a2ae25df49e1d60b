package now

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Default feature weights. They are the single tunable policy knob of the
// scorer and must sum to 1.0.
const (
	WeightUrgency     = 0.30
	WeightBlockedness = 0.22
	WeightRecency     = 0.18
	WeightLeverage    = 0.18
	WeightUserIntent  = 0.12
)

// Feature values.
const (
	UrgencyCritical = 1.0
	UrgencyHigh     = 0.7
	UrgencyBaseline = 0.2

	BlockednessBlocker  = 1.0
	BlockednessBaseline = 0.2

	LeverageBlocker  = 0.85
	LeverageDecision = 0.80
	LeverageBaseline = 0.35

	// RecencyBaseline is used when nothing is known about when an item was
	// last touched.
	RecencyBaseline = 0.2

	// UserIntentBaseline is used when there is no explicit user signal.
	UserIntentBaseline = 0.25
)

// weightSumTolerance absorbs float rounding when validating weights.
const weightSumTolerance = 1e-6

// Weights configures the scorer.
type Weights struct {
	Urgency     float64 `json:"urgency" yaml:"urgency"`
	Blockedness float64 `json:"blockedness" yaml:"blockedness"`
	Recency     float64 `json:"recency" yaml:"recency"`
	Leverage    float64 `json:"leverage" yaml:"leverage"`
	UserIntent  float64 `json:"user_intent" yaml:"user_intent"`
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Urgency:     WeightUrgency,
		Blockedness: WeightBlockedness,
		Recency:     WeightRecency,
		Leverage:    WeightLeverage,
		UserIntent:  WeightUserIntent,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Urgency + w.Blockedness + w.Recency + w.Leverage + w.UserIntent
}

// Validate checks that every weight is non-negative and the total is 1.0.
func (w Weights) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"urgency", w.Urgency},
		{"blockedness", w.Blockedness},
		{"recency", w.Recency},
		{"leverage", w.Leverage},
		{"user_intent", w.UserIntent},
	}
	for _, n := range named {
		if n.v < 0 || math.IsNaN(n.v) {
			return fmt.Errorf("weight %s must be non-negative, got %v", n.name, n.v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// Features holds the five normalized feature values of a candidate.
type Features struct {
	Urgency     float64 `json:"urgency"`
	Blockedness float64 `json:"blockedness"`
	Recency     float64 `json:"recency"`
	Leverage    float64 `json:"leverage"`
	UserIntent  float64 `json:"user_intent"`
}

// Score returns the weighted sum of the features.
func (f Features) Score(w Weights) float64 {
	return w.Urgency*f.Urgency +
		w.Blockedness*f.Blockedness +
		w.Recency*f.Recency +
		w.Leverage*f.Leverage +
		w.UserIntent*f.UserIntent
}

// FeatureFunc computes one feature for a candidate. The result is clamped
// to [0,1] by the scorer. Implementations must be pure functions of their
// arguments.
type FeatureFunc func(c *Candidate, b *Bundle) float64

// BaselineRecency is the default recency strategy.
func BaselineRecency(*Candidate, *Bundle) float64 {
	return RecencyBaseline
}

// BaselineUserIntent is the default user-intent strategy.
func BaselineUserIntent(*Candidate, *Bundle) float64 {
	return UserIntentBaseline
}

// Recency decay points for TouchedRecency.
const (
	recencyFreshWindow = time.Hour
	recencyStaleWindow = 72 * time.Hour
)

// TouchedRecency scores 1.0 for items touched within the last hour, decays
// linearly to the baseline at 72 hours, and falls back to the baseline when
// the touch time is unknown or in the future.
func TouchedRecency(c *Candidate, b *Bundle) float64 {
	touched := c.item.TouchedAt
	if touched == nil || touched.After(b.Now) {
		return RecencyBaseline
	}
	age := b.Now.Sub(*touched)
	switch {
	case age <= recencyFreshWindow:
		return 1.0
	case age >= recencyStaleWindow:
		return RecencyBaseline
	}
	frac := float64(age-recencyFreshWindow) / float64(recencyStaleWindow-recencyFreshWindow)
	return 1.0 - frac*(1.0-RecencyBaseline)
}

// OverrideIntent scores 1.0 for the candidate named by the focus_key of the
// most recent OVERRIDE_NOW event, and the baseline for everything else.
func OverrideIntent(c *Candidate, b *Bundle) float64 {
	ev, ok := latestEvent(b.UserEvents, func(t EventType) bool { return t == EventOverrideNow })
	if !ok || len(ev.Payload) == 0 {
		return UserIntentBaseline
	}
	var p OverridePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return UserIntentBaseline
	}
	if p.FocusKey != "" && p.FocusKey == c.Key {
		return 1.0
	}
	return UserIntentBaseline
}

func urgency(it Item) float64 {
	switch it.Priority.level() {
	case 4:
		return UrgencyCritical
	case 3:
		return UrgencyHigh
	}
	return UrgencyBaseline
}

func blockedness(k Kind) float64 {
	if k == KindBlocker {
		return BlockednessBlocker
	}
	return BlockednessBaseline
}

func leverage(k Kind) float64 {
	switch k {
	case KindBlocker:
		return LeverageBlocker
	case KindDecision:
		return LeverageDecision
	}
	return LeverageBaseline
}

// extractFeatures computes all five features for c.
func (e *Engine) extractFeatures(c *Candidate, b *Bundle) Features {
	return Features{
		Urgency:     urgency(c.item),
		Blockedness: blockedness(c.Kind),
		Recency:     clamp01(e.recency(c, b)),
		Leverage:    leverage(c.Kind),
		UserIntent:  clamp01(e.userIntent(c, b)),
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
