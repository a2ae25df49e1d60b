package now

import (
	"fmt"
	"time"
)

// Explanations for NoClearNow results.
const (
	ExplanationEmpty         = "Nothing is open right now."
	ExplanationLowConfidence = "Nothing stands out clearly right now."
	explanationAmbiguousFmt  = "%q and %q are too close to call."
)

// maxContenders is how many top candidates a NoClearNow carries.
const maxContenders = 3

// Options configures an Engine. Zero fields take their defaults.
type Options struct {
	Weights    Weights
	Policy     Policy
	Cooldown   time.Duration
	Recency    FeatureFunc
	UserIntent FeatureFunc
	NearDone   NearDonePredicate
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		Weights:    DefaultWeights(),
		Policy:     DefaultPolicy(),
		Cooldown:   DefaultCooldown,
		Recency:    BaselineRecency,
		UserIntent: BaselineUserIntent,
		NearDone:   NeverNearDone,
	}
}

// Engine resolves a Bundle into a Result. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	weights    Weights
	policy     Policy
	cooldown   time.Duration
	recency    FeatureFunc
	userIntent FeatureFunc
	nearDone   NearDonePredicate
}

// NewEngine creates an engine. It rejects weights that do not sum to 1.
func NewEngine(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.Weights == (Weights{}) {
		opts.Weights = def.Weights
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	if opts.Policy.ConfidenceThreshold <= 0 {
		opts.Policy.ConfidenceThreshold = def.Policy.ConfidenceThreshold
	}
	if opts.Policy.MarginThreshold <= 0 {
		opts.Policy.MarginThreshold = def.Policy.MarginThreshold
	}
	if opts.Policy.FuturesLimit <= 0 {
		opts.Policy.FuturesLimit = def.Policy.FuturesLimit
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.Recency == nil {
		opts.Recency = def.Recency
	}
	if opts.UserIntent == nil {
		opts.UserIntent = def.UserIntent
	}
	if opts.NearDone == nil {
		opts.NearDone = def.NearDone
	}
	return &Engine{
		weights:    opts.Weights,
		policy:     opts.Policy,
		cooldown:   opts.Cooldown,
		recency:    opts.Recency,
		userIntent: opts.UserIntent,
		nearDone:   opts.NearDone,
	}, nil
}

// Default returns an engine with default options.
func Default() *Engine {
	e, err := NewEngine(DefaultOptions())
	if err != nil {
		panic(err)
	}
	return e
}

// Cooldown returns the defer window the engine applies.
func (e *Engine) Cooldown() time.Duration { return e.cooldown }

// Compute resolves b. It never returns nil and never fails for business
// reasons: cooldown, emptiness, low confidence and ties are all results.
func (e *Engine) Compute(b Bundle) Result {
	if d, ok := checkCooldown(&b, e.cooldown); ok {
		return *d
	}

	ranked := e.Score(b)
	v := resolve(ranked, e.policy)

	if !v.resolved() {
		return e.noClear(ranked, v)
	}

	top := ranked[0]
	top.Confidence = v.confidence
	return ResolvedNow{
		PrimaryFocus:      top,
		ConfidenceScore:   v.confidence,
		SupportingReasons: top.Reasons,
		RecommendedAction: top.RecommendedAction,
		Futures:           futures(ranked, e.policy.FuturesLimit),
	}
}

// Score builds, scores, decays and ranks the bundle's candidates, with
// reasons and recommended actions attached. The guard is not applied.
func (e *Engine) Score(b Bundle) []Candidate {
	cands := buildCandidates(&b)
	counts := ignoreCounts(b.IgnoredCandidates)
	for i := range cands {
		c := &cands[i]
		c.Features = e.extractFeatures(c, &b)
		c.Score, c.IgnorePenalty = applyDecay(c.Features.Score(e.weights), counts[c.Key])
		c.Reasons = explain(c)
		c.RecommendedAction = recommendAction(c, e.nearDone)
	}
	rank(cands)
	return cands
}

func (e *Engine) noClear(ranked []Candidate, v verdict) NoClearNow {
	if v.reason == ReasonEmpty {
		fb := fallbackEmpty
		return NoClearNow{
			Explanation:    ExplanationEmpty,
			FallbackAction: &fb,
			Reason:         ReasonEmpty,
			Contenders:     []Candidate{},
		}
	}

	explanation := ExplanationLowConfidence
	if v.reason == ReasonAmbiguous {
		explanation = fmt.Sprintf(explanationAmbiguousFmt, ranked[0].Title, ranked[1].Title)
	}

	n := min(len(ranked), maxContenders)
	contenders := make([]Candidate, n)
	copy(contenders, ranked[:n])

	fb := fallbackUnclear
	fb.Payload = ActionPayload{Op: OpOpen, RefID: ranked[0].RefID, Kind: ranked[0].Kind}
	return NoClearNow{
		Explanation:    explanation,
		FallbackAction: &fb,
		Reason:         v.reason,
		Contenders:     contenders,
	}
}
