package now

// ActionType classifies a recommended action.
type ActionType string

const (
	ActionResolve ActionType = "resolve"
	ActionAdvance ActionType = "advance"
	ActionDecide  ActionType = "decide"
	ActionDefer   ActionType = "defer"
)

// IsValid returns true if t is a known action type.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionResolve, ActionAdvance, ActionDecide, ActionDefer:
		return true
	}
	return false
}

// Executor op codes carried in action payloads.
const (
	OpCompleteAction = "complete_action"
	OpResolveBlocker = "resolve_blocker"
	OpResumeSession  = "resume_session"
	OpOpenDecision   = "open_decision"
	OpOpen           = "open"
)

// ActionPayload tells the executor what to apply. The engine never
// interprets it.
type ActionPayload struct {
	Op    string `json:"op,omitempty"`
	RefID string `json:"ref_id,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
}

// RecommendedAction is the concrete next step attached to a candidate.
type RecommendedAction struct {
	Label      string        `json:"label"`
	ActionType ActionType    `json:"action_type"`
	Payload    ActionPayload `json:"payload"`
}

// NearDonePredicate decides whether an action item is close enough to
// completion to recommend "Complete" instead of "Resume".
type NearDonePredicate func(it Item) bool

// NeverNearDone is the default predicate: actions are always resumed.
func NeverNearDone(Item) bool { return false }

// recommendAction maps a candidate kind to its next action.
func recommendAction(c *Candidate, nearDone NearDonePredicate) RecommendedAction {
	payload := ActionPayload{RefID: c.RefID, Kind: c.Kind}
	switch c.Kind {
	case KindBlocker:
		payload.Op = OpResolveBlocker
		return RecommendedAction{Label: "Unblock", ActionType: ActionResolve, Payload: payload}
	case KindDecision:
		payload.Op = OpOpenDecision
		return RecommendedAction{Label: "Make Decision", ActionType: ActionDecide, Payload: payload}
	case KindAction:
		if nearDone(c.item) {
			payload.Op = OpCompleteAction
			return RecommendedAction{Label: "Complete", ActionType: ActionResolve, Payload: payload}
		}
		payload.Op = OpOpen
		return RecommendedAction{Label: "Resume", ActionType: ActionAdvance, Payload: payload}
	case KindSession:
		payload.Op = OpResumeSession
		return RecommendedAction{Label: "Resume Session", ActionType: ActionAdvance, Payload: payload}
	}
	payload.Op = OpOpen
	return RecommendedAction{Label: "Open", ActionType: ActionAdvance, Payload: payload}
}

// Reason thresholds and texts.
const (
	maxReasons = 3

	reasonUrgencyMin     = 0.7
	reasonBlockednessMin = 0.6
	reasonLeverageMin    = 0.8
	reasonRecencyMin     = 0.7
	reasonIntentMin      = 0.6

	ReasonTextUrgent   = "Time-sensitive"
	ReasonTextUnblocks = "Unblocks other work"
	ReasonTextLeverage = "High downstream impact"
	ReasonTextRecent   = "You touched this recently"
	ReasonTextIntent   = "Matches what you asked to focus on"
	ReasonTextOverdue  = "Past its due date"
	ReasonTextFallback = "Best next step."
)

// explain lists the features that crossed their thresholds, capped at
// three, falling back to a generic reason.
func explain(c *Candidate) []string {
	f := c.Features
	reasons := make([]string, 0, maxReasons)
	add := func(ok bool, text string) {
		if ok && len(reasons) < maxReasons {
			reasons = append(reasons, text)
		}
	}
	add(f.Urgency >= reasonUrgencyMin, ReasonTextUrgent)
	add(f.Blockedness >= reasonBlockednessMin, ReasonTextUnblocks)
	add(f.Leverage >= reasonLeverageMin, ReasonTextLeverage)
	add(f.Recency >= reasonRecencyMin, ReasonTextRecent)
	add(f.UserIntent >= reasonIntentMin, ReasonTextIntent)
	add(hasTag(c.ContextTags, TagOverdue), ReasonTextOverdue)
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonTextFallback)
	}
	return reasons
}

// DefaultFuturesLimit is how many runner-ups are offered as futures.
const DefaultFuturesLimit = 3

// Horizon tells a client how soon a future is likely to matter.
type Horizon string

const (
	HorizonNext  Horizon = "next"
	HorizonLater Horizon = "later"
)

// Future is a promotable alternative to the primary focus. It embeds the
// full candidate so a client can swap it in without asking again.
type Future struct {
	Candidate  Candidate `json:"candidate"`
	Confidence float64   `json:"confidence"`
	Horizon    Horizon   `json:"horizon"`
}

// futures returns up to limit candidates after the winner. Each carries the
// confidence it would have against its own successor.
func futures(ranked []Candidate, limit int) []Future {
	if limit <= 0 || len(ranked) < 2 {
		return []Future{}
	}
	rest := ranked[1:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Future, 0, len(rest))
	for i := range rest {
		idx := i + 1
		var next *Candidate
		if idx+1 < len(ranked) {
			next = &ranked[idx+1]
		}
		c := ranked[idx]
		conf := confidence(&c, next)
		c.Confidence = conf
		horizon := HorizonLater
		if i == 0 {
			horizon = HorizonNext
		}
		out = append(out, Future{Candidate: c, Confidence: conf, Horizon: horizon})
	}
	return out
}

// Fallback actions for results without a pick.
var (
	fallbackEmpty = RecommendedAction{
		Label:      "Capture your next step",
		ActionType: ActionAdvance,
	}
	fallbackUnclear = RecommendedAction{
		Label:      "Choose your focus",
		ActionType: ActionDecide,
	}
	fallbackDegraded = RecommendedAction{
		Label:      "Try again",
		ActionType: ActionDefer,
	}
)
