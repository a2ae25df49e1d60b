package now

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func item(id, title, status string) Item {
	return Item{ID: ItemID(id), Title: title, Status: status}
}

func critical(it Item) Item {
	it.Priority = "critical"
	return it
}

func high(it Item) Item {
	it.Priority = "high"
	return it
}

func deferEvent(t *testing.T, at time.Time, focus *Candidate) UserEvent {
	t.Helper()
	payload, err := json.Marshal(DeferPayload{LastFocusCandidate: focus})
	require.NoError(t, err)
	return UserEvent{Type: EventDeferNow, Timestamp: at, Payload: payload}
}

func overrideEvent(at time.Time) UserEvent {
	return UserEvent{Type: EventOverrideNow, Timestamp: at}
}

func constant(v float64) FeatureFunc {
	return func(*Candidate, *Bundle) float64 { return v }
}

func TestCompute_EmptyBundle(t *testing.T) {
	res := Default().Compute(Bundle{Now: testNow})

	nc, ok := res.(NoClearNow)
	require.True(t, ok, "expected NoClearNow, got %T", res)
	assert.Equal(t, ReasonEmpty, nc.Reason)
	assert.Equal(t, ExplanationEmpty, nc.Explanation)
	require.NotNil(t, nc.FallbackAction)
	assert.NotEmpty(t, nc.FallbackAction.Label)
}

func TestCompute_SingleHardBlocker(t *testing.T) {
	b := Bundle{
		Now:      testNow,
		Blockers: []Item{item("42", "Waiting on API key", StatusActive)},
	}

	res := Default().Compute(b)

	r, ok := res.(ResolvedNow)
	require.True(t, ok, "expected ResolvedNow, got %T", res)
	assert.Equal(t, "blocker:42", r.PrimaryFocus.Key)
	assert.Equal(t, ActionResolve, r.RecommendedAction.ActionType)
	assert.Equal(t, "Unblock", r.RecommendedAction.Label)
	assert.Equal(t, OpResolveBlocker, r.RecommendedAction.Payload.Op)
	assert.Equal(t, "42", r.RecommendedAction.Payload.RefID)
	assert.InDelta(t, 0.499, r.PrimaryFocus.Score, 1e-9)
	assert.InDelta(t, 0.72375, r.ConfidenceScore, 1e-9)
	assert.GreaterOrEqual(t, r.ConfidenceScore, ConfidenceThreshold)
	assert.Contains(t, r.SupportingReasons, ReasonTextUnblocks)
	assert.Empty(t, r.Futures)
}

func TestCompute_ConfidenceGate(t *testing.T) {
	b := Bundle{
		Now:      testNow,
		Sessions: []Item{item("s1", "Reading notes", "")},
	}

	res := Default().Compute(b)

	nc, ok := res.(NoClearNow)
	require.True(t, ok, "expected NoClearNow, got %T", res)
	assert.Equal(t, ReasonLowConfidence, nc.Reason)
	require.NotNil(t, nc.FallbackAction)
	require.Len(t, nc.Contenders, 1)
	assert.Equal(t, "session:s1", nc.Contenders[0].Key)
}

func TestCompute_MarginGate_EqualBlockers(t *testing.T) {
	b := Bundle{
		Now: testNow,
		Blockers: []Item{
			critical(item("1", "Blocker A", StatusActive)),
			critical(item("2", "Blocker B", StatusActive)),
		},
	}

	res := Default().Compute(b)

	nc, ok := res.(NoClearNow)
	require.True(t, ok, "expected NoClearNow, got %T", res)
	require.Len(t, nc.Contenders, 2)
	assert.Equal(t, nc.Contenders[0].Score, nc.Contenders[1].Score)
}

func TestCompute_MarginGate_Ambiguous(t *testing.T) {
	// Strong signals on both so the confidence gate passes and only the
	// margin gate can decline.
	eng, err := NewEngine(Options{Recency: constant(1), UserIntent: constant(1)})
	require.NoError(t, err)

	b := Bundle{
		Now: testNow,
		Blockers: []Item{
			critical(item("1", "Ship release", StatusActive)),
			high(item("2", "Fix CI", StatusActive)),
		},
	}

	res := eng.Compute(b)

	nc, ok := res.(NoClearNow)
	require.True(t, ok, "expected NoClearNow, got %T", res)
	assert.Equal(t, ReasonAmbiguous, nc.Reason)
	assert.Contains(t, nc.Explanation, "Ship release")
	assert.Contains(t, nc.Explanation, "Fix CI")
	require.NotNil(t, nc.FallbackAction)
	assert.Equal(t, ActionDecide, nc.FallbackAction.ActionType)
}

func TestResolve_GateOrder(t *testing.T) {
	blocker := func(key string, score float64) Candidate {
		return Candidate{Key: key, Kind: KindBlocker, Score: score}
	}

	tests := []struct {
		name   string
		ranked []Candidate
		want   NoClearReason
	}{
		{"empty", nil, ReasonEmpty},
		{"low confidence beats margin", []Candidate{blocker("b:1", 0.3), blocker("b:2", 0.3)}, ReasonLowConfidence},
		{"confident but close", []Candidate{blocker("b:1", 0.95), blocker("b:2", 0.90)}, ReasonAmbiguous},
		{"confident and separated", []Candidate{blocker("b:1", 0.95), blocker("b:2", 0.50)}, ""},
		{"single strong", []Candidate{blocker("b:1", 0.5)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := resolve(tt.ranked, DefaultPolicy())
			assert.Equal(t, tt.want, v.reason)
		})
	}
}

func TestConfidence_Formula(t *testing.T) {
	top := Candidate{Kind: KindAction, Score: 0.8, Features: Features{Urgency: UrgencyCritical}}
	runner := Candidate{Kind: KindAction, Score: 0.6}

	// 0.55*0.8 + 0.35*(0.2/0.5) + 0.10
	assert.InDelta(t, 0.44+0.14+0.10, confidence(&top, &runner), 1e-9)

	top.Features.Urgency = UrgencyHigh
	assert.InDelta(t, 0.44+0.14, confidence(&top, &runner), 1e-9)

	huge := Candidate{Kind: KindBlocker, Score: 1.0}
	assert.InDelta(t, 1.0, confidence(&huge, nil), 1e-12)
}

func TestCompute_DecayCap(t *testing.T) {
	b := Bundle{
		Now: testNow,
		Actions: []Item{
			item("a", "Same work", StatusOpen),
			item("b", "Same work", StatusOpen),
		},
		IgnoredCandidates: []IgnoredCandidate{{Key: "action:a", Count: 3}},
	}

	ranked := Default().Score(b)
	require.Len(t, ranked, 2)
	assert.Equal(t, "action:b", ranked[0].Key)
	assert.Equal(t, "action:a", ranked[1].Key)
	assert.Equal(t, IgnorePenaltyCap, ranked[1].IgnorePenalty)
	assert.Equal(t, 0.0, ranked[1].Score)
}

func TestIgnorePenalty(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{-1, 0},
		{0, 0},
		{1, 0.15},
		{2, 0.30},
		{3, 0.45},
		{10, 0.45},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, IgnorePenalty(tt.count), 1e-9, "count=%d", tt.count)
		assert.LessOrEqual(t, IgnorePenalty(tt.count), IgnorePenaltyCap)
	}
}

func TestCompute_SingleDismissalDampens(t *testing.T) {
	b := Bundle{
		Now:               testNow,
		Blockers:          []Item{item("7", "Flaky deploy", StatusActive)},
		IgnoredCandidates: []IgnoredCandidate{{Key: "blocker:7", Count: 1}},
	}

	ranked := Default().Score(b)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.499-0.15, ranked[0].Score, 1e-9)
}

func TestIgnoreCounts_SumsDuplicates(t *testing.T) {
	counts := ignoreCounts([]IgnoredCandidate{
		{Key: "action:1", Count: 1},
		{Key: "action:1", Count: 2},
		{Key: "", Count: 5},
		{Key: "action:2", Count: -1},
	})
	assert.Equal(t, map[string]int{"action:1": 3}, counts)
}

func TestCompute_CooldownPrecedence(t *testing.T) {
	focus := &Candidate{Key: "blocker:1", Kind: KindBlocker, Title: "Deploy"}
	deferredAt := testNow.Add(-time.Hour)
	b := Bundle{
		Now:        testNow,
		Blockers:   []Item{critical(item("1", "Deploy", StatusActive))},
		UserEvents: []UserEvent{deferEvent(t, deferredAt, focus)},
	}

	res := Default().Compute(b)

	d, ok := res.(Deferred)
	require.True(t, ok, "expected Deferred, got %T", res)
	assert.True(t, d.CooldownUntil.Equal(deferredAt.Add(24*time.Hour)))
	require.NotNil(t, d.LastKnownFocus)
	assert.Equal(t, "blocker:1", d.LastKnownFocus.Key)
}

func TestCompute_CooldownExpired(t *testing.T) {
	b := Bundle{
		Now:        testNow,
		Blockers:   []Item{item("1", "Deploy", StatusActive)},
		UserEvents: []UserEvent{deferEvent(t, testNow.Add(-24*time.Hour), nil)},
	}

	_, ok := Default().Compute(b).(ResolvedNow)
	assert.True(t, ok, "a defer exactly 24h old must no longer apply")
}

func TestCompute_OverrideClearsDefer(t *testing.T) {
	b := Bundle{
		Now:      testNow,
		Blockers: []Item{item("1", "Deploy", StatusActive)},
		UserEvents: []UserEvent{
			deferEvent(t, testNow.Add(-2*time.Hour), nil),
			overrideEvent(testNow.Add(-time.Hour)),
		},
	}

	_, ok := Default().Compute(b).(ResolvedNow)
	assert.True(t, ok)
}

func TestCompute_LatestDeferTypeEventWins(t *testing.T) {
	// Presented out of order; the newest defer-type event still decides.
	b := Bundle{
		Now:      testNow,
		Blockers: []Item{item("1", "Deploy", StatusActive)},
		UserEvents: []UserEvent{
			deferEvent(t, testNow.Add(-30*time.Minute), nil),
			overrideEvent(testNow.Add(-3 * time.Hour)),
			{Type: EventExecutedAction, Timestamp: testNow.Add(-10 * time.Minute)},
		},
	}

	d, ok := Default().Compute(b).(Deferred)
	require.True(t, ok)
	assert.Nil(t, d.LastKnownFocus)
}

func TestCompute_DeferWithMalformedPayload(t *testing.T) {
	b := Bundle{
		Now: testNow,
		UserEvents: []UserEvent{{
			Type:      EventDeferNow,
			Timestamp: testNow.Add(-time.Minute),
			Payload:   json.RawMessage(`{"last_focus_candidate": 12}`),
		}},
	}

	d, ok := Default().Compute(b).(Deferred)
	require.True(t, ok)
	assert.Nil(t, d.LastKnownFocus)
}

func TestCompute_Futures(t *testing.T) {
	b := Bundle{
		Now:       testNow,
		Blockers:  []Item{critical(item("1", "Prod is down", StatusActive))},
		Decisions: []Item{item("d1", "Pick a vendor", StatusUnresolved)},
		Actions: []Item{
			item("a1", "Write docs", StatusOpen),
			item("a2", "Reply to Sam", StatusInProgress),
			item("a3", "Plan sprint", StatusActive),
		},
	}

	res := Default().Compute(b)

	r, ok := res.(ResolvedNow)
	require.True(t, ok, "expected ResolvedNow, got %T", res)
	assert.Equal(t, "blocker:1", r.PrimaryFocus.Key)
	require.Len(t, r.Futures, DefaultFuturesLimit)

	assert.Equal(t, "decision:d1", r.Futures[0].Candidate.Key)
	assert.Equal(t, HorizonNext, r.Futures[0].Horizon)
	assert.Equal(t, "action:a1", r.Futures[1].Candidate.Key)
	assert.Equal(t, HorizonLater, r.Futures[1].Horizon)
	assert.Equal(t, "action:a2", r.Futures[2].Candidate.Key)
	assert.Equal(t, HorizonLater, r.Futures[2].Horizon)

	for _, f := range r.Futures {
		assert.Equal(t, f.Confidence, f.Candidate.Confidence)
		assert.NotEmpty(t, f.Candidate.RecommendedAction.Label)
		assert.NotEmpty(t, f.Candidate.Reasons)
	}
	assert.Equal(t, "Make Decision", r.Futures[0].Candidate.RecommendedAction.Label)
}

func TestCompute_Deterministic(t *testing.T) {
	due := testNow.Add(-time.Hour)
	b := Bundle{
		Now:       testNow,
		Blockers:  []Item{critical(item("1", "Prod is down", StatusActive))},
		Decisions: []Item{item("d1", "Pick a vendor", StatusUnresolved)},
		Actions: []Item{
			{ID: "a1", Title: "Write docs", Status: StatusOpen, DueAt: &due, Project: "site"},
			item("a2", "Reply to Sam", StatusInProgress),
		},
		Sessions:          []Item{item("s1", "Pairing", "")},
		IgnoredCandidates: []IgnoredCandidate{{Key: "action:a2", Count: 1}},
	}

	eng := Default()
	first, err := json.Marshal(eng.Compute(b))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(eng.Compute(b))
		require.NoError(t, err)
		if diff := cmp.Diff(string(first), string(again)); diff != "" {
			t.Fatalf("output changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestCompute_DoesNotMutateBundle(t *testing.T) {
	b := Bundle{
		Now:     testNow,
		Actions: []Item{item("a1", "Write docs", StatusOpen)},
		IgnoredCandidates: []IgnoredCandidate{
			{Key: "action:a1", Count: 1},
		},
	}
	before, err := json.Marshal(b)
	require.NoError(t, err)

	Default().Compute(b)

	after, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestBuildCandidates_Filtering(t *testing.T) {
	b := Bundle{
		Now: testNow,
		Actions: []Item{
			item("1", "open", "open"),
			item("2", "in progress", "In_Progress"),
			item("3", "active", " active "),
			item("4", "done", "done"),
			item("1", "duplicate", "open"),
			item("", "no id", "open"),
		},
		Decisions: []Item{
			item("1", "pending", "unresolved"),
			item("2", "settled", "resolved"),
		},
		Blockers: []Item{
			item("1", "live", "active"),
			item("2", "fixed", "resolved"),
		},
		Sessions: []Item{item("1", "any status", "whatever")},
	}

	cands := buildCandidates(&b)

	keys := make([]string, 0, len(cands))
	for _, c := range cands {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{
		"action:1", "action:2", "action:3",
		"decision:1",
		"blocker:1",
		"session:1",
	}, keys)
	assert.Equal(t, "open", cands[0].Title)
}

func TestContextTags(t *testing.T) {
	past := testNow.Add(-time.Hour)
	soon := testNow.Add(24 * time.Hour)
	later := testNow.Add(7 * 24 * time.Hour)

	assert.Equal(t, []string{"project:web", "priority:high", TagOverdue},
		contextTags(Item{Project: "web", Priority: "high", DueAt: &past}, testNow))
	assert.Equal(t, []string{TagDueSoon}, contextTags(Item{DueAt: &soon}, testNow))
	assert.Empty(t, contextTags(Item{DueAt: &later}, testNow))
}

func TestRecommendAction(t *testing.T) {
	tests := []struct {
		kind      Kind
		label     string
		action    ActionType
		op        string
		nearDone bool
	}{
		{KindBlocker, "Unblock", ActionResolve, OpResolveBlocker, false},
		{KindDecision, "Make Decision", ActionDecide, OpOpenDecision, false},
		{KindAction, "Resume", ActionAdvance, OpOpen, false},
		{KindAction, "Complete", ActionResolve, OpCompleteAction, true},
		{KindSession, "Resume Session", ActionAdvance, OpResumeSession, false},
		{Kind("note"), "Open", ActionAdvance, OpOpen, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.label, func(t *testing.T) {
			c := &Candidate{Kind: tt.kind, RefID: "9"}
			pred := func(Item) bool { return tt.nearDone }
			got := recommendAction(c, pred)
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.action, got.ActionType)
			assert.Equal(t, tt.op, got.Payload.Op)
			assert.Equal(t, "9", got.Payload.RefID)
		})
	}
}

func TestNearDonePredicate_Wired(t *testing.T) {
	eng, err := NewEngine(Options{NearDone: func(it Item) bool { return it.Title == "Almost there" }})
	require.NoError(t, err)

	ranked := eng.Score(Bundle{
		Now:     testNow,
		Actions: []Item{item("1", "Almost there", StatusInProgress), item("2", "Barely started", StatusOpen)},
	})
	require.Len(t, ranked, 2)
	for _, c := range ranked {
		if c.Key == "action:1" {
			assert.Equal(t, "Complete", c.RecommendedAction.Label)
		} else {
			assert.Equal(t, "Resume", c.RecommendedAction.Label)
		}
	}
}

func TestExplain(t *testing.T) {
	t.Run("fallback", func(t *testing.T) {
		c := &Candidate{Features: Features{Urgency: 0.2, Blockedness: 0.2, Recency: 0.2, Leverage: 0.35, UserIntent: 0.25}}
		assert.Equal(t, []string{ReasonTextFallback}, explain(c))
	})

	t.Run("capped at three", func(t *testing.T) {
		c := &Candidate{
			Features:    Features{Urgency: 1, Blockedness: 1, Recency: 1, Leverage: 0.85, UserIntent: 1},
			ContextTags: []string{TagOverdue},
		}
		assert.Equal(t, []string{ReasonTextUrgent, ReasonTextUnblocks, ReasonTextLeverage}, explain(c))
	})

	t.Run("decision leverage", func(t *testing.T) {
		c := &Candidate{Features: Features{Urgency: 0.2, Blockedness: 0.2, Leverage: LeverageDecision}}
		assert.Equal(t, []string{ReasonTextLeverage}, explain(c))
	})
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	_, err := NewEngine(Options{Weights: Weights{Urgency: 0.5, Blockedness: 0.5, Recency: 0.5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")

	_, err = NewEngine(Options{Weights: Weights{Urgency: 1.2, Blockedness: -0.2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.InDelta(t, 1.0, DefaultWeights().Sum(), 1e-9)
}
