package now

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_UnmarshalLooseFields(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantID   ItemID
		wantPrio Priority
		level    int
	}{
		{"string id and word", `{"id":"42","priority":"Critical"}`, "42", "critical", 4},
		{"numeric id and number", `{"id":42,"priority":3}`, "42", "3", 3},
		{"float priority", `{"id":"a","priority":4.5}`, "a", "4.5", 4},
		{"low number", `{"id":"a","priority":1}`, "a", "1", 0},
		{"null fields", `{"id":null,"priority":null}`, "", "", 0},
		{"unknown word", `{"id":"x","priority":"meh"}`, "x", "meh", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var it Item
			require.NoError(t, json.Unmarshal([]byte(tt.data), &it))
			assert.Equal(t, tt.wantID, it.ID)
			assert.Equal(t, tt.wantPrio, it.Priority)
			assert.Equal(t, tt.level, it.Priority.level())
		})
	}
}

func TestItem_UnmarshalRejectsObjects(t *testing.T) {
	var it Item
	assert.Error(t, json.Unmarshal([]byte(`{"id":{"x":1}}`), &it))
	assert.Error(t, json.Unmarshal([]byte(`{"id":"1","priority":[1]}`), &it))
}

func TestSplitCandidateKey(t *testing.T) {
	tests := []struct {
		key    string
		kind   Kind
		id     ItemID
		wantOK bool
	}{
		{"action:1", KindAction, "1", true},
		{"Blocker:abc", KindBlocker, "abc", true},
		{"session:a:b", KindSession, "a:b", true},
		{"note:1", "", "", false},
		{"action:", "", "", false},
		{"action", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			kind, id, ok := SplitCandidateKey(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.id, id)
		})
	}
	assert.Equal(t, "decision:7", CandidateKey(KindDecision, "7"))
}

func TestEventType_IsValid(t *testing.T) {
	assert.True(t, EventDeferNow.IsValid())
	assert.True(t, EventOverrideNow.IsValid())
	assert.True(t, EventExecutedAction.IsValid())
	assert.False(t, EventType("defer_now").IsValid())
}

func TestTouchedRecency(t *testing.T) {
	at := func(age time.Duration) *Candidate {
		ts := testNow.Add(-age)
		return &Candidate{item: Item{TouchedAt: &ts}}
	}
	b := &Bundle{Now: testNow}

	assert.Equal(t, 1.0, TouchedRecency(at(10*time.Minute), b))
	assert.Equal(t, 1.0, TouchedRecency(at(time.Hour), b))
	assert.InDelta(t, 0.6, TouchedRecency(at(36*time.Hour+30*time.Minute), b), 1e-9)
	assert.Equal(t, RecencyBaseline, TouchedRecency(at(72*time.Hour), b))
	assert.Equal(t, RecencyBaseline, TouchedRecency(at(200*time.Hour), b))
	assert.Equal(t, RecencyBaseline, TouchedRecency(at(-time.Hour), b), "future touch")
	assert.Equal(t, RecencyBaseline, TouchedRecency(&Candidate{}, b), "never touched")
}

func TestOverrideIntent(t *testing.T) {
	payload, err := json.Marshal(OverridePayload{FocusKey: "action:2"})
	require.NoError(t, err)

	b := &Bundle{
		Now: testNow,
		UserEvents: []UserEvent{
			{Type: EventOverrideNow, Timestamp: testNow.Add(-2 * time.Hour), Payload: payload},
		},
	}

	assert.Equal(t, 1.0, OverrideIntent(&Candidate{Key: "action:2"}, b))
	assert.Equal(t, UserIntentBaseline, OverrideIntent(&Candidate{Key: "action:1"}, b))

	// A later override without a key clears the intent.
	b.UserEvents = append(b.UserEvents, overrideEvent(testNow.Add(-time.Hour)))
	assert.Equal(t, UserIntentBaseline, OverrideIntent(&Candidate{Key: "action:2"}, b))

	assert.Equal(t, UserIntentBaseline, OverrideIntent(&Candidate{Key: "action:2"}, &Bundle{Now: testNow}))
}

func TestEngine_StrategiesLiftScore(t *testing.T) {
	touched := testNow.Add(-5 * time.Minute)
	payload, err := json.Marshal(OverridePayload{FocusKey: "action:b"})
	require.NoError(t, err)

	eng, err := NewEngine(Options{Recency: TouchedRecency, UserIntent: OverrideIntent})
	require.NoError(t, err)

	b := Bundle{
		Now: testNow,
		Actions: []Item{
			item("a", "Write docs", StatusOpen),
			{ID: "b", Title: "Refactor", Status: StatusOpen, TouchedAt: &touched},
		},
		UserEvents: []UserEvent{{Type: EventOverrideNow, Timestamp: testNow.Add(-time.Minute), Payload: payload}},
	}

	ranked := eng.Score(b)
	require.Len(t, ranked, 2)
	assert.Equal(t, "action:b", ranked[0].Key)
	assert.Equal(t, 1.0, ranked[0].Features.Recency)
	assert.Equal(t, 1.0, ranked[0].Features.UserIntent)
	assert.Contains(t, ranked[0].Reasons, ReasonTextRecent)
	assert.Contains(t, ranked[0].Reasons, ReasonTextIntent)
}

func TestClamp01(t *testing.T) {
	eng, err := NewEngine(Options{Recency: constant(5), UserIntent: constant(-2)})
	require.NoError(t, err)

	ranked := eng.Score(Bundle{Now: testNow, Actions: []Item{item("1", "x", StatusOpen)}})
	require.Len(t, ranked, 1)
	assert.Equal(t, 1.0, ranked[0].Features.Recency)
	assert.Equal(t, 0.0, ranked[0].Features.UserIntent)
}
