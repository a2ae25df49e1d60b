// Package now implements the focus-resolution engine. Given a snapshot of a
// user's open work (a Bundle) it selects at most one item to work on right now,
// explains the pick, attaches a next action, and ranks alternatives.
//
// The engine is a pure function of its input:
//
//	Bundle -> cooldown guard -> candidates -> features/score -> ignore decay
//	       -> ranking -> confidence/tie-break -> recommendation -> Result
//
// It performs no I/O, reads no clock other than Bundle.Now, and holds no
// mutable state, so one Engine may serve concurrent requests.
package now

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which collection a candidate came from.
type Kind string

const (
	KindAction   Kind = "action"
	KindDecision Kind = "decision"
	KindBlocker  Kind = "blocker"
	KindSession  Kind = "session"
)

// IsValid returns true if k is one of the four known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindAction, KindDecision, KindBlocker, KindSession:
		return true
	}
	return false
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.IsValid()
}

// Item statuses recognised by the candidate builder and the executor.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusActive     = "active"
	StatusUnresolved = "unresolved"
	StatusDone       = "done"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// ItemID is a work item identifier. JSON input may carry it as a string or a
// number; both decode to the same textual form.
type ItemID string

// UnmarshalJSON accepts "42" and 42 alike.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}

// Priority is the source priority of an item. Stores use either words
// ("critical", "high") or numbers (4, 3); both are accepted.
type Priority string

// UnmarshalJSON accepts "high" and 3 alike.
func (p *Priority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Priority(strings.ToLower(strings.TrimSpace(s)))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("priority must be a string or number: %w", err)
	}
	*p = Priority(n.String())
	return nil
}

// level maps the priority onto the numeric scale used by the urgency
// feature: 4 critical, 3 high, 0 for anything else.
func (p Priority) level() int {
	s := strings.ToLower(strings.TrimSpace(string(p)))
	switch s {
	case "critical":
		return 4
	case "high":
		return 3
	case "":
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		switch {
		case f >= 4:
			return 4
		case f >= 3:
			return 3
		}
	}
	return 0
}

// Item is one open work item of any kind.
type Item struct {
	ID        ItemID     `json:"id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Priority  Priority   `json:"priority,omitempty"`
	Project   string     `json:"project,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	TouchedAt *time.Time `json:"touched_at,omitempty"`
}

// EventType classifies an entry in the user event history.
type EventType string

const (
	EventDeferNow       EventType = "DEFER_NOW"
	EventOverrideNow    EventType = "OVERRIDE_NOW"
	EventExecutedAction EventType = "EXECUTED_ACTION"
)

// IsValid returns true if t is a recognised event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventDeferNow, EventOverrideNow, EventExecutedAction:
		return true
	}
	return false
}

// UserEvent is one entry of the user's event history. Payload is opaque to
// everything except the stage that reads it.
type UserEvent struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DeferPayload is the payload shape of a DEFER_NOW event.
type DeferPayload struct {
	LastFocusCandidate *Candidate `json:"last_focus_candidate,omitempty"`
	Reason             string     `json:"reason,omitempty"`
}

// OverridePayload is the payload shape of an OVERRIDE_NOW event.
type OverridePayload struct {
	FocusKey string `json:"focus_key,omitempty"`
}

// IgnoredCandidate is a per-candidate dismissal counter.
type IgnoredCandidate struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Bundle is the immutable snapshot the engine reasons about.
type Bundle struct {
	Now               time.Time          `json:"now"`
	Actions           []Item             `json:"actions"`
	Decisions         []Item             `json:"decisions"`
	Blockers          []Item             `json:"blockers"`
	Sessions          []Item             `json:"sessions"`
	UserEvents        []UserEvent        `json:"user_events"`
	IgnoredCandidates []IgnoredCandidate `json:"ignored_candidates"`
}

// ItemCount returns the number of work items across all collections.
func (b *Bundle) ItemCount() int {
	return len(b.Actions) + len(b.Decisions) + len(b.Blockers) + len(b.Sessions)
}

// CandidateKey builds the stable key for an item of the given kind.
func CandidateKey(kind Kind, id ItemID) string {
	return string(kind) + ":" + string(id)
}

// SplitCandidateKey splits "kind:id" into its parts.
func SplitCandidateKey(key string) (Kind, ItemID, bool) {
	kindPart, idPart, ok := strings.Cut(key, ":")
	if !ok || idPart == "" {
		return "", "", false
	}
	kind, valid := ParseKind(kindPart)
	if !valid {
		return "", "", false
	}
	return kind, ItemID(idPart), true
}
