package now

import (
	"encoding/json"
	"time"
)

// DefaultCooldown is how long a DEFER_NOW keeps the engine quiet.
const DefaultCooldown = 24 * time.Hour

// isDeferType reports whether t takes part in the defer/override state
// machine. EXECUTED_ACTION does not.
func isDeferType(t EventType) bool {
	return t == EventDeferNow || t == EventOverrideNow
}

// latestEvent returns the most recent event matching pred. Equal timestamps
// resolve to the later slice position.
func latestEvent(events []UserEvent, pred func(EventType) bool) (UserEvent, bool) {
	var (
		latest UserEvent
		found  bool
	)
	for _, ev := range events {
		if !pred(ev.Type) {
			continue
		}
		if !found || !ev.Timestamp.Before(latest.Timestamp) {
			latest = ev
			found = true
		}
	}
	return latest, found
}

// checkCooldown implements the deferred guard. Only the latest defer-type
// event counts: a DEFER_NOW inside its window returns a Deferred result; an
// OVERRIDE_NOW after it clears the cooldown.
func checkCooldown(b *Bundle, cooldown time.Duration) (*Deferred, bool) {
	ev, ok := latestEvent(b.UserEvents, isDeferType)
	if !ok || ev.Type != EventDeferNow {
		return nil, false
	}
	until := ev.Timestamp.Add(cooldown)
	if !b.Now.Before(until) {
		return nil, false
	}
	return &Deferred{
		LastKnownFocus: lastFocusFromPayload(ev.Payload),
		CooldownUntil:  until,
	}, true
}

func lastFocusFromPayload(raw json.RawMessage) *Candidate {
	if len(raw) == 0 {
		return nil
	}
	var p DeferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.LastFocusCandidate == nil || p.LastFocusCandidate.Key == "" {
		return nil
	}
	return p.LastFocusCandidate
}
