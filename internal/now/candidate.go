package now

import (
	"strings"
	"time"
)

// dueSoonWindow is how far ahead a due date earns the due_soon tag.
const dueSoonWindow = 48 * time.Hour

// Context tags attached to candidates.
const (
	TagOverdue = "overdue"
	TagDueSoon = "due_soon"
)

// Candidate is a normalized, scorable view of one open work item. It is
// built fresh on every computation and never stored.
type Candidate struct {
	Key               string            `json:"key"`
	Kind              Kind              `json:"kind"`
	Title             string            `json:"title"`
	RefID             string            `json:"ref_id"`
	Project           string            `json:"project,omitempty"`
	ContextTags       []string          `json:"context_tags"`
	Score             float64           `json:"score"`
	Confidence        float64           `json:"confidence"`
	Reasons           []string          `json:"reasons"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Features          Features          `json:"features"`
	IgnorePenalty     float64           `json:"ignore_penalty,omitempty"`

	item Item
}

// Item returns the source item the candidate was built from.
func (c *Candidate) Item() Item {
	return c.item
}

// actionable reports whether an item with the given status may become a
// candidate of the given kind.
func actionable(kind Kind, status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	switch kind {
	case KindAction:
		return s == StatusOpen || s == StatusInProgress || s == StatusActive
	case KindDecision:
		return s == StatusUnresolved
	case KindBlocker:
		return s == StatusActive
	case KindSession:
		return true
	}
	return false
}

// IsActionable reports whether the builder would turn an item of this kind
// and status into a candidate. Stores use it to mirror the filter.
func IsActionable(kind Kind, status string) bool {
	return actionable(kind, status)
}

// buildCandidates turns the bundle's collections into candidates. Each
// surviving item yields exactly one candidate; a repeated key keeps the
// first occurrence.
func buildCandidates(b *Bundle) []Candidate {
	out := make([]Candidate, 0, b.ItemCount())
	seen := make(map[string]struct{}, b.ItemCount())

	add := func(kind Kind, items []Item) {
		for _, it := range items {
			if it.ID == "" || !actionable(kind, it.Status) {
				continue
			}
			key := CandidateKey(kind, it.ID)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Candidate{
				Key:         key,
				Kind:        kind,
				Title:       strings.TrimSpace(it.Title),
				RefID:       string(it.ID),
				Project:     it.Project,
				ContextTags: contextTags(it, b.Now),
				item:        it,
			})
		}
	}

	add(KindAction, b.Actions)
	add(KindDecision, b.Decisions)
	add(KindBlocker, b.Blockers)
	add(KindSession, b.Sessions)
	return out
}

func contextTags(it Item, now time.Time) []string {
	tags := make([]string, 0, 3)
	if it.Project != "" {
		tags = append(tags, "project:"+it.Project)
	}
	if it.Priority != "" {
		tags = append(tags, "priority:"+string(it.Priority))
	}
	if it.DueAt != nil {
		switch {
		case it.DueAt.Before(now):
			tags = append(tags, TagOverdue)
		case it.DueAt.Before(now.Add(dueSoonWindow)):
			tags = append(tags, TagDueSoon)
		}
	}
	return tags
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
