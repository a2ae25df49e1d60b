package now

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResult is returned when a serialized result lacks the fields
// its status requires.
var ErrMalformedResult = errors.New("malformed now result")

// Status tags the variant of a Result on the wire.
type Status string

const (
	StatusResolvedNow Status = "resolved_now"
	StatusNoClearNow  Status = "no_clear_now"
	StatusDeferred    Status = "deferred"
)

// NoClearReason says why no pick was presented.
type NoClearReason string

const (
	ReasonEmpty         NoClearReason = "empty"
	ReasonLowConfidence NoClearReason = "low_confidence"
	ReasonAmbiguous     NoClearReason = "ambiguous"
	ReasonDegraded      NoClearReason = "degraded"
)

// DegradedExplanation is shown when a result could not be produced or read.
const DegradedExplanation = "Couldn't work out a focus right now."

// Result is the engine's only output. It is one of ResolvedNow, NoClearNow
// or Deferred; use Match to handle all three.
type Result interface {
	Status() Status
	isResult()
}

// ResolvedNow is a confident, unambiguous pick.
type ResolvedNow struct {
	PrimaryFocus      Candidate         `json:"primary_focus"`
	ConfidenceScore   float64           `json:"confidence_score"`
	SupportingReasons []string          `json:"supporting_reasons"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Futures           []Future          `json:"futures"`
}

// NoClearNow means nothing stands out. FallbackAction is always set by the
// engine so a client has something to offer.
type NoClearNow struct {
	Explanation    string             `json:"explanation"`
	FallbackAction *RecommendedAction `json:"fallback_action,omitempty"`
	Reason         NoClearReason      `json:"reason,omitempty"`
	Contenders     []Candidate        `json:"contenders,omitempty"`
}

// Deferred means the user asked to be left alone until CooldownUntil.
type Deferred struct {
	LastKnownFocus *Candidate `json:"last_known_focus,omitempty"`
	CooldownUntil  time.Time  `json:"cooldown_until"`
}

func (ResolvedNow) Status() Status { return StatusResolvedNow }
func (NoClearNow) Status() Status  { return StatusNoClearNow }
func (Deferred) Status() Status    { return StatusDeferred }

func (ResolvedNow) isResult() {}
func (NoClearNow) isResult()  {}
func (Deferred) isResult()    {}

// MarshalJSON adds the status tag.
func (r ResolvedNow) MarshalJSON() ([]byte, error) {
	type plain ResolvedNow
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{StatusResolvedNow, plain(r)})
}

// MarshalJSON adds the status tag.
func (r NoClearNow) MarshalJSON() ([]byte, error) {
	type plain NoClearNow
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{StatusNoClearNow, plain(r)})
}

// MarshalJSON adds the status tag.
func (r Deferred) MarshalJSON() ([]byte, error) {
	type plain Deferred
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{StatusDeferred, plain(r)})
}

// Degraded returns the no-clear result used when computing or reading a
// result failed.
func Degraded(explanation string) NoClearNow {
	if explanation == "" {
		explanation = DegradedExplanation
	}
	fb := fallbackDegraded
	return NoClearNow{
		Explanation:    explanation,
		FallbackAction: &fb,
		Reason:         ReasonDegraded,
	}
}

// Match dispatches r to the handler for its variant. A nil or foreign
// Result goes to noClear with a degraded value.
func Match[T any](
	r Result,
	resolved func(ResolvedNow) T,
	noClear func(NoClearNow) T,
	deferred func(Deferred) T,
) T {
	switch v := r.(type) {
	case ResolvedNow:
		return resolved(v)
	case *ResolvedNow:
		if v != nil {
			return resolved(*v)
		}
	case NoClearNow:
		return noClear(v)
	case *NoClearNow:
		if v != nil {
			return noClear(*v)
		}
	case Deferred:
		return deferred(v)
	case *Deferred:
		if v != nil {
			return deferred(*v)
		}
	}
	return noClear(Degraded(""))
}

// wireResult is the union of all variant fields, used for decoding.
type wireResult struct {
	Status            Status             `json:"status"`
	PrimaryFocus      *Candidate         `json:"primary_focus"`
	ConfidenceScore   *float64           `json:"confidence_score"`
	SupportingReasons []string           `json:"supporting_reasons"`
	RecommendedAction *RecommendedAction `json:"recommended_action"`
	Futures           []Future           `json:"futures"`
	Explanation       string             `json:"explanation"`
	FallbackAction    *RecommendedAction `json:"fallback_action"`
	Reason            NoClearReason      `json:"reason"`
	Contenders        []Candidate        `json:"contenders"`
	LastKnownFocus    *Candidate         `json:"last_known_focus"`
	CooldownUntil     *time.Time         `json:"cooldown_until"`
}

// DecodeResult parses a serialized result and checks that the fields its
// status requires are present.
func DecodeResult(data []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	switch w.Status {
	case StatusResolvedNow:
		if w.PrimaryFocus == nil || w.PrimaryFocus.Key == "" {
			return nil, fmt.Errorf("%w: resolved_now without primary_focus", ErrMalformedResult)
		}
		if w.ConfidenceScore == nil {
			return nil, fmt.Errorf("%w: resolved_now without confidence_score", ErrMalformedResult)
		}
		if w.RecommendedAction == nil || w.RecommendedAction.Label == "" {
			return nil, fmt.Errorf("%w: resolved_now without recommended_action", ErrMalformedResult)
		}
		futures := w.Futures
		if futures == nil {
			futures = []Future{}
		}
		return ResolvedNow{
			PrimaryFocus:      *w.PrimaryFocus,
			ConfidenceScore:   *w.ConfidenceScore,
			SupportingReasons: w.SupportingReasons,
			RecommendedAction: *w.RecommendedAction,
			Futures:           futures,
		}, nil

	case StatusNoClearNow:
		if w.Explanation == "" {
			return nil, fmt.Errorf("%w: no_clear_now without explanation", ErrMalformedResult)
		}
		return NoClearNow{
			Explanation:    w.Explanation,
			FallbackAction: w.FallbackAction,
			Reason:         w.Reason,
			Contenders:     w.Contenders,
		}, nil

	case StatusDeferred:
		if w.CooldownUntil == nil || w.CooldownUntil.IsZero() {
			return nil, fmt.Errorf("%w: deferred without cooldown_until", ErrMalformedResult)
		}
		return Deferred{
			LastKnownFocus: w.LastKnownFocus,
			CooldownUntil:  *w.CooldownUntil,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedResult, w.Status)
}

// DecodeResultOrFallback is DecodeResult for display paths: anything it
// cannot read becomes a degraded NoClearNow instead of an error.
func DecodeResultOrFallback(data []byte) Result {
	r, err := DecodeResult(data)
	if err != nil {
		return Degraded("")
	}
	return r
}
