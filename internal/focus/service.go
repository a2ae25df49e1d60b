// Package focus is the service layer between the transports and the engine.
// It reads a user's bundle from storage, runs the engine behind a recover
// boundary, and records the events and counters the engine reads back.
package focus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/runger/focus/internal/assemble"
	"github.com/runger/focus/internal/command"
	"github.com/runger/focus/internal/dismissal"
	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/metrics"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

// ErrUserRequired is returned by every user-scoped operation called without
// a user id.
var ErrUserRequired = errors.New("user_id is required")

// Deps are the collaborators of a Service. Engine, Items, Events and
// Dismissals are required.
type Deps struct {
	Engine     *now.Engine
	Items      *workitems.Store
	Events     *events.Log
	Dismissals *dismissal.Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Clock      func() time.Time
	Assemble   assemble.Config
}

// Service implements the focus operations.
type Service struct {
	engine     *now.Engine
	items      *workitems.Store
	events     *events.Log
	dismissals *dismissal.Store
	assembler  *assemble.Assembler
	executor   *command.Executor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time
}

// New creates a service.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Engine == nil {
		d.Engine = now.Default()
	}
	return &Service{
		engine:     d.Engine,
		items:      d.Items,
		events:     d.Events,
		dismissals: d.Dismissals,
		assembler:  assemble.New(d.Items, d.Events, d.Dismissals, d.Assemble, d.Logger, d.Clock),
		executor:   command.NewExecutor(d.Items, d.Logger, d.Clock),
		metrics:    d.Metrics,
		logger:     d.Logger,
		clock:      d.Clock,
	}
}

// Metrics returns the service's instruments.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Compute runs the engine on b. A panic inside the engine is logged,
// counted, and turned into a degraded NoClearNow.
func (s *Service) Compute(b now.Bundle) (res now.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("compute panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			s.metrics.RecordPanic()
			res = now.Degraded("")
		}
		s.metrics.RecordCompute(string(res.Status()), time.Since(start))
	}()
	return s.engine.Compute(b)
}

// Bundle assembles the user's current bundle from storage.
func (s *Service) Bundle(ctx context.Context, userID string) (now.Bundle, error) {
	if userID == "" {
		return now.Bundle{}, ErrUserRequired
	}
	b, err := s.assembler.Assemble(ctx, userID)
	if err != nil {
		if fe, ok := assemble.IsFetchError(err); ok {
			s.metrics.RecordFetchError(fe.Source)
		}
		return now.Bundle{}, err
	}
	return b, nil
}

// Current computes the user's focus from storage. A storage failure is
// returned as an *assemble.FetchError, never as an empty result.
func (s *Service) Current(ctx context.Context, userID string) (now.Result, error) {
	b, err := s.Bundle(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Compute(b), nil
}

// lastFocus picks the candidate a defer should remember.
func lastFocus(r now.Result) *now.Candidate {
	return now.Match(r,
		func(v now.ResolvedNow) *now.Candidate { return &v.PrimaryFocus },
		func(v now.NoClearNow) *now.Candidate {
			if len(v.Contenders) > 0 {
				return &v.Contenders[0]
			}
			return nil
		},
		func(v now.Deferred) *now.Candidate { return v.LastKnownFocus },
	)
}

// Defer records that the user wants to be left alone and returns the
// resulting deferred state.
func (s *Service) Defer(ctx context.Context, userID, reason string) (now.Result, error) {
	current, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(now.DeferPayload{LastFocusCandidate: lastFocus(current), Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode defer payload: %w", err)
	}
	if _, err := s.LogEvent(ctx, userID, now.EventDeferNow, payload); err != nil {
		return nil, err
	}
	return s.Current(ctx, userID)
}

// Wake ends a defer early. A non-empty focusKey also marks what the user
// wants to work on.
func (s *Service) Wake(ctx context.Context, userID, focusKey string) (now.Result, error) {
	var payload json.RawMessage
	if focusKey != "" {
		p, err := json.Marshal(now.OverridePayload{FocusKey: focusKey})
		if err != nil {
			return nil, fmt.Errorf("failed to encode override payload: %w", err)
		}
		payload = p
	}
	if _, err := s.LogEvent(ctx, userID, now.EventOverrideNow, payload); err != nil {
		return nil, err
	}
	return s.Current(ctx, userID)
}

// Dismiss records that the user waved away a candidate.
func (s *Service) Dismiss(ctx context.Context, userID, key string) (dismissal.Record, error) {
	if userID == "" {
		return dismissal.Record{}, ErrUserRequired
	}
	rec, err := s.dismissals.RecordDismissal(ctx, userID, key, s.clock())
	if err != nil {
		return dismissal.Record{}, err
	}
	s.metrics.RecordDismissal()
	s.logger.Info("candidate dismissed", "user_id", userID, "key", key, "count", rec.Count, "state", rec.State)
	return rec, nil
}

// executedPayload is the payload of an EXECUTED_ACTION event.
type executedPayload struct {
	Op    string   `json:"op"`
	RefID string   `json:"ref_id"`
	Kind  now.Kind `json:"kind,omitempty"`
	Key   string   `json:"key,omitempty"`
}

// Execute applies cmd. On success it logs EXECUTED_ACTION and forgives
// earlier dismissals of the same candidate. Follow-up failures are logged
// and do not change the outcome.
func (s *Service) Execute(ctx context.Context, userID string, cmd command.Command) command.Outcome {
	out := s.executor.Execute(ctx, userID, cmd)
	s.metrics.RecordExecute(cmd.Op, out.OK)
	if !out.OK {
		s.logger.Info("command rejected", "user_id", userID, "op", cmd.Op, "code", out.Code)
		return out
	}

	kind := cmd.Kind
	if k, _, ok := now.SplitCandidateKey(out.Key); ok {
		kind = k
	}
	payload, err := json.Marshal(executedPayload{Op: cmd.Op, RefID: cmd.RefID, Kind: kind, Key: out.Key})
	if err == nil {
		_, err = s.LogEvent(ctx, userID, now.EventExecutedAction, payload)
	}
	if err != nil {
		s.logger.Warn("failed to log executed action", "user_id", userID, "op", cmd.Op, "error", err)
	}

	if out.Key != "" {
		if err := s.dismissals.Reset(ctx, userID, out.Key); err != nil {
			s.logger.Warn("failed to reset dismissals", "user_id", userID, "key", out.Key, "error", err)
		}
	}
	return out
}

// LogEvent appends a user event stamped with the service clock.
func (s *Service) LogEvent(ctx context.Context, userID string, typ now.EventType, payload json.RawMessage) (events.Event, error) {
	if userID == "" {
		return events.Event{}, ErrUserRequired
	}
	ev, err := s.events.Append(ctx, userID, typ, payload, s.clock())
	if err != nil {
		return events.Event{}, err
	}
	s.metrics.RecordEvent(string(typ))
	s.logger.Info("user event logged", "user_id", userID, "type", typ, "event_id", ev.ID)
	return ev, nil
}

// PutItem creates or replaces a work item.
func (s *Service) PutItem(ctx context.Context, userID string, kind now.Kind, it now.Item) error {
	if userID == "" {
		return ErrUserRequired
	}
	return s.items.Upsert(ctx, userID, kind, it)
}

// ListItems lists the user's items of one kind, or all kinds when kind is
// empty.
func (s *Service) ListItems(ctx context.Context, userID string, kind now.Kind) ([]workitems.Record, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	return s.items.List(ctx, userID, kind)
}

// DeleteItem removes a work item. Deleting a missing item succeeds.
func (s *Service) DeleteItem(ctx context.Context, userID string, kind now.Kind, id now.ItemID) error {
	if userID == "" {
		return ErrUserRequired
	}
	return s.items.Delete(ctx, userID, kind, id)
}
