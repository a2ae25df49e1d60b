// Package command applies the side effect a recommended action describes.
//
// The executor is stateless. Every failure is reported through Outcome
// rather than a Go error, and each op is idempotent: repeating a call leaves
// the store as the first call did and still succeeds.
package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

// Failure codes carried in Outcome.Code.
const (
	CodeUnknownCommand = "unknown_command"
	CodeInvalidCommand = "invalid_command"
	CodeNotFound       = "not_found"
	CodeStoreError     = "store_error"
)

// Command is an executor request, usually the payload of a recommended
// action.
type Command struct {
	Op    string   `json:"op"`
	RefID string   `json:"ref_id"`
	Kind  now.Kind `json:"kind,omitempty"`
}

// FromAction builds a command from an action payload.
func FromAction(p now.ActionPayload) Command {
	return Command{Op: p.Op, RefID: p.RefID, Kind: p.Kind}
}

// Outcome reports how a command went.
type Outcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	// Key is the candidate key the command acted on, when known.
	Key string `json:"key,omitempty"`
	// Changed is false when the command found the item already in the
	// target state.
	Changed bool `json:"changed,omitempty"`
}

func fail(code, msg string) Outcome {
	return Outcome{OK: false, Code: code, Error: msg}
}

// Store is the part of the work item repository the executor writes to.
type Store interface {
	Get(ctx context.Context, userID string, kind now.Kind, id now.ItemID) (now.Item, error)
	SetStatus(ctx context.Context, userID string, kind now.Kind, id now.ItemID, status string) (bool, error)
	Touch(ctx context.Context, userID string, kind now.Kind, id now.ItemID, at time.Time) error
}

// Executor applies commands to a Store.
type Executor struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewExecutor creates an executor. A nil clock uses time.Now.
func NewExecutor(store Store, logger *slog.Logger, clock func() time.Time) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Executor{store: store, logger: logger, clock: clock}
}

// target resolves which item a command addresses.
type target struct {
	kind now.Kind
	id   now.ItemID
}

func (t target) key() string { return now.CandidateKey(t.kind, t.id) }

// resolveTarget applies the op's fixed kind, or for the generic open op the
// command's kind, a "kind:id" ref, or action, in that order.
func resolveTarget(cmd Command, fixed now.Kind) (target, bool) {
	ref := strings.TrimSpace(cmd.RefID)
	if ref == "" {
		return target{}, false
	}
	if fixed != "" {
		return target{kind: fixed, id: now.ItemID(ref)}, true
	}
	if cmd.Kind != "" {
		k, ok := now.ParseKind(string(cmd.Kind))
		if !ok {
			return target{}, false
		}
		return target{kind: k, id: now.ItemID(ref)}, true
	}
	if k, id, ok := now.SplitCandidateKey(ref); ok {
		return target{kind: k, id: id}, true
	}
	return target{kind: now.KindAction, id: now.ItemID(ref)}, true
}

// opKinds fixes the kind of every specific op. OpOpen is generic.
var opKinds = map[string]now.Kind{
	now.OpCompleteAction: now.KindAction,
	now.OpResolveBlocker: now.KindBlocker,
	now.OpResumeSession:  now.KindSession,
	now.OpOpenDecision:   now.KindDecision,
	now.OpOpen:           "",
}

// Execute applies cmd for userID. It never panics on bad input.
func (e *Executor) Execute(ctx context.Context, userID string, cmd Command) Outcome {
	fixed, known := opKinds[cmd.Op]
	if !known {
		e.logger.Debug("unknown command", "op", cmd.Op)
		return fail(CodeUnknownCommand, "unknown command: "+cmd.Op)
	}
	if strings.TrimSpace(userID) == "" {
		return fail(CodeInvalidCommand, "user_id is required")
	}
	tgt, ok := resolveTarget(cmd, fixed)
	if !ok {
		return fail(CodeInvalidCommand, "ref_id is required and kind must be valid")
	}

	var (
		changed bool
		err     error
	)
	switch cmd.Op {
	case now.OpCompleteAction:
		changed, err = e.store.SetStatus(ctx, userID, tgt.kind, tgt.id, now.StatusDone)
	case now.OpResolveBlocker:
		changed, err = e.store.SetStatus(ctx, userID, tgt.kind, tgt.id, now.StatusResolved)
	case now.OpResumeSession, now.OpOpenDecision:
		err = e.store.Touch(ctx, userID, tgt.kind, tgt.id, e.clock())
		changed = err == nil
	case now.OpOpen:
		changed, err = e.open(ctx, userID, tgt)
	}

	if err != nil {
		if errors.Is(err, workitems.ErrNotFound) {
			return fail(CodeNotFound, tgt.key()+" not found")
		}
		e.logger.Error("command failed", "op", cmd.Op, "key", tgt.key(), "error", err)
		return fail(CodeStoreError, "failed to apply "+cmd.Op)
	}

	e.logger.Debug("command applied", "op", cmd.Op, "key", tgt.key(), "changed", changed)
	return Outcome{OK: true, Key: tgt.key(), Changed: changed}
}

// open touches the item and starts an open action.
func (e *Executor) open(ctx context.Context, userID string, tgt target) (bool, error) {
	it, err := e.store.Get(ctx, userID, tgt.kind, tgt.id)
	if err != nil {
		return false, err
	}
	if err := e.store.Touch(ctx, userID, tgt.kind, tgt.id, e.clock()); err != nil {
		return false, err
	}
	if tgt.kind == now.KindAction && strings.EqualFold(strings.TrimSpace(it.Status), now.StatusOpen) {
		if _, err := e.store.SetStatus(ctx, userID, tgt.kind, tgt.id, now.StatusInProgress); err != nil {
			return false, err
		}
	}
	return true, nil
}
