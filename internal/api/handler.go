// Package api serves the focus operations as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/runger/focus/internal/assemble"
	"github.com/runger/focus/internal/command"
	"github.com/runger/focus/internal/dismissal"
	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/focus"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidArg     = "invalid_argument"
	CodeFetchFailed    = "fetch_failed"
	CodeRateLimited    = "rate_limited"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ExecuteRequest is the body of POST /now/execute.
type ExecuteRequest struct {
	UserID string   `json:"user_id"`
	Op     string   `json:"op"`
	RefID  string   `json:"ref_id"`
	Kind   now.Kind `json:"kind,omitempty"`
}

// EventRequest is the body of POST /now/events.
type EventRequest struct {
	UserID  string          `json:"user_id"`
	Type    now.EventType   `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeferRequest is the body of POST /now/defer.
type DeferRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// WakeRequest is the body of POST /now/wake.
type WakeRequest struct {
	UserID   string `json:"user_id"`
	FocusKey string `json:"focus_key,omitempty"`
}

// DismissRequest is the body of POST /now/dismiss.
type DismissRequest struct {
	UserID string `json:"user_id"`
	Key    string `json:"key"`
}

// DismissResponse reports the candidate's counter after a dismissal.
type DismissResponse struct {
	Key   string          `json:"key"`
	Count int             `json:"count"`
	State dismissal.State `json:"state"`
}

// ItemRequest is the body of PUT /items.
type ItemRequest struct {
	UserID string   `json:"user_id"`
	Kind   now.Kind `json:"kind"`
	Item   now.Item `json:"item"`
}

// ItemsResponse lists stored items.
type ItemsResponse struct {
	Items []workitems.Record `json:"items"`
}

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the focus API.
type Handler struct {
	svc     *focus.Service
	pinger  Pinger
	limiter *userLimiter
	maxBody int64
	logger  *slog.Logger
}

// Config holds handler limits.
type Config struct {
	// ExecutePerSecond is the per-user rate of POST /now/execute. Zero
	// disables the limit.
	ExecutePerSecond float64
	ExecuteBurst     int
	MaxBodyBytes     int64
}

// DefaultConfig returns the default handler limits.
func DefaultConfig() Config {
	return Config{
		ExecutePerSecond: 5,
		ExecuteBurst:     10,
		MaxBodyBytes:     1 << 20,
	}
}

// NewHandler creates an API handler. pinger may be nil.
func NewHandler(svc *focus.Service, pinger Pinger, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		svc:     svc,
		pinger:  pinger,
		limiter: newUserLimiter(cfg.ExecutePerSecond, cfg.ExecuteBurst),
		maxBody: cfg.MaxBodyBytes,
		logger:  logger,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /now/compute", h.HandleCompute)
	mux.HandleFunc("POST /now/execute", h.HandleExecute)
	mux.HandleFunc("POST /now/events", h.HandleEvent)
	mux.HandleFunc("GET /now/current", h.HandleCurrent)
	mux.HandleFunc("POST /now/defer", h.HandleDefer)
	mux.HandleFunc("POST /now/wake", h.HandleWake)
	mux.HandleFunc("POST /now/dismiss", h.HandleDismiss)
	mux.HandleFunc("PUT /items", h.HandlePutItem)
	mux.HandleFunc("GET /items", h.HandleListItems)
	mux.HandleFunc("DELETE /items/{kind}/{id}", h.HandleDeleteItem)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.Handle("GET /metrics", h.svc.Metrics().Handler())
}

// Routes returns the API wrapped in request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return logRequests(h.logger, mux)
}

// HandleCompute runs the engine on a posted bundle. Nothing is read from
// or written to storage.
func (h *Handler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	var b now.Bundle
	if !h.decode(w, r, &b) {
		return
	}
	if b.Now.IsZero() {
		b.Now = time.Now()
	}
	h.writeJSON(w, http.StatusOK, h.svc.Compute(b))
}

// HandleExecute applies a command. Business failures are a 200 with
// ok=false and a code; only transport and rate problems are HTTP errors.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if ve := validateUserID(req.UserID); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	if !h.limiter.allow(req.UserID) {
		h.logger.Warn("execute rate limit exceeded", "user_id", req.UserID)
		h.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:     CodeRateLimited,
			Message:   "Too many commands, slow down",
			Retryable: true,
		})
		return
	}

	out := h.svc.Execute(r.Context(), req.UserID, command.Command{Op: req.Op, RefID: req.RefID, Kind: req.Kind})
	h.writeJSON(w, http.StatusOK, out)
}

// HandleEvent appends a user event.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if ve := validateEvent(&req); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	ev, err := h.svc.LogEvent(r.Context(), req.UserID, req.Type, req.Payload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ev)
}

// HandleCurrent computes the user's focus from storage.
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if ve := validateUserID(userID); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	res, err := h.svc.Current(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleDefer starts a cooldown.
func (h *Handler) HandleDefer(w http.ResponseWriter, r *http.Request) {
	var req DeferRequest
	if !h.decode(w, r, &req) {
		return
	}
	if ve := firstError(validateUserID(req.UserID), validateReason(req.Reason)); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	res, err := h.svc.Defer(r.Context(), req.UserID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleWake ends a cooldown.
func (h *Handler) HandleWake(w http.ResponseWriter, r *http.Request) {
	var req WakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ve := validateUserID(req.UserID)
	if ve == nil && req.FocusKey != "" {
		ve = validateKey("focus_key", req.FocusKey)
	}
	if ve != nil {
		h.writeValidation(w, ve)
		return
	}
	res, err := h.svc.Wake(r.Context(), req.UserID, req.FocusKey)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleDismiss counts a dismissal.
func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	var req DismissRequest
	if !h.decode(w, r, &req) {
		return
	}
	if ve := firstError(validateUserID(req.UserID), validateKey("key", req.Key)); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	rec, err := h.svc.Dismiss(r.Context(), req.UserID, req.Key)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DismissResponse{Key: rec.Key, Count: rec.Count, State: rec.State})
}

// HandlePutItem creates or replaces a work item.
func (h *Handler) HandlePutItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	if ve := validateItem(&req); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	if err := h.svc.PutItem(r.Context(), req.UserID, req.Kind, req.Item); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListItems lists stored items, optionally of one kind.
func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if ve := validateUserID(userID); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	var kind now.Kind
	if raw := q.Get("kind"); raw != "" {
		k, ok := now.ParseKind(raw)
		if !ok {
			h.writeValidation(w, &ValidationError{Field: "kind", Message: "must be one of action, decision, blocker, session"})
			return
		}
		kind = k
	}
	recs, err := h.svc.ListItems(r.Context(), userID, kind)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ItemsResponse{Items: recs})
}

// HandleDeleteItem removes one work item.
func (h *Handler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if ve := validateUserID(userID); ve != nil {
		h.writeValidation(w, ve)
		return
	}
	kind, ok := now.ParseKind(r.PathValue("kind"))
	if !ok {
		h.writeValidation(w, &ValidationError{Field: "kind", Message: "must be one of action, decision, blocker, session"})
		return
	}
	if err := h.svc.DeleteItem(r.Context(), userID, kind, now.ItemID(r.PathValue("id"))); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports liveness and, when configured, storage reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body capped at maxBody. It writes the error response
// itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON request body")
		return false
	}
	return true
}

// writeServiceError maps a service error onto a status code. Fetch failures
// are retryable and must not look like an empty result.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if fe, ok := assemble.IsFetchError(err); ok {
		h.logger.Warn("bundle fetch failed", "source", fe.Source, "error", fe.Err)
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     CodeFetchFailed,
			Message:   "Couldn't load your work right now, try again",
			Retryable: true,
		})
		return
	}
	switch {
	case errors.Is(err, focus.ErrUserRequired):
		h.writeValidation(w, &ValidationError{Field: "user_id", Message: errRequiredNonEmpty})
	case errors.Is(err, events.ErrUnknownType):
		h.writeValidation(w, &ValidationError{Field: "type", Message: err.Error()})
	case errors.Is(err, workitems.ErrNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, "Item not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     CodeFetchFailed,
			Message:   "Request timed out",
			Retryable: true,
		})
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, "Internal error")
	}
}

func (h *Handler) writeValidation(w http.ResponseWriter, ve *ValidationError) {
	h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   CodeInvalidArg,
		Message: ve.Field + ": " + ve.Message,
		Field:   ve.Field,
	})
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError writes a non-retryable error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
