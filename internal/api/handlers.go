package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/LeventeLantos/kindergarten-notify/internal/auth"
	"github.com/LeventeLantos/kindergarten-notify/internal/model"
	"github.com/LeventeLantos/kindergarten-notify/internal/scheduler"
	"github.com/LeventeLantos/kindergarten-notify/internal/token"
)

type Dispatcher interface {
	RunBatch(ctx context.Context) (model.BatchResult, error)
}

type Queue interface {
	Enqueue(ctx context.Context, m model.NewMessage) (uuid.UUID, error)
	Requeue(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (model.Message, error)
	List(ctx context.Context, f model.MessageFilter, limit, offset int) ([]model.Message, error)
}

type Tokens interface {
	Mint(ctx context.Context, studentID string, reportType model.ReportType, guardianAccess bool) (token.Minted, error)
	Validate(ctx context.Context, c token.Check) (token.Result, error)
	Revoke(ctx context.Context, value string) error
}

type Scheduler interface {
	Start() bool
	Stop() bool
	Status() scheduler.Status
}

type Handler struct {
	sched      Scheduler
	dispatcher Dispatcher
	queue      Queue
	tokens     Tokens
}

func NewHandler(s Scheduler, d Dispatcher, q Queue, t Tokens) *Handler {
	return &Handler{sched: s, dispatcher: d, queue: q, tokens: t}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// Dispatch runs one batch synchronously and returns its per-message results.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.RunBatch(r.Context())
	if err != nil {
		slog.Error("dispatch failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "dispatch failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type enqueueRequest struct {
	Recipient   string     `json:"recipient"`
	Content     string     `json:"content"`
	Type        string     `json:"messageType"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	m := model.NewMessage{
		TenantID:  auth.TenantID(r.Context()),
		Recipient: req.Recipient,
		Content:   req.Content,
		Type:      model.MessageType(req.Type),
	}
	if req.ScheduledAt != nil {
		m.ScheduledAt = req.ScheduledAt.UTC()
	}

	id, err := h.queue.Enqueue(r.Context(), m)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status model.Status
	if raw := q.Get("status"); raw != "" {
		s, err := model.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		status = s
	}

	items, err := h.queue.List(r.Context(), model.MessageFilter{
		TenantID: auth.TenantID(r.Context()),
		Status:   status,
	}, parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMessage(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) RequeueMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMessage(w, r)
	if !ok {
		return
	}
	id, err := h.queue.Requeue(r.Context(), m.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "requeuedFrom": m.ID})
}

// ownedMessage loads the {id} message and hides other tenants' messages as
// not found.
func (h *Handler) ownedMessage(w http.ResponseWriter, r *http.Request) (model.Message, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return model.Message{}, false
	}
	m, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return model.Message{}, false
	}
	if m.TenantID != auth.TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found")
		return model.Message{}, false
	}
	return m, true
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError maps domain sentinels to HTTP statuses. Validation
// messages are safe to echo; storage errors are not.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
