package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mediaplan/backend/internal/config"
	"mediaplan/backend/internal/controller"
	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/plan"
	"mediaplan/backend/internal/recommend"
	"mediaplan/backend/internal/threads"
	"mediaplan/backend/internal/validate"
)

const maxTurnMessageRunes = 4_000

type Handler struct {
	cfg           config.Config
	conversations *controller.Controller
	threads       threads.Store
	files         ObjectStore
	engine        recommend.Engine
	log           *logger.LogMiddleware
	now           func() time.Time
}

type HandlerDeps struct {
	Config        config.Config
	Conversations *controller.Controller
	Threads       threads.Store
	Files         ObjectStore
	Logger        *logger.LogMiddleware
	Clock         func() time.Time
}

func NewHandler(deps HandlerDeps) Handler {
	h := Handler{
		cfg:           deps.Config,
		conversations: deps.Conversations,
		threads:       deps.Threads,
		files:         deps.Files,
		engine:        recommend.NewEngine(deps.Conversations.Policy()),
		log:           deps.Logger,
		now:           deps.Clock,
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	result, err := h.conversations.StartThread(r.Context(), h.now())
	if err != nil {
		h.log.Logger(r.Context()).Error("[HTTP] Could not start thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"turn": result})
}

func (h Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.threads.ListActive(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": summaries})
}

func (h Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	state, ok := h.loadThread(w, r)
	if !ok {
		return
	}
	files, err := h.threads.ListFiles(r.Context(), state.ThreadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list thread files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": state, "files": files})
}

func (h Handler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	err := h.conversations.EndThread(r.Context(), threadID)
	switch {
	case errors.Is(err, threads.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
	case err != nil:
		h.log.Logger(r.Context()).Error("[HTTP] Could not archive thread", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete thread")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

type turnRequest struct {
	Message string `json:"message"`
}

func (h Handler) PostTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	state, ok := h.loadThread(w, r)
	if !ok {
		return
	}
	h.runTurn(w, r, state.ThreadID, trimToRunes(message, maxTurnMessageRunes), http.StatusOK, nil)
}

// runTurn hands text to the controller under the turn timeout and writes the
// result. extra is merged into the response body.
func (h Handler) runTurn(w http.ResponseWriter, r *http.Request, threadID, text string, status int, extra map[string]any) {
	ctx := r.Context()
	if h.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.TurnTimeout)
		defer cancel()
	}

	result, err := h.conversations.HandleTurn(ctx, controller.Turn{ThreadID: threadID, Text: text, Timestamp: h.now()})
	if err != nil {
		h.writeTurnError(w, r, threadID, err)
		return
	}

	body := map[string]any{"turn": result}
	for key, value := range extra {
		body[key] = value
	}
	writeJSON(w, status, body)
}

func (h Handler) writeTurnError(w http.ResponseWriter, r *http.Request, threadID string, err error) {
	switch {
	case errors.Is(err, controller.ErrEmptyThreadID):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "turn_timeout", "the turn took too long, please send it again")
	case errors.Is(err, controller.ErrTurnCancelled):
		writeError(w, http.StatusServiceUnavailable, "turn_cancelled", "the turn was cancelled, please send it again")
	case errors.Is(err, controller.ErrThreadClosed):
		writeError(w, http.StatusGone, "thread_closed", "this conversation has ended, start a new one")
	default:
		h.log.Logger(r.Context()).Error("[HTTP] Turn failed", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "turn_failed", "failed to process the message")
	}
}

func (h Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	state, ok := h.loadThread(w, r)
	if !ok {
		return
	}
	if state.FinalPlan == nil {
		writeError(w, http.StatusConflict, "plan_not_ready", "the plan has not been generated yet")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(plan.RenderMarkdown(*state.FinalPlan)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": state.FinalPlan})
}

type recommendationRequest struct {
	Industry    string   `json:"industry"`
	Budget      string   `json:"budget"`
	Preferences []string `json:"preferences"`
}

// Recommend previews the channel engine without touching any thread.
func (h Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var budget *mediaplan.Budget
	if strings.TrimSpace(req.Budget) != "" {
		parsed, err := validate.Budget(req.Budget, h.conversations.Policy().DefaultCurrency)
		if err != nil {
			if !writeValidationError(w, err) {
				writeError(w, http.StatusBadRequest, "invalid_budget", err.Error())
			}
			return
		}
		budget = &parsed
	}

	channels, err := h.engine.Recommend(req.Industry, budget, req.Preferences)
	if err != nil {
		if errors.Is(err, recommend.ErrMissingPrerequisite) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "recommend_failed", "failed to recommend channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": h.engine.Classify(req.Industry),
		"channels": channels,
	})
}

func (h Handler) loadThread(w http.ResponseWriter, r *http.Request) (mediaplan.ConversationState, bool) {
	threadID := strings.TrimSpace(chi.URLParam(r, "id"))
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "thread id is required")
		return mediaplan.ConversationState{}, false
	}
	state, err := h.conversations.Snapshot(r.Context(), threadID)
	if errors.Is(err, threads.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
		return mediaplan.ConversationState{}, false
	}
	if err != nil {
		h.log.Logger(r.Context()).Error("[HTTP] Could not load thread", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load thread")
		return mediaplan.ConversationState{}, false
	}
	return state, true
}
