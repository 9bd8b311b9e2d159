// Package handler exposes the JSON API: exam generation, the live
// session, results, and API key management.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/TheInternetGod/note2exam/internal/i18n"
	"github.com/TheInternetGod/note2exam/internal/llm"
	"github.com/TheInternetGod/note2exam/internal/model"
	"github.com/TheInternetGod/note2exam/internal/session"
	"github.com/TheInternetGod/note2exam/internal/store"
)

// Generator produces exams and checks credentials. Satisfied by
// llm.Dispatcher; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, content llm.Content, cfg model.ExamConfig, userKeys, systemKeys string) (*model.GeneratedExam, error)
	ValidateCredentials(ctx context.Context, raw string) bool
}

// Handler holds shared dependencies for HTTP handlers.
//
// mu guards the handler's own fields only and is never held across a
// call into the session controller: the controller has its own lock
// and calls back into the handler on completion.
type Handler struct {
	store    *store.Store
	gen      Generator
	sysKeys  string
	validate *validator.Validate

	mu          sync.Mutex
	view        model.AppView
	exam        *model.GeneratedExam
	sess        *session.Controller
	result      *model.ExamResult
	quotaNotice bool // quota popup already surfaced this process
}

// New creates a Handler and resumes any persisted application state:
// an interrupted exam gets its session rebuilt from the stored
// snapshot, a finished one lands back on the results screen.
func New(s *store.Store, gen Generator, systemKeys string) (*Handler, error) {
	h := &Handler{
		store:    s,
		gen:      gen,
		sysKeys:  systemKeys,
		validate: validator.New(),
		view:     model.ViewDashboard,
	}

	saved, err := s.LoadAppState()
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return h, nil
	}

	switch saved.CurrentView {
	case model.ViewExam:
		if saved.GeneratedExam == nil {
			break
		}
		c, err := session.New(*saved.GeneratedExam, s)
		if err != nil {
			slog.Warn("could not resume exam session", "error", err)
			break
		}
		c.SetOnComplete(h.onExamComplete)
		c.StartClock()
		h.view = model.ViewExam
		h.exam = saved.GeneratedExam
		h.sess = c
		slog.Info("resumed exam session", "title", saved.GeneratedExam.Title)
	case model.ViewResults:
		if saved.ExamResult == nil {
			break
		}
		h.view = model.ViewResults
		h.exam = saved.GeneratedExam
		h.result = saved.ExamResult
	}

	return h, nil
}

// Close stops the countdown of an active session, if any.
func (h *Handler) Close() {
	h.mu.Lock()
	c := h.sess
	h.mu.Unlock()
	if c != nil {
		c.StopClock()
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleState)

		r.Post("/exam", h.handleGenerate)
		r.Post("/exam/restart", h.handleRestart)
		r.Get("/exam/result", h.handleResult)

		r.Route("/exam/session", func(r chi.Router) {
			r.Get("/", h.handleSession)
			r.Post("/select", h.handleSelect)
			r.Post("/clear", h.sessionAction(func(c *session.Controller) error { return c.ClearAnswer() }))
			r.Post("/next", h.sessionAction(func(c *session.Controller) error { return c.Next() }))
			r.Post("/previous", h.sessionAction(func(c *session.Controller) error { return c.Previous() }))
			r.Post("/mark", h.sessionAction(func(c *session.Controller) error { return c.MarkForReview() }))
			r.Post("/jump", h.handleJump)
			r.Post("/submit", h.sessionAction(func(c *session.Controller) error { return c.RequestSubmit() }))
			r.Post("/submit/confirm", h.handleConfirmSubmit)
			r.Post("/submit/cancel", h.sessionAction(func(c *session.Controller) error { return c.CancelSubmit() }))
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", h.handleGetKeys)
			r.Put("/", h.handleSetKeys)
			r.Delete("/", h.handleDeleteKeys)
			r.Post("/validate", h.handleValidateKeys)
		})
	})
}

type errorResponse struct {
	Error       string `json:"error"`
	QuotaNotice bool   `json:"quotaNotice,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID)})
}

// handleState reports which screen the client should show, so a
// reloaded frontend lands where it left off.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	st := model.AppState{
		CurrentView:   h.view,
		GeneratedExam: h.exam,
		ExamResult:    h.result,
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

type generateRequest struct {
	Config model.ExamConfig `json:"config"`
	Text   string           `json:"text"`
	Images []string         `json:"images"`
	PDF    string           `json:"pdf"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	if err := h.validate.Struct(req.Config); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: i18n.Td(r.Context(), "InvalidRequest",
				map[string]any{"Reason": err.Error()}),
		})
		return
	}
	if req.Text == "" && len(req.Images) == 0 && req.PDF == "" {
		h.writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	h.mu.Lock()
	if h.sess != nil {
		h.mu.Unlock()
		h.writeError(w, r, http.StatusConflict, "ExamInProgress")
		return
	}
	h.mu.Unlock()

	userKeys, err := h.store.UserKeys()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	content := llm.Content{Text: req.Text, Images: req.Images, PDF: req.PDF}
	exam, err := h.gen.Generate(r.Context(), content, req.Config, userKeys, h.sysKeys)
	if err != nil {
		h.writeGenerateError(w, r, err, userKeys != "")
		return
	}

	// Any snapshot from a previous exam is stale now.
	if err := h.store.ClearProgress(); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	c, err := session.New(*exam, h.store)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	c.SetOnComplete(h.onExamComplete)
	c.StartClock()

	h.mu.Lock()
	h.view = model.ViewExam
	h.exam = exam
	h.sess = c
	h.result = nil
	h.mu.Unlock()

	h.persistAppState()
	writeJSON(w, http.StatusCreated, exam)
}

// writeGenerateError translates a dispatcher failure into the right
// status and message. Whose keys ran out of quota decides the advice
// given: the user can delete their own keys, but only adding a key
// helps when the built-in ones are exhausted.
func (h *Handler) writeGenerateError(w http.ResponseWriter, r *http.Request, err error, usingUserKeys bool) {
	if errors.Is(err, llm.ErrNoCredentials) {
		h.writeError(w, r, http.StatusBadRequest, "ApiKeyMissing")
		return
	}

	if llm.IsRateLimited(err) {
		msgID := "QuotaSystemKeys"
		if usingUserKeys {
			msgID = "QuotaUserKeys"
		}
		h.mu.Lock()
		first := !h.quotaNotice
		h.quotaNotice = true
		h.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:       i18n.T(r.Context(), msgID),
			QuotaNotice: first,
		})
		return
	}

	slog.Error("exam generation failed", "error", err)
	h.writeError(w, r, http.StatusBadGateway, "GenerationFailed")
}

// onExamComplete runs outside the controller lock when an exam
// finalizes, whether by confirmation or by the clock reaching zero.
func (h *Handler) onExamComplete(res model.ExamResult) {
	h.mu.Lock()
	h.view = model.ViewResults
	h.result = &res
	h.sess = nil
	h.mu.Unlock()
	h.persistAppState()
}

// persistAppState snapshots the whole-app view so a restart resumes
// the right screen. Failures are logged, not surfaced.
func (h *Handler) persistAppState() {
	h.mu.Lock()
	st := model.AppState{
		CurrentView:   h.view,
		GeneratedExam: h.exam,
		ExamResult:    h.result,
	}
	h.mu.Unlock()
	if err := h.store.SaveAppState(st); err != nil {
		slog.Warn("persist app state", "error", err)
	}
}

func (h *Handler) controller() *session.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	c := h.controller()
	if c == nil {
		h.writeError(w, r, http.StatusNotFound, "NoActiveExam")
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// sessionAction wraps the navigation-style operations that differ
// only in which controller method they call.
func (h *Handler) sessionAction(op func(*session.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := h.controller()
		if c == nil {
			h.writeError(w, r, http.StatusNotFound, "NoActiveExam")
			return
		}
		if err := op(c); err != nil {
			h.writeSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c.Snapshot())
	}
}

func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrCompleted):
		h.writeError(w, r, http.StatusConflict, "ExamCompleted")
	case errors.Is(err, session.ErrNotSubmitting):
		h.writeError(w, r, http.StatusConflict, "NotSubmitting")
	case errors.Is(err, session.ErrIndexOutOfRange):
		h.writeError(w, r, http.StatusBadRequest, "QuestionOutOfRange")
	default:
		slog.Error("session operation failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
	}
}

type selectRequest struct {
	OptionIndex int `json:"optionIndex"`
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	h.sessionAction(func(c *session.Controller) error {
		return c.SelectOption(req.OptionIndex)
	})(w, r)
}

type jumpRequest struct {
	Index int `json:"index"`
}

func (h *Handler) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	h.sessionAction(func(c *session.Controller) error {
		return c.JumpTo(req.Index)
	})(w, r)
}

func (h *Handler) handleConfirmSubmit(w http.ResponseWriter, r *http.Request) {
	c := h.controller()
	if c == nil {
		h.writeError(w, r, http.StatusNotFound, "NoActiveExam")
		return
	}
	res, err := c.ConfirmSubmit()
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	res := h.result
	h.mu.Unlock()
	if res == nil {
		h.writeError(w, r, http.StatusNotFound, "NoResult")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRestart abandons any exam or result and returns to the
// dashboard with a clean slate.
func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	c := h.sess
	h.view = model.ViewDashboard
	h.exam = nil
	h.sess = nil
	h.result = nil
	h.quotaNotice = false
	h.mu.Unlock()

	if c != nil {
		c.StopClock()
	}
	if err := h.store.ClearProgress(); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	if err := h.store.ClearAppState(); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	writeJSON(w, http.StatusOK, model.AppState{CurrentView: model.ViewDashboard})
}

type keysResponse struct {
	Keys        []string `json:"keys"`
	HasUserKeys bool     `json:"hasUserKeys"`
}

func (h *Handler) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	raw, err := h.store.UserKeys()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	keys := llm.SplitCredentials(raw)
	masked := make([]string, len(keys))
	for i, k := range keys {
		masked[i] = llm.MaskCredential(k)
	}
	writeJSON(w, http.StatusOK, keysResponse{Keys: masked, HasUserKeys: len(keys) > 0})
}

type keysRequest struct {
	Keys string `json:"keys"`
}

// keyPrefix is the well-known prefix of Gemini API keys, used as a
// cheap format check before any network round trip.
const keyPrefix = "AIza"

func (h *Handler) handleSetKeys(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	keys := llm.SplitCredentials(req.Keys)
	if len(keys) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "KeysEmpty")
		return
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, keyPrefix) {
			h.writeError(w, r, http.StatusBadRequest, "InvalidKeyFormat")
			return
		}
	}
	if err := h.store.SaveUserKeys(req.Keys); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	// Fresh keys may carry fresh quota.
	h.mu.Lock()
	h.quotaNotice = false
	h.mu.Unlock()

	slog.Info("user API keys updated", "count", len(keys))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearUserKeys(); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	h.mu.Lock()
	h.quotaNotice = false
	h.mu.Unlock()

	slog.Info("user API keys removed")
	w.WriteHeader(http.StatusNoContent)
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// handleValidateKeys checks the supplied keys (or the stored ones when
// the body carries none) with a minimal provider call per key.
func (h *Handler) handleValidateKeys(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	raw := req.Keys
	if raw == "" {
		stored, err := h.store.UserKeys()
		if err != nil {
			h.writeError(w, r, http.StatusInternalServerError, "InternalError")
			return
		}
		raw = stored
	}
	if raw == "" {
		h.writeError(w, r, http.StatusBadRequest, "KeysEmpty")
		return
	}

	valid := h.gen.ValidateCredentials(r.Context(), raw)
	msgID := "KeysRejected"
	if valid {
		msgID = "KeysValidated"
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:   valid,
		Message: i18n.T(r.Context(), msgID),
	})
}
