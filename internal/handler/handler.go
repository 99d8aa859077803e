package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/judge"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/store"
	"github.com/pavelanni/assessor/internal/tutor"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	submit *judge.Service
	tutor  *tutor.Tutor
	engine *scoring.Engine
}

// New creates a new Handler.
func New(s *store.Store, submit *judge.Service, t *tutor.Tutor, e *scoring.Engine) *Handler {
	return &Handler{store: s, submit: submit, tutor: t, engine: e}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)

	r.Post("/attempts", h.handleStartAttempt)
	r.Get("/attempts/{attemptID}", h.handleGetAttempt)
	r.Post("/attempts/{attemptID}/finish", h.handleFinish)
	r.Post("/attempts/{attemptID}/abandon", h.handleAbandon)
	r.Post("/attempts/{attemptID}/questions/{questionID}/answer", h.handleAnswer)
	r.Post("/attempts/{attemptID}/questions/{questionID}/hint", h.handleHint)
	r.Post("/attempts/{attemptID}/questions/{questionID}/explanation", h.handleExplanation)
	r.Post("/attempts/{attemptID}/questions/{questionID}/study", h.handleStudyMaterial)
	r.Post("/questions/{questionID}/explanation", h.handleExplanation)

	r.Get("/students/{studentID}/tests/{testID}/performance", h.handlePerformance)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startAttemptRequest struct {
	StudentID string `json:"student_id"`
	TestID    int64  `json:"test_id"`
}

type startAttemptResponse struct {
	Attempt model.TestAttempt `json:"attempt"`
	Resumed bool              `json:"resumed"`
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := decodeBody(r, &req, false); err != nil || strings.TrimSpace(req.StudentID) == "" || req.TestID <= 0 {
		h.badRequest(w, r, err)
		return
	}

	a, created, err := h.store.StartAttempt(r.Context(), req.StudentID, req.TestID)
	if err != nil {
		h.writeError(w, r, err, "NotFound")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		slog.Info("attempt started", "attempt_id", a.ID, "student_id", a.StudentID, "test_id", a.TestID)
	}
	writeJSON(w, status, startAttemptResponse{Attempt: a, Resumed: !created})
}

type attemptView struct {
	Attempt model.TestAttempt             `json:"attempt"`
	Records []model.QuestionAttemptRecord `json:"records"`
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	a, err := h.store.GetAttempt(r.Context(), attemptID)
	if err != nil {
		h.writeError(w, r, err, "AttemptNotFound")
		return
	}
	records, err := h.store.ListRecords(r.Context(), attemptID)
	if err != nil {
		h.writeError(w, r, err, "AttemptNotFound")
		return
	}
	if records == nil {
		records = []model.QuestionAttemptRecord{}
	}
	writeJSON(w, http.StatusOK, attemptView{Attempt: a, Records: records})
}

type finishResponse struct {
	Attempt  model.TestAttempt `json:"attempt"`
	Messages []string          `json:"messages"`
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Finish(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.writeError(w, r, err, "AttemptNotFound")
		return
	}

	messages := []string{}
	if a.Result != nil {
		if a.Result.MasteryAchieved {
			messages = append(messages, i18n.T(r.Context(), "MasteryAchieved"))
		}
		if n := a.Result.QuestionsRequiringStudy; n > 0 {
			messages = append(messages, i18n.Tp(r.Context(), "QuestionsToStudy", n))
		}
	}
	writeJSON(w, http.StatusOK, finishResponse{Attempt: a, Messages: messages})
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Abandon(r.Context(), chi.URLParam(r, "attemptID")); err != nil {
		h.writeError(w, r, err, "AttemptNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	Answer         string `json:"answer"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	questionID, ok := h.questionID(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := decodeBody(r, &req, false); err != nil || req.ElapsedSeconds < 0 {
		h.badRequest(w, r, err)
		return
	}

	res, err := h.submit.Submit(r.Context(), chi.URLParam(r, "attemptID"), questionID, req.Answer, req.ElapsedSeconds)
	if err != nil {
		h.writeError(w, r, err, "QuestionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type hintRequest struct {
	Index       int    `json:"index"`
	WrongAnswer string `json:"wrong_answer"`
}

func (h *Handler) handleHint(w http.ResponseWriter, r *http.Request) {
	questionID, ok := h.questionID(w, r)
	if !ok {
		return
	}
	var req hintRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.badRequest(w, r, err)
		return
	}

	res, err := h.tutor.Hint(r.Context(), chi.URLParam(r, "attemptID"), questionID, req.Index, req.WrongAnswer)
	if err != nil {
		h.writeError(w, r, err, "QuestionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type explanationRequest struct {
	FollowUp string `json:"follow_up"`
}

// handleExplanation serves both the attempt-scoped and the standalone route;
// attemptID is empty on the latter.
func (h *Handler) handleExplanation(w http.ResponseWriter, r *http.Request) {
	questionID, ok := h.questionID(w, r)
	if !ok {
		return
	}
	var req explanationRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.badRequest(w, r, err)
		return
	}

	res, err := h.tutor.Explanation(r.Context(), questionID, chi.URLParam(r, "attemptID"), req.FollowUp)
	if err != nil {
		h.writeError(w, r, err, "QuestionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStudyMaterial(w http.ResponseWriter, r *http.Request) {
	questionID, ok := h.questionID(w, r)
	if !ok {
		return
	}
	if err := h.tutor.StudyMaterialDownloaded(r.Context(), chi.URLParam(r, "attemptID"), questionID); err != nil {
		h.writeError(w, r, err, "QuestionNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePerformance(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	m, err := h.store.GetPerformanceMetrics(r.Context(), chi.URLParam(r, "studentID"), testID)
	if err != nil {
		h.writeError(w, r, err, "NotFound")
		return
	}
	if m == nil {
		h.writeError(w, r, store.ErrNotFound, "NotFound")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) questionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		h.badRequest(w, r, err)
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON body into v. With optional set, an empty body
// leaves v at its zero value.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	slog.Debug("bad request", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: i18n.T(r.Context(), "InvalidRequest")})
}

// writeError maps domain errors to HTTP statuses with a localized message.
// notFoundID names the message used for ErrNotFound.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, notFoundID string) {
	var status int
	var msgID string
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, msgID = http.StatusNotFound, notFoundID
	case errors.Is(err, store.ErrAttemptNotInProgress):
		status, msgID = http.StatusConflict, "AttemptNotInProgress"
	case errors.Is(err, scoring.ErrEmptyTest):
		status, msgID = http.StatusConflict, "EmptyTest"
	case errors.Is(err, tutor.ErrHintOutOfOrder):
		status, msgID = http.StatusBadRequest, "HintOutOfOrder"
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		status, msgID = http.StatusInternalServerError, "InternalError"
	}
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
