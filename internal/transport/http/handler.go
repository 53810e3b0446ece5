// Package http exposes the survey use cases over a plain net/http mux:
// a public surface for respondents and a basic-auth gated admin surface.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"course-survey-service/internal/app"
	"course-survey-service/internal/domain"
	"course-survey-service/internal/identity"
)

// Options carries the transport-level knobs.
type Options struct {
	AdminUsername string
	AdminPassword string
	// BaseURL is used only to build shareable survey links in admin
	// responses.
	BaseURL string
	// SubmissionWindowHours is echoed by the check-submission probe. The
	// gate itself checks "ever submitted"; the window is advisory only.
	SubmissionWindowHours int
}

type Handler struct {
	service *app.SurveyService
	store   app.Store
	opts    Options
}

func NewHandler(service *app.SurveyService, store app.Store, opts Options) *Handler {
	return &Handler{service: service, store: store, opts: opts}
}

// Register wires all routes into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/surveys", h.listPublished)
	mux.HandleFunc("GET /api/surveys/{id}", h.getPublished)
	mux.HandleFunc("GET /api/surveys/{id}/check-submission", h.checkSubmission)
	mux.HandleFunc("POST /api/surveys/{id}/submit", h.submit)

	mux.HandleFunc("GET /api/admin/surveys", h.admin(h.adminList))
	mux.HandleFunc("POST /api/admin/surveys", h.admin(h.adminUpload))
	mux.HandleFunc("GET /api/admin/surveys/{id}", h.admin(h.adminGet))
	mux.HandleFunc("PATCH /api/admin/surveys/{id}", h.admin(h.adminPatch))
	mux.HandleFunc("DELETE /api/admin/surveys/{id}", h.admin(h.adminDelete))
	mux.HandleFunc("GET /api/admin/surveys/{id}/stats", h.admin(h.adminStats))
	mux.HandleFunc("GET /api/admin/surveys/{id}/stats/live", h.admin(h.adminStatsLive))
	mux.HandleFunc("POST /api/admin/init-db", h.admin(h.adminInitDB))
}

// admin gates a handler behind HTTP basic auth.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.opts.AdminUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.opts.AdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

type surveySummary struct {
	ID            string           `json:"id"`
	Title         domain.Localized `json:"title"`
	Description   domain.Localized `json:"description"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at,omitempty"`
	IsPublished   *bool            `json:"is_published,omitempty"`
	QuestionCount int              `json:"question_count"`
}

func (h *Handler) listPublished(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.service.ListSurveys(r.Context(), true)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]surveySummary, 0, len(surveys))
	for _, s := range surveys {
		out = append(out, surveySummary{
			ID:            s.ID,
			Title:         s.Title,
			Description:   s.Description,
			CreatedAt:     s.CreatedAt.Format(time.RFC3339Nano),
			QuestionCount: len(s.Questions),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// publicQuestion is a question with the answer key and explanation
// stripped, safe to hand to respondents before they submit.
type publicQuestion struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Content domain.Localized `json:"content"`
	Options []domain.Option  `json:"options"`
}

func (h *Handler) getPublished(w http.ResponseWriter, r *http.Request) {
	survey, err := h.service.GetPublishedSurvey(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	questions := make([]publicQuestion, 0, len(survey.Questions))
	for _, q := range survey.Questions {
		questions = append(questions, publicQuestion{
			ID:      q.ID,
			Type:    q.Type,
			Content: q.Content,
			Options: q.Options,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          survey.ID,
		"title":       survey.Title,
		"description": survey.Description,
		"questions":   questions,
	})
}

func (h *Handler) checkSubmission(w http.ResponseWriter, r *http.Request) {
	surveyID := r.PathValue("id")
	submitted, err := h.service.HasSubmitted(r.Context(), surveyID, identity.FromRequest(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hasSubmitted": submitted,
		"hours":        h.opts.SubmissionWindowHours,
		"surveyId":     surveyID,
	})
}

type submitRequest struct {
	Answers  map[string]string `json:"answers"`
	Language string            `json:"language"`
}

// answeredQuestion is the full question echoed back after submission,
// annotated with the respondent's answer.
type answeredQuestion struct {
	domain.Question
	UserAnswer string `json:"userAnswer"`
	IsCorrect  bool   `json:"isCorrect"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrBadAnswers.Error())
		return
	}

	result, err := h.service.Submit(r.Context(), r.PathValue("id"), identity.FromRequest(r), req.Answers, req.Language)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	byQuestion := make(map[string]domain.ScoreDetail, len(result.Details))
	for _, d := range result.Details {
		byQuestion[d.QuestionID] = d
	}
	questions := make([]answeredQuestion, 0, len(result.Questions))
	for _, q := range result.Questions {
		detail := byQuestion[q.ID]
		questions = append(questions, answeredQuestion{
			Question:   q,
			UserAnswer: detail.UserAnswer,
			IsCorrect:  detail.Correct,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"submissionId": result.SubmissionID,
		"score":        result.Score,
		"total":        result.Total,
		"percentage":   result.Percentage,
		"questions":    questions,
	})
}

func (h *Handler) adminList(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.service.ListSurveys(r.Context(), false)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]surveySummary, 0, len(surveys))
	for _, s := range surveys {
		published := s.IsPublished
		out = append(out, surveySummary{
			ID:            s.ID,
			Title:         s.Title,
			Description:   s.Description,
			CreatedAt:     s.CreatedAt.Format(time.RFC3339Nano),
			UpdatedAt:     s.UpdatedAt.Format(time.RFC3339Nano),
			IsPublished:   &published,
			QuestionCount: len(s.Questions),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) adminUpload(w http.ResponseWriter, r *http.Request) {
	var doc domain.SurveyDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid survey document")
		return
	}
	id, err := h.service.Upload(r.Context(), doc)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
		"url":     h.surveyURL(id),
		"message": "survey created",
	})
}

func (h *Handler) adminGet(w http.ResponseWriter, r *http.Request) {
	survey, err := h.service.GetSurvey(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           survey.ID,
		"title":        survey.Title,
		"description":  survey.Description,
		"questions":    survey.Questions,
		"created_at":   survey.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   survey.UpdatedAt.Format(time.RFC3339Nano),
		"is_published": survey.IsPublished,
	})
}

func (h *Handler) adminPatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsPublished bool `json:"is_published"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := h.service.SetPublished(r.Context(), id, req.IsPublished); err != nil {
		h.writeDomainError(w, err)
		return
	}

	message := "survey unpublished"
	if req.IsPublished {
		message = "survey published"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"id":           id,
		"url":          h.surveyURL(id),
		"is_published": req.IsPublished,
		"message":      message,
	})
}

func (h *Handler) adminDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "survey deleted",
	})
}

type statsSubmission struct {
	ID        string            `json:"id"`
	CreatedAt string            `json:"created_at"`
	Language  string            `json:"language"`
	Score     int               `json:"score"`
	Answers   map[string]string `json:"answers"`
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	submissions := make([]statsSubmission, 0, len(report.Submissions))
	for _, sub := range report.Submissions {
		submissions = append(submissions, statsSubmission{
			ID:        sub.ID,
			CreatedAt: sub.CreatedAt.Format(time.RFC3339Nano),
			Language:  sub.Language,
			Score:     sub.Score,
			Answers:   sub.Answers,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"surveyId":      report.SurveyID,
		"title":         report.Title,
		"stats":         report.Stats,
		"questionStats": report.QuestionStats,
		"submissions":   submissions,
	})
}

func (h *Handler) adminInitDB(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Init(r.Context()); err != nil {
		log.Printf("init-db failed: %v", err)
		writeError(w, http.StatusInternalServerError, "database initialization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "database initialized",
	})
}

func (h *Handler) surveyURL(id string) string {
	return h.opts.BaseURL + "/surveys/" + id
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrBadAnswers), errors.Is(err, domain.ErrBadLanguage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSurveyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSurveyUnpublished):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
