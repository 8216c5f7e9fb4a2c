package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
	"quizgen/internal/generation"
	"quizgen/internal/middleware"
)

const maxRequestBody = 1 << 20

type generationCreateRequest struct {
	DocumentID string                   `json:"document_id"`
	Params     jsoncfg.GenerationParams `json:"params"`
}

type generationCreateResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	EstimatedTokens  int64  `json:"estimated_tokens"`
}

type billingView struct {
	State           string `json:"state"`
	ReservationID   string `json:"reservation_id,omitempty"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	CommittedTokens int64  `json:"committed_tokens"`
	ActualTokens    int64  `json:"actual_tokens"`
	WasCapped       bool   `json:"was_capped"`
	LastError       string `json:"last_error,omitempty"`
}

type generationView struct {
	JobID            string                   `json:"job_id"`
	DocumentID       string                   `json:"document_id"`
	Status           string                   `json:"status"`
	ProcessedChunks  int                      `json:"processed_chunks"`
	TotalChunks      int                      `json:"total_chunks"`
	EstimatedSeconds int                      `json:"estimated_seconds"`
	Error            string                   `json:"error,omitempty"`
	QuizIDs          []string                 `json:"quiz_ids"`
	Params           jsoncfg.GenerationParams `json:"params"`
	Billing          billingView              `json:"billing"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
	CompletedAt      *time.Time               `json:"completed_at,omitempty"`
}

type cancelResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Billing string `json:"billing"`
}

func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationCreateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	res, err := a.Generations.Start(r.Context(), generation.StartRequest{
		UserID:     userID,
		DocumentID: strings.TrimSpace(req.DocumentID),
		Params:     req.Params,
		Locale:     middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/generations/"+res.JobID)
	a.json(w, http.StatusAccepted, generationCreateResponse{
		JobID:            res.JobID,
		Status:           string(res.Status),
		EstimatedSeconds: res.EstimatedSeconds,
		EstimatedTokens:  res.EstimatedTokens,
	})
}

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Generations.Get(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toGenerationView(job))
}

func (a *App) GenerationCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	res, err := a.Generations.Cancel(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, cancelResponse{
		JobID:   res.JobID,
		Status:  string(res.Status),
		Billing: string(res.Billing.Kind),
	})
}

func toGenerationView(job *domain.GenerationJob) generationView {
	quizIDs := job.ResultQuizIDs
	if quizIDs == nil {
		quizIDs = []string{}
	}
	var committed int64
	if job.BillingState == domain.BillingStateCommitted {
		committed = job.BillingCommittedTokens
	}
	return generationView{
		JobID:            job.ID,
		DocumentID:       job.DocumentID,
		Status:           string(job.Status),
		ProcessedChunks:  job.ProcessedChunks,
		TotalChunks:      job.TotalChunks,
		EstimatedSeconds: job.EstimatedTimeSeconds,
		Error:            job.ErrorMessage,
		QuizIDs:          quizIDs,
		Params:           job.Params,
		Billing: billingView{
			State:           string(job.BillingState),
			ReservationID:   job.BillingReservationID,
			EstimatedTokens: job.BillingEstimatedTokens,
			CommittedTokens: committed,
			ActualTokens:    job.ActualTokens,
			WasCapped:       job.WasCappedAtReserved,
			LastError:       job.LastBillingError,
		},
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
}
