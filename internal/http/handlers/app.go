package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quizgen/internal/domain"
	"quizgen/internal/events"
	"quizgen/internal/generation"
	"quizgen/internal/middleware"
)

// Generations is the part of generation.Service the API exposes.
type Generations interface {
	Start(ctx context.Context, req generation.StartRequest) (*generation.StartResult, error)
	Get(ctx context.Context, jobID, userID string) (*domain.GenerationJob, error)
	Cancel(ctx context.Context, jobID, userID string) (*generation.CancelResult, error)
}

// Subscriber attaches websocket connections to job updates.
type Subscriber interface {
	Subscribe(jobID string, conn *websocket.Conn, initial *events.JobEvent)
	Unsubscribe(conn *websocket.Conn)
}

type App struct {
	Generations Generations
	Events      Subscriber
	// Ping checks the job store for readiness; nil means always ready.
	Ping     func(ctx context.Context) error
	Logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewApp(gens Generations, subscriber Subscriber, logger zerolog.Logger) *App {
	return &App{
		Generations: gens,
		Events:      subscriber,
		Logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS middleware and the bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Shortfall is set on insufficient_funds responses.
	Shortfall *int64 `json:"shortfall,omitempty"`
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, errorResponse{Error: errCode, Message: msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// serviceError maps lifecycle errors onto HTTP responses.
func (a *App) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var funds *domain.InsufficientFundsError
	var terminal *domain.TerminalStateError
	switch {
	case errors.As(err, &funds):
		shortfall := funds.Shortfall()
		a.json(w, http.StatusPaymentRequired, errorResponse{
			Error:     "insufficient_funds",
			Message:   funds.Error(),
			Shortfall: &shortfall,
			Required:  &funds.Required,
			Available: &funds.Available,
		})
	case errors.Is(err, domain.ErrInsufficientFunds):
		a.error(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "job belongs to another user")
	case errors.As(err, &terminal):
		a.error(w, http.StatusConflict, "invalid_state", terminal.Error())
	case errors.Is(err, domain.ErrNoChunks):
		a.error(w, http.StatusBadRequest, "no_chunks", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		a.error(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
