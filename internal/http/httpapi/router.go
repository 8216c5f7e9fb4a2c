package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"quizgen/internal/http/handlers"
	"quizgen/internal/middleware"
)

type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	AllowedOrigins  []string
	DefaultLocale   string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/readyz", app.Ready)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.I18N(opts.DefaultLocale))

		create := r.With()
		if opts.RateLimitPerMin > 0 {
			create = r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}
		create.Post("/", app.GenerationsCreate)
		r.Get("/{job_id}", app.GenerationStatus)
		r.Post("/{job_id}/cancel", app.GenerationCancel)
		r.Get("/{job_id}/stream", app.GenerationStream)
	})

	return r
}
