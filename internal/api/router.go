package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service      BookingService
	Health       *HealthHandler
	Logger       *zap.Logger
	RateLimitRPS int
	CORSOrigins  []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))

	// Health endpoints
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
		// Disabled unless RATE_LIMIT_RPS is set; throttled clients get 429.
		if cfg.RateLimitRPS > 0 {
			r.Use(httprate.Limit(cfg.RateLimitRPS, time.Second,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
				}),
			))
		}

		r.Post("/bookings", createBookingHandler(cfg.Service, cfg.Logger))
		r.Get("/doctors", listDoctorsHandler(cfg.Service, cfg.Logger))
		r.Get("/doctors/{id}", getDoctorHandler(cfg.Service, cfg.Logger))
		r.Get("/appointments/{id}", getConfirmationHandler(cfg.Service, cfg.Logger))
	})

	return r
}
