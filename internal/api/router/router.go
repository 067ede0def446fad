package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/xray-diagnosis-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/xray-diagnosis-platform/internal/http/middleware"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Diagnoses          *handlers.DiagnosesHandler
	AuthJWTSecret      string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// UploadLimiter throttles diagnosis uploads per user (optional).
	UploadLimiter *httpmiddleware.RateLimiter

	// Readiness reports dependency health for /health (optional).
	Readiness func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.Readiness))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Diagnoses != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.UserJWT(cfg.AuthJWTSecret))
			api.Route("/patients/{patientID}/diagnoses", func(pr chi.Router) {
				pr.Get("/", cfg.Diagnoses.ListDiagnoses)
				if cfg.UploadLimiter != nil {
					pr.With(httpmiddleware.RateLimit(cfg.UploadLimiter)).Post("/", cfg.Diagnoses.CreateDiagnosis)
				} else {
					pr.Post("/", cfg.Diagnoses.CreateDiagnosis)
				}
			})
			api.Route("/diagnoses/{diagnosisID}", func(dr chi.Router) {
				dr.Get("/", cfg.Diagnoses.GetDiagnosis)
				dr.With(middleware.NoCache).Get("/report", cfg.Diagnoses.ExportReport)
			})
		})
	}

	return r
}

func healthHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
