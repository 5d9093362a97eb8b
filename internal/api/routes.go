package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://cipher-academy.com", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check outside /api for load balancers
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/run-period/{day}", h.RunPeriod)
			r.Post("/welcome-emails/process", h.ProcessWelcomeEmails)
			r.Get("/scheduler/status", h.GetSchedulerStatus)
		})

		r.Post("/webhooks/email-events", h.EmailEvents)

		r.Route("/welcome-emails", func(r chi.Router) {
			r.Get("/stats", h.WelcomeStats)
			r.Post("/schedule/{id}", h.ScheduleWelcomeSeries)
			r.Post("/resend/{user}/{seq}", h.ResendWelcomeEmail)
			r.Get("/users/{id}/progress", h.WelcomeProgress)
		})

		r.Post("/submissions", h.SubmitChallenge)
		r.Get("/users/{id}/progress", h.UserProgress)
		r.Get("/challenges/week/{week}", h.WeekChallenges)
	})

	return r
}
