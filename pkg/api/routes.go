package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireSession)
				r.Get("/me", s.handleMe)
			})
		})

		// Everything below needs a valid internal session.
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Route("/register", func(r chi.Router) {
				r.Get("/grades", s.handleGrades)
				r.Get("/periods", s.handlePeriods)
				r.Get("/marks", s.handleMarks)
				r.Get("/grades/{eventID}/notes", s.handleGradeNote)
				r.Get("/attendance", s.handleAttendance)
			})

			r.Get("/agenda/{day}", s.handleAgenda)
			r.Get("/lessons/{day}", s.handleLessons)
			r.Get("/noticeboard", s.handleNoticeboard)

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", s.handleOwnProfile)
				r.Get("/{internalID}", s.handleProfile)
				r.Put("/name", s.handleSetDisplayName)
				r.Put("/bio", s.handleSetBio)
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
