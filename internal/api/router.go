package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the chat API under /api, with /health also served at
// the root for health checks. limiter may be nil, in which case responses are not
// rate limited.
func NewRouter(apiHandler *APIHandler, limiter Limiter, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLog)
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", apiHandler.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/projects", apiHandler.ListProjectsHandler)
		r.Get("/chats", apiHandler.ListChatsHandler)

		r.Route("/chat/{chatID}", func(r chi.Router) {
			r.Get("/messages", apiHandler.ListMessagesHandler)
			r.Post("/files", apiHandler.UploadFilesHandler)
			r.Get("/files/{fileID}", apiHandler.DownloadFileHandler)

			r.Group(func(r chi.Router) {
				if limiter != nil {
					r.Use(RateLimit(limiter))
				}
				r.Post("/respond", apiHandler.RespondHandler)
			})
		})
	})

	return r
}
