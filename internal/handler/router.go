package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	chathandler "github.com/chatpad-app/chatpad/backend/internal/handler/chat"
	streamhandler "github.com/chatpad-app/chatpad/backend/internal/handler/stream"
	wshandler "github.com/chatpad-app/chatpad/backend/internal/handler/ws"
	"github.com/chatpad-app/chatpad/backend/internal/session"
	"github.com/chatpad-app/chatpad/backend/internal/settings"
	"github.com/chatpad-app/chatpad/backend/internal/store"
	"github.com/chatpad-app/chatpad/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. A nil manager means no model
// provider could be constructed; the chat endpoints answer 503 while the
// catalogue and settings stay usable.
func NewRouter(st *store.Store, settingsStore *settings.Store, manager *session.Manager, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	chatHandler := chathandler.New(st, settingsStore, manager)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)

		if manager == nil {
			api.Post("/chat", chatUnavailable)
			api.Post("/chat/{chatID}/cancel", chatUnavailable)
			api.Get("/ws/chat", chatUnavailable)
			return
		}

		streamhandler.New(manager, logger).RegisterRoutes(api)
		wshandler.New(manager, logger).RegisterRoutes(api)
	})

	return r
}

func chatUnavailable(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "chat generation unavailable")
}

// requestLogger is a thin structured replacement for chi's default logger.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
