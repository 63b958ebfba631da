package api

import (
	"net/http"
	"time"

	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the REST API and the room websocket endpoint
func NewRouter(a *API, tokens *auth.Tokens, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", a.HealthHandler)
	r.Get("/api/stats", a.StatsHandler)

	r.Group(func(r chi.Router) {
		r.Use(tokens.Verifier())
		r.Use(auth.Authenticator)

		r.Route("/api/rooms", func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(60 * time.Second))

			r.Get("/", a.ListRoomsHandler)
			r.Post("/", a.CreateRoomHandler)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", a.GetRoomHandler)
				r.Post("/join", a.JoinRoomHandler)
				r.Get("/fields/{field}", a.GetFieldHandler)
				r.Put("/fields/{field}", a.PutFieldHandler)
				r.Post("/run", a.RunCodeHandler)
			})
		})

		if wsHandler != nil {
			r.Handle("/ws/rooms/{roomID}", wsHandler)
		}
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
