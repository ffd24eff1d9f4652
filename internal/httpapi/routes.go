package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mpreston/matchpoint/internal/hub"
	"github.com/mpreston/matchpoint/internal/ws"
)

func SetupRoutes(api *API, h *hub.Hub) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/api/auth/register", api.Register)
	r.Post("/api/auth/login", api.Login)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)

		r.Post("/api/auth/logout", api.Logout)
		r.Get("/api/auth/me", api.Me)

		r.Route("/api/games", func(r chi.Router) {
			r.Post("/", api.CreateGame)
			r.Get("/", api.ListGames)
			r.Get("/{gameID}", api.GetGame)
			r.Post("/{gameID}/accept", api.AcceptInvitation)
			r.Post("/{gameID}/decline", api.DeclineInvitation)
		})
		r.Get("/api/invitations", api.ListInvitations)
		r.Get("/api/history", api.ListHistory)
		r.Get("/api/history/{gameID}", api.GetHistory)

		r.Get("/ws", ws.Handler(h))
	})
	return r
}
