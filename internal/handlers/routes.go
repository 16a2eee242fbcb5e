package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Timeout(60 * time.Second))

	// WebSocket
	r.Get("/ws", h.Hub.ServeWs)

	// Claim engine (public; the bot front end forwards the acting user)
	r.Post("/api/claim", h.handleClaim)
	r.Post("/api/unclaim", h.handleUnclaim)
	r.Post("/api/impossible", h.handleImpossible)
	r.Post("/api/validate", h.handleValidate)

	// Campaign data (public)
	r.Get("/api/campaigns", h.handleListCampaigns)
	r.Get("/api/status/{id}", h.handleStatus)
	r.Get("/api/map/{name}", h.handleDownloadMap)

	// Admin API (protected)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.RequireAuthAPI)

		r.Post("/api/admin/build", h.handleBuild)
		r.Post("/api/admin/fix/{id}", h.handleFix)
		r.Post("/api/admin/invalidate", h.handleInvalidate)
		r.Post("/api/admin/dump/{id}", h.handleDump)
		r.Post("/api/admin/refresh/{id}", h.handleRefresh)
	})

	return r
}
