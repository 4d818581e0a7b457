package api

import "net/http"

func RegisterRoutes(mux *http.ServeMux, h *Handler) http.Handler {
	// Cluster view
	mux.HandleFunc("GET /admin/services", h.ListServices)
	mux.HandleFunc("GET /admin/services/least-loaded", h.LeastLoaded)
	mux.HandleFunc("GET /admin/players", h.ListPlayers)
	mux.HandleFunc("GET /admin/players/{uuid}", h.GetPlayer)

	// Cache
	mux.HandleFunc("POST /admin/cache/invalidate", h.InvalidateCache)

	// Observability APIs
	mux.HandleFunc("GET /metrics", h.GetMetrics)
	mux.HandleFunc("GET /health", h.GetHealth)

	// Middlewares
	return Chain(
		mux,
		RecoveryMiddleware(h.logger),
		LoggingMiddleware(h.logger),
	)
}
