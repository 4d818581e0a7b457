// Package api serves the node's admin HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"netcluster/internal/cluster"
	"netcluster/internal/health"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"github.com/google/uuid"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cluster  *cluster.Cluster
	metrics  *metrics.Registry
	analyzer *health.Analyzer
	logger   *logs.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	c *cluster.Cluster,
	reg *metrics.Registry,
	logger *logs.Logger,
) *Handler {
	return &Handler{
		cluster:  c,
		metrics:  reg,
		analyzer: health.NewAnalyzer(reg, logger),
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serviceTypeParam(r *http.Request) (cluster.ServiceType, bool, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return "", false, nil
	}
	t, err := cluster.ParseServiceType(raw)
	return t, true, err
}

/* ---------------- GET /admin/services ---------------- */

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	t, filtered, err := serviceTypeParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	services := h.cluster.Services()
	if filtered {
		services = h.cluster.ServicesOf(t)
	}
	writeJSON(w, http.StatusOK, services)
}

/* ---------------- GET /admin/services/least-loaded ---------------- */

func (h *Handler) LeastLoaded(w http.ResponseWriter, r *http.Request) {
	t, ok, err := serviceTypeParam(r)
	if err != nil || !ok {
		http.Error(w, "missing or unknown service type", http.StatusBadRequest)
		return
	}

	d, err := h.cluster.LeastLoadedService(t)
	if errors.Is(err, cluster.ErrNoSuchService) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

/* ---------------- GET /admin/players ---------------- */

func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	players := h.cluster.Players()

	out := make([]cluster.PlayerLocation, 0, len(players))
	for _, p := range players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	writeJSON(w, http.StatusOK, out)
}

/* ---------------- GET /admin/players/{uuid} ---------------- */

// GetPlayer answers from the local directory, or with ?locate=1 by asking
// the network which server holds the player.
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		http.Error(w, "invalid uuid", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("locate") != "1" {
		loc, ok := h.cluster.Player(id)
		if !ok {
			http.Error(w, "player not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, loc)
		return
	}

	d, err := h.cluster.WhereIs(id).Get(r.Context())
	switch {
	case errors.Is(err, cluster.ErrPlayerNotFound), errors.Is(err, cluster.ErrNoSuchService):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		writeJSON(w, http.StatusOK, d)
	}
}

/* ---------------- POST /admin/cache/invalidate ---------------- */

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	c := h.cluster.Cache()
	if c == nil {
		http.Error(w, "cache not configured", http.StatusServiceUnavailable)
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		http.Error(w, "missing prefix", http.StatusBadRequest)
		return
	}

	removed, err := c.InvalidateAll(prefix).Get(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analyzer.Analyze())
}
