package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/netraid/netraid/pkg/registry"
)

// HealthCheckTimeout bounds how long the status handler waits on the
// registry before reporting the cluster view as unreachable.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler serves liveness and cluster-status endpoints.
type HealthHandler struct {
	registry *registry.Registry
}

// NewHealthHandler creates a health handler. registry may be nil, in which
// case Status always reports unhealthy.
func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

// Liveness handles GET /healthz — always 200 once the process is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "netraid",
	}))
}

// ServerSummary is one entry in the /status server directory listing.
type ServerSummary struct {
	ID       uint32 `json:"id"`
	Address  string `json:"address"`
	CCCPort  int    `json:"ccc_port"`
	SPNPort  int    `json:"spn_port"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
}

// StatusResponse is the /status payload: the registry's server directory.
type StatusResponse struct {
	Servers []ServerSummary `json:"servers"`
}

// Status handles GET /status — the cluster's server directory as known to
// the registry, for operators checking which data servers are reachable.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("registry not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	servers, err := h.registry.ListServers(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	resp := StatusResponse{Servers: make([]ServerSummary, 0, len(servers))}
	for _, s := range servers {
		summary := ServerSummary{
			ID:      s.ID,
			Address: s.Address,
			CCCPort: s.CCCPort,
			SPNPort: s.SPNPort,
			Status:  string(s.Status),
		}
		if s.LastSeenAt != nil {
			summary.LastSeen = s.LastSeenAt.UTC().Format(time.RFC3339)
		}
		resp.Servers = append(resp.Servers, summary)
	}

	writeJSON(w, http.StatusOK, healthyResponse(resp))
}
