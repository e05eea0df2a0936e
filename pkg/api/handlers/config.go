package handlers

import "net/http"

// ConfigHandler serves a pre-rendered configuration snapshot. The snapshot
// is built by the caller (cmd/netraid) so this package never imports
// pkg/config — pkg/config already imports pkg/api for APIConfig, and a
// reverse import would cycle.
type ConfigHandler struct {
	snapshot any
}

// NewConfigHandler creates a config handler serving snapshot as-is. The
// caller is responsible for redacting secrets (e.g. registry.password)
// before passing it in.
func NewConfigHandler(snapshot any) *ConfigHandler {
	return &ConfigHandler{snapshot: snapshot}
}

// Get handles GET /config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.snapshot == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("configuration snapshot not available"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(h.snapshot))
}
