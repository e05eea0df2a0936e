// Package handlers implements the read-only admin HTTP endpoints served by
// pkg/api: liveness, cluster status, and a config snapshot. There
// is no authentication layer here — the admin surface is a Non-goal for
// anything beyond what an operator would run behind their own network
// boundary.
package handlers

import (
	"net/http"

	"github.com/netraid/netraid/pkg/api"
)

func writeJSON(w http.ResponseWriter, status int, resp api.Response) {
	api.JSON(w, status, resp)
}

func healthyResponse(data interface{}) api.Response {
	return api.HealthyResponse(data)
}

func unhealthyResponse(errMsg string) api.Response {
	return api.UnhealthyResponse(errMsg)
}
