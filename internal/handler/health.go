package handler

import (
	"net/http"

	"dodns/internal/httpx"
	"dodns/internal/service"
)

type HealthHandler struct {
	creds   *service.Credentials
	version string
}

func NewHealthHandler(creds *service.Credentials, version string) *HealthHandler {
	return &HealthHandler{creds: creds, version: version}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	cfg, configured := h.creds.Get(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"zone":       zoneOrNil(cfg.DNSZone),
		"configured": configured,
		"version":    h.version,
	})
}

func zoneOrNil(zone string) any {
	if zone == "" {
		return nil
	}
	return zone
}
