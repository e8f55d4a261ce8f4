package handler

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/httpx"
	"dodns/internal/model"
	"dodns/internal/service"
)

type ConfigHandler struct {
	creds *service.Credentials
	audit *Auditor
	log   *logrus.Entry
}

func NewConfigHandler(creds *service.Credentials, audit *Auditor, log *logrus.Entry) *ConfigHandler {
	return &ConfigHandler{creds: creds, audit: audit, log: log.WithField("component", "config")}
}

type configRequest struct {
	APIToken string `json:"api_token"`
	DNSZone  string `json:"dns_zone"`
}

func (h *ConfigHandler) Status(w http.ResponseWriter, r *http.Request) {
	cfg, configured := h.creds.Get(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"configured": configured,
		"zone":       zoneOrNil(cfg.DNSZone),
	})
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, _ := h.creds.Get(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"api_token": service.MaskToken(cfg.APIToken),
		"dns_zone":  cfg.DNSZone,
		"has_token": cfg.APIToken != "",
	})
}

func (h *ConfigHandler) Save(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	zone, err := h.creds.Save(r.Context(), req.APIToken, req.DNSZone)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	h.audit.Record(r, model.AuditEntry{Action: "config_save", Detail: "zone=" + zone})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration saved successfully",
		"zone":    zone,
	})
}

func (h *ConfigHandler) Test(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	res, err := h.creds.Test(r.Context(), req.APIToken, req.DNSZone)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      res.Message,
		"record_count": res.RecordCount,
		"zone":         res.Zone,
	})
}

// decode reads the body and swaps a masked token, as returned by Get, back
// for the stored one.
func (h *ConfigHandler) decode(r *http.Request) (configRequest, error) {
	var req configRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return req, err
	}
	if strings.HasPrefix(req.APIToken, "****") {
		current, _ := h.creds.Get(r.Context())
		if current.APIToken == "" || service.MaskToken(current.APIToken) != req.APIToken {
			return req, apperr.Validation("Please enter the full API token")
		}
		req.APIToken = current.APIToken
	}
	return req, nil
}
