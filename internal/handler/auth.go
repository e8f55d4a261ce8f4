package handler

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/auth"
	"dodns/internal/httpx"
	"dodns/internal/model"
	"dodns/internal/service"
)

type AuthHandler struct {
	authn    *auth.Authenticator
	sessions *auth.SessionManager
	limiter  *auth.LoginLimiter
	creds    *service.Credentials
	audit    *Auditor
	log      *logrus.Entry
}

func NewAuthHandler(authn *auth.Authenticator, sm *auth.SessionManager, limiter *auth.LoginLimiter, creds *service.Credentials, audit *Auditor, log *logrus.Entry) *AuthHandler {
	return &AuthHandler{
		authn:    authn,
		sessions: sm,
		limiter:  limiter,
		creds:    creds,
		audit:    audit,
		log:      log.WithField("component", "auth"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := h.audit.ClientIP(r)
	if h.limiter.Blocked(ip) {
		httpx.WriteError(w, h.log, apperr.RateLimited("Too many failed login attempts. Please try again later."))
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	username, err := h.authn.Authenticate(req.Username, req.Password)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			h.limiter.Failure(ip)
			h.audit.Record(r, model.AuditEntry{Username: req.Username, Action: "login_failed"})
		}
		httpx.WriteError(w, h.log, err)
		return
	}
	h.limiter.Success(ip)

	s, err := h.sessions.CreateSession(w, username)
	if err != nil {
		httpx.WriteError(w, h.log, apperr.Internal("Failed to create session", err))
		return
	}

	h.audit.Record(r, model.AuditEntry{Username: username, Action: "login"})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"username":   username,
		"csrf_token": s.CSRFToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.audit.Record(r, model.AuditEntry{Action: "logout"})
	h.sessions.DestroySession(w, r)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessions.Lookup(r)
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      s.Username,
		"csrf_token":    s.CSRFToken,
	})
}

func (h *AuthHandler) APIToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.creds.APIToken(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"api_token": token})
}

func (h *AuthHandler) RegenerateAPIToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.creds.RegenerateAPIToken(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.audit.Record(r, model.AuditEntry{Action: "api_token_regenerate"})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"api_token": token,
		"message":   "API token regenerated. The previous token no longer works.",
	})
}
