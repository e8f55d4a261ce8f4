package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/httpx"
	"dodns/internal/model"
)

const (
	auditPageSize = 50
	maxAuditPage  = math.MaxInt32 / auditPageSize
)

type AuditHandler struct {
	store AuditLog
	log   *logrus.Entry
}

func NewAuditHandler(store AuditLog, log *logrus.Entry) *AuditHandler {
	return &AuditHandler{store: store, log: log.WithField("component", "audit")}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxAuditPage {
			httpx.WriteError(w, h.log, apperr.Validation("Invalid page: %s", raw))
			return
		}
		page = v
	}
	offset := (page - 1) * auditPageSize

	entries, total, err := h.store.ListAudit(r.Context(), auditPageSize, offset)
	if err != nil {
		httpx.WriteError(w, h.log, apperr.Internal("Failed to load audit log", err))
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"page":        page,
		"total":       total,
		"total_pages": (total + auditPageSize - 1) / auditPageSize,
	})
}
