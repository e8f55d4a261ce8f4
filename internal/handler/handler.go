// Package handler implements the JSON API served under /api.
package handler

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"dodns/internal/auth"
	"dodns/internal/model"
	"dodns/internal/util"
)

// AuditLog is the part of store.Store the handlers write to.
type AuditLog interface {
	LogAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error)
}

// Auditor records who did what from where.
type Auditor struct {
	store      AuditLog
	trustProxy bool
	log        *logrus.Entry
}

func NewAuditor(store AuditLog, trustProxy bool, log *logrus.Entry) *Auditor {
	return &Auditor{store: store, trustProxy: trustProxy, log: log.WithField("component", "audit")}
}

// Record fills in the caller and client address and stores entry. Failures
// are logged and do not fail the request.
func (a *Auditor) Record(r *http.Request, entry model.AuditEntry) {
	if entry.Username == "" {
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			entry.Username = p.Username
		}
	}
	entry.IPAddress = a.ClientIP(r)

	if err := a.store.LogAudit(r.Context(), entry); err != nil {
		a.log.WithError(err).WithField("action", entry.Action).Error("writing audit entry")
	}
}

func (a *Auditor) ClientIP(r *http.Request) string {
	return util.ClientIP(r, a.trustProxy)
}
