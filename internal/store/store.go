// Package store persists the DigitalOcean configuration, the API access
// token and the audit log.
package store

import (
	"context"

	"dodns/internal/model"
)

// Store is implemented by the file backend in this package and by the
// PostgreSQL backend in internal/database.
type Store interface {
	LoadConfiguration(ctx context.Context) (model.Configuration, error)
	SaveConfiguration(ctx context.Context, cfg model.Configuration) error

	// APIToken returns "" when no token has been generated yet.
	APIToken(ctx context.Context) (string, error)
	SetAPIToken(ctx context.Context, token string) error

	LogAudit(ctx context.Context, entry model.AuditEntry) error
	// ListAudit returns entries newest first along with the total count.
	ListAudit(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error)

	Close() error
}
