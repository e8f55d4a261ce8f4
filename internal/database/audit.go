package database

import (
	"context"
	"database/sql"
	"fmt"

	"dodns/internal/model"
)

func (db *DB) LogAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO audit_log (username, action, record_name, record_type, detail, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Username, entry.Action, entry.RecordName,
		entry.RecordType, entry.Detail, entry.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (db *DB) ListAudit(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}
	if offset < 0 || offset >= total || limit <= 0 {
		return nil, total, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, action, record_name, record_type, detail, ip_address, created_at
		 FROM audit_log
		 ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var recordName, recordType, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &recordName,
			&recordType, &detail, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.RecordName = recordName.String
		e.RecordType = recordType.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
