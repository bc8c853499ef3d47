package database

import (
	"context"
)

// RecordAudit appends an audit entry for an operator action.
// userID may be nil for actions taken by the system itself.
func (db *Database) RecordAudit(ctx context.Context, userID *uint, action, entityType, entityID, details string) error {
	entry := &AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	return db.WithContext(ctx).Omit("User").Create(entry).Error
}

// ListAuditLogs retrieves the most recent audit entries, newest first, with the
// acting user preloaded.
func (db *Database) ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	err := db.WithContext(ctx).Preload("User").
		Order("timestamp desc, id desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
