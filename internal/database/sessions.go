package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// CreateSession inserts a new session row. The associated VpnUser is not written.
// A reused EventID fails with ErrDuplicate.
func (db *Database) CreateSession(ctx context.Context, session *Session) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(session).Error
}

// GetSession retrieves a session with its identity preloaded.
func (db *Database) GetSession(ctx context.Context, id uint) (*Session, error) {
	var session Session
	if err := db.WithContext(ctx).Preload("VpnUser").First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessionByEventID retrieves the session created by the event with the given
// correlation key. Returns ErrNotFound if the event has not been recorded.
func (db *Database) GetSessionByEventID(ctx context.Context, eventID string) (*Session, error) {
	var session Session
	if err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// LatestActiveSession returns the active session of an identity with the most
// recent start time. Returns ErrNotFound if the identity has no active session.
func (db *Database) LatestActiveSession(ctx context.Context, vpnUserID uint) (*Session, error) {
	var session Session
	err := db.WithContext(ctx).
		Where("vpn_user_id = ? AND status = ?", vpnUserID, SessionActive).
		Order("start_time desc, id desc").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CloseSession marks an active session closed at endTime, recording byte
// counters when they are known. It reports false if the session was already
// closed or does not exist.
func (db *Database) CloseSession(ctx context.Context, id uint, endTime time.Time, received, sent *uint64) (bool, error) {
	updates := map[string]interface{}{
		"status":   SessionClosed,
		"end_time": endTime,
	}
	if received != nil {
		updates["bytes_received"] = *received
	}
	if sent != nil {
		updates["bytes_sent"] = *sent
	}

	result := db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", id, SessionActive).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountActiveSessionsForUser returns how many sessions of an identity are still open.
func (db *Database) CountActiveSessionsForUser(ctx context.Context, vpnUserID uint) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Session{}).
		Where("vpn_user_id = ? AND status = ?", vpnUserID, SessionActive).
		Count(&count).Error
	return count, err
}

// CountActiveSessions returns the number of open sessions across the fleet.
func (db *Database) CountActiveSessions(ctx context.Context) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Session{}).Where("status = ?", SessionActive).Count(&count).Error
	return count, err
}

// ListActiveSessions retrieves all open sessions, newest first, with identities preloaded.
func (db *Database) ListActiveSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := db.WithContext(ctx).Preload("VpnUser").
		Where("status = ?", SessionActive).
		Order("start_time desc").
		Find(&sessions).Error
	return sessions, err
}

// ListSessionHistory retrieves the most recent sessions in any state, newest first.
// The limit parameter controls the maximum number of records to return.
func (db *Database) ListSessionHistory(ctx context.Context, limit int) ([]Session, error) {
	var sessions []Session
	err := db.WithContext(ctx).Preload("VpnUser").
		Order("start_time desc").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListSessionsForVpnUser retrieves the most recent sessions of one identity.
func (db *Database) ListSessionsForVpnUser(ctx context.Context, vpnUserID uint, limit int) ([]Session, error) {
	var sessions []Session
	err := db.WithContext(ctx).
		Where("vpn_user_id = ?", vpnUserID).
		Order("start_time desc").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// CountSessions returns the total number of session rows.
func (db *Database) CountSessions(ctx context.Context) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Session{}).Count(&count).Error
	return count, err
}

// TotalBytesTransferred sums the byte counters recorded on all sessions.
func (db *Database) TotalBytesTransferred(ctx context.Context) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&Session{}).
		Select("COALESCE(SUM(bytes_received + bytes_sent), 0)").
		Scan(&total).Error
	return total, err
}

// ActiveBytesTransferred sums the byte counters of open sessions only.
func (db *Database) ActiveBytesTransferred(ctx context.Context) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&Session{}).
		Where("status = ?", SessionActive).
		Select("COALESCE(SUM(bytes_received + bytes_sent), 0)").
		Scan(&total).Error
	return total, err
}
