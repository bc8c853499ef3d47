package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// VpnUserFilter narrows ListVpnUsers. Zero values match everything.
type VpnUserFilter struct {
	ServerID         string // Only identities reported by this server
	ConnectionStatus string // online or offline
	AccountStatus    string // VALID, EXPIRED or REVOKED
	Search           string // Case-insensitive match on common name, full name or email
}

// GetVpnUser retrieves a VPN identity by its surrogate ID.
// Returns ErrNotFound if no such identity exists.
func (db *Database) GetVpnUser(ctx context.Context, id uint) (*VpnUser, error) {
	var user VpnUser
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindVpnUser retrieves the identity for a (server, common name) pair.
// Returns ErrNotFound if the identity has not been seen yet.
func (db *Database) FindVpnUser(ctx context.Context, serverID, commonName string) (*VpnUser, error) {
	var user VpnUser
	err := db.WithContext(ctx).
		Where("server_id = ? AND common_name = ?", serverID, commonName).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListVpnUsers retrieves identities ordered by common name.
func (db *Database) ListVpnUsers(ctx context.Context, filter VpnUserFilter) ([]VpnUser, error) {
	query := db.WithContext(ctx).Model(&VpnUser{})
	if filter.ServerID != "" {
		query = query.Where("server_id = ?", filter.ServerID)
	}
	if filter.ConnectionStatus != "" {
		query = query.Where("connection_status = ?", filter.ConnectionStatus)
	}
	if filter.AccountStatus != "" {
		query = query.Where("account_status = ?", filter.AccountStatus)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(common_name) LIKE ? OR LOWER(full_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}

	var users []VpnUser
	err := query.Order("common_name asc, server_id asc").Find(&users).Error
	return users, err
}

// UpsertVpnUser inserts candidate if no identity exists for its
// (ServerID, CommonName); otherwise mutate is applied to the stored row and the
// named columns are written back. A concurrent insert that wins the unique index
// race is treated the same as a pre-existing row. The returned bool reports
// whether a row was created.
func (db *Database) UpsertVpnUser(ctx context.Context, candidate *VpnUser, mutate func(*VpnUser), columns ...string) (*VpnUser, bool, error) {
	existing, err := db.FindVpnUser(ctx, candidate.ServerID, candidate.CommonName)
	if err == nil {
		updated, err := db.mutateVpnUser(ctx, existing, mutate, columns)
		return updated, false, err
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up vpn user %s: %w", candidate.CommonName, err)
	}

	if err := db.WithContext(ctx).Create(candidate).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("failed to create vpn user %s: %w", candidate.CommonName, err)
		}

		winner, err := db.FindVpnUser(ctx, candidate.ServerID, candidate.CommonName)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reload vpn user %s after conflict: %w", candidate.CommonName, err)
		}
		updated, err := db.mutateVpnUser(ctx, winner, mutate, columns)
		return updated, false, err
	}

	return candidate, true, nil
}

func (db *Database) mutateVpnUser(ctx context.Context, user *VpnUser, mutate func(*VpnUser), columns []string) (*VpnUser, error) {
	if mutate == nil {
		return user, nil
	}
	mutate(user)
	if err := db.UpdateVpnUser(ctx, user, columns...); err != nil {
		return nil, fmt.Errorf("failed to update vpn user %s: %w", user.CommonName, err)
	}
	return user, nil
}

// UpdateVpnUser writes the named columns of user to its row. Other columns are
// left as stored, so connection state and traffic totals written concurrently
// by the reconciler survive. Writing no columns is a no-op.
func (db *Database) UpdateVpnUser(ctx context.Context, user *VpnUser, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	if user.ID == 0 {
		return fmt.Errorf("update vpn user %s: missing id", user.CommonName)
	}
	return db.WithContext(ctx).Model(&VpnUser{ID: user.ID}).Select(columns).Updates(user).Error
}

// SetVpnUserConnection sets the connection status of an identity. A non-nil
// connectedAt also records it as the last connection time.
func (db *Database) SetVpnUserConnection(ctx context.Context, id uint, status string, connectedAt *time.Time) error {
	updates := map[string]interface{}{"connection_status": status}
	if connectedAt != nil {
		updates["last_connected_at"] = *connectedAt
	}
	return db.WithContext(ctx).Model(&VpnUser{}).Where("id = ?", id).Updates(updates).Error
}

// AddVpnUserTraffic adds session byte counters to an identity's running totals.
func (db *Database) AddVpnUserTraffic(ctx context.Context, id uint, received, sent uint64) error {
	if received == 0 && sent == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&VpnUser{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_bytes_received": gorm.Expr("total_bytes_received + ?", received),
		"total_bytes_sent":     gorm.Expr("total_bytes_sent + ?", sent),
	}).Error
}

// CountVpnUsers returns the number of known identities and how many of them are online.
func (db *Database) CountVpnUsers(ctx context.Context) (total int64, online int64, err error) {
	if err = db.WithContext(ctx).Model(&VpnUser{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = db.WithContext(ctx).Model(&VpnUser{}).
		Where("connection_status = ?", ConnectionOnline).
		Count(&online).Error
	return total, online, err
}
