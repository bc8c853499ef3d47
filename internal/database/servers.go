package database

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// apiKeyBytes is the amount of randomness in a generated agent API key.
const apiKeyBytes = 32

// GenerateAPIKey returns a new random agent API key, base64url encoded.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateVpnServer registers a new agent with a generated server ID and API key.
// Returns the stored registration, including the key the agent must present.
func (db *Database) CreateVpnServer(ctx context.Context, name, description string) (*VpnServer, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	server := &VpnServer{
		Name:        name,
		Description: description,
		ServerID:    uuid.NewString(),
		APIKey:      key,
		IsActive:    true,
	}
	if err := db.WithContext(ctx).Create(server).Error; err != nil {
		return nil, fmt.Errorf("failed to create vpn server: %w", err)
	}
	return server, nil
}

// GetVpnServer retrieves a registration by its surrogate ID.
func (db *Database) GetVpnServer(ctx context.Context, id uint) (*VpnServer, error) {
	var server VpnServer
	if err := db.WithContext(ctx).First(&server, id).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

// GetVpnServerByServerID retrieves a registration by the server ID agents report under.
func (db *Database) GetVpnServerByServerID(ctx context.Context, serverID string) (*VpnServer, error) {
	var server VpnServer
	if err := db.WithContext(ctx).Where("server_id = ?", serverID).First(&server).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

// ListVpnServers retrieves all registrations ordered by name.
func (db *Database) ListVpnServers(ctx context.Context) ([]VpnServer, error) {
	var servers []VpnServer
	err := db.WithContext(ctx).Order("name asc, id asc").Find(&servers).Error
	return servers, err
}

// UpdateVpnServer saves every field of an existing registration.
func (db *Database) UpdateVpnServer(ctx context.Context, server *VpnServer) error {
	return db.WithContext(ctx).Save(server).Error
}

// DeleteVpnServer removes a registration. Identities and sessions reported
// under its server ID are kept.
func (db *Database) DeleteVpnServer(ctx context.Context, id uint) error {
	result := db.WithContext(ctx).Delete(&VpnServer{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RegenerateVpnServerKey replaces the API key of a registration.
// The previous key stops working immediately.
func (db *Database) RegenerateVpnServerKey(ctx context.Context, id uint) (*VpnServer, error) {
	server, err := db.GetVpnServer(ctx, id)
	if err != nil {
		return nil, err
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	server.APIKey = key

	if err := db.WithContext(ctx).Model(server).Update("api_key", key).Error; err != nil {
		return nil, fmt.Errorf("failed to store regenerated key: %w", err)
	}
	return server, nil
}

// TouchVpnServer records that the agent with the given server ID has just reported.
func (db *Database) TouchVpnServer(ctx context.Context, serverID string, at time.Time) error {
	return db.WithContext(ctx).Model(&VpnServer{}).
		Where("server_id = ?", serverID).
		Update("last_seen_at", at).Error
}
