package database

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// BootstrapResult describes what Bootstrap did.
type BootstrapResult struct {
	Created           bool   // Whether the admin account was seeded
	Username          string // Seeded username
	GeneratedPassword string // Set only when a random password was generated
}

// Bootstrap seeds an admin account when the users table is empty. It is safe to
// call on every start: once any portal user exists it does nothing. When
// password is empty a random one is generated and returned so it can be shown
// once. The seeded account must change its password on first login.
func (db *Database) Bootstrap(ctx context.Context, username, password string, cost int) (*BootstrapResult, error) {
	count, err := db.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return &BootstrapResult{}, nil
	}

	if username == "" {
		username = "admin"
	}

	result := &BootstrapResult{Created: true, Username: username}
	if password == "" {
		password, err = randomPassword()
		if err != nil {
			return nil, err
		}
		result.GeneratedPassword = password
	}

	admin := &User{
		Username:           username,
		FullName:           "Administrator",
		Role:               RoleAdmin,
		IsActive:           true,
		MustChangePassword: true,
	}
	if err := db.CreateUserWithCredentials(ctx, admin, password, cost); err != nil {
		return nil, fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	return result, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
