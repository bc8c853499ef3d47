// Package auth provides portal authentication and authorization.
// It issues and validates JWT session tokens, extracts them from the session
// cookie or a bearer header, and decides which roles may perform which actions.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "ovpn-portal"

// AuthManager handles JWT session token issuing and verification for portal users.
type AuthManager struct {
	jwtSecret   string        // Secret key for JWT token signing and verification
	tokenExpiry time.Duration // Duration for which tokens remain valid
}

// Claims represents the JWT claims structure for authenticated portal users.
// The role is embedded so route guards do not need a database lookup.
type Claims struct {
	UserID   uint   `json:"user_id"`  // Unique identifier for the user
	Username string `json:"username"` // Username for display and identification
	Role     string `json:"role"`     // admin, operator or viewer
	jwt.RegisteredClaims
}

// NewAuthManager creates a new authentication manager with a 24 hour token expiry.
func NewAuthManager(jwtSecret string) *AuthManager {
	return NewAuthManagerWithConfig(jwtSecret, 24*time.Hour)
}

// NewAuthManagerWithConfig creates a new authentication manager with a custom token expiry.
// A non-positive expiry falls back to 24 hours.
func NewAuthManagerWithConfig(jwtSecret string, tokenExpiry time.Duration) *AuthManager {
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	return &AuthManager{
		jwtSecret:   jwtSecret,
		tokenExpiry: tokenExpiry,
	}
}

// TokenExpiry returns how long issued tokens remain valid.
func (am *AuthManager) TokenExpiry() time.Duration {
	return am.tokenExpiry
}

// GenerateToken creates a signed JWT for the specified user.
// The token will expire after the configured duration.
func (am *AuthManager) GenerateToken(userID uint, username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(am.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   fmt.Sprintf("user-%d", userID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(am.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken parses and validates a JWT token string.
// It verifies the signature, expiry and issuer and returns the parsed claims.
func (am *AuthManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.jwtSecret), nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token claims")
}

// GenerateSecureSecret creates a random 256-bit secret for JWT signing,
// encoded as URL-safe base64.
func GenerateSecureSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
