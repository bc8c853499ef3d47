package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionCookieName is the HTTP-only cookie carrying the portal session token.
const SessionCookieName = "auth_token"

// AuthMiddleware provides gin middleware for portal session authentication
// and per-route permission checks.
type AuthMiddleware struct {
	authManager  *AuthManager // Authentication manager for token validation
	secureCookie bool         // Whether the session cookie is restricted to HTTPS
}

// ErrorResponse represents an authentication error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewAuthMiddleware creates a new authentication middleware instance.
func NewAuthMiddleware(authManager *AuthManager, secureCookie bool) *AuthMiddleware {
	return &AuthMiddleware{
		authManager:  authManager,
		secureCookie: secureCookie,
	}
}

// RequireAuth rejects requests without a valid session token with 401.
// The token is read from the session cookie first, then from a bearer header.
// On success the claims are stored in the gin context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
			return
		}

		claims, err := am.authManager.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// RequirePermission rejects authenticated requests whose role is not allowed
// perm with 403. It must run after RequireAuth.
func (am *AuthMiddleware) RequirePermission(perm Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := GetRole(c)
		if !Authorize(role, perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// SetSessionCookie stores token in the HTTP-only session cookie.
func (am *AuthMiddleware) SetSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(am.authManager.TokenExpiry().Seconds()), "/", "", am.secureCookie, true)
}

// ClearSessionCookie expires the session cookie.
func (am *AuthMiddleware) ClearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", am.secureCookie, true)
}

func extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// GetUserID extracts the user ID from the gin context.
// This should be called after RequireAuth middleware has run.
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}

	id, ok := userID.(uint)
	return id, ok
}

// GetUsername extracts the username from the gin context.
func GetUsername(c *gin.Context) (string, bool) {
	username, exists := c.Get("username")
	if !exists {
		return "", false
	}

	name, ok := username.(string)
	return name, ok
}

// GetRole extracts the role from the gin context.
func GetRole(c *gin.Context) (string, bool) {
	role, exists := c.Get("role")
	if !exists {
		return "", false
	}

	r, ok := role.(string)
	return r, ok
}
