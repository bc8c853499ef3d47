package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
)

// AuthAPI provides the portal login session endpoints.
type AuthAPI struct {
	db          *database.Database   // Portal user persistence
	authManager *auth.AuthManager    // Token issuing
	middleware  *auth.AuthMiddleware // Session cookie handling
	bcryptCost  int                  // Cost for new password hashes
	audit       *auditTrail
	logger      *monitoring.LogManager
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      database.User `json:"user"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// NewAuthAPI creates a new authentication API instance.
func NewAuthAPI(db *database.Database, authManager *auth.AuthManager, middleware *auth.AuthMiddleware, bcryptCost int, logger *monitoring.LogManager) *AuthAPI {
	logger = logger.WithComponent("auth-api")
	return &AuthAPI{
		db:          db,
		authManager: authManager,
		middleware:  middleware,
		bcryptCost:  bcryptCost,
		audit:       &auditTrail{db: db, logger: logger},
		logger:      logger,
	}
}

// RegisterRoutes registers login and logout publicly and the session
// endpoints behind authentication.
func (api *AuthAPI) RegisterRoutes(router gin.IRouter) {
	router.POST("/api/login", api.Login)
	router.POST("/api/logout", api.Logout)

	protected := router.Group("/api/user", api.middleware.RequireAuth())
	{
		protected.GET("", api.CurrentUser)
		protected.POST("/change-password", api.ChangePassword)
	}
}

// Login verifies credentials, sets the session cookie and returns the token
// together with the user.
func (api *AuthAPI) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	user, err := api.db.AuthenticateUser(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, database.ErrInvalidCredentials):
		api.logger.LogWithMetadata(monitoring.LogLevelWarn, "Failed login attempt", map[string]interface{}{
			"username":  req.Username,
			"client_ip": c.ClientIP(),
		})
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	case errors.Is(err, database.ErrUserInactive):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Account is deactivated"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to authenticate"})
		return
	}

	token, err := api.authManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate token"})
		return
	}

	api.middleware.SetSessionCookie(c, token)
	c.JSON(http.StatusOK, AuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(api.authManager.TokenExpiry()),
		User:      *user,
	})
}

// Logout clears the session cookie. Tokens are stateless, so a bearer token
// stays valid until it expires.
func (api *AuthAPI) Logout(c *gin.Context) {
	api.middleware.ClearSessionCookie(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// CurrentUser returns the signed-in user. A user deleted or deactivated since
// the token was issued is treated as signed out.
func (api *AuthAPI) CurrentUser(c *gin.Context) {
	user, ok := api.loadCurrentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// ChangePassword replaces the signed-in user's password after verifying the
// current one, and clears the must-change-password flag.
func (api *AuthAPI) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	user, ok := api.loadCurrentUser(c)
	if !ok {
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)) != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Current password is incorrect"})
		return
	}

	if err := api.db.SetUserPassword(c.Request.Context(), user.ID, req.NewPassword, api.bcryptCost); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update password"})
		return
	}

	api.audit.record(c, ActionPassword, EntityUser, strconv.FormatUint(uint64(user.ID), 10),
		"Changed password for user "+user.Username)
	c.JSON(http.StatusOK, MessageResponse{Message: "Password changed successfully"})
}

func (api *AuthAPI) loadCurrentUser(c *gin.Context) (*database.User, bool) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
		return nil, false
	}

	user, err := api.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get user"})
		return nil, false
	}
	if !user.IsActive {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Account is deactivated"})
		return nil, false
	}
	return user, true
}
