package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
)

// SessionAPI exposes the session ledger.
type SessionAPI struct {
	db         *database.Database
	middleware *auth.AuthMiddleware
	audit      *auditTrail
	logger     *monitoring.LogManager
}

// NewSessionAPI creates a new session API instance.
func NewSessionAPI(db *database.Database, middleware *auth.AuthMiddleware, logger *monitoring.LogManager) *SessionAPI {
	logger = logger.WithComponent("session-api")
	return &SessionAPI{
		db:         db,
		middleware: middleware,
		audit:      &auditTrail{db: db, logger: logger},
		logger:     logger,
	}
}

// RegisterRoutes registers the session routes.
func (api *SessionAPI) RegisterRoutes(router gin.IRouter) {
	sessions := router.Group("/api/sessions", api.middleware.RequireAuth())
	{
		sessions.GET("/active", api.middleware.RequirePermission(auth.PermRead), api.GetActiveSessions)
		sessions.GET("/history", api.middleware.RequirePermission(auth.PermRead), api.GetSessionHistory)
		sessions.POST("/:id/kill", api.middleware.RequirePermission(auth.PermWrite), api.KillSession)
	}
}

// GetActiveSessions returns all open sessions with their identities.
func (api *SessionAPI) GetActiveSessions(c *gin.Context) {
	sessions, err := api.db.ListActiveSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get active sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSessionHistory returns the most recent sessions in any state, up to 500.
func (api *SessionAPI) GetSessionHistory(c *gin.Context) {
	sessions, err := api.db.ListSessionHistory(c.Request.Context(), queryLimit(c, 500, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get session history"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// KillSession closes an active session in the ledger. The identity is marked
// offline once it has no other active session. The portal has no channel to
// the VPN server, so the client connection itself is not dropped.
func (api *SessionAPI) KillSession(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	session, err := api.db.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get session"})
		return
	}

	closed, err := api.db.CloseSession(ctx, session.ID, time.Now().UTC(), nil, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to terminate session"})
		return
	}
	if !closed {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Session is not active"})
		return
	}

	remaining, err := api.db.CountActiveSessionsForUser(ctx, session.VpnUserID)
	if err == nil && remaining == 0 {
		err = api.db.SetVpnUserConnection(ctx, session.VpnUserID, database.ConnectionOffline, nil)
	}
	if err != nil {
		api.logger.LogWithMetadata(monitoring.LogLevelWarn, "Failed to update connection status after kill", map[string]interface{}{
			"session_id":  session.ID,
			"vpn_user_id": session.VpnUserID,
			"error":       err.Error(),
		})
	}

	api.audit.record(c, ActionKillSession, EntitySession, strconv.FormatUint(uint64(session.ID), 10),
		"Forcibly terminated active VPN session")
	c.JSON(http.StatusOK, MessageResponse{Message: "Session terminated"})
}
