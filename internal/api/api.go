// Package api provides the portal's REST endpoints using the Gin web framework:
// telemetry ingestion for VPN server agents and the admin/read API behind the
// dashboard (portal users, VPN identities, sessions, server registrations,
// audit trail and fleet statistics).
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
)

// Audit actions and entity types.
const (
	ActionCreate        = "CREATE"
	ActionUpdate        = "UPDATE"
	ActionDelete        = "DELETE"
	ActionKillSession   = "KILL_SESSION"
	ActionRegenerateKey = "REGENERATE_KEY"
	ActionPassword      = "CHANGE_PASSWORD"

	EntityUser      = "user"
	EntityVpnUser   = "vpn_user"
	EntitySession   = "session"
	EntityVpnServer = "vpn_server"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is the JSON body of replies that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// auditTrail records operator actions. Failures are logged and never fail the
// request, since the audited mutation has already been committed.
type auditTrail struct {
	db     *database.Database
	logger *monitoring.LogManager
}

func (a *auditTrail) record(c *gin.Context, action, entityType, entityID, details string) {
	var actor *uint
	if id, ok := auth.GetUserID(c); ok {
		actor = &id
	}

	if err := a.db.RecordAudit(c.Request.Context(), actor, action, entityType, entityID, details); err != nil {
		a.logger.LogWithMetadata(monitoring.LogLevelWarn, "Failed to record audit entry", map[string]interface{}{
			"action":      action,
			"entity_type": entityType,
			"entity_id":   entityID,
			"error":       err.Error(),
		})
	}
}

// parseID reads the :id path parameter. On failure it writes a 400 reply and
// returns false.
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid ID"})
		return 0, false
	}
	return uint(id), true
}

// queryLimit reads the limit query parameter, clamped to [1, max].
func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
