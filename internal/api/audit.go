package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
)

// AuditAPI exposes the audit trail.
type AuditAPI struct {
	db         *database.Database
	middleware *auth.AuthMiddleware
}

// NewAuditAPI creates a new audit API instance.
func NewAuditAPI(db *database.Database, middleware *auth.AuthMiddleware) *AuditAPI {
	return &AuditAPI{db: db, middleware: middleware}
}

// RegisterRoutes registers the audit log route.
func (api *AuditAPI) RegisterRoutes(router gin.IRouter) {
	router.GET("/api/audit-logs", api.middleware.RequireAuth(), api.middleware.RequirePermission(auth.PermRead), api.ListAuditLogs)
}

// ListAuditLogs returns the newest audit entries with their acting users.
func (api *AuditAPI) ListAuditLogs(c *gin.Context) {
	logs, err := api.db.ListAuditLogs(c.Request.Context(), queryLimit(c, 200, 1000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get audit logs"})
		return
	}
	c.JSON(http.StatusOK, logs)
}
