package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
)

// VpnUserAPI exposes the VPN identity store. Identities are created by agent
// telemetry only; operators may annotate them.
type VpnUserAPI struct {
	db         *database.Database
	middleware *auth.AuthMiddleware
	audit      *auditTrail
}

// UpdateVpnUserRequest is a partial update of the operator-maintained fields.
// CommonName is accepted only to reject it.
type UpdateVpnUserRequest struct {
	CommonName *string `json:"common_name"`
	FullName   *string `json:"full_name" binding:"omitempty,max=100"`
	Email      *string `json:"email" binding:"omitempty,email"`
	Contact    *string `json:"contact" binding:"omitempty,max=100"`
	Type       *string `json:"type" binding:"omitempty,oneof=Employee Vendor Dealer Others"`
}

// NewVpnUserAPI creates a new VPN identity API instance.
func NewVpnUserAPI(db *database.Database, middleware *auth.AuthMiddleware, logger *monitoring.LogManager) *VpnUserAPI {
	return &VpnUserAPI{
		db:         db,
		middleware: middleware,
		audit:      &auditTrail{db: db, logger: logger.WithComponent("vpn-user-api")},
	}
}

// RegisterRoutes registers the VPN identity routes.
func (api *VpnUserAPI) RegisterRoutes(router gin.IRouter) {
	vpnUsers := router.Group("/api/vpn-users", api.middleware.RequireAuth())
	{
		vpnUsers.GET("", api.middleware.RequirePermission(auth.PermRead), api.ListVpnUsers)
		vpnUsers.GET("/:id", api.middleware.RequirePermission(auth.PermRead), api.GetVpnUser)
		vpnUsers.GET("/:id/sessions", api.middleware.RequirePermission(auth.PermRead), api.GetVpnUserSessions)
		vpnUsers.PATCH("/:id", api.middleware.RequirePermission(auth.PermWrite), api.UpdateVpnUser)
	}
}

// ListVpnUsers returns identities, optionally filtered by the server_id,
// status, account_status and search query parameters.
func (api *VpnUserAPI) ListVpnUsers(c *gin.Context) {
	users, err := api.db.ListVpnUsers(c.Request.Context(), database.VpnUserFilter{
		ServerID:         c.Query("server_id"),
		ConnectionStatus: c.Query("status"),
		AccountStatus:    c.Query("account_status"),
		Search:           c.Query("search"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get VPN users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetVpnUser returns one identity.
func (api *VpnUserAPI) GetVpnUser(c *gin.Context) {
	user, ok := api.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetVpnUserSessions returns the most recent sessions of one identity.
func (api *VpnUserAPI) GetVpnUserSessions(c *gin.Context) {
	user, ok := api.load(c)
	if !ok {
		return
	}

	sessions, err := api.db.ListSessionsForVpnUser(c.Request.Context(), user.ID, queryLimit(c, 100, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// UpdateVpnUser applies a partial update. The common name is immutable.
func (api *VpnUserAPI) UpdateVpnUser(c *gin.Context) {
	var req UpdateVpnUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.CommonName != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "common_name cannot be changed"})
		return
	}

	user, ok := api.load(c)
	if !ok {
		return
	}

	var columns []string
	if req.FullName != nil {
		user.FullName = *req.FullName
		columns = append(columns, "full_name")
	}
	if req.Email != nil {
		user.Email = *req.Email
		columns = append(columns, "email")
	}
	if req.Contact != nil {
		user.Contact = *req.Contact
		columns = append(columns, "contact")
	}
	if req.Type != nil {
		user.Type = *req.Type
		columns = append(columns, "type")
	}

	if err := api.db.UpdateVpnUser(c.Request.Context(), user, columns...); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update VPN user"})
		return
	}
	if fresh, err := api.db.GetVpnUser(c.Request.Context(), user.ID); err == nil {
		user = fresh
	}

	api.audit.record(c, ActionUpdate, EntityVpnUser, strconv.FormatUint(uint64(user.ID), 10),
		"Updated VPN user "+user.CommonName)
	c.JSON(http.StatusOK, user)
}

func (api *VpnUserAPI) load(c *gin.Context) (*database.VpnUser, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	user, err := api.db.GetVpnUser(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "VPN user not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get VPN user"})
		return nil, false
	}
	return user, true
}
