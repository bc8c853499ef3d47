package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
)

// KeyCache is notified when a server registration's key or state changes so
// agents are re-authenticated against the stored registration.
type KeyCache interface {
	Invalidate(serverID string)
}

// ServerAPI manages VPN server registrations. All routes are admin only.
type ServerAPI struct {
	db         *database.Database
	middleware *auth.AuthMiddleware
	keys       KeyCache
	audit      *auditTrail
}

type CreateVpnServerRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=500"`
}

// UpdateVpnServerRequest is a partial update; nil fields are left unchanged.
type UpdateVpnServerRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=100"`
	Description *string `json:"description" binding:"omitempty,max=500"`
	IsActive    *bool   `json:"is_active"`
}

// NewServerAPI creates a new server registration API instance.
func NewServerAPI(db *database.Database, middleware *auth.AuthMiddleware, keys KeyCache, logger *monitoring.LogManager) *ServerAPI {
	return &ServerAPI{
		db:         db,
		middleware: middleware,
		keys:       keys,
		audit:      &auditTrail{db: db, logger: logger.WithComponent("server-api")},
	}
}

// RegisterRoutes registers the server registration routes.
func (api *ServerAPI) RegisterRoutes(router gin.IRouter) {
	servers := router.Group("/api/vpn-servers", api.middleware.RequireAuth(), api.middleware.RequirePermission(auth.PermAdmin))
	{
		servers.GET("", api.ListServers)
		servers.POST("", api.CreateServer)
		servers.PATCH("/:id", api.UpdateServer)
		servers.DELETE("/:id", api.DeleteServer)
		servers.POST("/:id/regenerate-key", api.RegenerateKey)
	}
}

// ListServers returns all registrations including their API keys.
func (api *ServerAPI) ListServers(c *gin.Context) {
	servers, err := api.db.ListVpnServers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get VPN servers"})
		return
	}
	c.JSON(http.StatusOK, servers)
}

// CreateServer registers a VPN server and issues its server ID and API key.
func (api *ServerAPI) CreateServer(c *gin.Context) {
	var req CreateVpnServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	server, err := api.db.CreateVpnServer(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create VPN server"})
		return
	}

	api.audit.record(c, ActionCreate, EntityVpnServer, server.ServerID, "Registered VPN server "+server.Name)
	c.JSON(http.StatusCreated, server)
}

// UpdateServer renames, describes, enables or disables a registration.
// A disabled registration's key is rejected by the ingestion endpoint.
func (api *ServerAPI) UpdateServer(c *gin.Context) {
	var req UpdateVpnServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	server, ok := api.load(c)
	if !ok {
		return
	}

	if req.Name != nil {
		server.Name = *req.Name
	}
	if req.Description != nil {
		server.Description = *req.Description
	}
	if req.IsActive != nil {
		server.IsActive = *req.IsActive
	}

	if err := api.db.UpdateVpnServer(c.Request.Context(), server); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update VPN server"})
		return
	}
	api.keys.Invalidate(server.ServerID)

	api.audit.record(c, ActionUpdate, EntityVpnServer, server.ServerID, "Updated VPN server "+server.Name)
	c.JSON(http.StatusOK, server)
}

// DeleteServer removes a registration. Identities and sessions it reported are kept.
func (api *ServerAPI) DeleteServer(c *gin.Context) {
	server, ok := api.load(c)
	if !ok {
		return
	}

	if err := api.db.DeleteVpnServer(c.Request.Context(), server.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "VPN server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete VPN server"})
		return
	}
	api.keys.Invalidate(server.ServerID)

	api.audit.record(c, ActionDelete, EntityVpnServer, server.ServerID, "Deleted VPN server "+server.Name)
	c.JSON(http.StatusOK, MessageResponse{Message: "VPN server deleted"})
}

// RegenerateKey issues a new API key. The previous key stops working immediately.
func (api *ServerAPI) RegenerateKey(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	server, err := api.db.RegenerateVpnServerKey(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "VPN server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to regenerate API key"})
		return
	}
	api.keys.Invalidate(server.ServerID)

	api.audit.record(c, ActionRegenerateKey, EntityVpnServer, server.ServerID, "Regenerated API key for VPN server "+server.Name)
	c.JSON(http.StatusOK, server)
}

func (api *ServerAPI) load(c *gin.Context) (*database.VpnServer, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	server, err := api.db.GetVpnServer(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "VPN server not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get VPN server"})
		return nil, false
	}
	return server, true
}
