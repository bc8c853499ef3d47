package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
)

// FleetStatus summarises whether the registered VPN servers are reporting.
// *monitoring.Monitor implements it.
type FleetStatus interface {
	ServerStatusSummary() string
}

// StatsAPI serves the dashboard counters.
type StatsAPI struct {
	db         *database.Database
	middleware *auth.AuthMiddleware
	fleet      FleetStatus
}

// StatsResponse uses the camelCase keys the dashboard expects.
type StatsResponse struct {
	ActiveSessions        int64  `json:"activeSessions"`
	TotalVpnUsers         int64  `json:"totalVpnUsers"`
	OnlineVpnUsers        int64  `json:"onlineVpnUsers"`
	BytesTransferred      int64  `json:"bytesTransferred"`      // open sessions
	TotalBytesTransferred int64  `json:"totalBytesTransferred"` // all recorded sessions
	ServerStatus          string `json:"serverStatus"`
}

// NewStatsAPI creates a new stats API instance. fleet may be nil.
func NewStatsAPI(db *database.Database, middleware *auth.AuthMiddleware, fleet FleetStatus) *StatsAPI {
	return &StatsAPI{db: db, middleware: middleware, fleet: fleet}
}

// RegisterRoutes registers the stats route.
func (api *StatsAPI) RegisterRoutes(router gin.IRouter) {
	router.GET("/api/stats", api.middleware.RequireAuth(), api.middleware.RequirePermission(auth.PermRead), api.GetStats)
}

// GetStats computes the counters from the stores; the server status comes
// from the fleet monitor's latest snapshot.
func (api *StatsAPI) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	var resp StatsResponse
	var err error

	if resp.ActiveSessions, err = api.db.CountActiveSessions(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to count sessions"})
		return
	}
	if resp.TotalVpnUsers, resp.OnlineVpnUsers, err = api.db.CountVpnUsers(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to count VPN users"})
		return
	}
	if resp.BytesTransferred, err = api.db.ActiveBytesTransferred(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to sum traffic"})
		return
	}
	if resp.TotalBytesTransferred, err = api.db.TotalBytesTransferred(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to sum traffic"})
		return
	}

	resp.ServerStatus = "Unknown"
	if api.fleet != nil {
		resp.ServerStatus = api.fleet.ServerStatusSummary()
	}

	c.JSON(http.StatusOK, resp)
}
