package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/api"
	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/monitoring"
)

// HealthResponse is served by /health.
type HealthResponse struct {
	Status       string `json:"status"` // "ok" or "unavailable"
	Database     string `json:"database"`
	Monitoring   string `json:"monitoring,omitempty"` // "running" or "stopped"
	FleetStatus  string `json:"fleet_status,omitempty"`
	FleetHealthy bool   `json:"fleet_healthy"`
	ServerStatus string `json:"server_status,omitempty"`
}

// SuppressAlertRequest is the body of an alert suppression.
type SuppressAlertRequest struct {
	Duration string `json:"duration" binding:"required"` // Go duration, e.g. "2h"
}

// UpdateAlertConfigRequest is a partial update of the alert thresholds.
type UpdateAlertConfigRequest struct {
	ConnectionThreshold *int  `json:"connection_threshold" binding:"omitempty,min=0"`
	EnableAlerts        *bool `json:"enable_alerts"`
}

// health reports whether the portal can reach its database. Fleet health is
// informational and never fails the check.
func (s *Server) health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Database: "ok"}
	code := http.StatusOK

	if err := s.deps.DB.Ping(); err != nil {
		resp.Status = "unavailable"
		resp.Database = err.Error()
		code = http.StatusServiceUnavailable
	}

	if s.deps.Monitor != nil {
		resp.Monitoring = "stopped"
		if s.deps.Monitor.IsRunning() {
			resp.Monitoring = "running"
		}
		resp.FleetStatus = string(s.deps.Monitor.GetFleetStatus())
		resp.FleetHealthy = s.deps.Monitor.IsHealthy()
		resp.ServerStatus = s.deps.Monitor.ServerStatusSummary()
	}

	c.JSON(code, resp)
}

// getMetrics returns the latest fleet snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "Monitoring is disabled"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Monitor.GetMetrics())
}

// getAlerts returns active alerts, or every alert since the given RFC 3339
// time when since is set.
func (s *Server) getAlerts(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "Monitoring is disabled"})
		return
	}
	alerts := s.deps.Monitor.GetAlertManager()

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid since timestamp"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts.GetAllAlerts(since)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts.GetActiveAlerts()})
}

// resolveAlert resolves an alert by ID.
func (s *Server) resolveAlert(c *gin.Context) {
	alerts, ok := s.alertManager(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if err := alerts.ResolveAlert(id); err != nil {
		s.alertError(c, err)
		return
	}

	s.logAlertAction(c, "Alert resolved", id, nil)
	c.JSON(http.StatusOK, api.MessageResponse{Message: "Alert resolved"})
}

// suppressAlert hides an alert for the requested duration.
func (s *Server) suppressAlert(c *gin.Context) {
	alerts, ok := s.alertManager(c)
	if !ok {
		return
	}

	var req SuppressAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid duration"})
		return
	}

	id := c.Param("id")
	if err := alerts.SuppressAlert(id, duration); err != nil {
		s.alertError(c, err)
		return
	}

	s.logAlertAction(c, "Alert suppressed", id, map[string]interface{}{"duration": duration.String()})
	c.JSON(http.StatusOK, api.MessageResponse{Message: "Alert suppressed"})
}

// getAlertConfig returns the alert thresholds.
func (s *Server) getAlertConfig(c *gin.Context) {
	alerts, ok := s.alertManager(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, alerts.GetConfig())
}

// updateAlertConfig changes the alert thresholds. They apply from the next
// evaluation and are not persisted across restarts.
func (s *Server) updateAlertConfig(c *gin.Context) {
	alerts, ok := s.alertManager(c)
	if !ok {
		return
	}

	var req UpdateAlertConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	config := alerts.GetConfig()
	if req.ConnectionThreshold != nil {
		config.ConnectionThreshold = *req.ConnectionThreshold
	}
	if req.EnableAlerts != nil {
		config.EnableAlerts = *req.EnableAlerts
	}
	alerts.UpdateConfig(config)

	s.logAlertAction(c, "Alert configuration updated", "", map[string]interface{}{
		"connection_threshold": config.ConnectionThreshold,
		"enable_alerts":        config.EnableAlerts,
	})
	c.JSON(http.StatusOK, config)
}

func (s *Server) alertManager(c *gin.Context) (*monitoring.AlertManager, bool) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "Monitoring is disabled"})
		return nil, false
	}
	return s.deps.Monitor.GetAlertManager(), true
}

func (s *Server) alertError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, monitoring.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "Alert not found"})
	case errors.Is(err, monitoring.ErrAlertResolved):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: "Alert already resolved"})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) logAlertAction(c *gin.Context, message, alertID string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if alertID != "" {
		fields["alert_id"] = alertID
	}
	if username, ok := auth.GetUsername(c); ok {
		fields["user"] = username
	}
	s.logger.LogWithMetadata(monitoring.LogLevelInfo, message, fields)
}

// getLogs returns recent entries from the in-memory log buffer. The level
// query keeps entries at or above a level, since keeps entries logged after an
// RFC 3339 time, and count keeps the newest count entries.
func (s *Server) getLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count <= 0 {
		count = 100
	}

	level := monitoring.LogLevelTrace
	if raw := c.Query("level"); raw != "" {
		if level, err = monitoring.ParseLogLevel(raw); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid log level"})
			return
		}
	}

	var logs []monitoring.LogEntry
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid since timestamp"})
			return
		}
		for _, entry := range s.deps.Logger.GetLogsSince(since) {
			if entry.Level >= level {
				logs = append(logs, entry)
			}
		}
		if len(logs) > count {
			logs = logs[len(logs)-count:]
		}
	} else if level > monitoring.LogLevelTrace {
		logs = s.deps.Logger.GetLogsByLevel(level, count)
	} else {
		logs = s.deps.Logger.GetRecentLogs(count)
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
