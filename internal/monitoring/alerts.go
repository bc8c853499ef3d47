package monitoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// staleServerAlertPrefix prefixes the per-agent stale alert IDs.
const staleServerAlertPrefix = "server_stale_"

var (
	// ErrAlertNotFound is wrapped by AlertError when no alert has the given ID.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlertResolved is wrapped by AlertError when the alert is already resolved.
	ErrAlertResolved = errors.New("alert already resolved")
)

// AlertManager manages alerts raised from fleet metrics.
// It evaluates alert conditions, maintains alert states, and resolves alerts
// once their condition clears.
type AlertManager struct {
	alerts       map[string]*Alert // Alerts indexed by alert ID
	config       AlertConfig       // Alert configuration and thresholds
	mutex        sync.RWMutex      // Mutex for thread-safe operations
	lastEvalTime time.Time         // Last time alerts were evaluated
}

// AlertConfig represents configuration for alert thresholds.
type AlertConfig struct {
	ConnectionThreshold int           `json:"connection_threshold"` // Max number of concurrent sessions before alerting
	EnableAlerts        bool          `json:"enable_alerts"`        // Whether alerts are enabled
	ResolvedRetention   time.Duration `json:"resolved_retention"`   // How long resolved alerts are kept
}

// Alert represents an alert in the system.
type Alert struct {
	ID          string                 `json:"id"`                    // Unique identifier for the alert
	Type        AlertType              `json:"type"`                  // Type/category of the alert
	Severity    Severity               `json:"severity"`              // Severity level of the alert
	Title       string                 `json:"title"`                 // Human-readable alert title
	Description string                 `json:"description"`           // Detailed alert description
	CreatedAt   time.Time              `json:"created_at"`            // When the alert was first triggered
	UpdatedAt   time.Time              `json:"updated_at"`            // When the alert was last updated
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"` // When the alert was resolved (if resolved)
	Status      AlertStatus            `json:"status"`                // Current status of the alert
	Metadata    map[string]interface{} `json:"metadata"`              // Additional alert metadata
	Count       int                    `json:"count"`                 // Number of evaluations that triggered this alert
}

// AlertType represents the type/category of an alert.
type AlertType string

const (
	AlertTypeAgent      AlertType = "agent"      // Agent reporting alerts
	AlertTypeConnection AlertType = "connection" // Client session alerts
)

// Severity represents the severity level of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"      // Low severity - informational
	SeverityMedium   Severity = "medium"   // Medium severity - requires attention
	SeverityHigh     Severity = "high"     // High severity - requires immediate attention
	SeverityCritical Severity = "critical" // Critical severity - fleet at risk
)

// AlertStatus represents the current status of an alert.
type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"     // Alert is currently active
	AlertStatusResolved   AlertStatus = "resolved"   // Alert has been resolved
	AlertStatusSuppressed AlertStatus = "suppressed" // Alert is temporarily suppressed
)

// NewAlertManager creates a new alert manager with default configuration.
func NewAlertManager() *AlertManager {
	return NewAlertManagerWithConfig(getDefaultAlertConfig())
}

// NewAlertManagerWithConfig creates a new alert manager with custom configuration.
func NewAlertManagerWithConfig(config AlertConfig) *AlertManager {
	return &AlertManager{
		alerts:       make(map[string]*Alert),
		config:       config,
		lastEvalTime: time.Now(),
	}
}

// EvaluateMetrics evaluates a fleet snapshot and creates, updates or resolves
// alerts accordingly.
func (am *AlertManager) EvaluateMetrics(metrics *FleetMetrics) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	if !am.config.EnableAlerts || metrics == nil {
		return
	}

	now := time.Now()
	am.lastEvalTime = now

	am.evaluateAgentAlerts(metrics, now)
	am.evaluateConnectionAlerts(metrics.Sessions, now)
	am.cleanupResolvedAlerts(now)
}

// GetActiveAlerts returns all currently active alerts ordered by creation time.
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var activeAlerts []Alert
	for _, alert := range am.alerts {
		if alert.Status == AlertStatusActive {
			activeAlerts = append(activeAlerts, *alert)
		}
	}
	sortAlerts(activeAlerts)

	return activeAlerts
}

// GetAllAlerts returns all alerts (active, suppressed and resolved) created after since.
func (am *AlertManager) GetAllAlerts(since time.Time) []Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var alerts []Alert
	for _, alert := range am.alerts {
		if alert.CreatedAt.After(since) {
			alerts = append(alerts, *alert)
		}
	}
	sortAlerts(alerts)

	return alerts
}

// ResolveAlert manually resolves an alert by ID. The alert is raised again on
// the next evaluation if its condition still holds.
func (am *AlertManager) ResolveAlert(alertID string) error {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	alert, err := am.openAlert(alertID)
	if err != nil {
		return err
	}

	now := time.Now()
	alert.Status = AlertStatusResolved
	alert.ResolvedAt = &now
	alert.UpdatedAt = now

	return nil
}

// SuppressAlert hides an alert from the active list for the given duration,
// e.g. while an agent is under planned maintenance. The alert becomes active
// again at the first evaluation after the suppression ends.
func (am *AlertManager) SuppressAlert(alertID string, duration time.Duration) error {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	alert, err := am.openAlert(alertID)
	if err != nil {
		return err
	}

	now := time.Now()
	alert.Status = AlertStatusSuppressed
	alert.UpdatedAt = now

	if alert.Metadata == nil {
		alert.Metadata = make(map[string]interface{})
	}
	alert.Metadata["suppressed_until"] = now.Add(duration)

	return nil
}

// openAlert returns the unresolved alert with the given ID. Callers hold the lock.
func (am *AlertManager) openAlert(alertID string) (*Alert, error) {
	alert, exists := am.alerts[alertID]
	if !exists {
		return nil, &AlertError{AlertID: alertID, Err: ErrAlertNotFound}
	}
	if alert.Status == AlertStatusResolved {
		return nil, &AlertError{AlertID: alertID, Err: ErrAlertResolved}
	}
	return alert, nil
}

// evaluateAgentAlerts raises one alert per stale agent and a fleet-wide alert
// when no agent is reporting.
func (am *AlertManager) evaluateAgentAlerts(metrics *FleetMetrics, now time.Time) {
	stale := make(map[string]bool)
	for _, server := range metrics.Servers {
		if !server.Stale {
			continue
		}
		id := staleServerAlertPrefix + server.ServerID
		stale[id] = true

		lastSeen := "never"
		if server.LastSeenAt != nil {
			lastSeen = server.LastSeenAt.UTC().Format(time.RFC3339)
		}
		am.createOrUpdateAlert(id, AlertTypeAgent, SeverityHigh,
			"VPN Server Not Reporting",
			fmt.Sprintf("Agent for %s has not reported since %s", server.Name, lastSeen),
			now, map[string]interface{}{
				"server_id": server.ServerID,
				"name":      server.Name,
				"last_seen": lastSeen,
			})
	}

	for id := range am.alerts {
		if strings.HasPrefix(id, staleServerAlertPrefix) && !stale[id] {
			am.resolveAlert(id, now)
		}
	}

	if metrics.FleetStatus == StatusDown {
		am.createOrUpdateAlert("fleet_no_servers_reporting", AlertTypeAgent, SeverityCritical,
			"No VPN Servers Reporting",
			"None of the active VPN servers has reported telemetry recently",
			now, map[string]interface{}{
				"servers": len(metrics.Servers),
			})
	} else {
		am.resolveAlert("fleet_no_servers_reporting", now)
	}
}

// evaluateConnectionAlerts checks session counts against thresholds.
func (am *AlertManager) evaluateConnectionAlerts(stats SessionStats, now time.Time) {
	if am.config.ConnectionThreshold > 0 && stats.Active > int64(am.config.ConnectionThreshold) {
		am.createOrUpdateAlert("connection_high_count", AlertTypeConnection, SeverityMedium,
			"High Active Session Count",
			fmt.Sprintf("Active sessions (%d) exceed threshold (%d)", stats.Active, am.config.ConnectionThreshold),
			now, map[string]interface{}{
				"active_sessions": stats.Active,
				"threshold":       am.config.ConnectionThreshold,
			})
	} else {
		am.resolveAlert("connection_high_count", now)
	}
}

// createOrUpdateAlert creates a new alert or updates an existing one.
// A resolved alert whose condition returns is reactivated.
func (am *AlertManager) createOrUpdateAlert(id string, alertType AlertType, severity Severity, title, description string, now time.Time, metadata map[string]interface{}) {
	alert, exists := am.alerts[id]
	if !exists || alert.Status == AlertStatusResolved {
		am.alerts[id] = &Alert{
			ID:          id,
			Type:        alertType,
			Severity:    severity,
			Title:       title,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
			Status:      AlertStatusActive,
			Metadata:    metadata,
			Count:       1,
		}
		return
	}

	alert.UpdatedAt = now
	alert.Description = description
	alert.Count++
	if alert.Status == AlertStatusSuppressed {
		if until, ok := alert.Metadata["suppressed_until"].(time.Time); ok && !now.Before(until) {
			alert.Status = AlertStatusActive
			delete(alert.Metadata, "suppressed_until")
		}
	}
	if alert.Metadata == nil {
		alert.Metadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		alert.Metadata[k] = v
	}
}

// resolveAlert resolves an alert if it exists and is not already resolved.
func (am *AlertManager) resolveAlert(id string, now time.Time) {
	alert, exists := am.alerts[id]
	if exists && alert.Status != AlertStatusResolved {
		alert.Status = AlertStatusResolved
		alert.ResolvedAt = &now
		alert.UpdatedAt = now
	}
}

// cleanupResolvedAlerts drops alerts resolved longer ago than the retention.
func (am *AlertManager) cleanupResolvedAlerts(now time.Time) {
	retention := am.config.ResolvedRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	for id, alert := range am.alerts {
		if alert.Status == AlertStatusResolved && alert.ResolvedAt != nil && now.Sub(*alert.ResolvedAt) > retention {
			delete(am.alerts, id)
		}
	}
}

func sortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
}

// AlertError represents an error related to alert operations.
type AlertError struct {
	AlertID string
	Err     error
}

// Error implements the error interface for AlertError.
func (e *AlertError) Error() string {
	return fmt.Sprintf("alert error [%s]: %v", e.AlertID, e.Err)
}

func (e *AlertError) Unwrap() error {
	return e.Err
}

// GetConfig returns the current alert configuration.
func (am *AlertManager) GetConfig() AlertConfig {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	return am.config
}

// UpdateConfig replaces the alert configuration.
func (am *AlertManager) UpdateConfig(config AlertConfig) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.config = config
}
