package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"ovpn-portal/internal/database"
)

// Monitor periodically derives fleet health from the portal database.
// It tracks how recently each registered agent reported, aggregates session,
// identity and traffic counts, and feeds the results to the alert manager.
type Monitor struct {
	db           *database.Database // Database the metrics are computed from
	config       *MonitorConfig     // Configuration for monitoring behavior
	metrics      *FleetMetrics      // Most recent metrics snapshot
	alertManager *AlertManager      // Alert management system
	logManager   *LogManager        // Log management system
	running      bool               // Whether monitoring is currently active
	stopCh       chan struct{}      // Channel to signal monitoring stop
	mutex        sync.RWMutex       // Mutex for thread-safe operations
	startedAt    time.Time          // When the monitor was created
}

// MonitorConfig represents configuration options for the monitoring system.
type MonitorConfig struct {
	UpdateInterval  time.Duration `json:"update_interval"`   // How often to recompute metrics (default: 30s)
	StaleAfter      time.Duration `json:"stale_after"`       // Silence after which an agent counts as stale (default: 5m)
	AlertThresholds AlertConfig   `json:"alert_thresholds"`  // Alert configuration
	EnableDebugLogs bool          `json:"enable_debug_logs"` // Whether to log every snapshot at debug level
}

// FleetMetrics is a point-in-time view of the VPN fleet.
type FleetMetrics struct {
	Timestamp   time.Time      `json:"timestamp"`    // When these metrics were collected
	FleetStatus FleetStatus    `json:"fleet_status"` // Overall fleet health
	Sessions    SessionStats   `json:"sessions"`     // Session ledger counts
	Identities  IdentityStats  `json:"identities"`   // Identity store counts
	Traffic     TrafficStats   `json:"traffic"`      // Recorded traffic
	Servers     []ServerHealth `json:"servers"`      // Per-agent reporting state
	Runtime     RuntimeStats   `json:"runtime"`      // Portal process statistics
	Alerts      []Alert        `json:"alerts"`       // Active alerts
}

// FleetStatus represents the overall health of the reporting agents.
type FleetStatus string

const (
	StatusHealthy  FleetStatus = "healthy"  // Every active agent is reporting
	StatusDegraded FleetStatus = "degraded" // Some active agents are stale
	StatusDown     FleetStatus = "down"     // No active agent is reporting
	StatusUnknown  FleetStatus = "unknown"  // No active agent is registered
)

// SessionStats represents session ledger counts.
type SessionStats struct {
	Active int64 `json:"active"` // Open sessions
	Total  int64 `json:"total"`  // All recorded sessions
}

// IdentityStats represents identity store counts.
type IdentityStats struct {
	Total  int64 `json:"total"`  // Known VPN identities
	Online int64 `json:"online"` // Identities currently connected
}

// TrafficStats represents recorded traffic volume.
type TrafficStats struct {
	BytesTransferred int64 `json:"bytes_transferred"` // Sum of session byte counters
}

// ServerHealth describes whether one registered agent is reporting.
type ServerHealth struct {
	ServerID   string     `json:"server_id"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Stale      bool       `json:"stale"` // Active but silent for longer than StaleAfter
}

// RuntimeStats represents resource usage of the portal process.
type RuntimeStats struct {
	GoRoutines     int           `json:"goroutines"`
	HeapAllocBytes uint64        `json:"heap_alloc_bytes"`
	Uptime         time.Duration `json:"uptime"`
}

// NewMonitor creates a new monitor with default configuration.
// Returns a pointer to the newly created Monitor.
func NewMonitor(db *database.Database, logManager *LogManager) *Monitor {
	return NewMonitorWithConfig(db, logManager, &MonitorConfig{
		UpdateInterval:  30 * time.Second,
		StaleAfter:      5 * time.Minute,
		AlertThresholds: getDefaultAlertConfig(),
	})
}

// NewMonitorWithConfig creates a new monitor with custom configuration.
// Non-positive durations and empty alert thresholds fall back to the defaults.
func NewMonitorWithConfig(db *database.Database, logManager *LogManager, config *MonitorConfig) *Monitor {
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 30 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 5 * time.Minute
	}
	if config.AlertThresholds == (AlertConfig{}) {
		config.AlertThresholds = getDefaultAlertConfig()
	}
	if logManager == nil {
		logManager = NewLogManager()
	}

	now := time.Now()
	return &Monitor{
		db:     db,
		config: config,
		metrics: &FleetMetrics{
			Timestamp:   now,
			FleetStatus: StatusUnknown,
		},
		alertManager: NewAlertManagerWithConfig(config.AlertThresholds),
		logManager:   logManager.WithComponent("monitor"),
		stopCh:       make(chan struct{}),
		startedAt:    now,
	}
}

// Start collects an initial snapshot and then refreshes it in the background
// until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	if m.running {
		m.mutex.Unlock()
		return fmt.Errorf("monitor is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mutex.Unlock()

	m.logManager.LogInfo("Starting fleet monitoring")

	if err := m.Refresh(ctx); err != nil {
		m.logManager.LogError(fmt.Sprintf("Error collecting metrics: %v", err))
	}

	go m.monitorLoop(ctx, stopCh)

	return nil
}

// Stop halts the background refresh loop.
func (m *Monitor) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return fmt.Errorf("monitor is not running")
	}

	m.logManager.LogInfo("Stopping fleet monitoring")
	close(m.stopCh)
	m.running = false

	return nil
}

// IsRunning reports whether the refresh loop is active.
func (m *Monitor) IsRunning() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.running
}

// GetMetrics returns a copy of the latest snapshot.
func (m *Monitor) GetMetrics() *FleetMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	metricsCopy := *m.metrics
	metricsCopy.Servers = append([]ServerHealth(nil), m.metrics.Servers...)
	metricsCopy.Alerts = append([]Alert(nil), m.metrics.Alerts...)
	return &metricsCopy
}

// GetFleetStatus returns the overall fleet status of the latest snapshot.
func (m *Monitor) GetFleetStatus() FleetStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.metrics.FleetStatus
}

// IsHealthy returns true if every active agent is reporting.
func (m *Monitor) IsHealthy() bool {
	return m.GetFleetStatus() == StatusHealthy
}

// GetAlertManager returns the alert manager fed by this monitor.
func (m *Monitor) GetAlertManager() *AlertManager {
	return m.alertManager
}

// ServerStatusSummary renders the latest snapshot as the short status line
// shown on the dashboard, e.g. "Online (edge-1)" or "Degraded (2/3 servers reporting)".
func (m *Monitor) ServerStatusSummary() string {
	metrics := m.GetMetrics()
	return summarizeFleet(metrics.FleetStatus, metrics.Servers)
}

// Refresh recomputes the snapshot immediately and evaluates alerts against it.
func (m *Monitor) Refresh(ctx context.Context) error {
	metrics, err := m.collectMetrics(ctx)
	if err != nil {
		return err
	}

	m.alertManager.EvaluateMetrics(metrics)
	metrics.Alerts = m.alertManager.GetActiveAlerts()

	m.mutex.Lock()
	m.metrics = metrics
	m.mutex.Unlock()

	if m.config.EnableDebugLogs {
		m.logManager.LogWithMetadata(LogLevelDebug, "Collected fleet metrics", map[string]interface{}{
			"fleet_status":    string(metrics.FleetStatus),
			"active_sessions": metrics.Sessions.Active,
			"online_users":    metrics.Identities.Online,
		})
	}

	return nil
}

func (m *Monitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logManager.LogInfo("Monitor context cancelled, stopping monitoring loop")
			return
		case <-stopCh:
			m.logManager.LogInfo("Monitor stop signal received, stopping monitoring loop")
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logManager.LogError(fmt.Sprintf("Error collecting metrics: %v", err))
			}
		}
	}
}

// collectMetrics gathers counts from the database and agent reporting state.
func (m *Monitor) collectMetrics(ctx context.Context) (*FleetMetrics, error) {
	now := time.Now()

	activeSessions, err := m.db.CountActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}
	totalSessions, err := m.db.CountSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	totalUsers, onlineUsers, err := m.db.CountVpnUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count vpn users: %w", err)
	}
	traffic, err := m.db.TotalBytesTransferred(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum traffic: %w", err)
	}
	servers, err := m.db.ListVpnServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vpn servers: %w", err)
	}

	health := make([]ServerHealth, 0, len(servers))
	for _, s := range servers {
		health = append(health, ServerHealth{
			ServerID:   s.ServerID,
			Name:       s.Name,
			IsActive:   s.IsActive,
			LastSeenAt: s.LastSeenAt,
			Stale:      s.IsActive && (s.LastSeenAt == nil || now.Sub(*s.LastSeenAt) > m.config.StaleAfter),
		})
	}

	return &FleetMetrics{
		Timestamp:   now,
		FleetStatus: calculateFleetStatus(health),
		Sessions:    SessionStats{Active: activeSessions, Total: totalSessions},
		Identities:  IdentityStats{Total: totalUsers, Online: onlineUsers},
		Traffic:     TrafficStats{BytesTransferred: traffic},
		Servers:     health,
		Runtime:     m.collectRuntimeStats(now),
	}, nil
}

func (m *Monitor) collectRuntimeStats(now time.Time) RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		GoRoutines:     runtime.NumGoroutine(),
		HeapAllocBytes: memStats.HeapAlloc,
		Uptime:         now.Sub(m.startedAt),
	}
}

// calculateFleetStatus derives the fleet status from active agents only.
func calculateFleetStatus(servers []ServerHealth) FleetStatus {
	active, stale := 0, 0
	for _, s := range servers {
		if !s.IsActive {
			continue
		}
		active++
		if s.Stale {
			stale++
		}
	}

	switch {
	case active == 0:
		return StatusUnknown
	case stale == 0:
		return StatusHealthy
	case stale == active:
		return StatusDown
	default:
		return StatusDegraded
	}
}

func summarizeFleet(status FleetStatus, servers []ServerHealth) string {
	active, reporting := 0, 0
	var lastName string
	for _, s := range servers {
		if !s.IsActive {
			continue
		}
		active++
		if !s.Stale {
			reporting++
			lastName = s.Name
		}
	}

	switch status {
	case StatusHealthy:
		if active == 1 {
			return fmt.Sprintf("Online (%s)", lastName)
		}
		return fmt.Sprintf("Online (%d servers)", active)
	case StatusDegraded:
		return fmt.Sprintf("Degraded (%d/%d servers reporting)", reporting, active)
	case StatusDown:
		return "Offline"
	default:
		return "No servers registered"
	}
}

// getDefaultAlertConfig returns default alert configuration.
func getDefaultAlertConfig() AlertConfig {
	return AlertConfig{
		ConnectionThreshold: 1000,
		EnableAlerts:        true,
		ResolvedRetention:   24 * time.Hour,
	}
}
