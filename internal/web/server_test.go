package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
	"ovpn-portal/internal/telemetry"
)

type webTestEnv struct {
	server  *Server
	db      *database.Database
	monitor *monitoring.Monitor
	tokens  map[string]string // by role
}

func setupTestWebServer(t *testing.T) *webTestEnv {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := monitoring.NewLogManagerWithConfig(monitoring.LogConfig{LogLevel: monitoring.LogLevelDebug})
	authManager := auth.NewAuthManager("test-secret")
	authenticator := telemetry.NewAuthenticator(db, "shared-secret", time.Minute)
	t.Cleanup(authenticator.Close)
	monitor := monitoring.NewMonitor(db, logger)

	server := NewServer(Dependencies{
		DB:            db,
		AuthManager:   authManager,
		Reconciler:    telemetry.NewReconciler(db, logger),
		Authenticator: authenticator,
		Monitor:       monitor,
		Logger:        logger,
	}, &ServerConfig{
		Addr:          "127.0.0.1:0",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		AllowedOrigin: "https://portal.example.com",
		BcryptCost:    bcrypt.MinCost,
	})

	env := &webTestEnv{server: server, db: db, monitor: monitor, tokens: make(map[string]string)}
	for _, role := range []string{database.RoleAdmin, database.RoleViewer} {
		user := &database.User{Username: role + "-user", Role: role, IsActive: true}
		err := db.CreateUserWithCredentials(context.Background(), user, "correct-horse", bcrypt.MinCost)
		require.NoError(t, err)
		token, err := authManager.GenerateToken(user.ID, user.Username, user.Role)
		require.NoError(t, err)
		env.tokens[role] = token
	}
	return env
}

func (env *webTestEnv) get(path, token string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	t.Run("should fall back to the default configuration", func(t *testing.T) {
		db, err := database.New(":memory:")
		require.NoError(t, err)
		defer db.Close()

		server := NewServer(Dependencies{DB: db, AuthManager: auth.NewAuthManager("secret")}, nil)

		assert.Equal(t, ":5000", server.config.Addr)
		assert.Equal(t, ":5000", server.Addr())
		assert.Equal(t, 10, server.config.BcryptCost)
	})
}

func TestServer_Routes(t *testing.T) {
	env := setupTestWebServer(t)

	routes := make(map[string]bool)
	for _, route := range env.server.router.Routes() {
		routes[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"POST /api/login",
		"POST /api/logout",
		"GET /api/user",
		"GET /api/users",
		"GET /api/vpn-users",
		"PATCH /api/vpn-users/:id",
		"GET /api/sessions/active",
		"POST /api/sessions/:id/kill",
		"GET /api/vpn-servers",
		"POST /api/vpn-servers/:id/regenerate-key",
		"GET /api/audit-logs",
		"GET /api/stats",
		"POST /api/v1/events",
		"GET /health",
		"GET /api/monitoring/alerts",
		"GET /api/monitoring/alerts/config",
		"PATCH /api/monitoring/alerts/config",
		"POST /api/monitoring/alerts/:id/resolve",
		"POST /api/monitoring/alerts/:id/suppress",
		"GET /api/monitoring/logs",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestServer_Health(t *testing.T) {
	t.Run("should report ok with the fleet status", func(t *testing.T) {
		env := setupTestWebServer(t)
		require.NoError(t, env.monitor.Refresh(context.Background()))

		w := env.get("/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "stopped", resp.Monitoring)
		assert.Equal(t, string(monitoring.StatusUnknown), resp.FleetStatus)
		assert.False(t, resp.FleetHealthy)
		assert.Equal(t, "No servers registered", resp.ServerStatus)
	})

	t.Run("should report a running monitor and a healthy fleet", func(t *testing.T) {
		env := setupTestWebServer(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
		require.NoError(t, err)
		require.NoError(t, env.db.TouchVpnServer(ctx, server.ServerID, time.Now().UTC()))
		require.NoError(t, env.monitor.Start(ctx))
		defer func() { _ = env.monitor.Stop() }()

		w := env.get("/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "running", resp.Monitoring)
		assert.Equal(t, string(monitoring.StatusHealthy), resp.FleetStatus)
		assert.True(t, resp.FleetHealthy)
	})

	t.Run("should report unavailable when the database is gone", func(t *testing.T) {
		env := setupTestWebServer(t)
		require.NoError(t, env.db.Close())

		w := env.get("/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestServer_CORSMiddleware(t *testing.T) {
	env := setupTestWebServer(t)

	t.Run("should allow the configured origin with credentials", func(t *testing.T) {
		w := env.get("/health", "", "Origin", "https://portal.example.com")

		assert.Equal(t, "https://portal.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("should ignore other origins", func(t *testing.T) {
		w := env.get("/health", "", "Origin", "https://evil.example.com")

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("should answer preflight requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
		req.Header.Set("Origin", "https://portal.example.com")
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	})
}

func TestServer_MonitoringEndpoints(t *testing.T) {
	env := setupTestWebServer(t)

	t.Run("should be admin only", func(t *testing.T) {
		for _, path := range []string{"/api/monitoring/metrics", "/api/monitoring/alerts", "/api/monitoring/logs"} {
			assert.Equal(t, http.StatusForbidden, env.get(path, env.tokens[database.RoleViewer]).Code, path)
			assert.Equal(t, http.StatusUnauthorized, env.get(path, "").Code, path)
		}
	})

	t.Run("should return the fleet snapshot", func(t *testing.T) {
		_, err := env.db.CreateVpnServer(context.Background(), "edge-1", "")
		require.NoError(t, err)
		require.NoError(t, env.monitor.Refresh(context.Background()))

		w := env.get("/api/monitoring/metrics", env.tokens[database.RoleAdmin])

		require.Equal(t, http.StatusOK, w.Code)
		var metrics monitoring.FleetMetrics
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
		assert.Equal(t, monitoring.StatusDown, metrics.FleetStatus)
		require.Len(t, metrics.Servers, 1)
	})

	t.Run("should list active alerts", func(t *testing.T) {
		w := env.get("/api/monitoring/alerts", env.tokens[database.RoleAdmin])

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Alerts []monitoring.Alert `json:"alerts"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Alerts)
	})

	t.Run("should reject a malformed since", func(t *testing.T) {
		w := env.get("/api/monitoring/alerts?since=yesterday", env.tokens[database.RoleAdmin])
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should return request logs filtered by level", func(t *testing.T) {
		env.get("/api/stats", env.tokens[database.RoleViewer])

		w := env.get("/api/monitoring/logs?level=info&count=50", env.tokens[database.RoleAdmin])

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Logs []monitoring.LogEntry `json:"logs"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Logs)

		var sawRequest bool
		for _, entry := range resp.Logs {
			assert.GreaterOrEqual(t, entry.Level, monitoring.LogLevelInfo)
			if entry.Message == "HTTP request" && entry.Metadata["path"] == "/api/stats" {
				sawRequest = true
				assert.Equal(t, "viewer-user", entry.Metadata["user"])
			}
		}
		assert.True(t, sawRequest)
	})

	t.Run("should reject an unknown level", func(t *testing.T) {
		w := env.get("/api/monitoring/logs?level=loud", env.tokens[database.RoleAdmin])
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should return only logs after since", func(t *testing.T) {
		mark := time.Now().Add(time.Second).UTC().Format(time.RFC3339)
		w := env.get("/api/monitoring/logs?since="+mark, env.tokens[database.RoleAdmin])

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Logs []monitoring.LogEntry `json:"logs"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Logs)

		w = env.get("/api/monitoring/logs?since="+time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)+"&count=2", env.tokens[database.RoleAdmin])
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Logs, 2)

		w = env.get("/api/monitoring/logs?since=yesterday", env.tokens[database.RoleAdmin])
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_AlertActions(t *testing.T) {
	env := setupTestWebServer(t)
	ctx := context.Background()
	admin := env.tokens[database.RoleAdmin]

	server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
	require.NoError(t, err)
	require.NoError(t, env.monitor.Refresh(ctx))
	staleID := "server_stale_" + server.ServerID

	send := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		return w
	}
	activeIDs := func() []string {
		var ids []string
		for _, alert := range env.monitor.GetAlertManager().GetActiveAlerts() {
			ids = append(ids, alert.ID)
		}
		return ids
	}

	t.Run("should be admin only", func(t *testing.T) {
		w := send(http.MethodPost, "/api/monitoring/alerts/"+staleID+"/resolve", env.tokens[database.RoleViewer], "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, activeIDs(), staleID)
	})

	t.Run("should suppress an alert for a duration", func(t *testing.T) {
		w := send(http.MethodPost, "/api/monitoring/alerts/"+staleID+"/suppress", admin, `{"duration":"2h"}`)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotContains(t, activeIDs(), staleID)
	})

	t.Run("should reject a bad suppression duration", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"duration":"soon"}`, `{"duration":"-1h"}`} {
			w := send(http.MethodPost, "/api/monitoring/alerts/fleet_no_servers_reporting/suppress", admin, body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})

	t.Run("should resolve an alert once", func(t *testing.T) {
		w := send(http.MethodPost, "/api/monitoring/alerts/fleet_no_servers_reporting/resolve", admin, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, activeIDs(), "fleet_no_servers_reporting")

		w = send(http.MethodPost, "/api/monitoring/alerts/fleet_no_servers_reporting/resolve", admin, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("should return 404 for unknown alerts", func(t *testing.T) {
		w := send(http.MethodPost, "/api/monitoring/alerts/nope/resolve", admin, "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = send(http.MethodPost, "/api/monitoring/alerts/nope/suppress", admin, `{"duration":"1h"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("should read and update the alert thresholds", func(t *testing.T) {
		w := send(http.MethodGet, "/api/monitoring/alerts/config", admin, "")
		require.Equal(t, http.StatusOK, w.Code)
		var config monitoring.AlertConfig
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &config))
		assert.True(t, config.EnableAlerts)

		w = send(http.MethodPatch, "/api/monitoring/alerts/config", admin, `{"connection_threshold":5}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		updated := env.monitor.GetAlertManager().GetConfig()
		assert.Equal(t, 5, updated.ConnectionThreshold)
		assert.Equal(t, config.EnableAlerts, updated.EnableAlerts)

		w = send(http.MethodPatch, "/api/monitoring/alerts/config", admin, `{"connection_threshold":-1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = send(http.MethodPatch, "/api/monitoring/alerts/config", env.tokens[database.RoleViewer], `{"enable_alerts":false}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestServer_ServeShutdown(t *testing.T) {
	env := setupTestWebServer(t)
	require.NoError(t, env.server.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- env.server.Serve() }()

	resp, err := http.Get(fmt.Sprintf("http://%s/health", env.server.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
