package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
	"ovpn-portal/internal/telemetry"
)

const testPassword = "correct-horse"

type apiTestEnv struct {
	db            *database.Database
	authManager   *auth.AuthManager
	authenticator *telemetry.Authenticator
	logger        *monitoring.LogManager
	router        *gin.Engine
	users         map[string]*database.User // by role
}

type staticFleet string

func (s staticFleet) ServerStatusSummary() string { return string(s) }

func setupAPITest(t *testing.T) *apiTestEnv {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := monitoring.NewLogManagerWithConfig(monitoring.LogConfig{LogLevel: monitoring.LogLevelDebug})
	authManager := auth.NewAuthManager("test-secret")
	middleware := auth.NewAuthMiddleware(authManager, false)
	authenticator := telemetry.NewAuthenticator(db, "shared-secret", time.Minute)
	t.Cleanup(authenticator.Close)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	NewAuthAPI(db, authManager, middleware, bcrypt.MinCost, logger).RegisterRoutes(router)
	NewUserAPI(db, middleware, bcrypt.MinCost, logger).RegisterRoutes(router)
	NewVpnUserAPI(db, middleware, logger).RegisterRoutes(router)
	NewSessionAPI(db, middleware, logger).RegisterRoutes(router)
	NewServerAPI(db, middleware, authenticator, logger).RegisterRoutes(router)
	NewAuditAPI(db, middleware).RegisterRoutes(router)
	NewStatsAPI(db, middleware, staticFleet("Online (edge-1)")).RegisterRoutes(router)
	NewTelemetryAPI(db, telemetry.NewReconciler(db, logger), authenticator, nil, logger).RegisterRoutes(router)

	env := &apiTestEnv{
		db:            db,
		authManager:   authManager,
		authenticator: authenticator,
		logger:        logger,
		router:        router,
		users:         make(map[string]*database.User),
	}
	for _, role := range []string{database.RoleAdmin, database.RoleOperator, database.RoleViewer} {
		user := &database.User{Username: role + "-user", Email: role + "@example.com", Role: role, IsActive: true}
		err := db.CreateUserWithCredentials(context.Background(), user, testPassword, bcrypt.MinCost)
		require.NoError(t, err)
		env.users[role] = user
	}
	return env
}

func (env *apiTestEnv) token(t *testing.T, role string) string {
	user := env.users[role]
	token, err := env.authManager.GenerateToken(user.ID, user.Username, user.Role)
	require.NoError(t, err)
	return token
}

// request sends body as JSON with an optional bearer token.
func (env *apiTestEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func countRows(t *testing.T, db *database.Database, model interface{}) int64 {
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}
