package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ovpn-portal/internal/database"
	"ovpn-portal/internal/telemetry"
)

func scenarioBatch(serverID string) telemetry.Batch {
	return telemetry.Batch{
		ServerID: serverID,
		SentAt:   "2025-01-01T10:00:05Z",
		Events: []telemetry.Event{
			{EventID: "u1", Type: telemetry.EventUsersUpdate, Action: telemetry.ActionAdded, CommonName: "bob", Status: "VALID"},
			{EventID: "c1", Type: telemetry.EventSessionConnected, CommonName: "bob", RealIP: "1.2.3.4", VirtualIP: "10.8.0.9", EventTimeAgent: "2025-01-01T10:00:00Z"},
		},
	}
}

func TestTelemetryAPI_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("should apply a batch from a registered server", func(t *testing.T) {
		env := setupAPITest(t)
		server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
		require.NoError(t, err)

		w := env.request(t, http.MethodPost, "/api/v1/events", server.APIKey, scenarioBatch(server.ServerID))

		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.JSONEq(t, `{"received":2}`, w.Body.String())

		bob, err := env.db.FindVpnUser(ctx, server.ServerID, "bob")
		require.NoError(t, err)
		assert.Equal(t, database.ConnectionOnline, bob.ConnectionStatus)

		sessions, err := env.db.ListActiveSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, bob.ID, sessions[0].VpnUserID)
		assert.Equal(t, "1.2.3.4", sessions[0].RemoteIP)

		stored, err := env.db.GetVpnServer(ctx, server.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.LastSeenAt)
	})

	t.Run("should reject a wrong bearer without touching state", func(t *testing.T) {
		env := setupAPITest(t)
		server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
		require.NoError(t, err)

		w := env.request(t, http.MethodPost, "/api/v1/events", "not-the-key", scenarioBatch(server.ServerID))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Zero(t, countRows(t, env.db, &database.VpnUser{}))
		assert.Zero(t, countRows(t, env.db, &database.Session{}))

		stored, err := env.db.GetVpnServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.LastSeenAt)
	})

	t.Run("should reject a missing bearer", func(t *testing.T) {
		env := setupAPITest(t)

		w := env.request(t, http.MethodPost, "/api/v1/events", "", scenarioBatch("vpn-1"))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject the key of another server", func(t *testing.T) {
		env := setupAPITest(t)
		server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
		require.NoError(t, err)
		other, err := env.db.CreateVpnServer(ctx, "edge-2", "")
		require.NoError(t, err)

		w := env.request(t, http.MethodPost, "/api/v1/events", other.APIKey, scenarioBatch(server.ServerID))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject the key of a disabled server", func(t *testing.T) {
		env := setupAPITest(t)
		server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
		require.NoError(t, err)
		server.IsActive = false
		require.NoError(t, env.db.UpdateVpnServer(ctx, server))

		w := env.request(t, http.MethodPost, "/api/v1/events", server.APIKey, scenarioBatch(server.ServerID))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should accept the shared secret for any server id", func(t *testing.T) {
		env := setupAPITest(t)

		w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", scenarioBatch("unregistered"))

		require.Equal(t, http.StatusAccepted, w.Code)
		_, err := env.db.FindVpnUser(ctx, "unregistered", "bob")
		assert.NoError(t, err)
	})

	t.Run("should reject a body that is not JSON", func(t *testing.T) {
		env := setupAPITest(t)

		w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", "{not json")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should answer 401 to a wrong key on a body that is not JSON", func(t *testing.T) {
		env := setupAPITest(t)
		server, err := env.db.CreateVpnServer(ctx, "edge-1", "")
		require.NoError(t, err)

		for _, token := range []string{"", "wrong", server.APIKey} {
			w := env.request(t, http.MethodPost, "/api/v1/events", token, "{not json")
			assert.Equal(t, http.StatusUnauthorized, w.Code, "token %q", token)
		}
	})

	t.Run("should reject a malformed batch after authentication", func(t *testing.T) {
		env := setupAPITest(t)
		batch := scenarioBatch("vpn-1")
		batch.Events[1].Type = ""

		w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", batch)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, countRows(t, env.db, &database.VpnUser{}))
	})

	t.Run("should check credentials before the schema", func(t *testing.T) {
		env := setupAPITest(t)
		batch := scenarioBatch("vpn-1")
		batch.SentAt = ""

		w := env.request(t, http.MethodPost, "/api/v1/events", "wrong", batch)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject a batch without events", func(t *testing.T) {
		env := setupAPITest(t)

		w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", `{"server_id":"vpn-1","sent_at":"2025-01-01T00:00:00Z"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should accept an empty event list", func(t *testing.T) {
		env := setupAPITest(t)

		w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", `{"server_id":"vpn-1","sent_at":"2025-01-01T00:00:00Z","events":[]}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"received":0}`, w.Body.String())
	})

	t.Run("should not duplicate sessions when a batch is resent", func(t *testing.T) {
		env := setupAPITest(t)
		batch := scenarioBatch("vpn-1")

		for i := 0; i < 2; i++ {
			w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", batch)
			require.Equal(t, http.StatusAccepted, w.Code)
			assert.JSONEq(t, `{"received":2}`, w.Body.String())
		}

		assert.Equal(t, int64(1), countRows(t, env.db, &database.Session{}))
		assert.Equal(t, int64(1), countRows(t, env.db, &database.VpnUser{}))
	})

	t.Run("should accept batches with events it cannot apply", func(t *testing.T) {
		env := setupAPITest(t)
		batch := telemetry.Batch{
			ServerID: "vpn-1",
			SentAt:   "2025-01-01T10:00:05Z",
			Events: []telemetry.Event{
				{Type: telemetry.EventSessionConnected, CommonName: "ghost"},
				{Type: "FUTURE_EVENT"},
				{Type: telemetry.EventCCDInfo, CommonName: "ghost", CCDContentB64: "%%%"},
			},
		}

		w := env.request(t, http.MethodPost, "/api/v1/events", "shared-secret", batch)

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"received":3}`, w.Body.String())
		assert.Zero(t, countRows(t, env.db, &database.Session{}))
	})
}
