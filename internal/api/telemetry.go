package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
	"ovpn-portal/internal/telemetry"
)

// maxBatchBytes bounds the request body of a telemetry batch.
const maxBatchBytes = 8 << 20

// TelemetryAPI receives event batches pushed by VPN server agents.
type TelemetryAPI struct {
	db            *database.Database
	reconciler    *telemetry.Reconciler
	authenticator *telemetry.Authenticator
	publisher     telemetry.Publisher
	logger        *monitoring.LogManager
}

type IngestResponse struct {
	Received int `json:"received"`
}

// NewTelemetryAPI creates a new ingestion API instance. A nil publisher disables mirroring.
func NewTelemetryAPI(db *database.Database, reconciler *telemetry.Reconciler, authenticator *telemetry.Authenticator, publisher telemetry.Publisher, logger *monitoring.LogManager) *TelemetryAPI {
	if publisher == nil {
		publisher = telemetry.NopPublisher{}
	}
	return &TelemetryAPI{
		db:            db,
		reconciler:    reconciler,
		authenticator: authenticator,
		publisher:     publisher,
		logger:        logger.WithComponent("ingest"),
	}
}

// RegisterRoutes registers the ingestion route. It is authenticated by agent
// API key, not by portal session.
func (api *TelemetryAPI) RegisterRoutes(router gin.IRouter) {
	router.POST("/api/v1/events", api.Ingest)
}

// Ingest authenticates the agent, validates the batch and folds its events
// into the stores in order. Individual events that cannot be applied do not
// fail the batch.
func (api *TelemetryAPI) Ingest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBatchBytes)

	ctx := c.Request.Context()
	token, _ := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)

	// Decode without validating: an agent with a bad key must get 401 even
	// when its batch is also malformed. A body that does not decode names no
	// server, so only the shared secret can vouch for it.
	var batch telemetry.Batch
	if err := json.NewDecoder(c.Request.Body).Decode(&batch); err != nil {
		if api.authenticate(c, "", token) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON body"})
		}
		return
	}

	if !api.authenticate(c, batch.ServerID, token) {
		return
	}

	if err := binding.Validator.ValidateStruct(&batch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	receivedAt := time.Now().UTC()
	outcome := api.reconciler.Apply(ctx, batch.ServerID, batch.Events)

	if err := api.db.TouchVpnServer(ctx, batch.ServerID, receivedAt); err != nil {
		api.logger.LogWithMetadata(monitoring.LogLevelWarn, "Failed to record agent heartbeat", map[string]interface{}{
			"server_id": batch.ServerID,
			"error":     err.Error(),
		})
	}

	if err := api.publisher.Publish(ctx, &batch, receivedAt); err != nil {
		api.logger.LogWithMetadata(monitoring.LogLevelWarn, "Failed to mirror telemetry batch", map[string]interface{}{
			"server_id": batch.ServerID,
			"error":     err.Error(),
		})
	}

	api.logger.LogWithMetadata(monitoring.LogLevelInfo, "Applied telemetry batch", map[string]interface{}{
		"server_id":  batch.ServerID,
		"received":   outcome.Received,
		"applied":    outcome.Applied,
		"skipped":    outcome.Skipped,
		"duplicates": outcome.Duplicates,
		"ignored":    outcome.Ignored,
		"failed":     outcome.Failed,
	})

	c.JSON(http.StatusAccepted, IngestResponse{Received: len(batch.Events)})
}

// authenticate checks the agent's key for serverID and writes the error
// response when it does not match.
func (api *TelemetryAPI) authenticate(c *gin.Context, serverID, token string) bool {
	_, err := api.authenticator.Authenticate(c.Request.Context(), serverID, token)
	switch {
	case err == nil:
		return true
	case errors.Is(err, telemetry.ErrUnauthorized):
		api.logger.LogWithMetadata(monitoring.LogLevelWarn, "Rejected telemetry batch", map[string]interface{}{
			"server_id": serverID,
			"client_ip": c.ClientIP(),
		})
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid API key"})
	default:
		api.logger.LogWithMetadata(monitoring.LogLevelError, "Failed to authenticate agent", map[string]interface{}{
			"server_id": serverID,
			"error":     err.Error(),
		})
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to authenticate agent"})
	}
	return false
}
