// Package telemetry ingests event batches pushed by OpenVPN agents. It
// authenticates agents, folds lifecycle events into the identity store and
// session ledger, and optionally mirrors accepted batches to Kafka.
package telemetry

// Event types understood by the reconciler. Other types are ignored.
const (
	EventSessionConnected    = "SESSION_CONNECTED"
	EventSessionDisconnected = "SESSION_DISCONNECTED"
	EventUsersUpdate         = "USERS_UPDATE"
	EventCCDInfo             = "CCD_INFO"
)

// USERS_UPDATE actions.
const (
	ActionInitial = "INITIAL"
	ActionAdded   = "ADDED"
	ActionRevoked = "REVOKED"
	ActionExpired = "EXPIRED"
)

// Batch is the body of POST /api/v1/events.
type Batch struct {
	ServerID string  `json:"server_id" binding:"required"`
	SentAt   string  `json:"sent_at" binding:"required"`
	Events   []Event `json:"events" binding:"required,dive"`
}

// Event is one agent observation. Which optional fields are meaningful depends
// on Type; they are not enforced at the schema level so that event types from
// newer agents still validate and are then ignored.
type Event struct {
	EventID        string      `json:"event_id,omitempty"`
	Type           string      `json:"type" binding:"required"`
	CommonName     string      `json:"common_name,omitempty"`
	RealIP         string      `json:"real_ip,omitempty"`
	VirtualIP      string      `json:"virtual_ip,omitempty"`
	Status         string      `json:"status,omitempty" binding:"omitempty,oneof=VALID REVOKED EXPIRED"`
	Action         string      `json:"action,omitempty"`
	ExpiresAtIndex string      `json:"expires_at_index,omitempty"`
	RevokedAtIndex string      `json:"revoked_at_index,omitempty"`
	Users          []UserEntry `json:"users,omitempty" binding:"omitempty,dive"`
	CCDContentB64  string      `json:"ccd_content_b64,omitempty"`
	EventTimeVPN   string      `json:"event_time_vpn,omitempty"`
	EventTimeAgent string      `json:"event_time_agent,omitempty"`
	BytesReceived  *uint64     `json:"bytes_received,omitempty"`
	BytesSent      *uint64     `json:"bytes_sent,omitempty"`
}

// UserEntry is one certificate from the agent's index.txt sync.
type UserEntry struct {
	CommonName     string `json:"common_name" binding:"required"`
	Status         string `json:"status,omitempty" binding:"omitempty,oneof=VALID REVOKED EXPIRED"`
	ExpiresAtIndex string `json:"expires_at_index,omitempty"`
}
