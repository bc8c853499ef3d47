// Package database provides data models and the persistence layer for the portal.
// It defines the schema with GORM: portal users, VPN client identities, the
// session ledger, the audit trail and VPN server registrations.
package database

import (
	"time"
)

// Portal roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// VPN identity connection states.
const (
	ConnectionOnline  = "online"
	ConnectionOffline = "offline"
)

// VPN identity certificate states as reported by the agent's index sync.
const (
	AccountValid   = "VALID"
	AccountExpired = "EXPIRED"
	AccountRevoked = "REVOKED"
)

// VPN identity categories.
const (
	VpnUserEmployee = "Employee"
	VpnUserVendor   = "Vendor"
	VpnUserDealer   = "Dealer"
	VpnUserOthers   = "Others"
)

// Session states.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// User represents an operator of the portal dashboard.
type User struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Username           string     `gorm:"uniqueIndex;not null" json:"username"`
	Password           string     `gorm:"not null" json:"-"` // bcrypt hash
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	Role               string     `gorm:"not null;default:viewer" json:"role"`
	IsActive           bool       `gorm:"not null;default:true" json:"is_active"`
	MustChangePassword bool       `gorm:"not null;default:false" json:"must_change_password"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// VpnUser is a VPN client identity, keyed by the reporting server and the
// certificate common name.
type VpnUser struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ServerID           string     `gorm:"not null;default:'';uniqueIndex:idx_vpn_users_server_cn" json:"server_id"`
	CommonName         string     `gorm:"not null;uniqueIndex:idx_vpn_users_server_cn" json:"common_name"`
	FullName           string     `json:"full_name"`
	Email              string     `json:"email"`
	Contact            string     `json:"contact"`
	Type               string     `gorm:"not null;default:Others" json:"type"`
	ConnectionStatus   string     `gorm:"not null;default:offline;index" json:"connection_status"`
	AccountStatus      string     `gorm:"not null;default:VALID" json:"account_status"`
	ExpirationDate     *time.Time `json:"expiration_date,omitempty"`
	RevocationDate     *time.Time `json:"revocation_date,omitempty"`
	LastConnectedAt    *time.Time `json:"last_connected_at,omitempty"`
	StaticIP           string     `json:"static_ip"`
	Routes             string     `gorm:"type:text" json:"routes"` // comma-separated CIDRs
	TotalBytesReceived uint64     `gorm:"not null;default:0" json:"total_bytes_received"`
	TotalBytesSent     uint64     `gorm:"not null;default:0" json:"total_bytes_sent"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Session is one connect-to-disconnect span of a VPN identity.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EventID       *string    `gorm:"uniqueIndex" json:"event_id,omitempty"` // agent correlation key of the connect event
	VpnUserID     uint       `gorm:"not null;index" json:"vpn_user_id"`
	VpnUser       VpnUser    `gorm:"foreignKey:VpnUserID" json:"vpn_user"`
	ServerID      string     `gorm:"not null;default:'';index" json:"server_id"`
	StartTime     time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	RemoteIP      string     `gorm:"not null;default:''" json:"remote_ip"`
	VirtualIP     *string    `json:"virtual_ip,omitempty"`
	Status        string     `gorm:"not null;default:active;index" json:"status"`
	BytesReceived uint64     `gorm:"not null;default:0" json:"bytes_received"`
	BytesSent     uint64     `gorm:"not null;default:0" json:"bytes_sent"`
}

// AuditLog is an append-only record of an operator action.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     *uint     `gorm:"index" json:"user_id,omitempty"`
	User       *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action     string    `gorm:"not null" json:"action"`
	EntityType string    `gorm:"not null" json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `gorm:"type:text" json:"details"`
	Timestamp  time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
}

// VpnServer registers a telemetry agent. Agents authenticate with APIKey and
// report under ServerID.
type VpnServer struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"not null" json:"name"`
	Description string     `json:"description"`
	ServerID    string     `gorm:"uniqueIndex;not null" json:"server_id"`
	APIKey      string     `gorm:"not null" json:"api_key"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User model.
func (User) TableName() string {
	return "users"
}

// TableName returns the database table name for VpnUser model.
func (VpnUser) TableName() string {
	return "vpn_users"
}

// TableName returns the database table name for Session model.
func (Session) TableName() string {
	return "sessions"
}

// TableName returns the database table name for AuditLog model.
func (AuditLog) TableName() string {
	return "audit_logs"
}

// TableName returns the database table name for VpnServer model.
func (VpnServer) TableName() string {
	return "vpn_servers"
}
