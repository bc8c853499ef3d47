package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
	"ovpn-portal/internal/openvpn"
)

// Store is the persistence the reconciler folds events into.
// *database.Database implements it.
type Store interface {
	GetSessionByEventID(ctx context.Context, eventID string) (*database.Session, error)
	FindVpnUser(ctx context.Context, serverID, commonName string) (*database.VpnUser, error)
	UpsertVpnUser(ctx context.Context, candidate *database.VpnUser, mutate func(*database.VpnUser), columns ...string) (*database.VpnUser, bool, error)
	UpdateVpnUser(ctx context.Context, user *database.VpnUser, columns ...string) error
	SetVpnUserConnection(ctx context.Context, id uint, status string, connectedAt *time.Time) error
	AddVpnUserTraffic(ctx context.Context, id uint, received, sent uint64) error
	CreateSession(ctx context.Context, session *database.Session) error
	LatestActiveSession(ctx context.Context, vpnUserID uint) (*database.Session, error)
	CloseSession(ctx context.Context, id uint, endTime time.Time, received, sent *uint64) (bool, error)
}

// Outcome summarises how a batch was applied. It is used for logging; the
// ingestion response always reports the number of events received.
type Outcome struct {
	Received   int `json:"received"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`    // unknown identity or malformed payload
	Duplicates int `json:"duplicates"` // event_id already recorded
	Ignored    int `json:"ignored"`    // unknown event type
	Failed     int `json:"failed"`     // store errors
}

type result int

const (
	resultApplied result = iota
	resultSkipped
	resultDuplicate
	resultIgnored
	resultFailed
)

// Reconciler applies agent events to the identity store and session ledger.
// It keeps no state between batches.
type Reconciler struct {
	store  Store
	logger *monitoring.LogManager
	now    func() time.Time
}

// NewReconciler creates a reconciler writing to store and logging through logger.
func NewReconciler(store Store, logger *monitoring.LogManager) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.WithComponent("reconciler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply folds events reported by serverID into the stores, in order. No event
// aborts the batch: references to unknown identities and malformed payloads
// are skipped with a warning, store errors are logged and counted.
func (r *Reconciler) Apply(ctx context.Context, serverID string, events []Event) Outcome {
	outcome := Outcome{Received: len(events)}
	receivedAt := r.now()

	for i := range events {
		switch r.applyEvent(ctx, serverID, &events[i], receivedAt) {
		case resultApplied:
			outcome.Applied++
		case resultSkipped:
			outcome.Skipped++
		case resultDuplicate:
			outcome.Duplicates++
		case resultIgnored:
			outcome.Ignored++
		case resultFailed:
			outcome.Failed++
		}
	}

	return outcome
}

func (r *Reconciler) applyEvent(ctx context.Context, serverID string, ev *Event, receivedAt time.Time) result {
	if ev.EventID != "" {
		_, err := r.store.GetSessionByEventID(ctx, ev.EventID)
		switch {
		case err == nil:
			r.logger.LogWithMetadata(monitoring.LogLevelDebug, "duplicate event skipped", map[string]interface{}{
				"server_id": serverID,
				"event_id":  ev.EventID,
				"type":      ev.Type,
			})
			return resultDuplicate
		case !errors.Is(err, database.ErrNotFound):
			return r.failed(serverID, ev, "failed to check event id", err)
		}
	}

	eventTime := openvpn.FirstTime(receivedAt, ev.EventTimeAgent, ev.EventTimeVPN)

	switch strings.ToUpper(ev.Type) {
	case EventSessionConnected:
		return r.sessionConnected(ctx, serverID, ev, eventTime)
	case EventSessionDisconnected:
		return r.sessionDisconnected(ctx, serverID, ev, eventTime)
	case EventUsersUpdate:
		return r.usersUpdate(ctx, serverID, ev, eventTime)
	case EventCCDInfo:
		return r.ccdInfo(ctx, serverID, ev)
	default:
		r.logger.LogWithMetadata(monitoring.LogLevelDebug, "unknown event type ignored", map[string]interface{}{
			"server_id": serverID,
			"type":      ev.Type,
		})
		return resultIgnored
	}
}

// sessionConnected opens a session for a known identity. Identities are never
// created from a bare connect.
func (r *Reconciler) sessionConnected(ctx context.Context, serverID string, ev *Event, at time.Time) result {
	user, res := r.lookupIdentity(ctx, serverID, ev)
	if user == nil {
		return res
	}

	session := &database.Session{
		VpnUserID: user.ID,
		ServerID:  serverID,
		StartTime: at,
		RemoteIP:  ev.RealIP,
		Status:    database.SessionActive,
	}
	if ev.EventID != "" {
		eventID := ev.EventID
		session.EventID = &eventID
	}
	if ev.VirtualIP != "" {
		virtualIP := ev.VirtualIP
		session.VirtualIP = &virtualIP
	}

	if err := r.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return resultDuplicate
		}
		return r.failed(serverID, ev, "failed to create session", err)
	}

	if err := r.store.SetVpnUserConnection(ctx, user.ID, database.ConnectionOnline, &at); err != nil {
		return r.failed(serverID, ev, "failed to mark identity online", err)
	}

	return resultApplied
}

// sessionDisconnected closes the identity's most recently started active
// session and marks the identity offline.
func (r *Reconciler) sessionDisconnected(ctx context.Context, serverID string, ev *Event, at time.Time) result {
	user, res := r.lookupIdentity(ctx, serverID, ev)
	if user == nil {
		return res
	}

	session, err := r.store.LatestActiveSession(ctx, user.ID)
	switch {
	case err == nil:
		end := at
		if end.Before(session.StartTime) {
			end = session.StartTime
		}
		closed, err := r.store.CloseSession(ctx, session.ID, end, ev.BytesReceived, ev.BytesSent)
		if err != nil {
			return r.failed(serverID, ev, "failed to close session", err)
		}
		if closed {
			if err := r.store.AddVpnUserTraffic(ctx, user.ID, deref(ev.BytesReceived), deref(ev.BytesSent)); err != nil {
				return r.failed(serverID, ev, "failed to add traffic totals", err)
			}
		}
	case errors.Is(err, database.ErrNotFound):
		r.logger.LogWithMetadata(monitoring.LogLevelDebug, "disconnect without active session", map[string]interface{}{
			"server_id":   serverID,
			"common_name": ev.CommonName,
		})
	default:
		return r.failed(serverID, ev, "failed to find active session", err)
	}

	if err := r.store.SetVpnUserConnection(ctx, user.ID, database.ConnectionOffline, nil); err != nil {
		return r.failed(serverID, ev, "failed to mark identity offline", err)
	}

	return resultApplied
}

func (r *Reconciler) usersUpdate(ctx context.Context, serverID string, ev *Event, at time.Time) result {
	switch strings.ToUpper(ev.Action) {
	case ActionInitial, ActionAdded:
		return r.syncUsers(ctx, serverID, ev)
	case ActionRevoked, ActionExpired:
		return r.changeAccountStatus(ctx, serverID, ev, at)
	default:
		r.logger.LogWithMetadata(monitoring.LogLevelDebug, "unknown users update action ignored", map[string]interface{}{
			"server_id": serverID,
			"action":    ev.Action,
		})
		return resultIgnored
	}
}

// syncUsers creates listed identities that are absent and refreshes the
// certificate status of those that exist.
func (r *Reconciler) syncUsers(ctx context.Context, serverID string, ev *Event) result {
	entries := ev.Users
	if len(entries) == 0 && ev.CommonName != "" {
		entries = []UserEntry{{CommonName: ev.CommonName, Status: ev.Status, ExpiresAtIndex: ev.ExpiresAtIndex}}
	}
	if len(entries) == 0 {
		return r.skipped(serverID, ev, "users update without users")
	}

	res := resultApplied
	for _, entry := range entries {
		if entry.CommonName == "" {
			continue
		}

		status := accountStatus(entry.Status, database.AccountValid)
		expiration := parseOptionalTime(entry.ExpiresAtIndex)

		candidate := &database.VpnUser{
			ServerID:         serverID,
			CommonName:       entry.CommonName,
			ConnectionStatus: database.ConnectionOffline,
			AccountStatus:    status,
			ExpirationDate:   expiration,
		}
		_, _, err := r.store.UpsertVpnUser(ctx, candidate, func(u *database.VpnUser) {
			u.AccountStatus = status
			if expiration != nil {
				u.ExpirationDate = expiration
			}
		}, "account_status", "expiration_date")
		if err != nil {
			res = r.failed(serverID, ev, "failed to sync identity "+entry.CommonName, err)
		}
	}

	return res
}

// changeAccountStatus applies a single revoke or expire notification.
func (r *Reconciler) changeAccountStatus(ctx context.Context, serverID string, ev *Event, at time.Time) result {
	user, res := r.lookupIdentity(ctx, serverID, ev)
	if user == nil {
		return res
	}

	status := accountStatus(ev.Status, strings.ToUpper(ev.Action))
	user.AccountStatus = status
	if expiration := parseOptionalTime(ev.ExpiresAtIndex); expiration != nil {
		user.ExpirationDate = expiration
	}
	if revoked := parseOptionalTime(ev.RevokedAtIndex); revoked != nil {
		user.RevocationDate = revoked
	} else if status == database.AccountRevoked {
		revokedAt := at
		user.RevocationDate = &revokedAt
	}

	if err := r.store.UpdateVpnUser(ctx, user, "account_status", "expiration_date", "revocation_date"); err != nil {
		return r.failed(serverID, ev, "failed to update account status", err)
	}
	return resultApplied
}

// ccdInfo replaces the identity's static IP and routes with those found in
// its client-config-directory file. The file is the whole truth: a directive
// missing from it clears the stored value.
func (r *Reconciler) ccdInfo(ctx context.Context, serverID string, ev *Event) result {
	user, res := r.lookupIdentity(ctx, serverID, ev)
	if user == nil {
		return res
	}

	config, err := openvpn.DecodeCCD(ev.CCDContentB64)
	if err != nil {
		return r.skipped(serverID, ev, "malformed ccd content: "+err.Error())
	}

	user.StaticIP = config.StaticIP
	user.Routes = config.RoutesString()
	if err := r.store.UpdateVpnUser(ctx, user, "static_ip", "routes"); err != nil {
		return r.failed(serverID, ev, "failed to store ccd info", err)
	}
	return resultApplied
}

// lookupIdentity returns the identity the event refers to. When it returns
// nil the accompanying result says how the event was accounted for.
func (r *Reconciler) lookupIdentity(ctx context.Context, serverID string, ev *Event) (*database.VpnUser, result) {
	if ev.CommonName == "" {
		return nil, r.skipped(serverID, ev, "event without common name")
	}

	user, err := r.store.FindVpnUser(ctx, serverID, ev.CommonName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, r.skipped(serverID, ev, "unknown vpn identity")
		}
		return nil, r.failed(serverID, ev, "failed to look up identity", err)
	}
	return user, resultApplied
}

func (r *Reconciler) skipped(serverID string, ev *Event, reason string) result {
	r.logger.LogWithMetadata(monitoring.LogLevelWarn, reason, eventFields(serverID, ev))
	return resultSkipped
}

func (r *Reconciler) failed(serverID string, ev *Event, message string, err error) result {
	fields := eventFields(serverID, ev)
	fields["error"] = err.Error()
	r.logger.LogWithMetadata(monitoring.LogLevelError, message, fields)
	return resultFailed
}

func eventFields(serverID string, ev *Event) map[string]interface{} {
	fields := map[string]interface{}{
		"server_id": serverID,
		"type":      ev.Type,
	}
	if ev.EventID != "" {
		fields["event_id"] = ev.EventID
	}
	if ev.CommonName != "" {
		fields["common_name"] = ev.CommonName
	}
	return fields
}

// accountStatus normalises a reported certificate status, using fallback when
// the value is empty or not a known status.
func accountStatus(reported, fallback string) string {
	switch s := strings.ToUpper(strings.TrimSpace(reported)); s {
	case database.AccountValid, database.AccountExpired, database.AccountRevoked:
		return s
	default:
		return fallback
	}
}

func parseOptionalTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := openvpn.ParseTime(value)
	if err != nil {
		return nil
	}
	return &t
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
