package telemetry

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"ovpn-portal/internal/database"
)

// ErrUnauthorized is returned when an agent presents neither its server's API
// key nor the deployment-wide shared secret.
var ErrUnauthorized = errors.New("telemetry: invalid agent credentials")

// ServerLookup resolves a server registration by the ID agents report under.
type ServerLookup interface {
	GetVpnServerByServerID(ctx context.Context, serverID string) (*database.VpnServer, error)
}

// Authenticator checks agent bearer keys. Registrations are cached for a short
// TTL so a busy agent does not cost a database read per batch; Invalidate must
// be called when a registration's key or state changes.
type Authenticator struct {
	lookup       ServerLookup
	sharedSecret string
	cache        *ttlcache.Cache[string, database.VpnServer]
	stopOnce     sync.Once
}

// NewAuthenticator creates an authenticator. An empty sharedSecret disables the
// deployment-wide fallback key. Call Close to stop the cache janitor.
func NewAuthenticator(lookup ServerLookup, sharedSecret string, cacheTTL time.Duration) *Authenticator {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, database.VpnServer](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, database.VpnServer](),
	)

	go cache.Start()

	return &Authenticator{
		lookup:       lookup,
		sharedSecret: sharedSecret,
		cache:        cache,
	}
}

// Authenticate checks token first against the active registration for
// serverID, then against the shared secret. It returns the matching
// registration, or nil when the shared secret matched.
// Returns ErrUnauthorized if neither matches.
func (a *Authenticator) Authenticate(ctx context.Context, serverID, token string) (*database.VpnServer, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	if serverID != "" {
		server, err := a.registration(ctx, serverID)
		if err != nil {
			return nil, err
		}
		if server != nil && server.IsActive && secureEqual(server.APIKey, token) {
			return server, nil
		}
	}

	if a.sharedSecret != "" && secureEqual(a.sharedSecret, token) {
		return nil, nil
	}

	return nil, ErrUnauthorized
}

// Invalidate drops a cached registration so the next request re-reads it.
func (a *Authenticator) Invalidate(serverID string) {
	a.cache.Delete(serverID)
}

// Close stops the cache's expiry loop. Safe to call more than once.
func (a *Authenticator) Close() {
	a.stopOnce.Do(a.cache.Stop)
}

// registration returns the cached or stored registration, or nil if none
// exists. Missing registrations are not cached so a newly created server can
// report immediately.
func (a *Authenticator) registration(ctx context.Context, serverID string) (*database.VpnServer, error) {
	if item := a.cache.Get(serverID); item != nil {
		server := item.Value()
		return &server, nil
	}

	server, err := a.lookup.GetVpnServerByServerID(ctx, serverID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load server registration: %w", err)
	}

	a.cache.Set(serverID, *server, ttlcache.DefaultTTL)
	return server, nil
}

func secureEqual(expected, given string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
