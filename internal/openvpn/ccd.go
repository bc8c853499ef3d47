// Package openvpn understands the OpenVPN artefacts agents forward to the
// portal: client-config-directory (CCD) files and certificate index timestamps.
package openvpn

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"ovpn-portal/internal/network"
)

// hostMask is assumed for a pushed route that carries no netmask.
const hostMask = "255.255.255.255"

// ErrNoDirectives is returned when a CCD file contains neither an
// ifconfig-push nor a route push directive.
var ErrNoDirectives = errors.New("ccd: no ifconfig-push or route directives found")

// ClientConfig represents the addressing a CCD file assigns to one client.
type ClientConfig struct {
	StaticIP string   // Address from the first ifconfig-push directive
	Netmask  string   // Second ifconfig-push argument (netmask or peer address)
	Routes   []string // Pushed routes in CIDR notation, in file order
}

// RoutesString returns the pushed routes joined by commas, the form stored on
// a VPN identity.
func (c *ClientConfig) RoutesString() string {
	return strings.Join(c.Routes, ",")
}

// DecodeCCD decodes a base64 CCD blob as sent by the agent and parses it.
// Both padded and unpadded standard encodings are accepted.
func DecodeCCD(encoded string) (*ClientConfig, error) {
	encoded = strings.TrimSpace(encoded)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(encoded)
		if rawErr != nil {
			return nil, fmt.Errorf("ccd: invalid base64 content: %w", err)
		}
	}
	return ParseCCD(string(raw))
}

// ParseCCD extracts the static IP and pushed routes from CCD file content.
// Only the first ifconfig-push directive is honoured. Each
// push "route <network> [netmask]" directive becomes one CIDR route; routes
// with an unparseable address or mask are skipped. Comments starting with
// '#' or ';' are ignored.
// Returns ErrNoDirectives if nothing usable was found.
func ParseCCD(content string) (*ClientConfig, error) {
	config := &ClientConfig{}
	matched := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "ifconfig-push":
			if config.StaticIP != "" || len(fields) < 2 || !network.ValidIPv4(fields[1]) {
				continue
			}
			config.StaticIP = fields[1]
			if len(fields) > 2 {
				config.Netmask = fields[2]
			}
			matched = true

		case "push":
			route, ok := parsePushedRoute(line)
			if !ok {
				continue
			}
			config.Routes = append(config.Routes, route)
			matched = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ccd: failed to read content: %w", err)
	}

	if !matched {
		return nil, ErrNoDirectives
	}
	return config, nil
}

// parsePushedRoute turns `push "route 192.168.1.0 255.255.255.0"` into
// "192.168.1.0/24".
func parsePushedRoute(line string) (string, bool) {
	start := strings.IndexByte(line, '"')
	end := strings.LastIndexByte(line, '"')
	if start < 0 || end <= start {
		return "", false
	}

	args := strings.Fields(line[start+1 : end])
	if len(args) < 2 || args[0] != "route" {
		return "", false
	}

	mask := hostMask
	if len(args) > 2 {
		mask = args[2]
	}

	cidr, err := network.ToCIDR(args[1], mask)
	if err != nil {
		return "", false
	}
	return cidr, true
}
