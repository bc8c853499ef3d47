// Package network provides IPv4 addressing helpers for OpenVPN client
// configuration: validating host addresses and converting the dotted-decimal
// netmasks used in push directives into CIDR notation.
package network

import (
	"fmt"
	"net"
)

// ValidIPv4 reports whether s is a literal IPv4 address.
func ValidIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// MaskToPrefix converts a dotted-decimal netmask such as "255.255.255.0" into
// its prefix length. Non-contiguous masks are rejected.
// Returns the prefix length or an error if the mask is not a valid IPv4 netmask.
func MaskToPrefix(mask string) (int, error) {
	ip := net.ParseIP(mask)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("invalid netmask %q", mask)
	}

	ones, bits := net.IPMask(ip.To4()).Size()
	if bits == 0 {
		return 0, fmt.Errorf("non-contiguous netmask %q", mask)
	}
	return ones, nil
}

// ToCIDR joins an IPv4 network address and a dotted-decimal netmask into CIDR
// notation, e.g. ("192.168.1.0", "255.255.255.0") becomes "192.168.1.0/24".
// The network address is kept as given, host bits are not cleared.
func ToCIDR(network, mask string) (string, error) {
	if !ValidIPv4(network) {
		return "", fmt.Errorf("invalid network address %q", network)
	}
	prefix, err := MaskToPrefix(mask)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d", network, prefix), nil
}
