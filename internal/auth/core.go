package auth

import (
	"net"
	"strings"

	"github.com/google/uuid"
)

// corePrefix namespaces the core identity name inside the OID namespace.
const corePrefix = "graylogic-identity:core:"

// CoreUUID derives the deployment's core identity UUID from a seed.
// The result is stable for a given seed across restarts and hosts.
func CoreUUID(seed string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(corePrefix+seed)).String()
}

// IsLoopback reports whether a source address refers to the local host.
// It accepts a bare IP or host:port, and treats IPv4-mapped 127.0.0.0/8 as
// loopback. Host names, including "localhost", are rejected.
func IsLoopback(addr string) bool {
	host := strings.TrimSpace(addr)
	if host == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	// Drop an IPv6 zone, e.g. ::1%lo0.
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
