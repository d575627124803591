package types

import (
	"net"
	"strconv"
	"time"

	"github.com/c360/pathcast/errors"
)

// ConnectionHandle identifies a remote endpoint by address and port. It is an
// immutable value, passed by value, and serializable for the registry RPC
// surface.
type ConnectionHandle struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewConnectionHandle creates a handle for the given host and port.
func NewConnectionHandle(host string, port int) ConnectionHandle {
	return ConnectionHandle{Host: host, Port: port}
}

// LocalHandle returns a handle for this machine at the given port, using the
// first non-loopback unicast address, falling back to loopback when the host
// has no external interface (common in test environments).
func LocalHandle(port int) (ConnectionHandle, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ConnectionHandle{}, errors.WrapTransient(err, "ConnectionHandle", "LocalHandle", "interface scan")
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ConnectionHandle{Host: ip4.String(), Port: port}, nil
		}
	}
	return ConnectionHandle{Host: "127.0.0.1", Port: port}, nil
}

// String renders the handle as host:port, bracketing IPv6 hosts.
func (h ConnectionHandle) String() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// IsZero reports whether the handle is unset.
func (h ConnectionHandle) IsZero() bool {
	return h.Host == "" && h.Port == 0
}

// ServiceRecord is the registry entry for one registered publisher. Created
// atomically on successful registration, never mutated in place, destroyed by
// explicit removal or liveness eviction.
type ServiceRecord struct {
	Name         string           `json:"name"`
	Path         string           `json:"path"`
	Handle       ConnectionHandle `json:"handle"`
	RegisteredAt time.Time        `json:"registered_at"`
}
