// Package endpoint derives the deterministic local endpoints and gateway URLs
// for a service path. Publishers create the unix sockets named here; the
// gateway and same-node clients consume them.
package endpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/types"
)

// Kind selects one of the per-path endpoints.
type Kind string

const (
	// KindBytes is the binary stream endpoint consumed by typed subscribers.
	KindBytes Kind = "bytes"
	// KindString is the display stream endpoint consumed by type-erased subscribers.
	KindString Kind = "string"
	// KindPing is the request-response snapshot endpoint.
	KindPing Kind = "ping"
)

// Valid reports whether k names a known endpoint kind.
func (k Kind) Valid() bool {
	return k == KindBytes || k == KindString || k == KindPing
}

// DefaultBaseDir is where local endpoints live unless overridden.
func DefaultBaseDir() string {
	return filepath.Join(os.TempDir(), "pathcast")
}

// Normalize strips surrounding slashes and validates a service path.
// Rules: non-empty, no empty segments, no "..", segments limited to
// alphanumerics, '-' and '_'.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", errors.ErrEmptyPath
	}
	stripped := strings.Trim(path, "/")
	if stripped == "" {
		return "", errors.ErrEmptyPath
	}
	for _, segment := range strings.Split(stripped, "/") {
		if segment == "" {
			return "", errors.WrapInvalid(errors.ErrInvalidPath, "endpoint", "Normalize",
				fmt.Sprintf("path %q contains an empty segment", path))
		}
		if segment == ".." {
			return "", errors.WrapInvalid(errors.ErrInvalidPath, "endpoint", "Normalize",
				fmt.Sprintf("path %q contains a traversal segment", path))
		}
		for _, c := range segment {
			if !isPathRune(c) {
				return "", errors.WrapInvalid(errors.ErrInvalidPath, "endpoint", "Normalize",
					fmt.Sprintf("path %q contains invalid character %q", path, c))
			}
		}
	}
	return stripped, nil
}

func isPathRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

// StreamSocket returns the unix socket path for a path's stream endpoint.
// Layout: {base}/{path}/{kind}/stream.sock
func StreamSocket(base, path string, kind Kind) string {
	return filepath.Join(base, filepath.FromSlash(path), string(kind), "stream.sock")
}

// PingSocket returns the unix socket path for a path's ping endpoint.
// Layout: {base}/{path}/ping.sock
func PingSocket(base, path string) string {
	return filepath.Join(base, filepath.FromSlash(path), "ping.sock")
}

// Prepare creates the socket's parent directory and removes any stale socket
// file left by a previous process.
func Prepare(socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return errors.WrapFatal(err, "endpoint", "Prepare", "creating socket directory")
	}
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return errors.WrapFatal(err, "endpoint", "Prepare", "removing stale socket")
		}
	}
	return nil
}

// StreamURL builds the gateway websocket URL for a path's stream endpoint:
// ws://{gateway}/stream/{path}/{kind}
func StreamURL(gateway types.ConnectionHandle, path string, kind Kind) string {
	return fmt.Sprintf("ws://%s/stream/%s/%s", gateway, path, kind)
}

// PingURL builds the gateway websocket URL for a path's ping endpoint:
// ws://{gateway}/ping/{path}
func PingURL(gateway types.ConnectionHandle, path string) string {
	return fmt.Sprintf("ws://%s/ping/%s", gateway, path)
}
