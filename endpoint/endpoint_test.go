package endpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"plain path", "a/b/c", "a/b/c", nil},
		{"surrounding slashes stripped", "/rates/usd/", "rates/usd", nil},
		{"single segment", "ticker", "ticker", nil},
		{"underscore and dash ok", "md_feed/spx-500", "md_feed/spx-500", nil},
		{"empty", "", "", errors.ErrEmptyPath},
		{"only slashes", "///", "", errors.ErrEmptyPath},
		{"double slash", "a//b", "", errors.ErrInvalidPath},
		{"traversal", "a/../b", "", errors.ErrInvalidPath},
		{"space", "a b", "", errors.ErrInvalidPath},
		{"dot segment", "a/.b", "", errors.ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSocketNamingIsDeterministic(t *testing.T) {
	assert.Equal(t,
		filepath.Join("/tmp/pc", "a", "b", "bytes", "stream.sock"),
		StreamSocket("/tmp/pc", "a/b", KindBytes))
	assert.Equal(t,
		filepath.Join("/tmp/pc", "a", "b", "string", "stream.sock"),
		StreamSocket("/tmp/pc", "a/b", KindString))
	assert.Equal(t,
		filepath.Join("/tmp/pc", "a", "b", "ping.sock"),
		PingSocket("/tmp/pc", "a/b"))
}

func TestGatewayURLScheme(t *testing.T) {
	gw := types.NewConnectionHandle("10.1.2.3", 8081)
	assert.Equal(t, "ws://10.1.2.3:8081/stream/a/b/bytes", StreamURL(gw, "a/b", KindBytes))
	assert.Equal(t, "ws://10.1.2.3:8081/stream/a/b/string", StreamURL(gw, "a/b", KindString))
	assert.Equal(t, "ws://10.1.2.3:8081/ping/a/b", PingURL(gw, "a/b"))
}

func TestPrepareCreatesDirAndClearsStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "pc-endpoint")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sock := filepath.Join(dir, "x", "ping.sock")
	require.NoError(t, Prepare(sock))

	// Simulate a stale socket file and prepare again
	require.NoError(t, os.WriteFile(sock, nil, 0o600))
	require.NoError(t, Prepare(sock))
	_, statErr := os.Stat(sock)
	assert.True(t, os.IsNotExist(statErr))
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindBytes.Valid())
	assert.True(t, KindString.Valid())
	assert.True(t, KindPing.Valid())
	assert.False(t, Kind("binary").Valid())
}
