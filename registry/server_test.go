package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/types"
)

// startServer runs a registry on an OS-assigned port with probes disabled so
// nothing gets evicted mid-test.
func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()

	cfg := config.RegistryConfig{Host: "127.0.0.1", Port: 0}
	require.NoError(t, cfg.Validate())

	alwaysAlive := func(context.Context, types.ServiceRecord) error { return nil }
	srv, err := NewServer(cfg, WithServerMonitorOptions(WithProber(alwaysAlive)))
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client := NewClient(types.NewConnectionHandle("127.0.0.1", srv.Handle().Port))
	return srv, client
}

func TestServerRegisterLookupRemove(t *testing.T) {
	_, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := client.Register(ctx, "temp-sensor", "sensors/temp", testHandle())
	require.NoError(t, err)
	assert.Equal(t, "sensors/temp", record.Path)
	assert.Equal(t, testHandle(), record.Handle)

	got, err := client.Lookup(ctx, "sensors/temp")
	require.NoError(t, err)
	assert.Equal(t, record.Name, got.Name)
	assert.Equal(t, record.Handle, got.Handle)

	require.NoError(t, client.Remove(ctx, "sensors/temp"))
	_, err = client.Lookup(ctx, "sensors/temp")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestServerErrorCodesMapToSentinels(t *testing.T) {
	_, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Register(ctx, "a", "svc/path", testHandle())
	require.NoError(t, err)

	_, err = client.Register(ctx, "b", "svc/path", testHandle())
	assert.ErrorIs(t, err, errors.ErrDuplicatePath)

	_, err = client.Register(ctx, "c", "svc", testHandle())
	assert.ErrorIs(t, err, errors.ErrHierarchyViolation)

	_, err = client.Register(ctx, "d", "svc/path/deeper", testHandle())
	assert.ErrorIs(t, err, errors.ErrHierarchyViolation)

	_, err = client.Register(ctx, "e", "", testHandle())
	assert.ErrorIs(t, err, errors.ErrEmptyPath)

	_, err = client.Register(ctx, "f", "not ok", testHandle())
	assert.ErrorIs(t, err, errors.ErrInvalidPath)

	_, err = client.Lookup(ctx, "never/registered")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	err = client.Remove(ctx, "never/registered")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestServerTreeSnapshot(t *testing.T) {
	_, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Register(ctx, "a", "fleet/truck1", testHandle())
	require.NoError(t, err)
	_, err = client.Register(ctx, "b", "fleet/truck2", testHandle())
	require.NoError(t, err)

	root, err := client.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "fleet", root.Children[0].Name)
	assert.False(t, root.Children[0].Registered)
	require.Len(t, root.Children[0].Children, 2)
	assert.Equal(t, "truck1", root.Children[0].Children[0].Name)
	assert.True(t, root.Children[0].Children[0].Registered)
}

func TestServerExposesMetrics(t *testing.T) {
	srv, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Register(ctx, "a", "svc", testHandle())
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", srv.Handle().Port))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pathcast_registry_registrations_total")
	assert.Contains(t, string(body), "pathcast_registry_active_publishers 1")
}

func TestServerEvictsUnreachablePublisher(t *testing.T) {
	cfg := config.RegistryConfig{
		Host:             "127.0.0.1",
		Port:             0,
		ProbeIntervalStr: "100ms",
		ProbeTimeoutStr:  "50ms",
	}
	require.NoError(t, cfg.Validate())

	// Default prober, no injected clock: the probe dials the registered
	// handle, which points nowhere.
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client := NewClient(types.NewConnectionHandle("127.0.0.1", srv.Handle().Port))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dead := types.NewConnectionHandle("127.0.0.1", 1) // nothing listens here
	_, err = client.Register(ctx, "ghost", "dead/svc", dead)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := client.Lookup(ctx, "dead/svc")
		return errors.Is(err, errors.ErrNotFound)
	}, 3*time.Second, 25*time.Millisecond)
}

func TestServerEvictsPublisherThatStopsAnswering(t *testing.T) {
	handle, pingSrv := livePingEndpoint(t, "live/svc", "1")

	cfg := config.RegistryConfig{
		Host:             "127.0.0.1",
		Port:             0,
		ProbeIntervalStr: "100ms",
		ProbeTimeoutStr:  "50ms",
	}
	require.NoError(t, cfg.Validate())

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client := NewClient(types.NewConnectionHandle("127.0.0.1", srv.Handle().Port))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = client.Register(ctx, "live", "live/svc", handle)
	require.NoError(t, err)

	// Several sweeps succeed, leaving the probe connection cached.
	time.Sleep(300 * time.Millisecond)
	_, err = client.Lookup(ctx, "live/svc")
	require.NoError(t, err)

	// The publisher dies without deregistering. Probes over the connection
	// opened while it was healthy must start failing, and the record must
	// be evicted.
	require.NoError(t, pingSrv.Close())

	require.Eventually(t, func() bool {
		_, err := client.Lookup(ctx, "live/svc")
		return errors.Is(err, errors.ErrNotFound)
	}, 3*time.Second, 25*time.Millisecond)
}

func TestServerLifecycle(t *testing.T) {
	cfg := config.RegistryConfig{Host: "127.0.0.1", Port: 0}
	require.NoError(t, cfg.Validate())

	srv, err := NewServer(cfg, WithServerMonitorOptions(
		WithProber(func(context.Context, types.ServiceRecord) error { return nil })))
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, srv.Stop(context.Background()))
	assert.ErrorIs(t, srv.Stop(context.Background()), errors.ErrAlreadyStopped)
	assert.ErrorIs(t, srv.Start(context.Background()), errors.ErrShuttingDown)
}
