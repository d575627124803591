package pubsub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/gateway"
	"github.com/c360/pathcast/metric"
	"github.com/c360/pathcast/registry"
	"github.com/c360/pathcast/types"
)

// harness is one node: a registry, a gateway and an endpoint directory.
// Probes always succeed so nothing is evicted mid-test; eviction has its own
// registry-level tests.
type harness struct {
	reg         *registry.Client
	gatewayPort int
	socketDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir, err := os.MkdirTemp("/tmp", "pc-e2e")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	regCfg := config.RegistryConfig{Host: "127.0.0.1", Port: 0}
	require.NoError(t, regCfg.Validate())
	regSrv, err := registry.NewServer(regCfg, registry.WithServerMonitorOptions(
		registry.WithProber(func(context.Context, types.ServiceRecord) error { return nil })))
	require.NoError(t, err)
	require.NoError(t, regSrv.Start(context.Background()))
	t.Cleanup(func() { regSrv.Stop(context.Background()) })

	// The gateway listens on all interfaces because publishers register
	// their non-loopback address.
	gwCfg := config.GatewayConfig{Host: "", Port: 0, SocketDir: dir}
	require.NoError(t, gwCfg.Validate())
	gw := gateway.New(gwCfg)
	require.NoError(t, gw.Start(context.Background()))
	t.Cleanup(func() { gw.Stop(context.Background()) })

	return &harness{
		reg:         registry.NewClient(types.NewConnectionHandle("127.0.0.1", regSrv.Handle().Port)),
		gatewayPort: gw.Handle().Port,
		socketDir:   dir,
	}
}

func (h *harness) publisher(t *testing.T, ctx context.Context, path string, initial types.F64) *Publisher[types.F64] {
	t.Helper()
	pub, err := NewPublisher(ctx, "test-"+path, path, initial, h.reg, h.gatewayPort,
		WithSocketDir(h.socketDir))
	require.NoError(t, err)
	return pub
}

func waitSubscribers(t *testing.T, count func() int, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return count() >= n },
		3*time.Second, 10*time.Millisecond)
}

func TestGetReturnsInitialThenLatest(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := h.publisher(t, ctx, "sensors/temp", 7)
	defer pub.Close()

	sub, err := NewSubscriber[types.F64](ctx, "sensors/temp", h.reg)
	require.NoError(t, err)
	defer sub.Close()

	got, err := sub.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.F64(7), got)

	require.NoError(t, pub.Publish(8))
	require.NoError(t, pub.Publish(9))

	got, err = sub.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.F64(9), got)
}

func TestStreamYieldsPublishedValuesInOrder(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := h.publisher(t, ctx, "sensors/temp", 7)
	defer pub.Close()

	sub, err := NewSubscriber[types.F64](ctx, "sensors/temp", h.reg)
	require.NoError(t, err)
	defer sub.Close()

	current, updates, err := sub.Stream(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.F64(7), current)

	waitSubscribers(t, pub.Subscribers, 1)
	require.NoError(t, pub.Publish(8))
	require.NoError(t, pub.Publish(9))

	for _, want := range []types.F64{8, 9} {
		select {
		case update := <-updates:
			require.NoError(t, update.Err)
			assert.Equal(t, want, update.Value)
		case <-ctx.Done():
			t.Fatal("timed out waiting for stream update")
		}
	}
}

func TestTypedAndOmniSeeEquivalentContent(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := h.publisher(t, ctx, "sensors/pi", 3.14)
	defer pub.Close()

	typed, err := NewSubscriber[types.F64](ctx, "sensors/pi", h.reg)
	require.NoError(t, err)
	defer typed.Close()

	omni, err := NewOmniSubscriber(ctx, "sensors/pi", h.reg)
	require.NoError(t, err)
	defer omni.Close()

	v, err := typed.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.F64(3.14), v)

	display, err := omni.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.14", display)
	assert.Equal(t, v.String(), display)
}

func TestOmniStreamCarriesDisplayStrings(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := h.publisher(t, ctx, "sensors/temp", 1)
	defer pub.Close()

	omni, err := NewOmniSubscriber(ctx, "sensors/temp", h.reg)
	require.NoError(t, err)
	defer omni.Close()

	current, updates, err := omni.Stream(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", current)

	waitSubscribers(t, pub.OmniSubscribers, 1)
	require.NoError(t, pub.Publish(2.5))

	select {
	case display := <-updates:
		assert.Equal(t, "2.5", display)
	case <-ctx.Done():
		t.Fatal("timed out waiting for display update")
	}
}

func TestTypeMismatchSurfacesInBand(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A string publisher whose payloads are not 8 bytes.
	pub, err := NewPublisher(ctx, "words", "feed/words", types.Str("hello"), h.reg,
		h.gatewayPort, WithSocketDir(h.socketDir))
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewSubscriber[types.F64](ctx, "feed/words", h.reg)
	require.NoError(t, err)
	defer sub.Close()

	// The snapshot fails to decode, reported as a type mismatch over the
	// underlying malformed payload.
	_, err = sub.Get(ctx)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
	assert.ErrorIs(t, err, errors.ErrMalformedPayload)
}

func TestSubscriberFailsWhenPathUnregistered(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewSubscriber[types.F64](ctx, "no/such/path", h.reg)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPublisherCloseDeregisters(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := h.publisher(t, ctx, "sensors/temp", 1)
	require.NoError(t, pub.Close())

	_, err := h.reg.Lookup(ctx, "sensors/temp")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	// The path is free for a new publisher.
	pub2 := h.publisher(t, ctx, "sensors/temp", 2)
	defer pub2.Close()
}

func TestPublisherCountsBroadcastsAndDrops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metrics := metric.New()
	pub, err := NewPublisher(ctx, "counted", "sensors/counted", types.F64(0), h.reg,
		h.gatewayPort, WithSocketDir(h.socketDir), WithPublisherMetrics(metrics))
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewSubscriber[types.F64](ctx, "sensors/counted", h.reg)
	require.NoError(t, err)
	defer sub.Close()
	_, updates, err := sub.Stream(ctx)
	require.NoError(t, err)
	waitSubscribers(t, pub.Subscribers, 1)

	require.NoError(t, pub.Publish(1))
	require.NoError(t, pub.Publish(2))

	for i := 0; i < 2; i++ {
		select {
		case update := <-updates:
			require.NoError(t, update.Err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for update")
		}
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamMessagesTotal.WithLabelValues("bytes")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamMessagesTotal.WithLabelValues("string")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.StreamDropsTotal))
}

func TestDuplicatePublisherRejected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub := h.publisher(t, ctx, "sensors/temp", 1)
	defer pub.Close()

	_, err := NewPublisher(ctx, "dup", "sensors/temp", types.F64(1), h.reg,
		h.gatewayPort, WithSocketDir(h.socketDir))
	assert.ErrorIs(t, err, errors.ErrDuplicatePath)
}
