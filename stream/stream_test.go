package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "pc-stream")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "stream.sock")
}

func waitForConsumers(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.ConsumerCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d consumers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	sock := testSocket(t)
	srv, err := NewServer(sock)
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(DialSocket(sock), WithReconnectBackoff(20*time.Millisecond))
	defer client.Close()

	sub, err := client.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	waitForConsumers(t, srv, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, srv.Broadcast([]byte{byte(i)}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		msg, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, msg)
	}
}

func TestBroadcastFansOutToAllConsumers(t *testing.T) {
	sock := testSocket(t)
	srv, err := NewServer(sock)
	require.NoError(t, err)
	defer srv.Close()

	const n = 3
	clients := make([]*Client, n)
	subs := make([]*Subscription, n)
	for i := range clients {
		clients[i] = NewClient(DialSocket(sock))
		defer clients[i].Close()
		sub, err := clients[i].Subscribe()
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}

	waitForConsumers(t, srv, n)
	require.NoError(t, srv.Broadcast([]byte("tick")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, sub := range subs {
		msg, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("tick"), msg)
	}
}

func TestSlowConsumerLosesOldestNotProducer(t *testing.T) {
	sock := testSocket(t)
	srv, err := NewServer(sock, WithQueueCapacity(4))
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(DialSocket(sock))
	defer client.Close()
	sub, err := client.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	waitForConsumers(t, srv, 1)

	// Publish far more than the consumer-side queue holds; Broadcast must
	// never block regardless of whether the consumer reads.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, srv.Broadcast([]byte(fmt.Sprintf("%04d", i))))
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	// The consumer still receives a suffix of the sequence, in order.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	prev := string(first)
	for i := 0; i < 3; i++ {
		msg, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Greater(t, string(msg), prev)
		prev = string(msg)
	}
}

func TestClientReconnectsAfterServerRestart(t *testing.T) {
	sock := testSocket(t)
	srv, err := NewServer(sock)
	require.NoError(t, err)

	client := NewClient(DialSocket(sock), WithReconnectBackoff(20*time.Millisecond))
	defer client.Close()
	sub, err := client.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	waitForConsumers(t, srv, 1)
	require.NoError(t, srv.Broadcast([]byte("before")))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), msg)

	// Kill and rebind the endpoint; the client reconnects on its own.
	require.NoError(t, srv.Close())
	srv2, err := NewServer(sock)
	require.NoError(t, err)
	defer srv2.Close()

	waitForConsumers(t, srv2, 1)
	require.NoError(t, srv2.Broadcast([]byte("after")))

	msg, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), msg)
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	sock := testSocket(t)
	srv, err := NewServer(sock)
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(DialSocket(sock))
	defer client.Close()

	sub, err := client.Subscribe()
	require.NoError(t, err)
	sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.Error(t, err)
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	sock := testSocket(t)
	srv, err := NewServer(sock)
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(DialSocket(sock))
	require.NoError(t, client.Close())

	_, err = client.Subscribe()
	assert.Error(t, err)
}
