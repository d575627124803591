// Package pathcast is a path-addressed publish/subscribe substrate: named
// services publish typed values at hierarchical paths, and subscribers
// anywhere on the network discover them by path and consume either a typed
// binary stream or a type-erased display stream.
//
// # Architecture
//
// Three cooperating processes per deployment:
//
//	┌─────────────────────────────────────┐
//	│          Registry                   │  Path tree, registration,
//	│  (register, lookup, remove, tree)   │  liveness eviction
//	└─────────────────────────────────────┘
//	           ↑ HTTP+JSON RPC
//	┌─────────────────────────────────────┐
//	│        Publishers                   │  One per path; owns the
//	│  (ping + bytes/string endpoints)    │  path's local endpoints
//	└─────────────────────────────────────┘
//	           ↑ unix sockets
//	┌─────────────────────────────────────┐
//	│          Gateway                    │  One per node; proxies TCP
//	│   (/stream/{path}/{kind}, /ping)    │  websockets onto the sockets
//	└─────────────────────────────────────┘
//
// A publisher binds three local unix-socket endpoints derived from its path
// (binary stream, display stream, ping snapshot), then registers its node's
// gateway address with the registry. A subscriber looks the path up once,
// then talks to the publisher's gateway directly; the registry can die
// without affecting established flows.
//
// The registry enforces a hierarchy invariant: a registered path may not be
// the ancestor or descendant of another registered path. A liveness monitor
// pings every registration on a fixed interval (default 500 ms) and evicts
// publishers that stop answering, so lookups never return dead services for
// longer than a probe cycle or two.
//
// # Value model
//
// Values travel in two encodings at once: a compact fixed binary layout for
// typed subscribers and a display string for type-erased ones. A type
// provides both through the types.Value capability interface; F64, F32, I64,
// Bool, Str and Bytes are built in. Publisher and subscriber types are
// matched only at decode time; a mismatch surfaces as ErrMalformedPayload
// on the first frame, not at compile time.
//
// # Delivery semantics
//
// Streams are at-most-once to currently connected consumers. A slow consumer
// loses its oldest messages rather than slowing the publisher; a consumer
// joining late starts with the ping snapshot and the next published value.
// Stream clients reconnect transparently at a fixed backoff (default 100 ms)
// but make no attempt to replay messages lost across the gap.
//
// # Relaying
//
// pubsub.Relay republishes a switchable source path onto a fixed destination
// path. SwapOn changes the source atomically: the new subscription is
// established before the old feed is torn down, and the teardown is awaited
// before the new feed starts, so destination subscribers see no registration
// churn and no interleaving of old-source values after new-source values.
//
// # Packages
//
// Core:
//   - registry: path tree, registration state, RPC server/client, monitor
//   - gateway: per-node websocket proxy
//   - stream: broadcast server and auto-reconnecting client
//   - ping: value-snapshot request/response protocol
//   - pubsub: Publisher[T], Subscriber[T], OmniSubscriber, Relay[T]
//
// Support:
//   - types: value codecs, connection handles, service records
//   - endpoint: path normalization, endpoint naming, gateway URLs
//   - errors: sentinel taxonomy and classification
//   - config: yaml configuration for the daemons
//   - metric: prometheus collectors
//   - pkg/buffer: drop-policy and unbounded queues
//   - pkg/retry: backoff loops including the fixed reconnect policy
//
// # Usage
//
// Publish and subscribe:
//
//	reg := registry.NewClient(registryHandle)
//
//	pub, _ := pubsub.NewPublisher(ctx, "temp-sensor", "sensors/temp",
//	    types.F64(21.5), reg, gatewayPort)
//	defer pub.Close()
//	pub.Publish(22.1)
//
//	sub, _ := pubsub.NewSubscriber[types.F64](ctx, "sensors/temp", reg)
//	defer sub.Close()
//	current, updates, _ := sub.Stream(ctx)
//	for u := range updates {
//	    ...
//	}
//
// Run the daemons:
//
//	pathcast-registry --config registry.yaml
//	pathcast-gateway  --config gateway.yaml
package pathcast
