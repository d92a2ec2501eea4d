// Package http implements the HTTP transport of the idkv RPC system.
//
// Requests are sent as `POST /{shardId}` with the serialized message as body,
// where the shard id is the index of the target database. The server also
// exposes `GET /metrics` in the Prometheus text format when a metrics writer
// is registered.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. Every attempt of a
//     request goes to the next endpoint (round-robin), failed attempts are
//     retried up to the configured retry count.
//
//   - httpServerTransport: Implements IRPCServerTransport on top of http.Server
//     and supports graceful shutdown.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. It uses
//	an atomic counter for the round-robin selection of endpoints.
package http
