// Package transport defines the interfaces for RPC communication between the
// idkv client and server. Implementations move opaque, already serialized
// messages and route them by shard id, which is the index of the database a
// request is meant for.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests, routes them to the registered handler and exposes metrics.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
