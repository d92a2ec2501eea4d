// Package store defines the command interface of idkv and its error reporting.
//
// Key Components:
//
//   - IStore Interface: The commands a client can run against the server. Key
//     commands address one database by index, the flush commands act on the
//     disk tier of all databases. All implementations share this interface, so
//     the CLI works the same against a local store and the RPC client.
//
//   - Error System: Commands fail with a *Error carrying a RetCode, which
//     survives the trip through the RPC layer (see rpc/common).
//
//   - KeyspaceFactory: Creates the in-memory keyspace of each database.
//
// Implementations:
//
//	- Local Store (lstore): Executes commands against the keyspaces of this
//	  process and persists writes through the disk tier (lib/idb).
//	  Available in the "github.com/ValentinKolb/idkv/lib/store/lstore" package.
//
//	- RPC Client: Sends commands to a remote server.
//	  Available in the "github.com/ValentinKolb/idkv/rpc/client" package.
package store
