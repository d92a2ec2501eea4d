// Package rpc exposes an idkv store over the network. A request is a
// common.Message encoded by a serializer and moved by a transport, the
// transport routes it by shard id, which is the index of the database.
//
// Subpackages:
//
//   - common: the Message protocol, server and client configuration, logging
//   - transport: transport interfaces and the HTTP implementation
//   - serializer: Binary, JSON and GOB message encodings
//   - client: store.IStore implementation that forwards commands to a server
//   - server: serves a lstore.LocalStore, one shard per database
package rpc
