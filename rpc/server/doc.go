// Package server implements the RPC server of idkv. It serves one
// lstore.LocalStore over a transport and exposes every database of the store
// as a shard, the shard id being the database index.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a store.IStore.
//
//   - NewIStoreServerAdapter: Factory function creating an adapter that translates
//     RPC requests to store.IStore method calls. Disk tier commands (flush, cancel,
//     info, save) act on the whole store and are accepted on every shard.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Databases:       16,
//	  DiskEnabled:     true,
//	  DiskEngine:      common.DiskEnginePebble,
//	  DataDir:         "data",
//	  MaxPageCount:    1000,
//	  ReconcilePolicy: "newer-wins",
//	  Endpoint:        "0.0.0.0:8080",
//	  TimeoutSecond:   10,
//	  LogLevel:        "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  http.NewHttpServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	go func() {
//	  <-ctx.Done()
//	  _ = s.Shutdown(context.Background())
//	}()
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shutdown stops the transport first, then waits for a running background flush
// and writes all remaining dirty keys before the disk store is closed.
//
// Thread Safety:
//
//	The server is thread-safe and handles concurrent requests. The commands of
//	the store are serialized by the store itself. Serve must be called only once.
package server
