// Package client implements the RPC client of idkv. NewRPCStore returns a
// store.IStore that forwards every command to a remote server through the
// configured transport and serializer.
//
// Key commands are sent to the shard of their database (shard id = database
// index), disk tier commands always go to shard 0. Errors returned by the
// server keep their store.RetCode, so callers can inspect them with errors.As
// just like the errors of a local store.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"http://localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	s, err := client.NewRPCStore(config, http.NewHttpClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//
//	_ = s.Set(0, "mykey", []byte("myvalue"))
//	value, exists, _ := s.Get(0, "mykey")
//	keys, _ := s.BackgroundFlush()
//
// Thread Safety:
//
//	The client is thread-safe and can be used concurrently from multiple
//	goroutines without additional synchronization.
package client
