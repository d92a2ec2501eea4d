// Package serializer encodes the RPC messages exchanged between the idkv client
// and server. Every implementation satisfies IRPCSerializer and turns a
// common.Message into bytes and back.
//
// Implementations:
//
//   - Binary (NewBinarySerializer): the default. A 16 bit flag word marks the
//     present fields, only those are written. Numbers are varints, byte slices,
//     strings and lists carry a uvarint length prefix. Decoding checks every
//     length against the remaining input, so truncated or hostile payloads fail
//     with an error instead of allocating. Empty but non-nil slices survive.
//
//   - JSON (NewJSONSerializer): readable payloads for debugging, e.g. with curl.
//
//   - GOB (NewGOBSerializer): Go's gob format. Slower and larger than Binary,
//     kept for comparison in the benchmarks.
//
// Run the benchmarks of this package to compare speed and payload size:
//
//	go test -bench . ./rpc/serializer
//
// All serializers are stateless and safe for concurrent use.
package serializer
