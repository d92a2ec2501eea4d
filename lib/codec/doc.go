// Package codec implements the byte-level encoding of values written to the disk tier.
//
// A stored record has the layout
//
//	[0xFC <int64 little endian unix ms>] <type tag> <body>
//
// where the optional expiration prefix is only present for keys with a TTL.
// Bodies use a compact length encoding (6, 14, 32 or 64 bit forms) so that a
// record is self-delimiting. Sets and hashes are written in sorted order,
// which makes the encoding of equal objects byte-identical.
//
// Next to every record the disk tier stores a short TypeMarker under the
// TypeField side field: "redis" for records written by Encode, "str" for raw
// string payloads written by other producers. ParseMarker selects the decode
// path for a stored marker.
//
// Decode never panics on malformed input. Corruption is reported as
// ErrCorrupt and an elapsed expiration (expireAt <= now) as ErrExpired.
package codec
