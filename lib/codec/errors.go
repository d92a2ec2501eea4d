package codec

import "errors"

var (
	// ErrExpired is returned by Decode when the record's expiration is <= now.
	// It is a policy outcome: the caller deletes the record and reports a miss.
	ErrExpired = errors.New("record expired")

	// ErrCorrupt is returned by Decode for unknown type tags and truncated or malformed records.
	ErrCorrupt = errors.New("corrupt record")
)
