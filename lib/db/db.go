package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents keyspace features as bit flags
type Feature uint64

const (
	FeatureExpire         Feature = 1 << iota // Support for expiration timestamps
	FeatureTouch                              // Support for access-recency tracking
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
	FeatureGarbageCollect                     // Support for active expiration
	FeatureEvict                              // Support for eviction of idle keys
)

func (f Feature) String() string {
	switch f {
	case FeatureExpire:
		return "Expire"
	case FeatureTouch:
		return "Touch"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	case FeatureEvict:
		return "Evict"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	Keys              int            `json:"keys"`
	Expires           int            `json:"expires"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Keyspace Interface
// --------------------------------------------------------------------------

// Keyspace is the in-memory dictionary of one database.
// It maps keys to objects and keeps an expiration index keyed by the same key.
// Expiration timestamps are unix milliseconds, db.NoExpire means no expiration.
// A key whose expiration timestamp is <= now is logically absent.
type Keyspace interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or overwrites the object for key and clears any expiration.
	Set(key string, obj Object)

	// Add inserts the object only if the key is absent.
	// It returns false if the key already exists.
	Add(key string, obj Object) (added bool)

	// Update atomically replaces the object for key with the result of fn.
	// fn receives the current object (nil if absent). If fn returns nil the key is removed.
	// The expiration of an existing key is kept.
	Update(key string, fn func(old Object, loaded bool) (updated Object)) (obj Object)

	// Delete removes the key and its expiration.
	Delete(key string) (deleted bool)

	// SetExpireAt sets the expiration timestamp of an existing key.
	SetExpireAt(key string, expireAt int64) (ok bool)

	// Persist removes the expiration of an existing key.
	Persist(key string) (ok bool)

	// Touch refreshes the access-recency marker of a key.
	Touch(key string)

	// Evict removes up to n keys, preferring expired and least recently accessed ones.
	// The caller must be able to restore evicted keys (e.g. from the disk tier).
	Evict(n int) (evicted int)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the object for key. Expired keys are removed and reported as absent.
	Get(key string) (obj Object, loaded bool)

	// Has reports whether a non-expired key exists.
	Has(key string) (loaded bool)

	// ExpireAt returns the expiration timestamp of key or NoExpire.
	ExpireAt(key string) (expireAt int64)

	// Len returns the number of keys (including expired keys not yet collected).
	Len() int

	// Range calls fn for every non-expired key until fn returns false.
	Range(fn func(key string, obj Object, expireAt int64) bool)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the keyspace to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the keyspace state from an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the keyspace.
	GetInfo() (info DatabaseInfo)

	// Close stops background work of the keyspace.
	Close() (err error)
}
