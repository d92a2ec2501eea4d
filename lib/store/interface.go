package store

import (
	"fmt"

	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/idb"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// KeyspaceFactory creates the keyspace of one database.
// This is used to abstract the creation of the keyspaces from the store implementation.
type KeyspaceFactory func(dbIndex int) db.Keyspace

// IStore is the command interface of idkv. Every key command addresses one
// database by its index. Expiration durations are given in milliseconds.
// All methods return a *Error on failure.
type IStore interface {
	// Set inserts or overwrites a string value and clears any expiration.
	Set(dbIndex int, key string, value []byte) (err error)
	// SetE inserts or overwrites a string value that expires after expireIn ms.
	// A zero value for expireIn means no expiration.
	SetE(dbIndex int, key string, value []byte, expireIn uint64) (err error)
	// Get returns the string value of a key, loading it from disk if it is not in memory.
	// A key holding another type fails with RetCWrongType.
	Get(dbIndex int, key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists in memory or on disk.
	Has(dbIndex int, key string) (loaded bool, err error)
	// Delete removes a key from memory and disk. It reports whether the key existed.
	Delete(dbIndex int, key string) (deleted bool, err error)
	// Expire sets the expiration of an existing key to expireIn ms from now.
	Expire(dbIndex int, key string, expireIn uint64) (ok bool, err error)
	// RPush appends values to the list stored at key and returns the new length.
	RPush(dbIndex int, key string, values ...[]byte) (length int, err error)
	// HSet sets a field of the hash stored at key. It reports whether the field is new.
	HSet(dbIndex int, key, field string, value []byte) (created bool, err error)
	// Subkeys lists the names of the persisted keys below keyPath ("" = root).
	Subkeys(dbIndex int, keyPath, pattern string, count, skip int) (names []string, err error)

	// BackgroundFlush starts a flush of all dirty keys to disk and returns the number of keys handed to it.
	BackgroundFlush() (keys int, err error)
	// FlushAll synchronously writes all dirty keys to disk and returns their number.
	FlushAll() (keys int, err error)
	// CancelFlush stops the running background flush. Its keys stay dirty.
	CancelFlush() (err error)
	// Info returns the state of the disk tier and the keyspaces.
	Info() (info Info, err error)
	// Save writes a snapshot of all keyspaces.
	Save() (err error)
}

// Info is the reply of the info command
type Info struct {
	Tier      idb.Info          `json:"tier"`
	Databases []db.DatabaseInfo `json:"databases"`
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying keyspace.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCDisabled                            // 4: The disk tier is disabled.
	RetCFlushInProgress                     // 5: A background flush is already running.
	RetCWrongType                           // 6: The key holds a value of another type.
	RetCInvalidArgument                     // 7: Invalid database index or key.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCDisabled:
		return "Disabled"
	case RetCFlushInProgress:
		return "FlushInProgress"
	case RetCWrongType:
		return "WrongType"
	case RetCInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// WrongType is the error of a command that addresses a key holding another type
func WrongType(key string, got db.ObjectType) *Error {
	return NewError(RetCWrongType, fmt.Sprintf("WRONGTYPE key %q holds a value of type %s", key, got))
}
