package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/idkv/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message. The database of a key
// command is not part of the message, it is the shard id of the transport.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key      string   `json:"key,omitempty"`      // Used for: all key commands
	Field    string   `json:"field,omitempty"`    // Used for: HSet
	Pattern  string   `json:"pattern,omitempty"`  // Used for: Subkeys
	ExpireIn uint64   `json:"expireIn,omitempty"` // Used for: SetE, Expire (ms)
	Value    []byte   `json:"value,omitempty"`    // Used for: Set, SetE, HSet (request), Get (response)
	Values   [][]byte `json:"values,omitempty"`   // Used for: RPush
	Count    int64    `json:"count,omitempty"`    // Used for: Subkeys (request), integer replies (response)
	Skip     int64    `json:"skip,omitempty"`     // Used for: Subkeys

	// Response only fields
	Ok    bool     `json:"ok,omitempty"`    // Used for: Get, Has, Delete, Expire, HSet responses
	Names []string `json:"names,omitempty"` // Used for: Subkeys responses
	Err   string   `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
	Code  uint64   `json:"code,omitempty"`  // store.RetCode of the error

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info responses (json encoded store.Info)
}

// withErr sets the error fields of a response
func withErr(msg *Message, err error) *Message {
	if err == nil {
		return msg
	}
	msg.Err = err.Error()

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		msg.Err = storeErr.Msg
		msg.Code = uint64(storeErr.Code)
	}
	return msg
}

// ToError returns the error carried by a response or nil
func (m *Message) ToError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	if m.Code != 0 {
		return store.NewError(store.RetCode(m.Code), m.Err)
	}
	return fmt.Errorf("RPC error: %s", m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVSet,
		Key:     key,
		Value:   value,
	}
}

// NewSetResponse creates a new Set response
func NewSetResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTKVSet}, err)
}

// NewSetERequest creates a new SetE request
func NewSetERequest(key string, value []byte, expireIn uint64) *Message {
	return &Message{
		MsgType:  MsgTKVSetE,
		Key:      key,
		Value:    value,
		ExpireIn: expireIn,
	}
}

// NewSetEResponse creates a new SetE response
func NewSetEResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTKVSetE}, err)
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
	}, err)
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVHas,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	return withErr(&Message{MsgType: MsgTKVHas, Ok: ok}, err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(deleted bool, err error) *Message {
	return withErr(&Message{MsgType: MsgTKVDelete, Ok: deleted}, err)
}

// NewExpireRequest creates a new Expire request
func NewExpireRequest(key string, expireIn uint64) *Message {
	return &Message{
		MsgType:  MsgTKVExpire,
		Key:      key,
		ExpireIn: expireIn,
	}
}

// NewExpireResponse creates a new Expire response
func NewExpireResponse(ok bool, err error) *Message {
	return withErr(&Message{MsgType: MsgTKVExpire, Ok: ok}, err)
}

// NewRPushRequest creates a new RPush request
func NewRPushRequest(key string, values [][]byte) *Message {
	return &Message{
		MsgType: MsgTKVRPush,
		Key:     key,
		Values:  values,
	}
}

// NewRPushResponse creates a new RPush response
func NewRPushResponse(length int, err error) *Message {
	return withErr(&Message{MsgType: MsgTKVRPush, Count: int64(length)}, err)
}

// NewHSetRequest creates a new HSet request
func NewHSetRequest(key, field string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVHSet,
		Key:     key,
		Field:   field,
		Value:   value,
	}
}

// NewHSetResponse creates a new HSet response
func NewHSetResponse(created bool, err error) *Message {
	return withErr(&Message{MsgType: MsgTKVHSet, Ok: created}, err)
}

// NewSubkeysRequest creates a new Subkeys request
func NewSubkeysRequest(keyPath, pattern string, count, skip int) *Message {
	return &Message{
		MsgType: MsgTKVSubkeys,
		Key:     keyPath,
		Pattern: pattern,
		Count:   int64(count),
		Skip:    int64(skip),
	}
}

// NewSubkeysResponse creates a new Subkeys response
func NewSubkeysResponse(names []string, err error) *Message {
	return withErr(&Message{MsgType: MsgTKVSubkeys, Names: names}, err)
}

// NewBackgroundFlushRequest creates a new BackgroundFlush request
func NewBackgroundFlushRequest() *Message {
	return &Message{MsgType: MsgTDiskBgFlush}
}

// NewBackgroundFlushResponse creates a new BackgroundFlush response
func NewBackgroundFlushResponse(keys int, err error) *Message {
	return withErr(&Message{MsgType: MsgTDiskBgFlush, Count: int64(keys)}, err)
}

// NewFlushAllRequest creates a new FlushAll request
func NewFlushAllRequest() *Message {
	return &Message{MsgType: MsgTDiskFlushAll}
}

// NewFlushAllResponse creates a new FlushAll response
func NewFlushAllResponse(keys int, err error) *Message {
	return withErr(&Message{MsgType: MsgTDiskFlushAll, Count: int64(keys)}, err)
}

// NewCancelFlushRequest creates a new CancelFlush request
func NewCancelFlushRequest() *Message {
	return &Message{MsgType: MsgTDiskCancelFlush}
}

// NewCancelFlushResponse creates a new CancelFlush response
func NewCancelFlushResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTDiskCancelFlush}, err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTInfo}
}

// NewInfoResponse creates a new Info response with the json encoded info in Meta
func NewInfoResponse(info store.Info, err error) *Message {
	msg := &Message{MsgType: MsgTInfo}
	if err != nil {
		return withErr(msg, err)
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return withErr(msg, fmt.Errorf("failed to encode info: %w", err))
	}
	msg.Meta = meta
	return msg
}

// NewSaveRequest creates a new Save request
func NewSaveRequest() *Message {
	return &Message{MsgType: MsgTSave}
}

// NewSaveResponse creates a new Save response
func NewSaveResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTSave}, err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// messageTypeNames are the wire names of the message types (json) and the
// names of the CLI commands
var messageTypeNames = map[MessageType]string{
	MsgTSuccess:         "success",
	MsgTError:           "error",
	MsgTKVSet:           "set",
	MsgTKVSetE:          "setE",
	MsgTKVGet:           "get",
	MsgTKVHas:           "has",
	MsgTKVDelete:        "delete",
	MsgTKVExpire:        "expire",
	MsgTKVRPush:         "rpush",
	MsgTKVHSet:          "hset",
	MsgTKVSubkeys:       "subkeys",
	MsgTDiskBgFlush:     "bgflush",
	MsgTDiskFlushAll:    "flushall",
	MsgTDiskCancelFlush: "cancelflush",
	MsgTInfo:            "info",
	MsgTSave:            "save",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Key commands (database = shard id)

	MsgTKVSet     // Set a string value
	MsgTKVSetE    // Set a string value with expiration
	MsgTKVGet     // Get a string value
	MsgTKVHas     // Check if a key exists
	MsgTKVDelete  // Delete a key
	MsgTKVExpire  // Set the expiration of a key
	MsgTKVRPush   // Append to a list
	MsgTKVHSet    // Set a hash field
	MsgTKVSubkeys // List persisted subkeys

	// Disk tier and server commands

	MsgTDiskBgFlush     // Start a background flush
	MsgTDiskFlushAll    // Flush all dirty keys synchronously
	MsgTDiskCancelFlush // Cancel the running background flush
	MsgTInfo            // Server and tier information
	MsgTSave            // Write keyspace snapshots
)

// MaxMessageType is the highest defined message type
const MaxMessageType = MsgTSave
