package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/idkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte), field flags (2 bytes, big endian), then every
// present field in flag order. Numbers are varints, strings and byte slices are
// prefixed with their uvarint length, lists with their uvarint element count.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey uint16 = 1 << iota
	hasField
	hasPattern
	hasExpireIn
	hasValue
	hasValues
	hasCount
	hasSkip
	hasOk // no payload
	hasNames
	hasErr
	hasCode
	hasMeta
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string {
	return "binary"
}

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16

	if msg.Key != "" {
		flags |= hasKey
		result = appendString(result, msg.Key)
	}
	if msg.Field != "" {
		flags |= hasField
		result = appendString(result, msg.Field)
	}
	if msg.Pattern != "" {
		flags |= hasPattern
		result = appendString(result, msg.Pattern)
	}
	if msg.ExpireIn > 0 {
		flags |= hasExpireIn
		result = binary.AppendUvarint(result, msg.ExpireIn)
	}
	if msg.Value != nil {
		flags |= hasValue
		result = appendBytes(result, msg.Value)
	}
	if msg.Values != nil {
		flags |= hasValues
		result = binary.AppendUvarint(result, uint64(len(msg.Values)))
		for _, v := range msg.Values {
			result = appendBytes(result, v)
		}
	}
	if msg.Count != 0 {
		flags |= hasCount
		result = binary.AppendVarint(result, msg.Count)
	}
	if msg.Skip != 0 {
		flags |= hasSkip
		result = binary.AppendVarint(result, msg.Skip)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Names != nil {
		flags |= hasNames
		result = binary.AppendUvarint(result, uint64(len(msg.Names)))
		for _, name := range msg.Names {
			result = appendString(result, name)
		}
	}
	if msg.Err != "" {
		flags |= hasErr
		result = appendString(result, msg.Err)
	}
	if msg.Code != 0 {
		flags |= hasCode
		result = binary.AppendUvarint(result, msg.Code)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		result = appendBytes(result, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:headerSize], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:headerSize])
	r := &binaryReader{data: data, pos: headerSize}

	var err error
	if flags&hasKey != 0 {
		if msg.Key, err = r.string("key"); err != nil {
			return err
		}
	}
	if flags&hasField != 0 {
		if msg.Field, err = r.string("field"); err != nil {
			return err
		}
	}
	if flags&hasPattern != 0 {
		if msg.Pattern, err = r.string("pattern"); err != nil {
			return err
		}
	}
	if flags&hasExpireIn != 0 {
		if msg.ExpireIn, err = r.uvarint("ExpireIn"); err != nil {
			return err
		}
	}
	if flags&hasValue != 0 {
		if msg.Value, err = r.bytes("value"); err != nil {
			return err
		}
	}
	if flags&hasValues != 0 {
		n, err := r.count("values")
		if err != nil {
			return err
		}
		msg.Values = make([][]byte, n)
		for i := range msg.Values {
			if msg.Values[i], err = r.bytes("values"); err != nil {
				return err
			}
		}
	}
	if flags&hasCount != 0 {
		if msg.Count, err = r.varint("count"); err != nil {
			return err
		}
	}
	if flags&hasSkip != 0 {
		if msg.Skip, err = r.varint("skip"); err != nil {
			return err
		}
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasNames != 0 {
		n, err := r.count("names")
		if err != nil {
			return err
		}
		msg.Names = make([]string, n)
		for i := range msg.Names {
			if msg.Names[i], err = r.string("names"); err != nil {
				return err
			}
		}
	}
	if flags&hasErr != 0 {
		if msg.Err, err = r.string("error"); err != nil {
			return err
		}
	}
	if flags&hasCode != 0 {
		if msg.Code, err = r.uvarint("code"); err != nil {
			return err
		}
	}
	if flags&hasMeta != 0 {
		if msg.Meta, err = r.bytes("meta"); err != nil {
			return err
		}
	}

	if r.pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-r.pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes estimates the size of the serialized message
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// length prefixes and varints take at most binary.MaxVarintLen64 bytes
	size := headerSize + 8*binary.MaxVarintLen64
	size += len(msg.Key) + len(msg.Field) + len(msg.Pattern) + len(msg.Value) + len(msg.Err) + len(msg.Meta)
	for _, v := range msg.Values {
		size += binary.MaxVarintLen64 + len(v)
	}
	for _, name := range msg.Names {
		size += binary.MaxVarintLen64 + len(name)
	}
	return size
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// binaryReader reads the fields of a serialized message
type binaryReader struct {
	data []byte
	pos  int
}

func (r *binaryReader) uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("data too short for %s", what)
	}
	r.pos += n
	return v, nil
}

func (r *binaryReader) varint(what string) (int64, error) {
	v, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("data too short for %s", what)
	}
	r.pos += n
	return v, nil
}

// count reads a list length, every element takes at least one byte
func (r *binaryReader) count(what string) (int, error) {
	n, err := r.uvarint(what + " count")
	if err != nil {
		return 0, err
	}
	if n > uint64(len(r.data)-r.pos) {
		return 0, fmt.Errorf("data too short for %d %s", n, what)
	}
	return int(n), nil
}

// bytes reads a length prefixed byte slice, empty slices are not nil
func (r *binaryReader) bytes(what string) ([]byte, error) {
	n, err := r.uvarint(what + " length")
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.data)-r.pos) {
		return nil, fmt.Errorf("data too short for %s data", what)
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:])
	r.pos += int(n)
	return b, nil
}

func (r *binaryReader) string(what string) (string, error) {
	b, err := r.bytes(what)
	return string(b), err
}
