package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/ValentinKolb/idkv/lib/db"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Opcodes and type tags of a stored record
const (
	OpExpireTimeMs byte = 0xFC // followed by an 8 byte little endian unix ms timestamp

	TagString byte = 0
	TagList   byte = 1
	TagSet    byte = 2
	TagHash   byte = 4
	TagZSet   byte = 5 // members with binary float64 scores
)

// Length encoding prefixes (two most significant bits of the first byte)
const (
	len6Bit  byte = 0x00
	len14Bit byte = 0x40
	len32Bit byte = 0x80
	len64Bit byte = 0x81
)

// TypeField is the side field holding the TypeMarker of a record
const TypeField = "type"

// TypeMarker values
const (
	MarkerNativeName = "redis" // record written by Encode
	MarkerStringName = "str"   // raw string written by another producer
)

// Marker selects the decode path of a stored record
type Marker uint8

const (
	MarkerNative Marker = iota
	MarkerString
)

// ParseMarker normalizes a stored TypeMarker (case-insensitive).
// Absent and unknown markers select the native decoder.
func ParseMarker(raw []byte) Marker {
	if strings.EqualFold(string(raw), MarkerStringName) {
		return MarkerString
	}
	return MarkerNative
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode serializes obj with an optional expiration (db.NoExpire for none).
// The result is self-delimiting: Decode consumes exactly these bytes.
func Encode(obj db.Object, expireAt int64) []byte {
	buf := make([]byte, 0, 16)

	if expireAt != db.NoExpire {
		buf = append(buf, OpExpireTimeMs)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(expireAt))
	}

	switch o := obj.(type) {
	case db.String:
		buf = append(buf, TagString)
		buf = appendString(buf, o)
	case db.List:
		buf = append(buf, TagList)
		buf = appendLength(buf, uint64(len(o)))
		for _, item := range o {
			buf = appendString(buf, item)
		}
	case db.Set:
		buf = append(buf, TagSet)
		buf = appendLength(buf, uint64(len(o)))
		for _, m := range o.Members() {
			buf = appendString(buf, []byte(m))
		}
	case db.Hash:
		buf = append(buf, TagHash)
		buf = appendLength(buf, uint64(len(o)))
		for _, f := range o.Fields() {
			buf = appendString(buf, []byte(f))
			buf = appendString(buf, o[f])
		}
	case db.ZSet:
		buf = append(buf, TagZSet)
		buf = appendLength(buf, uint64(len(o)))
		for _, m := range o.Members() {
			buf = appendString(buf, []byte(m))
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(o[m]))
		}
	default:
		panic(fmt.Sprintf("codec: unsupported object type %T", obj))
	}

	return buf
}

// appendLength writes n using the smallest of the 6, 14, 32 or 64 bit length forms
func appendLength(buf []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(buf, len6Bit|byte(n))
	case n < 1<<14:
		return append(buf, len14Bit|byte(n>>8), byte(n))
	case n <= math.MaxUint32:
		buf = append(buf, len32Bit)
		return binary.BigEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, len64Bit)
		return binary.BigEndian.AppendUint64(buf, n)
	}
}

func appendString(buf []byte, s []byte) []byte {
	buf = appendLength(buf, uint64(len(s)))
	return append(buf, s...)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode parses a record produced by Encode.
//
// It returns ErrExpired if the record carries an expiration <= nowMs,
// and ErrCorrupt if the type tag is unknown or the record is truncated or
// followed by trailing bytes. On success the expiration is returned (db.NoExpire for none).
func Decode(data []byte, nowMs int64) (db.Object, int64, error) {
	r := reader{data: data}
	expireAt := db.NoExpire

	tag, err := r.byte()
	if err != nil {
		return nil, db.NoExpire, err
	}

	if tag == OpExpireTimeMs {
		raw, err := r.next(8)
		if err != nil {
			return nil, db.NoExpire, err
		}
		expireAt = int64(binary.LittleEndian.Uint64(raw))
		if expireAt <= nowMs {
			return nil, expireAt, ErrExpired
		}
		if tag, err = r.byte(); err != nil {
			return nil, db.NoExpire, err
		}
	}

	obj, err := r.object(tag)
	if err != nil {
		return nil, db.NoExpire, err
	}

	if r.pos != len(r.data) {
		return nil, db.NoExpire, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data)-r.pos)
	}

	return obj, expireAt, nil
}

// reader is a bounds checked cursor over a record
type reader struct {
	data []byte
	pos  int
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.pos < n {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrCorrupt, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) length() (int, error) {
	first, err := r.byte()
	if err != nil {
		return 0, err
	}

	var n uint64
	switch {
	case first&0xC0 == len6Bit:
		n = uint64(first & 0x3F)
	case first&0xC0 == len14Bit:
		second, err := r.byte()
		if err != nil {
			return 0, err
		}
		n = uint64(first&0x3F)<<8 | uint64(second)
	case first == len32Bit:
		raw, err := r.next(4)
		if err != nil {
			return 0, err
		}
		n = uint64(binary.BigEndian.Uint32(raw))
	case first == len64Bit:
		raw, err := r.next(8)
		if err != nil {
			return 0, err
		}
		n = binary.BigEndian.Uint64(raw)
	default:
		return 0, fmt.Errorf("%w: unknown length encoding 0x%02x", ErrCorrupt, first)
	}

	// every encoded element takes at least one byte, larger counts can't be valid
	if n > uint64(len(r.data)-r.pos) {
		return 0, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrCorrupt, n, len(r.data)-r.pos)
	}
	return int(n), nil
}

func (r *reader) string() ([]byte, error) {
	n, err := r.length()
	if err != nil {
		return nil, err
	}
	raw, err := r.next(n)
	if err != nil {
		return nil, err
	}
	s := make([]byte, n)
	copy(s, raw)
	return s, nil
}

func (r *reader) object(tag byte) (db.Object, error) {
	switch tag {
	case TagString:
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		return db.String(s), nil

	case TagList:
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		list := make(db.List, 0, n)
		for i := 0; i < n; i++ {
			item, err := r.string()
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil

	case TagSet:
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		set := make(db.Set, n)
		for i := 0; i < n; i++ {
			m, err := r.string()
			if err != nil {
				return nil, err
			}
			set[string(m)] = struct{}{}
		}
		return set, nil

	case TagHash:
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		hash := make(db.Hash, n)
		for i := 0; i < n; i++ {
			f, err := r.string()
			if err != nil {
				return nil, err
			}
			v, err := r.string()
			if err != nil {
				return nil, err
			}
			hash[string(f)] = v
		}
		return hash, nil

	case TagZSet:
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		zset := make(db.ZSet, n)
		for i := 0; i < n; i++ {
			m, err := r.string()
			if err != nil {
				return nil, err
			}
			raw, err := r.next(8)
			if err != nil {
				return nil, err
			}
			zset[string(m)] = math.Float64frombits(binary.LittleEndian.Uint64(raw))
		}
		return zset, nil

	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrCorrupt, tag)
	}
}
