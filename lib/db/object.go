package db

import "sort"

// --------------------------------------------------------------------------
// Object Types
// --------------------------------------------------------------------------

// ObjectType identifies the in-memory representation of a value
type ObjectType uint8

const (
	TypeString ObjectType = iota // Binary safe string
	TypeList                     // Ordered list of strings
	TypeSet                      // Unordered set of unique strings
	TypeHash                     // Field-value map
	TypeZSet                     // Members with float64 scores
)

func (t ObjectType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeHash:
		return "hash"
	case TypeZSet:
		return "zset"
	default:
		return "unknown"
	}
}

// NoExpire is the expiration timestamp of a key without a TTL
const NoExpire int64 = -1

// Object is a value stored in a Keyspace.
//
// Objects handed out by a Keyspace must be treated as read-only by the caller.
// Clone returns a deep copy that is owned exclusively by the caller, this is how values
// are moved between the keyspace and the dirty buffers of the disk tier.
type Object interface {
	Type() ObjectType
	Clone() Object
}

// --------------------------------------------------------------------------
// Implementations
// --------------------------------------------------------------------------

// String is a binary safe string value
type String []byte

// List is an ordered list of values
type List [][]byte

// Set is a set of unique members
type Set map[string]struct{}

// Hash maps fields to values
type Hash map[string][]byte

// ZSet maps members to scores
type ZSet map[string]float64

func (s String) Type() ObjectType { return TypeString }
func (l List) Type() ObjectType   { return TypeList }
func (s Set) Type() ObjectType    { return TypeSet }
func (h Hash) Type() ObjectType   { return TypeHash }
func (z ZSet) Type() ObjectType   { return TypeZSet }

func (s String) Clone() Object {
	c := make(String, len(s))
	copy(c, s)
	return c
}

func (l List) Clone() Object {
	c := make(List, len(l))
	for i, item := range l {
		c[i] = append([]byte(nil), item...)
	}
	return c
}

func (s Set) Clone() Object {
	c := make(Set, len(s))
	for member := range s {
		c[member] = struct{}{}
	}
	return c
}

func (h Hash) Clone() Object {
	c := make(Hash, len(h))
	for field, value := range h {
		c[field] = append([]byte(nil), value...)
	}
	return c
}

func (z ZSet) Clone() Object {
	c := make(ZSet, len(z))
	for member, score := range z {
		c[member] = score
	}
	return c
}

// NewSet creates a set from the given members
func NewSet(members ...string) Set {
	s := make(Set, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Members returns the members of the set in ascending order
func (s Set) Members() []string {
	members := make([]string, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// Fields returns the fields of the hash in ascending order
func (h Hash) Fields() []string {
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Members returns the members of the sorted set ordered by member name
func (z ZSet) Members() []string {
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}
