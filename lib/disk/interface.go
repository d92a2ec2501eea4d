package disk

import (
	"path"
	"sort"
	"strings"
)

// PathSeparator separates the segments of a hierarchical store key
const PathSeparator = "/"

// ListMode selects how ListSubkeys names the keys below a prefix
type ListMode uint8

const (
	// ListChildren returns the distinct first path segment of every key below the prefix
	ListChildren ListMode = iota
	// ListRecursive returns the full remainder of every key below the prefix
	ListRecursive
)

func (m ListMode) String() string {
	switch m {
	case ListChildren:
		return "children"
	case ListRecursive:
		return "recursive"
	default:
		return "unknown"
	}
}

// Store is the on-disk key/value engine used by the disk tier.
//
// Thread-safety: All methods must be safe for concurrent use.
type Store interface {
	// Put writes value as the main record of key (field == "") or as the named side field.
	Put(key, value []byte, field string) error

	// Get reads the main record (field == "") or a side field of key.
	// The returned slice is owned by the caller.
	Get(key []byte, field string) (value []byte, found bool, err error)

	// Delete removes the main record and all side fields of key.
	// Deleting an absent key is not an error.
	Delete(key []byte) error

	// Exists reports whether key has a main record.
	Exists(key []byte) (bool, error)

	// ListSubkeys enumerates the names of keys below prefix in ascending order.
	// An empty prefix lists from the root. pattern is a path.Match glob ("" or "*" match all),
	// skip names are omitted before at most count names are returned (count <= 0 = unlimited).
	ListSubkeys(prefix []byte, pattern string, skip, count int, mode ListMode) ([]string, error)

	// Close releases all resources. Further calls return ErrClosed.
	Close() error
}

// --------------------------------------------------------------------------
// Helpers shared by the implementations
// --------------------------------------------------------------------------

// ListPrefix returns the key prefix below which ListSubkeys looks for keys.
func ListPrefix(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	p := make([]byte, 0, len(prefix)+1)
	p = append(p, prefix...)
	return append(p, PathSeparator...)
}

// NamespacePrefix starts the namespace segment under which the keys of a
// numbered database are stored (".db<n>/key")
const NamespacePrefix = ".db"

// IsNamespace reports whether a path segment is a database namespace (".db<digits>")
func IsNamespace(segment string) bool {
	digits, ok := strings.CutPrefix(segment, NamespacePrefix)
	if !ok || digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// afterSeparator is the first byte value after PathSeparator
const afterSeparator = "0"

// Lister accumulates the names of a ListSubkeys call.
//
// Keys must be visited in ascending order. Only the first skip+count names are
// kept, so a page costs O(skip+count) memory, and Add tells the caller when no
// later key can change the page. In ListChildren mode names do not arrive in
// order ("a-b" is seen before "a/x" yields "a"), which is why a later key may
// still add a name that is a prefix of an earlier one.
//
// At the root of the store the namespaces of the numbered databases are hidden.
type Lister struct {
	mode    ListMode
	pattern string
	root    bool
	skip    int
	limit   int      // skip+count (0 = unlimited)
	names   []string // sorted, at most limit names
	bound   string   // while a key sorts below bound it may still add a smaller name
}

// NewLister creates a Lister with the arguments of a ListSubkeys call
func NewLister(prefix []byte, pattern string, skip, count int, mode ListMode) *Lister {
	if pattern == "*" {
		pattern = ""
	}
	if skip < 0 {
		skip = 0
	}
	l := &Lister{
		mode:    mode,
		pattern: pattern,
		root:    len(prefix) == 0,
		skip:    skip,
	}
	if count > 0 {
		l.limit = skip + count
	}
	return l
}

// Add visits the remainder of a key after the list prefix. It returns false
// once the page is complete, the caller then stops the scan.
func (l *Lister) Add(rest string) bool {
	if l.full() && rest > l.names[len(l.names)-1] && rest >= l.bound {
		return false
	}

	first := rest
	if i := strings.Index(rest, PathSeparator); i >= 0 {
		first = rest[:i]
	}
	if l.root && IsNamespace(first) {
		return true
	}

	name := rest
	if l.mode == ListChildren {
		name = first
	}
	if name == "" {
		return true
	}

	if l.pattern != "" {
		if ok, err := path.Match(l.pattern, name); err != nil || !ok {
			return true
		}
	}

	l.insert(name)
	return true
}

func (l *Lister) full() bool {
	return l.limit > 0 && len(l.names) >= l.limit
}

// insert adds name to the sorted names and drops the largest one beyond the limit
func (l *Lister) insert(name string) {
	i := sort.SearchStrings(l.names, name)
	if i < len(l.names) && l.names[i] == name {
		return
	}
	if l.full() && i == len(l.names) {
		return
	}

	l.names = append(l.names, "")
	copy(l.names[i+1:], l.names[i:])
	l.names[i] = name
	if l.limit > 0 && len(l.names) > l.limit {
		l.names = l.names[:l.limit]
	}

	if l.full() && l.mode == ListChildren {
		l.bound = childBound(l.names[len(l.names)-1])
	}
}

// childBound returns the smallest key from which on no child name smaller than
// last can appear. Such a name must be a prefix p of last followed by a byte
// below the separator, its keys "p/..." sort after last but before p+"0".
func childBound(last string) string {
	for i := 1; i < len(last); i++ {
		if last[i] < PathSeparator[0] {
			return last[:i] + afterSeparator
		}
	}
	return ""
}

// Names returns the collected names in ascending order after applying skip and count
func (l *Lister) Names() []string {
	if l.skip >= len(l.names) {
		return []string{}
	}
	return l.names[l.skip:]
}
