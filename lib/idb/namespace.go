package idb

import (
	"bytes"
	"strconv"

	"github.com/ValentinKolb/idkv/lib/disk"
)

// dbPrefix starts the store key of every database except database 0
const dbPrefix = disk.NamespacePrefix

// NameFor returns the store key of a logical key in the given database.
//
// Database 0 keys are stored unchanged. Keys of database n are stored as
// ".db<n>/<key>". A nil key yields the prefix only (".db<n>", or an empty
// prefix for database 0), which is the form used for enumeration.
func NameFor(dbIndex int, key []byte) []byte {
	if dbIndex == 0 {
		return key
	}

	name := make([]byte, 0, len(dbPrefix)+4+len(disk.PathSeparator)+len(key))
	name = append(name, dbPrefix...)
	name = strconv.AppendInt(name, int64(dbIndex), 10)
	if key == nil {
		return name
	}
	name = append(name, disk.PathSeparator...)
	return append(name, key...)
}

// StripName is the inverse of NameFor. It returns false if storeKey does not
// belong to the database.
func StripName(dbIndex int, storeKey []byte) ([]byte, bool) {
	if dbIndex == 0 {
		return storeKey, !IsReserved(storeKey)
	}
	prefix := NameFor(dbIndex, []byte{})
	if !bytes.HasPrefix(storeKey, prefix) {
		return nil, false
	}
	return storeKey[len(prefix):], true
}

// IsReserved reports whether a database 0 key lies in the namespace of
// another database (".db<digits>" alone or followed by the path separator).
// Such keys are never persisted, they would alias records of that database.
func IsReserved(key []byte) bool {
	first := key
	if i := bytes.Index(key, []byte(disk.PathSeparator)); i >= 0 {
		first = key[:i]
	}
	return disk.IsNamespace(string(first))
}
