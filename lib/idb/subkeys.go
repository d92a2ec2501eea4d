package idb

import "github.com/ValentinKolb/idkv/lib/disk"

// SubkeyQuery are the arguments of a subkey enumeration
type SubkeyQuery struct {
	KeyPath []byte // path below which to list (nil = database root)
	Pattern string // glob filter of the names ("" or "*" = all)
	Count   int    // page size, capped to the maximum page count (<= 0 = maximum)
	Skip    int    // names to skip before the page starts
}

// Subkeys lists the names of the keys below a path of the database, in
// ascending order. Keys of other databases and hidden names are never listed.
func (t *Tier) Subkeys(dbIndex int, q SubkeyQuery) ([]string, error) {
	if !t.cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := t.checkDB(dbIndex); err != nil {
		return nil, err
	}

	if len(q.KeyPath) == 0 {
		q.KeyPath = nil
	}
	if q.Pattern == "*" {
		q.Pattern = ""
	}
	if max := t.cfg.MaxPageCount; max > 0 && (q.Count <= 0 || q.Count > max) {
		q.Count = max
	}
	if q.Skip < 0 {
		q.Skip = 0
	}

	names, err := t.store.ListSubkeys(NameFor(dbIndex, q.KeyPath), q.Pattern, q.Skip, q.Count, disk.ListChildren)
	if err != nil {
		log.Warningf("db %d: failed to list subkeys of %q: %v", dbIndex, q.KeyPath, err)
		return nil, err
	}
	return names, nil
}
