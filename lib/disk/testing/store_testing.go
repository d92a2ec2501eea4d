// Package testing provides a conformance suite for disk.Store implementations.
//
// Example usage:
//
//	disktesting.RunStoreTests(t, "MyStore", func(t *testing.T) disk.Store {
//		return NewMyStore(t.TempDir())
//	})
package testing

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/ValentinKolb/idkv/lib/disk"
)

// StoreFactory creates a new empty store for a single test
type StoreFactory func(t *testing.T) disk.Store

// RunStoreTests runs the conformance suite for a disk.Store implementation
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("Fields", func(t *testing.T) {
			testFields(t, factory(t))
		})

		t.Run("DeleteExists", func(t *testing.T) {
			testDeleteExists(t, factory(t))
		})

		t.Run("ListChildren", func(t *testing.T) {
			testListChildren(t, factory(t))
		})

		t.Run("ListRecursive", func(t *testing.T) {
			testListRecursive(t, factory(t))
		})

		t.Run("ListPaging", func(t *testing.T) {
			testListPaging(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func mustPut(t *testing.T, store disk.Store, key, value, field string) {
	t.Helper()
	if err := store.Put([]byte(key), []byte(value), field); err != nil {
		t.Fatalf("Put(%q, %q) error = %v", key, field, err)
	}
}

func testPutGet(t *testing.T, store disk.Store) {
	defer store.Close()

	mustPut(t, store, "key", "value1", "")

	value, found, err := store.Get([]byte("key"), "")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v; want found", found, err)
	}
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("Expected value1, got %s", value)
	}

	// the returned slice is owned by the caller
	value[0] = 'X'
	value, _, _ = store.Get([]byte("key"), "")
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("Store value was modified through a returned slice: %s", value)
	}

	mustPut(t, store, "key", "value2", "")
	value, _, _ = store.Get([]byte("key"), "")
	if !bytes.Equal(value, []byte("value2")) {
		t.Errorf("Expected overwrite to value2, got %s", value)
	}

	if _, found, err = store.Get([]byte("absent"), ""); found || err != nil {
		t.Errorf("Expected absent key to be not found, got %v, %v", found, err)
	}

	// binary keys and an empty value
	binKey := []byte{0, 1, 0xFF, '/', 0}
	if err := store.Put(binKey, []byte{}, ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	value, found, _ = store.Get(binKey, "")
	if !found || len(value) != 0 {
		t.Errorf("Expected empty value for binary key, got %v, %v", value, found)
	}
}

func testFields(t *testing.T, store disk.Store) {
	defer store.Close()

	mustPut(t, store, "key", "record", "")
	mustPut(t, store, "key", "redis", "type")
	mustPut(t, store, "key2", "other", "")

	value, found, err := store.Get([]byte("key"), "type")
	if err != nil || !found || string(value) != "redis" {
		t.Errorf("Get(type) = %q, %v, %v; want redis", value, found, err)
	}

	// fields don't leak into other keys or the main record
	if _, found, _ = store.Get([]byte("key2"), "type"); found {
		t.Errorf("Expected no type field for key2")
	}
	value, _, _ = store.Get([]byte("key"), "")
	if string(value) != "record" {
		t.Errorf("Expected main record to be unchanged, got %q", value)
	}
	if _, found, _ = store.Get([]byte("key"), "missing"); found {
		t.Errorf("Expected missing field to be not found")
	}

	// Delete removes all fields
	if err := store.Delete([]byte("key")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ = store.Get([]byte("key"), "type"); found {
		t.Errorf("Expected type field to be removed with the key")
	}
	if _, found, _ = store.Get([]byte("key2"), ""); !found {
		t.Errorf("Expected key2 to survive the deletion of key")
	}
}

func testDeleteExists(t *testing.T, store disk.Store) {
	defer store.Close()

	if ok, err := store.Exists([]byte("key")); ok || err != nil {
		t.Errorf("Exists() = %v, %v for absent key", ok, err)
	}

	mustPut(t, store, "key", "v", "")
	if ok, err := store.Exists([]byte("key")); !ok || err != nil {
		t.Errorf("Exists() = %v, %v after Put", ok, err)
	}

	// a prefix of a key is not a key
	if ok, _ := store.Exists([]byte("ke")); ok {
		t.Errorf("Expected prefix of a key to not exist")
	}

	if err := store.Delete([]byte("key")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := store.Exists([]byte("key")); ok {
		t.Errorf("Expected key to not exist after Delete")
	}

	// deleting an absent key is not an error
	if err := store.Delete([]byte("key")); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
}

func fillTree(t *testing.T, store disk.Store) {
	for _, key := range []string{
		"a", "a-b", "a/x", "a/y/z", "b/1", "b/2", ".hidden/x", ".db1/k", ".db1/.db2/k", ".db1x/k", "c",
		"dir/sub/one", "dir/sub/two", "dir/file", "dir/.secret",
	} {
		mustPut(t, store, key, "v", "")
	}
}

func testListChildren(t *testing.T, store disk.Store) {
	defer store.Close()
	fillTree(t, store)

	tests := []struct {
		name    string
		prefix  string
		pattern string
		want    []string
	}{
		{"root", "", "", []string{".db1x", ".hidden", "a", "a-b", "b", "c", "dir"}},
		{"root star", "", "*", []string{".db1x", ".hidden", "a", "a-b", "b", "c", "dir"}},
		{"glob", "", "a*", []string{"a", "a-b"}},
		{"subdir", "dir", "", []string{".secret", "file", "sub"}},
		{"nested", "dir/sub", "", []string{"one", "two"}},
		{"nested glob", "dir/sub", "t?o", []string{"two"}},
		{"namespace", ".db1", "", []string{".db2", "k"}},
		{"leaf", "c", "", []string{}},
		{"absent", "zzz", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListSubkeys([]byte(tt.prefix), tt.pattern, 0, 0, disk.ListChildren)
			if err != nil {
				t.Fatalf("ListSubkeys() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ListSubkeys(%q, %q) = %v, want %v", tt.prefix, tt.pattern, got, tt.want)
			}
		})
	}
}

func testListRecursive(t *testing.T, store disk.Store) {
	defer store.Close()
	fillTree(t, store)

	got, err := store.ListSubkeys([]byte("dir"), "", 0, 0, disk.ListRecursive)
	if err != nil {
		t.Fatalf("ListSubkeys() error = %v", err)
	}
	want := []string{".secret", "file", "sub/one", "sub/two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListSubkeys(recursive) = %v, want %v", got, want)
	}
}

func testListPaging(t *testing.T, store disk.Store) {
	defer store.Close()

	for i := 0; i < 25; i++ {
		mustPut(t, store, fmt.Sprintf("page/%02d", i), "v", "")
	}

	var all []string
	for skip := 0; ; skip += 10 {
		page, err := store.ListSubkeys([]byte("page"), "", skip, 10, disk.ListChildren)
		if err != nil {
			t.Fatalf("ListSubkeys() error = %v", err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 10 {
			t.Fatalf("Expected at most 10 names per page, got %d", len(page))
		}
		all = append(all, page...)
	}

	if len(all) != 25 || all[0] != "00" || all[24] != "24" {
		t.Errorf("Expected 25 ordered names over all pages, got %v", all)
	}

	// the child "a" is only seen after "a-b" although it sorts first
	for _, key := range []string{"tree/a-b", "tree/a/x", "tree/a/y", "tree/b"} {
		mustPut(t, store, key, "v", "")
	}
	for _, tt := range []struct {
		skip, count int
		want        []string
	}{
		{0, 1, []string{"a"}},
		{1, 1, []string{"a-b"}},
		{2, 5, []string{"b"}},
	} {
		page, err := store.ListSubkeys([]byte("tree"), "", tt.skip, tt.count, disk.ListChildren)
		if err != nil {
			t.Fatalf("ListSubkeys() error = %v", err)
		}
		if !reflect.DeepEqual(page, tt.want) {
			t.Errorf("ListSubkeys(tree, skip=%d, count=%d) = %v, want %v", tt.skip, tt.count, page, tt.want)
		}
	}
}

func testClosed(t *testing.T, store disk.Store) {
	mustPut(t, store, "key", "v", "")
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := store.Put([]byte("key"), []byte("v"), ""); !errors.Is(err, disk.ErrClosed) {
		t.Errorf("Put() after Close error = %v, want ErrClosed", err)
	}
	if _, _, err := store.Get([]byte("key"), ""); !errors.Is(err, disk.ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if _, err := store.Exists([]byte("key")); !errors.Is(err, disk.ErrClosed) {
		t.Errorf("Exists() after Close error = %v, want ErrClosed", err)
	}
}

func testConcurrent(t *testing.T, store disk.Store) {
	defer store.Close()

	numWorkers := 8
	keysPerWorker := 200

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keysPerWorker; i++ {
				key := []byte(fmt.Sprintf("w%d/k%d", w, i))
				if err := store.Put(key, key, ""); err != nil {
					t.Errorf("Put() error = %v", err)
					return
				}
				if _, _, err := store.Get(key, ""); err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				if i%2 == 0 {
					if err := store.Delete(key); err != nil {
						t.Errorf("Delete() error = %v", err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	names, err := store.ListSubkeys([]byte("w0"), "", 0, 0, disk.ListChildren)
	if err != nil {
		t.Fatalf("ListSubkeys() error = %v", err)
	}
	if len(names) != keysPerWorker/2 {
		t.Errorf("Expected %d remaining keys, got %d", keysPerWorker/2, len(names))
	}
}
