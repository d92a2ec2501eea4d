package idb

import "testing"

func TestNameFor(t *testing.T) {
	tests := []struct {
		db   int
		key  []byte
		want string
	}{
		{0, []byte("user"), "user"},
		{0, nil, ""},
		{1, []byte("user"), ".db1/user"},
		{2, []byte("x"), ".db2/x"},
		{15, []byte("a/b"), ".db15/a/b"},
		{3, nil, ".db3"},
		{3, []byte{}, ".db3/"},
	}

	for _, tt := range tests {
		if got := string(NameFor(tt.db, tt.key)); got != tt.want {
			t.Errorf("NameFor(%d, %q) = %q, want %q", tt.db, tt.key, got, tt.want)
		}
	}
}

func TestStripName(t *testing.T) {
	for _, dbIndex := range []int{0, 1, 7, 12} {
		for _, key := range []string{"a", "a/b/c", "", ".hidden"} {
			if dbIndex == 0 && key == "" {
				continue
			}
			got, ok := StripName(dbIndex, NameFor(dbIndex, []byte(key)))
			if !ok || string(got) != key {
				t.Errorf("StripName(%d, NameFor(%q)) = %q, %v", dbIndex, key, got, ok)
			}
		}
	}

	if _, ok := StripName(1, []byte(".db12/x")); ok {
		t.Error("key of db 12 must not belong to db 1")
	}
	if _, ok := StripName(2, []byte("x")); ok {
		t.Error("db 0 key must not belong to db 2")
	}
	if _, ok := StripName(0, []byte(".db2/x")); ok {
		t.Error("db 2 key must not belong to db 0")
	}
}

func TestIsReserved(t *testing.T) {
	tests := map[string]bool{
		".db1":      true,
		".db1/x":    true,
		".db42/a/b": true,
		".db":       false,
		".db/x":     false,
		".dbx":      false,
		".db1x":     false,
		"db1/x":     false,
		"x/.db1":    false,
		"":          false,
	}

	for key, want := range tests {
		if got := IsReserved([]byte(key)); got != want {
			t.Errorf("IsReserved(%q) = %v, want %v", key, got, want)
		}
	}
}
