package util

import "testing"

func TestHashStringSeed(t *testing.T) {
	if HashString("key", 1) == HashString("key", 2) {
		t.Errorf("Expected different hashes for different seeds")
	}
	if HashString("key", 7) != HashString("key", 7) {
		t.Errorf("Expected hash to be deterministic")
	}
}

func TestShardIndexInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		idx := ShardIndex(HashString(string(rune(i)), 42), 8)
		if idx < 0 || idx >= 8 {
			t.Fatalf("Shard index %d out of range", idx)
		}
	}
}
