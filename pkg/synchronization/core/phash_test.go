package core

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestPathHashDeterministic(t *testing.T) {
	paths := []string{"", "a", "a/b/c", "dir/file.txt", "日本語/ファイル"}
	for _, p := range paths {
		first := PathHash(p)
		second := PathHash(p)
		if first != second {
			t.Fatalf("PathHash(%q) not deterministic: %d != %d", p, first, second)
		}
	}
}

func TestPathHashDiffersByContent(t *testing.T) {
	if PathHash("a") == PathHash("b") {
		t.Fatal("distinct single-byte paths hashed identically")
	}
	if PathHash("dir/a") == PathHash("dir/b") {
		t.Fatal("distinct paths sharing a prefix hashed identically")
	}
}

// TestPathHashUniqueness checks that, for a large set of random
// UTF-8-ish paths, phash values are distinct (collisions must be
// negligible for realistic repository sizes).
func TestPathHashUniqueness(t *testing.T) {
	const count = 200000
	seen := make(map[uint64]string, count)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < count; i++ {
		path := fmt.Sprintf("dir%d/sub%d/file-%d.txt", rng.Intn(5000), rng.Intn(5000), i)
		h := PathHash(path)
		if existing, ok := seen[h]; ok && existing != path {
			t.Fatalf("phash collision between %q and %q", existing, path)
		}
		seen[h] = path
	}
}

func TestPathHashEmptyAndShortInputs(t *testing.T) {
	// Exercise every tail-length branch of the mixer (empty input, 1..12
	// remainder bytes, and the >12-byte main-loop branch).
	for n := 0; n < 40; n++ {
		path := make([]byte, n)
		for i := range path {
			path[i] = byte('a' + i%26)
		}
		_ = PathHash(string(path))
	}
}
