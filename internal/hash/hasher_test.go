package hash

import "testing"

func TestHashKeyOrderIndependent(t *testing.T) {
	a := Hash(Mapping{"a": int64(1), "b": "two"})
	b := Hash(Mapping{"b": "two", "a": int64(1)})
	if a != b {
		t.Errorf("hash depends on mapping construction order: %q != %q", a, b)
	}
}

func TestHashDistinguishesTypes(t *testing.T) {
	cases := []Value{
		nil,
		false,
		true,
		int64(0),
		"",
		Raw(nil),
		Path(""),
		[]Value{},
		Mapping{},
	}
	seen := make(map[string]int)
	for i, v := range cases {
		d := Hash(v)
		if j, ok := seen[d]; ok {
			t.Errorf("case %d and %d hash identically (%q) but have different types", i, j, d)
		}
		seen[d] = i
	}
}

func TestHashStablePathVsString(t *testing.T) {
	if Hash(Path("foo")) == Hash("foo") {
		t.Error("Path and string with the same contents must not hash identically")
	}
}

func TestHashDeterministic(t *testing.T) {
	doc := Mapping{
		"name":    "zlib",
		"version": "1.2.7",
		"sources": []Value{
			Mapping{"key": "tar.gz:abc", "target": ".", "strip": int64(1)},
		},
	}
	first := Hash(doc)
	for i := 0; i < 10; i++ {
		if got := Hash(doc); got != first {
			t.Fatalf("hash not stable across repeated calls: %q != %q", got, first)
		}
	}
}
