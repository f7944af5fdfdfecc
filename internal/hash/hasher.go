// Package hash implements the canonical document hashing scheme used
// throughout hashdist to derive content-addressed identifiers from
// heterogeneous structured documents: build specs, source trees, and
// profile install rules all resolve to a digest through this package.
package hash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"
)

// DigestSize is the number of bytes of the underlying SHA-256 sum
// retained in a digest. Twenty bytes of SHA-256 gives a 27-character
// URL-safe base64 string, matching the short-hash lengthening scheme
// in package buildstore.
const DigestSize = 20

// Value is a node in the document tree passed to [Hash]. The
// concrete types accepted are nil, bool, int64 (and plain int, hashed
// the same as the equal int64), string, [Raw], [Path], []Value, and
// Mapping. Any other type passed to [Hash] is a programmer error and
// causes a panic, since the input to a hash must be fully under the
// caller's control.
type Value interface{}

// Raw is a leaf value representing an opaque byte string that should
// be hashed as bytes rather than as a UTF-8 string (e.g. file
// contents).
type Raw []byte

// Path is a leaf value representing a filesystem path. It hashes
// identically to a string with a distinct type tag, so that a string
// "foo" and a path "foo" never collide.
type Path string

// Mapping is an unordered key/value document node. Keys are sorted
// before hashing so that construction order never affects the
// resulting digest.
type Mapping map[string]Value

// tag bytes identify the type of the following value in the canonical
// byte stream. Changing any tag value changes every hash produced by
// this package and must never be done after release.
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagString
	tagRaw
	tagPath
	tagList
	tagMapping
)

// Hash returns the canonical digest of v: the first [DigestSize] bytes
// of SHA-256 over v's canonical byte encoding, URL-safe base64 encoded
// without padding.
func Hash(v Value) string {
	h := sha256.New()
	write(h, v)
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:DigestSize])
}

// writer is the subset of hash.Hash used by write; kept as an
// interface so callers needing an intermediate digest (e.g. hashing a
// sub-document to embed its digest in a parent) can supply any
// io.Writer-like sink.
type writer interface {
	Write(p []byte) (int, error)
}

func write(w writer, v Value) {
	switch x := v.(type) {
	case nil:
		w.Write([]byte{tagNull})
	case bool:
		w.Write([]byte{tagBool})
		if x {
			w.Write([]byte{1})
		} else {
			w.Write([]byte{0})
		}
	case int:
		writeInt(w, int64(x))
	case int64:
		writeInt(w, x)
	case string:
		writeString(w, tagString, []byte(x))
	case Raw:
		writeString(w, tagRaw, x)
	case Path:
		writeString(w, tagPath, []byte(x))
	case []Value:
		w.Write([]byte{tagList})
		writeUvarint(w, uint64(len(x)))
		for _, elem := range x {
			write(w, elem)
		}
	case Mapping:
		writeMapping(w, x)
	default:
		panic(fmt.Sprintf("hash: unsupported value type %T", v))
	}
}

func writeInt(w writer, x int64) {
	w.Write([]byte{tagInt})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(x))
	w.Write(buf[:])
}

func writeString(w writer, tag byte, b []byte) {
	w.Write([]byte{tag})
	writeUvarint(w, uint64(len(b)))
	w.Write(b)
}

func writeUvarint(w writer, n uint64) {
	var buf [binary.MaxVarintLen64]byte
	k := binary.PutUvarint(buf[:], n)
	w.Write(buf[:k])
}

func writeMapping(w writer, m Mapping) {
	w.Write([]byte{tagMapping})
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeUvarint(w, uint64(len(keys)))
	for _, k := range keys {
		writeString(w, tagString, []byte(k))
		write(w, m[k])
	}
}
