// Package buildstore implements the content-addressed build store
// (component C5): resolving a canonicalized build spec to an existing
// artifact, staging and atomically committing new builds, and the
// short-hash collision-lengthening scheme used for on-disk artifact
// directory names.
package buildstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"hashdist.dev/hashdist/internal/mutexmap"
	"hashdist.dev/hashdist/internal/spec"
)

// minShortHashLen is the initial length of the short-hash directory
// name; collisions lengthen it one character at a time.
const minShortHashLen = 4

// fullHashMarker is the name of the sidecar file inside every artifact
// directory recording the full hash it was built under, used to
// detect short-hash collisions without re-reading every symlink in a
// name/version directory.
const fullHashMarker = ".hashdist-full-hash"

// Store is a build store rooted at a directory on disk.
type Store struct {
	root string

	locks    mutexmap.Map[string]
	counters atomic.Uint64
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "opt"), 0o777); err != nil {
		return nil, fmt.Errorf("open build store %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "bld"), 0o777); err != nil {
		return nil, fmt.Errorf("open build store %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) optDir(name, version string) string {
	return filepath.Join(s.root, "opt", name, version)
}

func (s *Store) bldDir(name, version string) string {
	return filepath.Join(s.root, "bld", name, version)
}

// fullHashSymlink returns the path of the full-hash symlink for an
// artifact, which always points at its short-hash directory name.
func (s *Store) fullHashSymlink(id spec.ArtifactID) string {
	return filepath.Join(s.optDir(id.Name, id.Version), id.Hash)
}

// ArtifactPath returns the absolute directory of an already-resolved
// artifact, given its short-hash directory name.
func (s *Store) ArtifactPath(name, version, short string) string {
	return filepath.Join(s.optDir(name, version), short)
}

// IntegrityError reports a full-hash symlink whose target does not
// exist, or whose target's recorded full hash does not match.
type IntegrityError struct {
	ArtifactID spec.ArtifactID
	Detail     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("buildstore: integrity error for %s: %s", e.ArtifactID, e.Detail)
}
