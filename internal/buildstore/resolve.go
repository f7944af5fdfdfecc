package buildstore

import (
	"fmt"
	"os"
	"path/filepath"

	"hashdist.dev/hashdist/internal/spec"
)

// Resolved describes an artifact found in the store.
type Resolved struct {
	Dir  string
	Full spec.ArtifactID // with the full hash, regardless of which form id used
}

// Resolve looks up id (full or short hash form) in the store. It
// returns ok=false, not an error, when the artifact is simply absent.
func (s *Store) Resolve(id spec.ArtifactID) (r Resolved, ok bool, err error) {
	optDir := s.optDir(id.Name, id.Version)

	// A short-hash id must be disambiguated by scanning the
	// name/version directory for a marker file recording the full
	// hash; a full-hash id may instead take the fast path through its
	// symlink.
	if isLikelyFullHash(id.Hash) {
		target, err := os.Readlink(filepath.Join(optDir, id.Hash))
		if err == nil {
			dir := filepath.Join(optDir, target)
			if _, statErr := os.Stat(dir); statErr != nil {
				return Resolved{}, false, &IntegrityError{ArtifactID: id, Detail: "full-hash symlink target missing"}
			}
			if full, markerErr := readFullHashMarker(dir); markerErr != nil || full != id.Hash {
				return Resolved{}, false, &IntegrityError{ArtifactID: id, Detail: "full-hash symlink target records a different full hash"}
			}
			return Resolved{Dir: dir, Full: spec.ArtifactID{Name: id.Name, Version: id.Version, Hash: id.Hash}}, true, nil
		}
	}

	entries, err := os.ReadDir(optDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Resolved{}, false, nil
		}
		return Resolved{}, false, fmt.Errorf("resolve %s: %w", id, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue // symlinks (full-hash pointers) are skipped here
		}
		if len(id.Hash) > len(e.Name()) {
			continue
		}
		if hasPrefix(e.Name(), id.Hash) {
			full, err := readFullHashMarker(filepath.Join(optDir, e.Name()))
			if err != nil {
				continue
			}
			return Resolved{
				Dir:  filepath.Join(optDir, e.Name()),
				Full: spec.ArtifactID{Name: id.Name, Version: id.Version, Hash: full},
			}, true, nil
		}
	}
	return Resolved{}, false, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// isLikelyFullHash reports whether hash looks like a full digest
// rather than a short prefix, based on length alone: full digests
// produced by [hash.Hash] are always longer than any short form this
// store will ever allocate.
func isLikelyFullHash(h string) bool {
	return len(h) > 8
}

func readFullHashMarker(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, fullHashMarker))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// shortenArtifactID finds the shortest collision-free directory name
// for fullHash under name/version, lengthening one character at a time
// starting from minShortHashLen. If a directory already exists at a
// given length whose recorded full hash matches fullHash, that is
// reported as an existing match rather than a collision.
func (s *Store) shortenArtifactID(name, version, fullHash string) (short string, alreadyBuilt bool, err error) {
	optDir := s.optDir(name, version)
	for n := minShortHashLen; n <= len(fullHash); n++ {
		candidate := fullHash[:n]
		dir := filepath.Join(optDir, candidate)
		existingFull, err := readFullHashMarker(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return candidate, false, nil
			}
			// Directory exists but marker unreadable: treat as a
			// collision and lengthen, per the original
			// short-hash-collision handling.
			continue
		}
		if existingFull == fullHash {
			return candidate, true, nil
		}
		// Collision with a different artifact: lengthen.
	}
	return "", false, fmt.Errorf("shorten artifact id %s/%s/%s: exhausted hash length without resolving collision", name, version, fullHash)
}
