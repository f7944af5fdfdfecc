package sourcecache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
)

// RetentionTag classifies a source entry for GC retention policy
// purposes. [Cache.Fetch] records the tag [tagForScheme] derives from
// the entry's scheme; no API in this package records any other tag.
type RetentionTag string

const (
	TagTransient RetentionTag = "transient"
	TagTarGz     RetentionTag = "targz"
	TagGit       RetentionTag = "git"
	TagFile      RetentionTag = "file"
	TagDir       RetentionTag = "dir"
)

// indexEntry is one row of the sidecar index mapping a fetch URL to
// the key it resolved to, alongside when it was recorded so GC can
// evaluate duration-based retention policies.
type indexEntry struct {
	Key        string       `json:"key"`
	Tag        RetentionTag `json:"tag"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// index is the on-disk sidecar mapping URLs to keys and retention
// tags, persisted as JSON at the cache root.
type index struct {
	mu      sync.Mutex
	path    string
	entries map[string]indexEntry
}

func openIndex(root string) (*index, error) {
	idx := &index{path: filepath.Join(root, "index.json"), entries: make(map[string]indexEntry)}
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("open source index: %w", err)
	}
	if err := jsonv2.Unmarshal(data, &idx.entries); err != nil {
		return nil, fmt.Errorf("open source index: %w", err)
	}
	return idx, nil
}

// record associates url with key and tag, overwriting any prior
// record for the same url, and persists the index.
func (idx *index) record(url string, key Key, tag RetentionTag) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[url] = indexEntry{Key: string(key), Tag: tag, RecordedAt: time.Now()}
	return idx.save()
}

// save must be called with idx.mu held.
func (idx *index) save() error {
	data, err := jsonv2.Marshal(idx.entries)
	if err != nil {
		return fmt.Errorf("save source index: %w", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o666); err != nil {
		return fmt.Errorf("save source index: %w", err)
	}
	return os.Rename(tmp, idx.path)
}

// forget removes every URL mapping to key, persisting the index.
func (idx *index) forget(key Key) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for url, e := range idx.entries {
		if e.Key == string(key) {
			delete(idx.entries, url)
		}
	}
	return idx.save()
}

// Tags returns every known key's retention tag and the time it was
// recorded, derived from the sidecar index. Keys never fetched through
// [Cache.Fetch] (e.g. ones produced by [Cache.Put]) are absent and
// should be treated by callers as their scheme's default tag.
func (idx *index) tags() map[Key]indexEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make(map[Key]indexEntry, len(idx.entries))
	for _, e := range idx.entries {
		out[Key(e.Key)] = e
	}
	return out
}

// tagForScheme is the retention tag recorded for a fetched entry,
// derived from its key's scheme.
func tagForScheme(s Scheme) RetentionTag {
	switch s {
	case SchemeTarGz, SchemeTarBz2, SchemeZip:
		return TagTarGz
	case SchemeGit:
		return TagGit
	case SchemeFile:
		return TagFile
	case SchemeDir:
		return TagDir
	default:
		return TagTransient
	}
}
