package sourcecache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"hashdist.dev/hashdist/internal/hash"
)

// hashTree computes the canonical content hash of the directory tree
// rooted at dir: every regular file's content, symlink's target, and
// directory's existence participates, ordered by relative path so
// that the result depends only on contents, never on filesystem
// iteration order.
func hashTree(dir string) (string, error) {
	type entry struct {
		relpath string
		value   hash.Mapping
	}
	var entries []entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entries = append(entries, entry{rel, hash.Mapping{
				"type":   "symlink",
				"target": target,
			}})
		case d.IsDir():
			entries = append(entries, entry{rel, hash.Mapping{
				"type": "dir",
			}})
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entries = append(entries, entry{rel, hash.Mapping{
				"type":       "file",
				"executable": info.Mode()&0o111 != 0,
				"content":    hash.Raw(data),
			}})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash tree %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relpath < entries[j].relpath })
	list := make([]hash.Value, len(entries))
	for i, e := range entries {
		e.value["path"] = e.relpath
		list[i] = e.value
	}
	return hash.Hash(hash.Mapping{"tree": list}), nil
}

// hashFile computes the content hash of a single file, for scheme
// "file:" entries where the key addresses the raw bytes rather than
// an unpacked tree.
func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash file %s: %w", path, err)
	}
	return hashOf(data), nil
}

// hashOf computes the content hash of raw bytes.
func hashOf(data []byte) string {
	return hash.Hash(hash.Raw(data))
}
